package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/postnotify/pkg/config"
	"github.com/nao1215/postnotify/pkg/httpclient"
	"github.com/nao1215/postnotify/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// cfg はサービス設定。
	cfg *config.Config
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store は通知と購読者のストア。
	store Store
	// registry は接続中セッションの配信グループ。
	registry *Registry
	// engine はイベントのファンアウト処理。
	engine *Engine
	// upgrader はWebSocketハンドシェイクを行う。
	upgrader websocket.Upgrader
	// sessionConfig は新規セッションに渡す送受信パラメータ。
	sessionConfig SessionConfig
	// log はサーバーのロガー。
	log *logrus.Entry
}

// NewServer は設定に従ってストアを開き、通知サーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Server, error) {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var auditor Auditor = NopAuditor{}
	if cfg.EventStoreURL != "" {
		auditor = NewEventStoreAuditor(httpclient.New(cfg.EventStoreURL, httpclient.WithTimeout(cfg.AuditTimeout)))
	}
	return newServer(cfg, store, auditor, log), nil
}

// openStore はSTORE_DRIVERに応じたストアを開く。
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		store, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("MongoDBストアの初期化に失敗: %w", err)
		}
		return store, nil
	case config.DriverSQLite, "":
		store, err := NewSQLiteStore(ctx, cfg.DatabasePath, log)
		if err != nil {
			return nil, fmt.Errorf("SQLiteストアの初期化に失敗: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: 不明なストアドライバー %q", ErrInvalidArgument, cfg.StoreDriver)
	}
}

// newServer は生成済みのストアからサーバーを組み立てる。
func newServer(cfg *config.Config, store Store, auditor Auditor, log logrus.FieldLogger) *Server {
	registry := NewRegistry()

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		cfg:      cfg,
		router:   router,
		store:    store,
		registry: registry,
		engine: NewEngine(store, registry, EngineConfig{
			FanoutConcurrency: cfg.FanoutConcurrency,
			FanoutTimeout:     cfg.FanoutTimeout,
			Auditor:           auditor,
		}, log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     middleware.CheckOrigin(cfg.AllowedOrigins),
		},
		sessionConfig: SessionConfig{
			SendQueueSize:  cfg.SendQueueSize,
			WriteWait:      cfg.WriteWait,
			PongWait:       cfg.PongWait,
			MaxMessageSize: cfg.MaxMessageSize,
		},
		log: log.WithField("component", "server"),
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry は配信グループを返す。
func (s *Server) Registry() *Registry {
	return s.registry
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
// 停止時は全セッションを閉じてからストアを閉じる。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.WithField("port", s.cfg.Port).Info("通知サービスを起動します")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("通知サービスを停止します")

		// 新しい接続を止めてから残ったセッションを閉じる。
		// Shutdown中にアップグレードされたセッションはCloseAll後のJoinで拒否される。
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		closed := s.registry.CloseAll(ErrShuttingDown)
		s.log.WithField("sessions", closed).Info("WebSocketセッションを閉じました")

		if err != nil {
			return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if cerr := s.store.Close(); cerr != nil {
		s.log.WithError(cerr).Error("ストアのクローズに失敗しました")
	}
	return err
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// WebSocketはハンドシェイク内で独自に認証する
	s.router.GET("/ws/notifications", s.handleWebSocket())

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	s.registerAPIRoutes(api)

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
}

// registerAPIRoutes は認証済みAPIのルートを登録する。
func (s *Server) registerAPIRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		// 通知一覧と未読件数
		notifications.GET("", s.handleList())
		// 未読通知一覧
		notifications.GET("/unread", s.handleListUnread())
		// 未読件数（WebSocketを使えないクライアント向けのポーリング用）
		notifications.GET("/count", s.handleCountUnread())
		// 全通知を既読にする
		notifications.PUT("/read-all", s.handleMarkAllRead())
		// 通知1件の取得
		notifications.GET("/:id", s.handleGet())
		// 通知を既読にする
		notifications.PUT("/:id/read", s.handleMarkRead())
	}

	subscription := api.Group("/subscription")
	{
		subscription.GET("", s.handleGetSubscription())
		subscription.PUT("", s.handleSubscribe())
		subscription.DELETE("", s.handleUnsubscribe())
	}

	// イベント受信（内部API - 投稿サービスから呼び出される）
	internal := api.Group("/internal")
	{
		internal.POST("/events", s.handleEvent())
		internal.POST("/posts/created", s.handlePostCreated())
		internal.POST("/posts/liked", s.handlePostLiked())
	}
}
