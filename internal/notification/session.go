package notification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// SessionState はセッションの状態。Connecting → Open → Closed の順にのみ遷移する。
type SessionState int32

const (
	// StateConnecting は認証済みで配信グループ参加前の状態。
	StateConnecting SessionState = iota
	// StateOpen は配信グループに参加し送受信している状態。
	StateOpen
	// StateClosed は終了した状態。
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig はセッションの送受信パラメータ。
type SessionConfig struct {
	// SendQueueSize は送信キューの容量。
	SendQueueSize int
	// WriteWait は1回の書き込みの制限時間。
	WriteWait time.Duration
	// PongWait はPongを待つ時間。Ping間隔はこの9/10。
	PongWait time.Duration
	// MaxMessageSize はクライアントから受け付けるメッセージの最大バイト数。
	MaxMessageSize int64
}

// DefaultSessionConfig は既定のセッション設定を返す。
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SendQueueSize:  16,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 4096,
	}
}

func (c SessionConfig) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// Session は認証済みWebSocket接続1本分の状態を持つ。
// 書き込みはwritePumpゴルーチンだけが行う。
type Session struct {
	id       SessionID
	userID   UserID
	conn     *websocket.Conn
	registry *Registry
	cfg      SessionConfig
	log      *logrus.Entry

	// send は配信待ちのペイロード。閉じずにdoneで終了を知らせる。
	send      chan Payload
	done      chan struct{}
	state     atomic.Int32
	closeOnce sync.Once
}

var _ Sender = (*Session)(nil)

// NewSession は認証済みユーザーの接続からセッションを生成する。
func NewSession(userID UserID, conn *websocket.Conn, registry *Registry, cfg SessionConfig, log logrus.FieldLogger) *Session {
	def := DefaultSessionConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	id := SessionID(uuid.NewString())
	return &Session{
		id:       id,
		userID:   userID,
		conn:     conn,
		registry: registry,
		cfg:      cfg,
		log: log.WithFields(logrus.Fields{
			"component":  "session",
			"user_id":    userID,
			"session_id": id,
		}),
		send: make(chan Payload, cfg.SendQueueSize),
		done: make(chan struct{}),
	}
}

// ID はセッションIDを返す。
func (s *Session) ID() SessionID { return s.id }

// UserID はセッションの所有ユーザーを返す。
func (s *Session) UserID() UserID { return s.userID }

// State は現在の状態を返す。
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Deliver はペイロードを送信キューに積む。キューが満杯なら ErrDeliveryDropped を返す。
func (s *Session) Deliver(p Payload) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- p:
		return nil
	default:
		return ErrDeliveryDropped
	}
}

// Drop は配信グループから外されたセッションを非同期に閉じる。
func (s *Session) Drop(reason error) {
	go s.Close(reason)
}

// Run は配信グループに参加し、接続が終わるまで送受信を続ける。
// 読み取りは呼び出し元のゴルーチンで行い、どちらかのループが終わればセッションを閉じる。
func (s *Session) Run(ctx context.Context) error {
	if err := s.registry.Join(s.userID, s.id, s); err != nil {
		s.Close(err)
		return err
	}
	s.state.Store(int32(StateOpen))
	s.log.Info("WebSocketセッションを開始しました")

	defer s.Close(nil)

	go s.writePump(ctx)
	s.readPump()
	return nil
}

// Close はセッションを一度だけ閉じる。配信グループからの離脱とクローズフレームの送信を行う。
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		s.registry.Leave(s.userID, s.id)

		code, text := closeFrame(reason)
		deadline := time.Now().Add(s.cfg.WriteWait)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		_ = s.conn.Close()

		entry := s.log
		if reason != nil {
			entry = entry.WithError(reason)
		}
		if errors.Is(reason, ErrDeliveryDropped) {
			entry.Warn("送信キューが溢れたためセッションを閉じました")
			return
		}
		entry.Info("WebSocketセッションを終了しました")
	})
}

// closeFrame は終了理由に対応するクローズコードと理由文字列を返す。
func closeFrame(reason error) (int, string) {
	switch {
	case reason == nil:
		return websocket.CloseNormalClosure, ""
	case errors.Is(reason, ErrShuttingDown):
		return websocket.CloseGoingAway, "shutting down"
	case errors.Is(reason, ErrDeliveryDropped):
		return websocket.CloseTryAgainLater, "send queue overflow"
	case errors.Is(reason, context.Canceled):
		return websocket.CloseGoingAway, ""
	default:
		return websocket.CloseInternalServerErr, ""
	}
}

// writePump は送信キューのペイロードとPingを書き込む。
// 終了時にキューに残ったペイロードは破棄する。
func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.Close(ctx.Err())
			return
		case p := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteJSON(p); err != nil {
				s.log.WithError(err).Debug("ペイロードの書き込みに失敗しました")
				s.Close(err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				s.Close(err)
				return
			}
		}
	}
}

// readPump はクライアントからのフレームを読み続ける。
// 受信メッセージは使わないが、読み取りを続けないとPongとクローズを処理できない。
func (s *Session) readPump() {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.WithError(err).Debug("WebSocketの読み取りが終了しました")
			}
			return
		}
		s.log.WithField("size", len(msg)).Debug("クライアントからのメッセージを無視しました")
	}
}
