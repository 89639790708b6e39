package notification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/postnotify/pkg/event"
	"github.com/nao1215/postnotify/pkg/middleware"
)

// handleHealth はヘルスチェックのハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"service":         "notification",
			"connected_users": s.registry.Users(),
		})
	}
}

// handleWebSocket は認証してからWebSocketへアップグレードし、セッションを開始する。
// 認証に失敗した場合はアップグレードせず401を返す。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := middleware.AuthenticateRequest(c.Request, s.cfg.JWTSecret)
		if err != nil {
			s.log.WithError(err).Debug("WebSocketハンドシェイクの認証に失敗しました")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrAuthenticationRequired.Error()})
			return
		}

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgradeがエラーレスポンスを書き込み済み
			s.log.WithError(err).Warn("WebSocketへのアップグレードに失敗しました")
			return
		}

		session := NewSession(UserID(claims.UserID), conn, s.registry, s.sessionConfig, s.log)
		if err := session.Run(c.Request.Context()); err != nil {
			s.log.WithError(err).WithField("user_id", claims.UserID).Error("WebSocketセッションを開始できませんでした")
		}
	}
}

// requireUserID は認証済みユーザーIDを取り出す。無い場合は401を返してfalseを返す。
func requireUserID(c *gin.Context) (UserID, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return "", false
	}
	return UserID(userID), true
}

// parseNotificationID はパスパラメータの通知IDを解析する。
func parseNotificationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが不正です"})
		return 0, false
	}
	return id, true
}

// respondStoreError はストアのエラーをHTTPステータスに対応付けて返す。
func (s *Server) respondStoreError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
	case errors.Is(err, ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).Error(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// handleList は通知一覧と未読件数を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		notifications, err := s.store.ListForUser(c.Request.Context(), userID)
		if err != nil {
			s.respondStoreError(c, err, "通知一覧の取得に失敗しました")
			return
		}
		unread, err := s.store.CountUnread(c.Request.Context(), userID)
		if err != nil {
			s.respondStoreError(c, err, "未読件数の取得に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"notifications": notifications,
			"unread_count":  unread,
		})
	}
}

// handleListUnread は未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		notifications, err := s.store.ListUnread(c.Request.Context(), userID)
		if err != nil {
			s.respondStoreError(c, err, "未読通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// handleCountUnread は未読件数を返すハンドラ。
func (s *Server) handleCountUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		count, err := s.store.CountUnread(c.Request.Context(), userID)
		if err != nil {
			s.respondStoreError(c, err, "未読件数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// handleGet は自分宛ての通知を1件返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		id, ok := parseNotificationID(c)
		if !ok {
			return
		}

		n, err := s.store.GetForUser(c.Request.Context(), userID, id)
		if err != nil {
			s.respondStoreError(c, err, "通知の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

// handleMarkRead は通知を既読にするハンドラ。
// 他ユーザーの通知は存在しない通知と同じく404を返す。
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		id, ok := parseNotificationID(c)
		if !ok {
			return
		}

		if err := s.store.MarkRead(c.Request.Context(), userID, id); err != nil {
			s.respondStoreError(c, err, "通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllRead は未読通知をすべて既読にするハンドラ。
func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		updated, err := s.store.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			s.respondStoreError(c, err, "全通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// handleGetSubscription は新規投稿通知の購読状態を返すハンドラ。
func (s *Server) handleGetSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		subscribed, err := s.store.IsSubscriber(c.Request.Context(), userID)
		if err != nil {
			s.respondStoreError(c, err, "購読状態の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscribed": subscribed})
	}
}

// handleSubscribe は新規投稿通知を購読するハンドラ。
func (s *Server) handleSubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		if err := s.store.AddSubscriber(c.Request.Context(), userID); err != nil {
			s.respondStoreError(c, err, "購読の登録に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscribed": true})
	}
}

// handleUnsubscribe は購読を解除するハンドラ。
func (s *Server) handleUnsubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}

		if err := s.store.RemoveSubscriber(c.Request.Context(), userID); err != nil {
			s.respondStoreError(c, err, "購読の解除に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscribed": false})
	}
}

// respondReport はファンアウト結果をHTTPレスポンスにする。
// 宛先の取得に失敗した場合と、全宛先の永続化に失敗した場合は500を返す。
func (s *Server) respondReport(c *gin.Context, report *Report, err error) {
	switch {
	case err != nil && isClientError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の配信に失敗しました"})
	case report.AllFailed():
		c.JSON(http.StatusInternalServerError, report)
	default:
		c.JSON(http.StatusOK, report)
	}
}

// handleEvent はイベントエンベロープを受け取り種別に応じて処理するハンドラ。
func (s *Server) handleEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev event.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		report, err := s.engine.Dispatch(c.Request.Context(), &ev)
		s.respondReport(c, report, err)
	}
}

// handlePostCreated は投稿作成イベントを処理するハンドラ。
func (s *Server) handlePostCreated() gin.HandlerFunc {
	return func(c *gin.Context) {
		var data event.PostCreatedData
		if err := c.ShouldBindJSON(&data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		report, err := s.engine.HandlePostCreated(c.Request.Context(), data)
		s.respondReport(c, report, err)
	}
}

// handlePostLiked はいいねイベントを処理するハンドラ。
func (s *Server) handlePostLiked() gin.HandlerFunc {
	return func(c *gin.Context) {
		var data event.PostLikedData
		if err := c.ShouldBindJSON(&data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		report, err := s.engine.HandlePostLiked(c.Request.Context(), data)
		s.respondReport(c, report, err)
	}
}
