package notification

import (
	"fmt"
	"time"
)

// UserID はユーザーの識別子。配信グループのキーにもなる。
type UserID string

// SessionID はWebSocketセッションの識別子。
type SessionID string

// Type は通知の種類。
type Type string

const (
	// TypeNewPost は購読者への新規投稿通知。
	TypeNewPost Type = "new_post"
	// TypePostLiked は投稿者へのいいね通知。
	TypePostLiked Type = "post_liked"
)

// Valid は既知の通知種別かどうかを返す。
func (t Type) Valid() bool {
	return t == TypeNewPost || t == TypePostLiked
}

// Notification は永続化された通知。IsRead以外は作成後に変更されない。
type Notification struct {
	// ID はストアが単調増加で採番する識別子。
	ID int64 `json:"id"`
	// UserID は通知先のユーザーID。
	UserID UserID `json:"user_id"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Type は通知の種類。
	Type Type `json:"notification_type"`
	// RelatedEntityID は通知のきっかけとなった投稿のID。無い場合は空文字列。
	RelatedEntityID string `json:"related_entity_id,omitempty"`
	// IsRead は既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は作成日時（UTC）。
	CreatedAt time.Time `json:"created_at"`
}

// NewNotification は通知作成時の入力。
type NewNotification struct {
	UserID          UserID
	Message         string
	Type            Type
	RelatedEntityID string
}

func (n NewNotification) validate() error {
	if n.UserID == "" {
		return fmt.Errorf("%w: user_id が空です", ErrInvalidArgument)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: 不明な通知種別 %q", ErrInvalidArgument, n.Type)
	}
	return nil
}

// Payload はWebSocketでクライアントへ送るメッセージ。
type Payload struct {
	Message          string `json:"message"`
	NotificationType Type   `json:"notification_type"`
	NotificationID   int64  `json:"notification_id"`
	IsRead           bool   `json:"is_read"`
}

// NewPayload は永続化済みの通知から配信用メッセージを組み立てる。
func NewPayload(n Notification) Payload {
	return Payload{
		Message:          n.Message,
		NotificationType: n.Type,
		NotificationID:   n.ID,
		IsRead:           n.IsRead,
	}
}

// newPostMessage は新規投稿通知の本文を返す。
func newPostMessage(title, postID string) string {
	return fmt.Sprintf(`A new blog post titled "%s" has been published!`, orDefault(title, postID))
}

// postLikedMessage はいいね通知の本文を返す。
func postLikedMessage(title, postID, likerName, likerID string) string {
	return fmt.Sprintf(`Your post "%s" was liked by %s!`, orDefault(title, postID), orDefault(likerName, likerID))
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
