package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypePost は投稿エンティティを表す。
	AggregateTypePost AggregateType = "Post"
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeNotification は通知エンティティを表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypePostCreated は投稿が永続化されたことを表す。
	TypePostCreated Type = "PostCreated"
	// TypePostLiked は投稿へのいいねが永続化されたことを表す。
	// 同一ユーザーによる重複いいねは発行元で排除済みであること。
	TypePostLiked Type = "PostLiked"

	// TypeNotificationSent は通知が作成・配信されたことを表す。
	TypeNotificationSent Type = "NotificationSent"
)

// Event はサービス間でやり取りされる不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// PostCreatedData はPostCreatedイベントのデータ。
type PostCreatedData struct {
	// PostID は作成された投稿のID。
	PostID string `json:"post_id" binding:"required"`
	// Title は投稿のタイトル。
	Title string `json:"title"`
	// AuthorID は投稿者のユーザーID。
	AuthorID string `json:"author_id" binding:"required"`
}

// PostLikedData はPostLikedイベントのデータ。
type PostLikedData struct {
	// PostID はいいねされた投稿のID。
	PostID string `json:"post_id" binding:"required"`
	// LikerID はいいねしたユーザーのID。
	LikerID string `json:"liker_id" binding:"required"`
	// AuthorID は投稿者のユーザーID。通知の宛先になる。
	AuthorID string `json:"author_id" binding:"required"`
	// Title は投稿のタイトル。省略時は投稿IDで代用する。
	Title string `json:"title,omitempty"`
	// LikerName はいいねしたユーザーの表示名。省略時はユーザーIDで代用する。
	LikerName string `json:"liker_name,omitempty"`
}

// NotificationSentData はNotificationSentイベントのデータ。
type NotificationSentData struct {
	// NotificationID は作成された通知のID。
	NotificationID int64 `json:"notification_id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// NotificationType は通知の種類。
	NotificationType string `json:"notification_type"`
	// RelatedEntityID は通知のきっかけとなった投稿のID。
	RelatedEntityID string `json:"related_entity_id,omitempty"`
	// Message は通知メッセージ。
	Message string `json:"message"`
}
