package notification

import "context"

// Store は通知と購読者の永続化層。
// ErrNotFound 以外の失敗は *StorageError として返す。
type Store interface {
	// Create は通知を永続化し、採番済みのIDと作成日時を含むレコードを返す。
	Create(ctx context.Context, n NewNotification) (Notification, error)
	// ListForUser はユーザーの通知を新しい順に返す。
	ListForUser(ctx context.Context, userID UserID) ([]Notification, error)
	// ListUnread はユーザーの未読通知を新しい順に返す。
	ListUnread(ctx context.Context, userID UserID) ([]Notification, error)
	// GetForUser はユーザーが所有する通知を1件返す。
	GetForUser(ctx context.Context, userID UserID, id int64) (Notification, error)
	// CountUnread はユーザーの未読件数を返す。
	CountUnread(ctx context.Context, userID UserID) (int64, error)
	// MarkRead は通知を既読にする。所有者以外は ErrNotFound。冪等。
	MarkRead(ctx context.Context, userID UserID, id int64) error
	// MarkAllRead はユーザーの未読通知をすべて既読にし、変更件数を返す。冪等。
	MarkAllRead(ctx context.Context, userID UserID) (int64, error)

	// AddSubscriber はユーザーを新規投稿通知の購読者にする。冪等。
	AddSubscriber(ctx context.Context, userID UserID) error
	// RemoveSubscriber は購読を解除する。冪等。
	RemoveSubscriber(ctx context.Context, userID UserID) error
	// IsSubscriber はユーザーが購読者かどうかを返す。
	IsSubscriber(ctx context.Context, userID UserID) (bool, error)
	// ListSubscribers は現時点の購読者一覧を返す。
	ListSubscribers(ctx context.Context) ([]UserID, error)

	// Close は接続を閉じる。
	Close() error
}
