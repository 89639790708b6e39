package notification

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nao1215/postnotify/pkg/migration"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStore はSQLiteを使ったStoreの実装。
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// notificationRow はnotificationsテーブルの1行。
type notificationRow struct {
	ID              int64          `db:"id"`
	UserID          string         `db:"user_id"`
	Message         string         `db:"message"`
	Type            string         `db:"type"`
	RelatedEntityID sql.NullString `db:"related_entity_id"`
	IsRead          bool           `db:"is_read"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (r notificationRow) toNotification() Notification {
	return Notification{
		ID:              r.ID,
		UserID:          UserID(r.UserID),
		Message:         r.Message,
		Type:            Type(r.Type),
		RelatedEntityID: r.RelatedEntityID.String,
		IsRead:          r.IsRead,
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

// NewSQLiteStore はpathのSQLiteデータベースを開き、マイグレーションを適用する。
// ":memory:" を指定した場合はインメモリDBを1接続で共有する。
func NewSQLiteStore(ctx context.Context, path string, log logrus.FieldLogger) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		// インメモリDBは接続ごとに別のDBになる
		db.SetMaxOpenConns(1)
	}

	if _, err := migration.Run(ctx, db.DB, migrationFS, "migrations", log); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create は通知を1件追加する。
func (s *SQLiteStore) Create(ctx context.Context, n NewNotification) (Notification, error) {
	if err := n.validate(); err != nil {
		return Notification{}, err
	}

	related := sql.NullString{String: n.RelatedEntityID, Valid: n.RelatedEntityID != ""}
	createdAt := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, message, type, related_entity_id, is_read, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		string(n.UserID), n.Message, string(n.Type), related, createdAt,
	)
	if err != nil {
		return Notification{}, storageErr("create", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Notification{}, storageErr("create", err)
	}

	return Notification{
		ID:              id,
		UserID:          n.UserID,
		Message:         n.Message,
		Type:            n.Type,
		RelatedEntityID: n.RelatedEntityID,
		IsRead:          false,
		CreatedAt:       createdAt,
	}, nil
}

const selectNotification = `SELECT id, user_id, message, type, related_entity_id, is_read, created_at FROM notifications`

func (s *SQLiteStore) list(ctx context.Context, op, query string, args ...any) ([]Notification, error) {
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageErr(op, err)
	}
	out := make([]Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toNotification())
	}
	return out, nil
}

// ListForUser はユーザーの通知を新しい順に返す。
func (s *SQLiteStore) ListForUser(ctx context.Context, userID UserID) ([]Notification, error) {
	return s.list(ctx, "list", selectNotification+` WHERE user_id = ? ORDER BY id DESC`, string(userID))
}

// ListUnread はユーザーの未読通知を新しい順に返す。
func (s *SQLiteStore) ListUnread(ctx context.Context, userID UserID) ([]Notification, error) {
	return s.list(ctx, "list_unread", selectNotification+` WHERE user_id = ? AND is_read = 0 ORDER BY id DESC`, string(userID))
}

// GetForUser はユーザーが所有する通知を返す。
func (s *SQLiteStore) GetForUser(ctx context.Context, userID UserID, id int64) (Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row, selectNotification+` WHERE id = ? AND user_id = ?`, id, string(userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, storageErr("get", err)
	}
	return row.toNotification(), nil
}

// CountUnread はユーザーの未読件数を返す。
func (s *SQLiteStore) CountUnread(ctx context.Context, userID UserID) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, string(userID)); err != nil {
		return 0, storageErr("count_unread", err)
	}
	return count, nil
}

// MarkRead は通知を既読にする。
// SQLiteのUPDATEは値が変わらなくても一致行を数えるため、0件は存在しないか他人の通知を意味する。
func (s *SQLiteStore) MarkRead(ctx context.Context, userID UserID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, string(userID))
	if err != nil {
		return storageErr("mark_read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("mark_read", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にする。
func (s *SQLiteStore) MarkAllRead(ctx context.Context, userID UserID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, string(userID))
	if err != nil {
		return 0, storageErr("mark_all_read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("mark_all_read", err)
	}
	return n, nil
}

// AddSubscriber はユーザーを購読者に追加する。
func (s *SQLiteStore) AddSubscriber(ctx context.Context, userID UserID) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id が空です", ErrInvalidArgument)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`, string(userID))
	return storageErr("add_subscriber", err)
}

// RemoveSubscriber は購読を解除する。
func (s *SQLiteStore) RemoveSubscriber(ctx context.Context, userID UserID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE user_id = ?`, string(userID))
	return storageErr("remove_subscriber", err)
}

// IsSubscriber はユーザーが購読者かどうかを返す。
func (s *SQLiteStore) IsSubscriber(ctx context.Context, userID UserID) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM subscribers WHERE user_id = ?)`, string(userID)); err != nil {
		return false, storageErr("is_subscriber", err)
	}
	return exists, nil
}

// ListSubscribers は購読者一覧を返す。
func (s *SQLiteStore) ListSubscribers(ctx context.Context) ([]UserID, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT user_id FROM subscribers ORDER BY user_id`); err != nil {
		return nil, storageErr("list_subscribers", err)
	}
	out := make([]UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, UserID(id))
	}
	return out, nil
}
