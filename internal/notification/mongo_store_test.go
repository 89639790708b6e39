package notification

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

// newTestMongoStore はPOSTNOTIFY_TEST_MONGO_URIで指定したMongoDBにテスト毎の
// データベースを作成する。未設定の場合はテストをスキップする。
func newTestMongoStore(t *testing.T) *MongoStore {
	t.Helper()

	uri := os.Getenv("POSTNOTIFY_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("POSTNOTIFY_TEST_MONGO_URI が未設定のためスキップします")
	}

	database := "postnotify_test_" + uuid.NewString()[:8]
	store, err := NewMongoStore(t.Context(), uri, database)
	if err != nil {
		t.Fatalf("MongoDBストアの作成に失敗: %v", err)
	}
	t.Cleanup(func() {
		_ = store.notifications.Database().Drop(context.Background())
		store.Close()
	})
	return store
}

func TestNewMongoStore(t *testing.T) {
	t.Parallel()

	if _, err := NewMongoStore(t.Context(), "", "notification"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("空URIのerr = %v, want ErrInvalidArgument", err)
	}
}

func TestMongoStore(t *testing.T) {
	t.Parallel()

	store := newTestMongoStore(t)
	ctx := t.Context()

	t.Run("通知を作成し新しい順に取得できる", func(t *testing.T) {
		n1 := createTestNotification(t, store, "mongo-user-1", TypeNewPost, "post-1")
		n2 := createTestNotification(t, store, "mongo-user-1", TypePostLiked, "post-2")
		createTestNotification(t, store, "mongo-user-2", TypeNewPost, "post-1")

		if n2.ID <= n1.ID {
			t.Errorf("ID = %d, %d, want increasing", n1.ID, n2.ID)
		}

		got, err := store.ListForUser(ctx, "mongo-user-1")
		if err != nil {
			t.Fatalf("ListForUser()でエラーが発生: %v", err)
		}
		if len(got) != 2 || got[0].ID != n2.ID {
			t.Errorf("一覧 = %+v", got)
		}
	})

	t.Run("既読化は所有者だけが行え冪等である", func(t *testing.T) {
		n := createTestNotification(t, store, "mongo-user-3", TypeNewPost, "post-1")

		if err := store.MarkRead(ctx, "mongo-user-4", n.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("他ユーザーのerr = %v, want ErrNotFound", err)
		}
		for range 2 {
			if err := store.MarkRead(ctx, "mongo-user-3", n.ID); err != nil {
				t.Fatalf("MarkRead()でエラーが発生: %v", err)
			}
		}
		count, err := store.CountUnread(ctx, "mongo-user-3")
		if err != nil || count != 0 {
			t.Errorf("CountUnread = %d, %v, want 0", count, err)
		}
	})

	t.Run("全既読化は変更件数を返す", func(t *testing.T) {
		createTestNotification(t, store, "mongo-user-5", TypeNewPost, "post-1")
		createTestNotification(t, store, "mongo-user-5", TypeNewPost, "post-2")

		updated, err := store.MarkAllRead(ctx, "mongo-user-5")
		if err != nil || updated != 2 {
			t.Errorf("MarkAllRead = %d, %v, want 2", updated, err)
		}
		updated, err = store.MarkAllRead(ctx, "mongo-user-5")
		if err != nil || updated != 0 {
			t.Errorf("2回目のMarkAllRead = %d, %v, want 0", updated, err)
		}
	})

	t.Run("購読者を追加・削除できる", func(t *testing.T) {
		for _, id := range []UserID{"sub-1", "sub-1", "sub-2"} {
			if err := store.AddSubscriber(ctx, id); err != nil {
				t.Fatalf("AddSubscriber()でエラーが発生: %v", err)
			}
		}
		if err := store.RemoveSubscriber(ctx, "sub-2"); err != nil {
			t.Fatalf("RemoveSubscriber()でエラーが発生: %v", err)
		}

		got, err := store.ListSubscribers(ctx)
		if err != nil {
			t.Fatalf("ListSubscribers()でエラーが発生: %v", err)
		}
		if len(got) != 1 || got[0] != "sub-1" {
			t.Errorf("購読者 = %v, want [sub-1]", got)
		}
	})
}
