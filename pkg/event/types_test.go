package event

import (
	"encoding/json"
	"testing"
)

// TestTypeConstants はイベント種別の値が発行元と一致することを検証する。
// 値は投稿サービスとの契約なので変更してはならない。
func TestTypeConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  Type
		want string
	}{
		{name: "TypePostCreatedの値が正しいこと", got: TypePostCreated, want: "PostCreated"},
		{name: "TypePostLikedの値が正しいこと", got: TypePostLiked, want: "PostLiked"},
		{name: "TypeNotificationSentの値が正しいこと", got: TypeNotificationSent, want: "NotificationSent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if string(tt.got) != tt.want {
				t.Errorf("Type = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// TestPostLikedDataJSON はPostLikedDataの任意フィールドの扱いを検証する。
func TestPostLikedDataJSON(t *testing.T) {
	t.Parallel()

	t.Run("任意フィールドが空の場合はJSONに含まれないこと", func(t *testing.T) {
		t.Parallel()

		data := PostLikedData{PostID: "post-1", LikerID: "user-b", AuthorID: "user-c"}
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("json.Marshalでエラーが発生: %v", err)
		}

		var raw map[string]any
		if err := json.Unmarshal(b, &raw); err != nil {
			t.Fatalf("json.Unmarshalでエラーが発生: %v", err)
		}
		if _, ok := raw["title"]; ok {
			t.Error("titleが出力されている")
		}
		if _, ok := raw["liker_name"]; ok {
			t.Error("liker_nameが出力されている")
		}
		if raw["author_id"] != "user-c" {
			t.Errorf("author_id = %v, want user-c", raw["author_id"])
		}
	})

	t.Run("発行元のJSONキーで読み込めること", func(t *testing.T) {
		t.Parallel()

		input := `{"post_id":"post-9","liker_id":"user-1","author_id":"user-2","title":"Hello","liker_name":"alice"}`
		var data PostLikedData
		if err := json.Unmarshal([]byte(input), &data); err != nil {
			t.Fatalf("json.Unmarshalでエラーが発生: %v", err)
		}
		want := PostLikedData{PostID: "post-9", LikerID: "user-1", AuthorID: "user-2", Title: "Hello", LikerName: "alice"}
		if data != want {
			t.Errorf("PostLikedData = %+v, want %+v", data, want)
		}
	})
}
