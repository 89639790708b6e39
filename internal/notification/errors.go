package notification

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationRequired はハンドシェイク時に有効な認証情報が無い場合に返される。
	ErrAuthenticationRequired = errors.New("認証が必要です")
	// ErrNotFound は通知が存在しないか、呼び出し元のユーザーの所有でない場合に返される。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrDeliveryDropped は送信キューが満杯または転送失敗でプッシュを破棄した場合に返される。
	// 通知自体は永続化済みで、一覧APIから取得できる。
	ErrDeliveryDropped = errors.New("配信を破棄しました")
	// ErrSessionClosed は終了済みのセッションへ配信しようとした場合に返される。
	ErrSessionClosed = errors.New("セッションは終了しています")
	// ErrAlreadyJoined は離脱せずに同じセッションを再登録しようとした場合に返される。
	ErrAlreadyJoined = errors.New("セッションは既に配信グループに参加しています")
	// ErrInvalidArgument は入力値が不正な場合に返される。
	ErrInvalidArgument = errors.New("入力値が不正です")
	// ErrUnknownEvent は処理対象外のイベント種別を受け取った場合に返される。
	ErrUnknownEvent = errors.New("未対応のイベント種別です")
	// ErrShuttingDown はサーバー停止によりセッションを閉じる場合の理由。
	ErrShuttingDown = errors.New("サーバーを停止しています")
)

// StorageError は永続化層の読み書きに失敗したことを表す。
type StorageError struct {
	// Op は失敗した操作名。
	Op string
	// Err は元のエラー。
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ストア操作 %s に失敗: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr はerrをStorageErrorで包む。nilはnilのまま返す。
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError はerrがStorageErrorを含むかどうかを返す。
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
