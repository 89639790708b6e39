package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyData はイベントのDataフィールドが空かnullの場合に返される。
	ErrEmptyData = errors.New("イベントデータが空です")
	// ErrInvalidEnvelope はイベントの識別情報が欠けている場合に返される。
	ErrInvalidEnvelope = errors.New("イベントの識別情報が不正です")
)

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
// aggregateID・aggregateType・eventTypeが空、またはversionが1未満なら ErrInvalidEnvelope を返す。
func New(aggregateID string, aggregateType AggregateType, eventType Type, version int64, data any) (*Event, error) {
	switch {
	case aggregateID == "" || aggregateType == "":
		return nil, fmt.Errorf("%w: 集約の指定がありません", ErrInvalidEnvelope)
	case eventType == "":
		return nil, fmt.Errorf("%w: イベント種別がありません", ErrInvalidEnvelope)
	case version < 1:
		return nil, fmt.Errorf("%w: version=%d", ErrInvalidEnvelope, version)
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
// イベントがnil、またはDataが空かnullの場合は ErrEmptyData を返す。
func DecodeData[T any](e *Event) (*T, error) {
	if e == nil {
		return nil, ErrEmptyData
	}
	if raw := bytes.TrimSpace(e.Data); len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrEmptyData
	}
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
