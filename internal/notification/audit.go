package notification

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nao1215/postnotify/pkg/event"
	"github.com/nao1215/postnotify/pkg/httpclient"
)

// Auditor は作成済みの通知を外部に記録する。
// 記録の失敗は配信に影響させず、呼び出し側でログに残すだけにする。
type Auditor interface {
	Record(ctx context.Context, n Notification) error
}

// NopAuditor は何も記録しないAuditor。
type NopAuditor struct{}

// Record は何もしない。
func (NopAuditor) Record(context.Context, Notification) error { return nil }

// EventStoreAuditor はNotificationSentイベントをEvent Storeへ送る。
type EventStoreAuditor struct {
	client *httpclient.Client
}

// NewEventStoreAuditor はEvent Store向けのクライアントからAuditorを生成する。
func NewEventStoreAuditor(client *httpclient.Client) *EventStoreAuditor {
	return &EventStoreAuditor{client: client}
}

// eventsPath はEvent Storeのイベント追記API。
const eventsPath = "/api/v1/events"

// Record は通知からNotificationSentイベントを組み立てて送信する。
func (a *EventStoreAuditor) Record(ctx context.Context, n Notification) error {
	e, err := event.New(
		"notification-"+strconv.FormatInt(n.ID, 10),
		event.AggregateTypeNotification,
		event.TypeNotificationSent,
		1,
		event.NotificationSentData{
			NotificationID:   n.ID,
			UserID:           string(n.UserID),
			NotificationType: string(n.Type),
			RelatedEntityID:  n.RelatedEntityID,
			Message:          n.Message,
		},
	)
	if err != nil {
		return fmt.Errorf("NotificationSentイベントの生成に失敗: %w", err)
	}

	ctx = httpclient.WithUserID(ctx, string(n.UserID))
	if err := a.client.PostJSON(ctx, eventsPath, e, nil); err != nil {
		return fmt.Errorf("NotificationSentイベントの送信に失敗: %w", err)
	}
	return nil
}
