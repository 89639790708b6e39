package notification

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/postnotify/pkg/event"
)

const (
	// defaultFanoutConcurrency は並列配信数が未指定の場合の上限。
	defaultFanoutConcurrency = 8
	// defaultFanoutTimeout は1イベント分の処理時間が未指定の場合の上限。
	defaultFanoutTimeout = 30 * time.Second
)

// RecipientFailure は宛先1人分の処理失敗。
type RecipientFailure struct {
	// UserID は失敗した宛先。
	UserID UserID `json:"user_id"`
	// Err は失敗の原因。
	Err error `json:"-"`
	// Reason はErrのメッセージ。レスポンス用。
	Reason string `json:"error"`
}

// Report は1イベント分の配信結果。
type Report struct {
	// Recipients は宛先の数。
	Recipients int `json:"recipients"`
	// Created は永続化できた通知の数。
	Created int `json:"created"`
	// Delivered はプッシュを送信キューに積めたセッションの延べ数。
	Delivered int `json:"delivered"`
	// Dropped は送信キューが溢れて切断したセッションの延べ数。
	Dropped int `json:"dropped"`
	// Closed は配信時点で終了処理中だったセッションの延べ数。
	Closed int `json:"closed"`
	// Failures は宛先ごとの失敗。
	Failures []RecipientFailure `json:"failures"`

	mu      sync.Mutex
	created []Notification
}

// AllFailed は宛先が1人以上いて、全員分の永続化に失敗したかどうかを返す。
func (r *Report) AllFailed() bool {
	return r.Recipients > 0 && r.Created == 0 && len(r.Failures) > 0
}

func (r *Report) addFailure(userID UserID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, RecipientFailure{UserID: userID, Err: err, Reason: err.Error()})
}

func (r *Report) addDelivery(n Notification, res BroadcastResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Created++
	r.Delivered += res.Delivered
	r.Dropped += res.Dropped
	r.Closed += res.Closed
	r.created = append(r.created, n)
}

// EngineConfig はEngineの設定。
type EngineConfig struct {
	// FanoutConcurrency は1イベントあたりの並列処理数の上限。
	FanoutConcurrency int
	// FanoutTimeout は1イベント分の永続化と配信にかける時間の上限。
	// 呼び出し元のキャンセルとは切り離して適用する。
	FanoutTimeout time.Duration
	// Auditor は作成した通知の記録先。nilなら記録しない。
	Auditor Auditor
}

// Engine はドメインイベントを通知の永続化とプッシュに変換する。
type Engine struct {
	store       Store
	registry    *Registry
	auditor     Auditor
	concurrency int
	timeout     time.Duration
	log         *logrus.Entry
}

// NewEngine は新しいEngineを生成する。
func NewEngine(store Store, registry *Registry, cfg EngineConfig, log logrus.FieldLogger) *Engine {
	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = defaultFanoutConcurrency
	}
	if cfg.FanoutTimeout <= 0 {
		cfg.FanoutTimeout = defaultFanoutTimeout
	}
	if cfg.Auditor == nil {
		cfg.Auditor = NopAuditor{}
	}
	return &Engine{
		store:       store,
		registry:    registry,
		auditor:     cfg.Auditor,
		concurrency: cfg.FanoutConcurrency,
		timeout:     cfg.FanoutTimeout,
		log:         log.WithField("component", "fanout"),
	}
}

// detach は呼び出し元のキャンセルを引き継がず、Engineの制限時間だけを持つコンテキストを返す。
// 宛先の取得後に呼び出し元が切断しても、残りの宛先の永続化を打ち切らない。
func (e *Engine) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
}

// HandlePostCreated は現時点の購読者全員に新規投稿通知を作成・配信する。
// 購読者一覧の取得に失敗した場合は何も処理せずStorageErrorを返す。
// 宛先ごとの失敗はReportに記録し、他の宛先の処理は続ける。
func (e *Engine) HandlePostCreated(ctx context.Context, data event.PostCreatedData) (*Report, error) {
	if data.PostID == "" {
		return nil, fmt.Errorf("%w: post_id が空です", ErrInvalidArgument)
	}

	ctx, cancel := e.detach(ctx)
	defer cancel()

	recipients, err := e.store.ListSubscribers(ctx)
	if err != nil {
		e.log.WithError(err).WithField("post_id", data.PostID).Error("購読者一覧の取得に失敗しました")
		return nil, err
	}

	report := &Report{Recipients: len(recipients)}
	message := newPostMessage(data.Title, data.PostID)

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, recipient := range recipients {
		g.Go(func() error {
			e.notify(ctx, report, NewNotification{
				UserID:          recipient,
				Message:         message,
				Type:            TypeNewPost,
				RelatedEntityID: data.PostID,
			})
			return nil
		})
	}
	_ = g.Wait()
	e.audit(ctx, report.created)

	e.finish(report, logrus.Fields{"event": event.TypePostCreated, "post_id": data.PostID})
	return report, nil
}

// HandlePostLiked は投稿者にいいね通知を作成・配信する。
// いいねしたのが投稿者本人でも通知する。
func (e *Engine) HandlePostLiked(ctx context.Context, data event.PostLikedData) (*Report, error) {
	if data.PostID == "" || data.AuthorID == "" {
		return nil, fmt.Errorf("%w: post_id と author_id は必須です", ErrInvalidArgument)
	}

	ctx, cancel := e.detach(ctx)
	defer cancel()

	report := &Report{Recipients: 1}
	e.notify(ctx, report, NewNotification{
		UserID:          UserID(data.AuthorID),
		Message:         postLikedMessage(data.Title, data.PostID, data.LikerName, data.LikerID),
		Type:            TypePostLiked,
		RelatedEntityID: data.PostID,
	})
	e.audit(ctx, report.created)

	e.finish(report, logrus.Fields{"event": event.TypePostLiked, "post_id": data.PostID, "liker_id": data.LikerID})
	return report, nil
}

// Dispatch はイベントの種別に応じてハンドラを呼び分ける。
func (e *Engine) Dispatch(ctx context.Context, ev *event.Event) (*Report, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: イベントが空です", ErrInvalidArgument)
	}

	switch ev.EventType {
	case event.TypePostCreated:
		data, err := event.DecodeData[event.PostCreatedData](ev)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		return e.HandlePostCreated(ctx, *data)
	case event.TypePostLiked:
		data, err := event.DecodeData[event.PostLikedData](ev)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		return e.HandlePostLiked(ctx, *data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.EventType)
	}
}

// notify は宛先1人分の通知を永続化し、成功した場合だけプッシュする。
func (e *Engine) notify(ctx context.Context, report *Report, in NewNotification) {
	log := e.log.WithFields(logrus.Fields{"user_id": in.UserID, "type": in.Type})

	n, err := e.store.Create(ctx, in)
	if err != nil {
		log.WithError(err).Error("通知の作成に失敗しました")
		report.addFailure(in.UserID, err)
		return
	}

	res := e.registry.Broadcast(n.UserID, NewPayload(n))
	report.addDelivery(n, res)
	if res.Dropped > 0 {
		log.WithField("dropped", res.Dropped).Warn("送信キューが溢れたセッションを切断しました")
	}
}

// audit は全宛先への配信を終えた後で、作成した通知を監査先へ記録する。
// 記録の失敗は配信結果に影響させずログに残すだけにする。
func (e *Engine) audit(ctx context.Context, created []Notification) {
	if len(created) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, n := range created {
		g.Go(func() error {
			if err := e.auditor.Record(ctx, n); err != nil {
				e.log.WithError(err).WithField("notification_id", n.ID).Warn("配信記録の送信に失敗しました")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) finish(report *Report, fields logrus.Fields) {
	slices.SortFunc(report.Failures, func(a, b RecipientFailure) int {
		return cmp.Compare(a.UserID, b.UserID)
	})

	entry := e.log.WithFields(fields).WithFields(logrus.Fields{
		"recipients": report.Recipients,
		"created":    report.Created,
		"delivered":  report.Delivered,
		"dropped":    report.Dropped,
		"closed":     report.Closed,
		"failed":     len(report.Failures),
	})
	if len(report.Failures) > 0 {
		entry.Warn("一部の宛先への通知に失敗しました")
		return
	}
	entry.Info("通知を配信しました")
}

// isClientError はエラーが呼び出し側の入力に起因するかどうかを返す。
func isClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrUnknownEvent)
}
