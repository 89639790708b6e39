package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBのコレクション名。
const (
	collectionNotifications = "notifications"
	collectionSubscribers   = "subscribers"
	collectionCounters      = "counters"
)

// notificationCounterID は通知ID採番用カウンタードキュメントのID。
const notificationCounterID = "notification_id"

// MongoStore はMongoDBを使ったStoreの実装。
// 通知IDはcountersコレクションの$incで単調増加に採番する。
type MongoStore struct {
	client        *mongo.Client
	notifications *mongo.Collection
	subscribers   *mongo.Collection
	counters      *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// notificationDoc はnotificationsコレクションのドキュメント。
type notificationDoc struct {
	ID              int64     `bson:"_id"`
	UserID          string    `bson:"user_id"`
	Message         string    `bson:"message"`
	Type            string    `bson:"type"`
	RelatedEntityID string    `bson:"related_entity_id,omitempty"`
	IsRead          bool      `bson:"is_read"`
	CreatedAt       time.Time `bson:"created_at"`
}

func (d notificationDoc) toNotification() Notification {
	return Notification{
		ID:              d.ID,
		UserID:          UserID(d.UserID),
		Message:         d.Message,
		Type:            Type(d.Type),
		RelatedEntityID: d.RelatedEntityID,
		IsRead:          d.IsRead,
		CreatedAt:       d.CreatedAt.UTC(),
	}
}

// subscriberDoc はsubscribersコレクションのドキュメント。
type subscriberDoc struct {
	UserID    string    `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMongoStore はMongoDBに接続し、必要なインデックスを作成する。
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: MongoDBの接続URIが空です", ErrInvalidArgument)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("MongoDBへの接続に失敗: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("MongoDBへの疎通確認に失敗: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		notifications: db.Collection(collectionNotifications),
		subscribers:   db.Collection(collectionSubscribers),
		counters:      db.Collection(collectionCounters),
	}

	_, err = s.notifications.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("インデックス作成に失敗: %w", err)
	}
	return s, nil
}

// Close はMongoDBとの接続を切断する。
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// nextID は通知IDを採番する。
func (s *MongoStore) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": notificationCounterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

// Create は通知を1件追加する。
func (s *MongoStore) Create(ctx context.Context, n NewNotification) (Notification, error) {
	if err := n.validate(); err != nil {
		return Notification{}, err
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return Notification{}, storageErr("create", err)
	}

	doc := notificationDoc{
		ID:              id,
		UserID:          string(n.UserID),
		Message:         n.Message,
		Type:            string(n.Type),
		RelatedEntityID: n.RelatedEntityID,
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.notifications.InsertOne(ctx, doc); err != nil {
		return Notification{}, storageErr("create", err)
	}
	return doc.toNotification(), nil
}

func (s *MongoStore) find(ctx context.Context, op string, filter bson.M) ([]Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	cursor, err := s.notifications.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer cursor.Close(ctx)

	var docs []notificationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storageErr(op, err)
	}
	out := make([]Notification, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toNotification())
	}
	return out, nil
}

// ListForUser はユーザーの通知を新しい順に返す。
func (s *MongoStore) ListForUser(ctx context.Context, userID UserID) ([]Notification, error) {
	return s.find(ctx, "list", bson.M{"user_id": string(userID)})
}

// ListUnread はユーザーの未読通知を新しい順に返す。
func (s *MongoStore) ListUnread(ctx context.Context, userID UserID) ([]Notification, error) {
	return s.find(ctx, "list_unread", bson.M{"user_id": string(userID), "is_read": false})
}

// GetForUser はユーザーが所有する通知を返す。
func (s *MongoStore) GetForUser(ctx context.Context, userID UserID, id int64) (Notification, error) {
	var doc notificationDoc
	err := s.notifications.FindOne(ctx, bson.M{"_id": id, "user_id": string(userID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, storageErr("get", err)
	}
	return doc.toNotification(), nil
}

// CountUnread はユーザーの未読件数を返す。
func (s *MongoStore) CountUnread(ctx context.Context, userID UserID) (int64, error) {
	n, err := s.notifications.CountDocuments(ctx, bson.M{"user_id": string(userID), "is_read": false})
	if err != nil {
		return 0, storageErr("count_unread", err)
	}
	return n, nil
}

// MarkRead は通知を既読にする。MatchedCountで所有を判定する。
func (s *MongoStore) MarkRead(ctx context.Context, userID UserID, id int64) error {
	res, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": string(userID)},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return storageErr("mark_read", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にする。
func (s *MongoStore) MarkAllRead(ctx context.Context, userID UserID) (int64, error) {
	res, err := s.notifications.UpdateMany(ctx,
		bson.M{"user_id": string(userID), "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, storageErr("mark_all_read", err)
	}
	return res.ModifiedCount, nil
}

// AddSubscriber はユーザーを購読者に追加する。
func (s *MongoStore) AddSubscriber(ctx context.Context, userID UserID) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id が空です", ErrInvalidArgument)
	}
	_, err := s.subscribers.UpdateOne(ctx,
		bson.M{"_id": string(userID)},
		bson.M{"$setOnInsert": bson.M{"created_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return storageErr("add_subscriber", err)
}

// RemoveSubscriber は購読を解除する。
func (s *MongoStore) RemoveSubscriber(ctx context.Context, userID UserID) error {
	_, err := s.subscribers.DeleteOne(ctx, bson.M{"_id": string(userID)})
	return storageErr("remove_subscriber", err)
}

// IsSubscriber はユーザーが購読者かどうかを返す。
func (s *MongoStore) IsSubscriber(ctx context.Context, userID UserID) (bool, error) {
	n, err := s.subscribers.CountDocuments(ctx, bson.M{"_id": string(userID)}, options.Count().SetLimit(1))
	if err != nil {
		return false, storageErr("is_subscriber", err)
	}
	return n > 0, nil
}

// ListSubscribers は購読者一覧を返す。
func (s *MongoStore) ListSubscribers(ctx context.Context) ([]UserID, error) {
	cursor, err := s.subscribers.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, storageErr("list_subscribers", err)
	}
	defer cursor.Close(ctx)

	var docs []subscriberDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storageErr("list_subscribers", err)
	}
	out := make([]UserID, 0, len(docs))
	for _, d := range docs {
		out = append(out, UserID(d.UserID))
	}
	return out, nil
}
