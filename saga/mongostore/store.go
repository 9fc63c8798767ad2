// Package mongostore 基于 MongoDB 的 saga 存储.
//
// 乐观锁通过以 {_id, version} 为过滤条件的 UpdateOne 实现.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// DefaultCollection 默认集合名.
const DefaultCollection = "checkout_sagas"

// sagaDocument saga 文档结构.
//
// SagaData 保存编解码后的 JSON 文本，保留未识别字段.
type sagaDocument struct {
	ID               string    `bson:"_id"`
	Version          int64     `bson:"version"`
	SagaType         string    `bson:"sagaType"`
	UserID           string    `bson:"userId"`
	OrderID          string    `bson:"orderId,omitempty"`
	Status           string    `bson:"status"`
	CurrentStep      string    `bson:"currentStep"`
	CompletedSteps   []string  `bson:"completedSteps"`
	CompensatedSteps []string  `bson:"compensatedSteps,omitempty"`
	SagaData         string    `bson:"sagaData"`
	ErrorMessage     string    `bson:"errorMessage,omitempty"`
	CorrelationID    string    `bson:"correlationId"`
	CreatedAt        time.Time `bson:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt"`
	ExpiresAt        time.Time `bson:"expiresAt"`
}

// Store MongoDB saga 存储.
type Store struct {
	coll *mongo.Collection
	log  logger.Logger
}

// Option 存储选项.
type Option func(*storeOptions)

type storeOptions struct {
	collection string
	log        logger.Logger
}

// WithCollection 设置集合名.
func WithCollection(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *storeOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// New 创建存储.
func New(db *mongo.Database, opts ...Option) *Store {
	o := &storeOptions{collection: DefaultCollection, log: logger.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return &Store{coll: db.Collection(o.collection), log: o.log}
}

// EnsureIndexes 创建查询所需的索引.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}},
			Options: options.Index().SetName("idx_status_updated"),
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetName("idx_expires"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongostore: ensure indexes: %w", err)
	}
	s.log.Debug("[SagaStore] MongoDB 索引已就绪")
	return nil
}

// Create 写入新 saga.
func (s *Store) Create(ctx context.Context, sg *saga.Saga) (string, error) {
	if sg == nil {
		return "", saga.ErrNilSaga
	}
	if sg.ID == "" {
		return "", saga.ErrEmptyID
	}

	doc, err := toDocument(sg)
	if err != nil {
		return "", err
	}
	doc.Version = 1
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", saga.ErrDuplicateID
		}
		return "", fmt.Errorf("mongostore: create %s: %w", sg.ID, err)
	}
	sg.Version = 1
	return sg.ID, nil
}

// Get 读取 saga.
func (s *Store) Get(ctx context.Context, id string) (*saga.Saga, error) {
	var doc sagaDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, saga.ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: get %s: %w", id, err)
	}
	return doc.toSaga()
}

// Update 带乐观锁更新.
func (s *Store) Update(ctx context.Context, sg *saga.Saga, expectedVersion int64) (*saga.Saga, error) {
	if sg == nil {
		return nil, saga.ErrNilSaga
	}
	doc, err := toDocument(sg)
	if err != nil {
		return nil, err
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": sg.ID, "version": expectedVersion},
		bson.M{"$set": bson.M{
			"version":          expectedVersion + 1,
			"orderId":          doc.OrderID,
			"status":           doc.Status,
			"currentStep":      doc.CurrentStep,
			"completedSteps":   doc.CompletedSteps,
			"compensatedSteps": doc.CompensatedSteps,
			"sagaData":         doc.SagaData,
			"errorMessage":     doc.ErrorMessage,
			"updatedAt":        doc.UpdatedAt,
			"expiresAt":        doc.ExpiresAt,
		}},
	)
	if err != nil {
		return nil, fmt.Errorf("mongostore: update %s: %w", sg.ID, err)
	}
	if res.MatchedCount == 0 {
		n, err := s.coll.CountDocuments(ctx, bson.M{"_id": sg.ID})
		if err != nil {
			return nil, fmt.Errorf("mongostore: update %s: %w", sg.ID, err)
		}
		if n == 0 {
			return nil, saga.ErrSagaNotFound
		}
		return nil, saga.ErrVersionConflict
	}

	updated := sg.Clone()
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = doc.UpdatedAt
	return updated, nil
}

// FindExpired 查询已过期的非终态 saga.
func (s *Store) FindExpired(ctx context.Context, now time.Time) ([]*saga.Saga, error) {
	active := saga.ActiveStatuses()
	statuses := make(bson.A, len(active))
	for i, st := range active {
		statuses[i] = string(st)
	}
	return s.find(ctx, bson.M{
		"status":    bson.M{"$in": statuses},
		"expiresAt": bson.M{"$lt": now.UTC()},
	})
}

// FindStuck 查询停滞的 saga.
func (s *Store) FindStuck(ctx context.Context, status saga.Status, olderThan time.Time) ([]*saga.Saga, error) {
	return s.find(ctx, bson.M{
		"status":    string(status),
		"updatedAt": bson.M{"$lt": olderThan.UTC()},
	})
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]*saga.Saga, error) {
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: find: %w", err)
	}
	var docs []sagaDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: find: %w", err)
	}

	out := make([]*saga.Saga, 0, len(docs))
	for i := range docs {
		sg, err := docs[i].toSaga()
		if err != nil {
			s.log.WithContext(ctx).Warn("[SagaStore] 跳过无法解码的文档",
				logger.SagaID(docs[i].ID), logger.Err(err))
			continue
		}
		out = append(out, sg)
	}
	return out, nil
}

func toDocument(sg *saga.Saga) (*sagaDocument, error) {
	data, err := saga.EncodeData(sg.Data)
	if err != nil {
		return nil, err
	}
	return &sagaDocument{
		ID:               sg.ID,
		Version:          sg.Version,
		SagaType:         sg.Type,
		UserID:           sg.UserID,
		OrderID:          sg.OrderID,
		Status:           string(sg.Status),
		CurrentStep:      string(sg.CurrentStep),
		CompletedSteps:   stepStrings(sg.CompletedSteps),
		CompensatedSteps: stepStrings(sg.CompensatedSteps),
		SagaData:         string(data),
		ErrorMessage:     sg.ErrorMessage,
		CorrelationID:    sg.CorrelationID,
		CreatedAt:        sg.CreatedAt.UTC(),
		UpdatedAt:        sg.UpdatedAt.UTC(),
		ExpiresAt:        sg.ExpiresAt.UTC(),
	}, nil
}

func (d *sagaDocument) toSaga() (*saga.Saga, error) {
	data, err := saga.DecodeData([]byte(d.SagaData))
	if err != nil {
		return nil, err
	}
	sg := &saga.Saga{
		ID:             d.ID,
		Version:        d.Version,
		Type:           d.SagaType,
		UserID:         d.UserID,
		OrderID:        d.OrderID,
		Status:         saga.Status(d.Status),
		CurrentStep:    saga.Step(d.CurrentStep),
		CompletedSteps: []saga.Step{},
		Data:           data,
		ErrorMessage:   d.ErrorMessage,
		CorrelationID:  d.CorrelationID,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		ExpiresAt:      d.ExpiresAt,
	}
	for _, st := range d.CompletedSteps {
		sg.CompletedSteps = append(sg.CompletedSteps, saga.Step(st))
	}
	for _, st := range d.CompensatedSteps {
		sg.CompensatedSteps = append(sg.CompensatedSteps, saga.Step(st))
	}
	return sg, nil
}

func stepStrings(steps []saga.Step) []string {
	out := make([]string, len(steps))
	for i, st := range steps {
		out[i] = string(st)
	}
	return out
}

var _ saga.Store = (*Store)(nil)
