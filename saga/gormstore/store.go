// Package gormstore 基于 GORM 的 saga 存储，支持 postgres、mysql 与 sqlite.
//
// 乐观锁通过 UPDATE ... WHERE id = ? AND version = ? 实现，
// 影响行数为 0 时区分记录不存在与版本冲突.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// Store GORM saga 存储.
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Option 存储选项.
type Option func(*Store)

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New 创建存储.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, log: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate 自动迁移表结构与索引.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&sagaRecord{}); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	s.log.Debug("[SagaStore] 表结构已迁移")
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

	now := time.Now().UTC()
	rec, err := toRecord(sg)
	if err != nil {
		return "", err
	}
	rec.Version = 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", saga.ErrDuplicateID
		}
		return "", fmt.Errorf("gormstore: create %s: %w", sg.ID, err)
	}
	sg.Version = 1
	return sg.ID, nil
}

// Get 读取 saga.
func (s *Store) Get(ctx context.Context, id string) (*saga.Saga, error) {
	var rec sagaRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, saga.ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: get %s: %w", id, err)
	}
	return rec.toSaga()
}

// Update 带乐观锁更新.
func (s *Store) Update(ctx context.Context, sg *saga.Saga, expectedVersion int64) (*saga.Saga, error) {
	if sg == nil {
		return nil, saga.ErrNilSaga
	}
	rec, err := toRecord(sg)
	if err != nil {
		return nil, err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	result := s.db.WithContext(ctx).
		Model(&sagaRecord{}).
		Where("id = ? AND version = ?", sg.ID, expectedVersion).
		Updates(map[string]any{
			"version":           expectedVersion + 1,
			"order_id":          rec.OrderID,
			"status":            rec.Status,
			"current_step":      rec.CurrentStep,
			"completed_steps":   rec.CompletedSteps,
			"compensated_steps": rec.CompensatedSteps,
			"saga_data":         rec.SagaData,
			"error_message":     rec.ErrorMessage,
			"updated_at":        rec.UpdatedAt,
			"expires_at":        rec.ExpiresAt,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("gormstore: update %s: %w", sg.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&sagaRecord{}).Where("id = ?", sg.ID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("gormstore: update %s: %w", sg.ID, err)
		}
		if count == 0 {
			return nil, saga.ErrSagaNotFound
		}
		return nil, saga.ErrVersionConflict
	}

	updated := sg.Clone()
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = rec.UpdatedAt
	return updated, nil
}

// FindExpired 查询已过期的非终态 saga.
func (s *Store) FindExpired(ctx context.Context, now time.Time) ([]*saga.Saga, error) {
	return s.find(ctx, "status IN ? AND expires_at < ?", activeStatuses(), now.UTC())
}

// FindStuck 查询停滞的 saga.
func (s *Store) FindStuck(ctx context.Context, status saga.Status, olderThan time.Time) ([]*saga.Saga, error) {
	return s.find(ctx, "status = ? AND updated_at < ?", string(status), olderThan.UTC())
}

func (s *Store) find(ctx context.Context, query string, args ...any) ([]*saga.Saga, error) {
	var recs []sagaRecord
	if err := s.db.WithContext(ctx).Where(query, args...).Order("updated_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("gormstore: find: %w", err)
	}

	out := make([]*saga.Saga, 0, len(recs))
	for i := range recs {
		sg, err := recs[i].toSaga()
		if err != nil {
			s.log.WithContext(ctx).Warn("[SagaStore] 跳过无法解码的记录",
				logger.SagaID(recs[i].ID), logger.Err(err))
			continue
		}
		out = append(out, sg)
	}
	return out, nil
}

func activeStatuses() []string {
	active := saga.ActiveStatuses()
	out := make([]string, len(active))
	for i, st := range active {
		out[i] = string(st)
	}
	return out
}

var _ saga.Store = (*Store)(nil)
