package gormstore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/Tsukikage7/transit-checkout/saga"
)

// TableName saga 表名.
const TableName = "checkout_sagas"

// sagaRecord saga 表结构.
type sagaRecord struct {
	ID               string         `gorm:"primaryKey;type:varchar(64)"`
	Version          int64          `gorm:"not null"`
	SagaType         string         `gorm:"type:varchar(32);not null"`
	UserID           string         `gorm:"type:varchar(128);index"`
	OrderID          string         `gorm:"type:varchar(128)"`
	Status           string         `gorm:"type:varchar(32);not null;index:idx_checkout_sagas_status_updated,priority:1"`
	CurrentStep      string         `gorm:"type:varchar(64)"`
	CompletedSteps   datatypes.JSON `gorm:"not null"`
	CompensatedSteps datatypes.JSON
	SagaData         datatypes.JSON
	ErrorMessage     string `gorm:"type:text"`
	CorrelationID    string `gorm:"type:varchar(64)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"index:idx_checkout_sagas_status_updated,priority:2"`
	ExpiresAt        time.Time `gorm:"index"`
}

// TableName 返回表名.
func (sagaRecord) TableName() string {
	return TableName
}

func toRecord(s *saga.Saga) (*sagaRecord, error) {
	completed, err := json.Marshal(stepsOrEmpty(s.CompletedSteps))
	if err != nil {
		return nil, err
	}
	compensated, err := json.Marshal(stepsOrEmpty(s.CompensatedSteps))
	if err != nil {
		return nil, err
	}
	data, err := saga.EncodeData(s.Data)
	if err != nil {
		return nil, err
	}
	return &sagaRecord{
		ID:               s.ID,
		Version:          s.Version,
		SagaType:         s.Type,
		UserID:           s.UserID,
		OrderID:          s.OrderID,
		Status:           string(s.Status),
		CurrentStep:      string(s.CurrentStep),
		CompletedSteps:   datatypes.JSON(completed),
		CompensatedSteps: datatypes.JSON(compensated),
		SagaData:         datatypes.JSON(data),
		ErrorMessage:     s.ErrorMessage,
		CorrelationID:    s.CorrelationID,
		CreatedAt:        s.CreatedAt.UTC(),
		UpdatedAt:        s.UpdatedAt.UTC(),
		ExpiresAt:        s.ExpiresAt.UTC(),
	}, nil
}

func (r *sagaRecord) toSaga() (*saga.Saga, error) {
	s := &saga.Saga{
		ID:            r.ID,
		Version:       r.Version,
		Type:          r.SagaType,
		UserID:        r.UserID,
		OrderID:       r.OrderID,
		Status:        saga.Status(r.Status),
		CurrentStep:   saga.Step(r.CurrentStep),
		ErrorMessage:  r.ErrorMessage,
		CorrelationID: r.CorrelationID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
	if err := unmarshalSteps(r.CompletedSteps, &s.CompletedSteps); err != nil {
		return nil, fmt.Errorf("gormstore: completed_steps of %s: %w", r.ID, err)
	}
	if err := unmarshalSteps(r.CompensatedSteps, &s.CompensatedSteps); err != nil {
		return nil, fmt.Errorf("gormstore: compensated_steps of %s: %w", r.ID, err)
	}
	data, err := saga.DecodeData(r.SagaData)
	if err != nil {
		return nil, err
	}
	s.Data = data
	if s.CompletedSteps == nil {
		s.CompletedSteps = []saga.Step{}
	}
	return s, nil
}

func stepsOrEmpty(steps []saga.Step) []saga.Step {
	if steps == nil {
		return []saga.Step{}
	}
	return steps
}

func unmarshalSteps(raw datatypes.JSON, out *[]saga.Step) error {
	if len(raw) == 0 {
		return nil
	}
	var steps []saga.Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return err
	}
	if len(steps) > 0 {
		*out = steps
	}
	return nil
}
