package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tsukikage7/transit-checkout/logger"
	"github.com/Tsukikage7/transit-checkout/response"
	"github.com/Tsukikage7/transit-checkout/saga"
)

// maxBodyBytes 请求体上限.
const maxBodyBytes = 1 << 20

// CheckoutAccepted 发起结账的响应.
type CheckoutAccepted struct {
	SagaID string      `json:"sagaId"`
	Status saga.Status `json:"status"`
}

// StatusView 状态查询的响应.
type StatusView struct {
	SagaID string      `json:"sagaId"`
	Status saga.Status `json:"status"`
}

// SagaView saga 详情.
type SagaView struct {
	SagaID           string          `json:"sagaId"`
	Status           saga.Status     `json:"status"`
	CurrentStep      saga.Step       `json:"currentStep"`
	CompletedSteps   []saga.Step     `json:"completedSteps"`
	CompensatedSteps []saga.Step     `json:"compensatedSteps,omitempty"`
	OrderID          string          `json:"orderId,omitempty"`
	PaymentID        string          `json:"paymentId,omitempty"`
	TicketIDs        []string        `json:"ticketIds,omitempty"`
	FinalTotal       decimal.Decimal `json:"finalTotal,omitzero"`
	Currency         string          `json:"currency,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	ExpiresAt        time.Time       `json:"expiresAt"`
}

// NewSagaView 从 saga 构造详情视图.
func NewSagaView(s *saga.Saga) SagaView {
	v := SagaView{
		SagaID:           s.ID,
		Status:           s.Status,
		CurrentStep:      s.CurrentStep,
		CompletedSteps:   s.CompletedSteps,
		CompensatedSteps: s.CompensatedSteps,
		OrderID:          s.OrderID,
		ErrorMessage:     s.ErrorMessage,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		ExpiresAt:        s.ExpiresAt,
	}
	if v.CompletedSteps == nil {
		v.CompletedSteps = []saga.Step{}
	}
	if d := s.Data; d != nil {
		v.PaymentID = d.PaymentID
		v.TicketIDs = d.TicketIDs
		v.FinalTotal = d.FinalTotal
		v.Currency = d.Currency
	}
	return v
}

// CancelRequest 取消请求体.
type CancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		h.writeError(w, r, response.CodeUnauthorized)
		return
	}

	var req saga.CheckoutRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.svc.StartSaga(r.Context(), &req, userID)
	if err != nil {
		if id != "" {
			// saga 已创建但首个命令未能发布，记录已标记为 FAILED
			err = response.Wrap(response.CodeServiceUnavailable, err)
		}
		h.writeError(w, r, err)
		return
	}
	_ = response.WriteStatus(w, http.StatusAccepted, CheckoutAccepted{SagaID: id, Status: saga.StatusStarted})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.svc.GetSagaStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = response.WriteSuccess(w, StatusView{SagaID: id, Status: status})
}

func (h *Handler) getSaga(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.GetSaga(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = response.WriteSuccess(w, NewSagaView(s))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req CancelRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by user"
	}

	if err := h.svc.CancelSaga(r.Context(), id, reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := h.svc.GetSagaStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = response.WriteSuccess(w, StatusView{SagaID: id, Status: status})
}

// decodeJSON 解析请求体，allowEmpty 时空请求体不报错.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return response.Wrap(response.CodeInvalidParam, fmt.Errorf("invalid JSON body: %w", err))
	}
	return nil
}

// classify 将领域错误映射为错误码.
func classify(err error) error {
	if response.ExtractCode(err) != response.CodeInternal {
		return err
	}
	switch {
	case errors.Is(err, saga.ErrSagaNotFound):
		return response.Wrap(response.CodeNotFound, err)
	case errors.Is(err, saga.ErrInvalidRequest):
		return response.Wrap(response.CodeValidationFailed, err)
	case errors.Is(err, saga.ErrVersionConflict):
		return response.Wrap(response.CodeConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return response.Wrap(response.CodeServiceUnavailable, err)
	}
	return err
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	err = classify(err)
	code := response.ExtractCode(err)
	if code.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).With(
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Err(err),
		).Error("[API] 请求处理失败")
	}
	_ = response.WriteError(w, err)
}
