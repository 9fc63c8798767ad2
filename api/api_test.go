package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/transit-checkout/messaging"
	"github.com/Tsukikage7/transit-checkout/metrics"
	"github.com/Tsukikage7/transit-checkout/orchestrator"
	"github.com/Tsukikage7/transit-checkout/response"
	"github.com/Tsukikage7/transit-checkout/saga"
)

type stubPublisher struct {
	mu     sync.Mutex
	events []*saga.Event
	err    error
}

func (p *stubPublisher) Publish(_ context.Context, e *saga.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

// panicService 在查询时 panic.
type panicService struct{ Service }

func (panicService) GetSagaStatus(context.Context, string) (saga.Status, error) {
	panic("boom")
}

// APITestSuite HTTP 接口测试套件.
type APITestSuite struct {
	suite.Suite
	store     *saga.MemoryStore
	publisher *stubPublisher
	orch      *orchestrator.Orchestrator
	handler   http.Handler
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

func (s *APITestSuite) SetupTest() {
	s.store = saga.NewMemoryStore()
	s.publisher = &stubPublisher{}
	s.orch = orchestrator.New(s.store, s.publisher)

	collector, err := metrics.NewMetrics(&metrics.Config{Namespace: "api_test"})
	s.Require().NoError(err)
	s.handler = New(s.orch, WithMetrics(collector)).Routes()
}

func (s *APITestSuite) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](s *APITestSuite, rec *httptest.ResponseRecorder) response.Response[T] {
	var body response.Response[T]
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

const checkoutBody = `{
	"items": [{"itemId": "single", "kind": "P2P", "origin": "Central", "destination": "Harbour", "quantity": 2}],
	"paymentMethod": "CARD",
	"voucherIds": ["v-1"]
}`

func (s *APITestSuite) startCheckout() string {
	rec := s.do(http.MethodPost, "/api/v1/checkouts", checkoutBody, map[string]string{
		HeaderUserID:        "user-1",
		HeaderCorrelationID: "corr-1",
	})
	s.Require().Equal(http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode[CheckoutAccepted](s, rec)
	s.Equal(saga.StatusStarted, body.Data.Status)
	return body.Data.SagaID
}

func (s *APITestSuite) TestStartCheckout() {
	id := s.startCheckout()

	sg, err := s.store.Get(context.Background(), id)
	s.Require().NoError(err)
	s.Equal("user-1", sg.UserID)
	s.Equal("corr-1", sg.CorrelationID)
	s.Require().Len(s.publisher.events, 1)
	s.Equal(saga.StepValidateItems, s.publisher.events[0].Step)
}

func (s *APITestSuite) TestStartCheckout_Rejections() {
	rec := s.do(http.MethodPost, "/api/v1/checkouts", checkoutBody, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(response.CodeUnauthorized.Num, decode[any](s, rec).Code)

	rec = s.do(http.MethodPost, "/api/v1/checkouts", "{not json", map[string]string{HeaderUserID: "user-1"})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(response.CodeInvalidParam.Num, decode[any](s, rec).Code)

	rec = s.do(http.MethodPost, "/api/v1/checkouts", `{"items": [], "paymentMethod": "CARD"}`, map[string]string{HeaderUserID: "user-1"})
	s.Equal(http.StatusBadRequest, rec.Code)
	body := decode[any](s, rec)
	s.Equal(response.CodeValidationFailed.Num, body.Code)
	s.Contains(body.Message, "invalid checkout request")

	s.Zero(s.store.Len())
}

func (s *APITestSuite) TestStartCheckout_PublishFailure() {
	s.publisher.err = messaging.ErrProducerClosed

	rec := s.do(http.MethodPost, "/api/v1/checkouts", checkoutBody, map[string]string{HeaderUserID: "user-1"})
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Equal(1, s.store.Len())
}

func (s *APITestSuite) TestGetStatusAndSaga() {
	id := s.startCheckout()

	rec := s.do(http.MethodGet, "/api/v1/sagas/"+id+"/status", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	status := decode[StatusView](s, rec)
	s.True(status.IsSuccess())
	s.Equal(id, status.Data.SagaID)
	s.Equal(saga.StatusStarted, status.Data.Status)

	rec = s.do(http.MethodGet, "/api/v1/sagas/"+id, "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	view := decode[SagaView](s, rec)
	s.Equal(saga.StepValidateItems, view.Data.CurrentStep)
	s.Empty(view.Data.CompletedSteps)
	s.Equal("EUR", view.Data.Currency)

	rec = s.do(http.MethodGet, "/api/v1/sagas/missing/status", "", nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal(response.CodeNotFound.Num, decode[any](s, rec).Code)

	rec = s.do(http.MethodGet, "/api/v1/sagas/missing", "", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *APITestSuite) TestCancel() {
	id := s.startCheckout()

	// STARTED 状态下取消不生效
	rec := s.do(http.MethodPost, "/api/v1/sagas/"+id+"/cancel", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(saga.StatusStarted, decode[StatusView](s, rec).Data.Status)

	payload, err := saga.ToPayload(saga.ValidateItemsResult{Items: []saga.ValidatedItem{{ItemID: "single", Kind: saga.KindP2P, Quantity: 2}}})
	s.Require().NoError(err)
	s.Require().NoError(s.orch.OnStepOutcome(context.Background(), &saga.Event{
		SagaID: id, SagaType: saga.TypeCheckout, Step: saga.StepValidateItems, Status: saga.StatusCompleted, Payload: payload,
	}))

	rec = s.do(http.MethodPost, "/api/v1/sagas/"+id+"/cancel", `{"reason": "changed my mind"}`, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(saga.StatusFailed, decode[StatusView](s, rec).Data.Status)

	sg, err := s.store.Get(context.Background(), id)
	s.Require().NoError(err)
	s.Equal("Cancelled: changed my mind", sg.ErrorMessage)

	rec = s.do(http.MethodPost, "/api/v1/sagas/missing/cancel", `{}`, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/sagas/"+id+"/cancel", `{"reason":`, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *APITestSuite) TestMetricsAndHealth() {
	s.startCheckout()

	rec := s.do(http.MethodGet, "/metrics", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "api_test_")

	rec = s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/readyz", "", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *APITestSuite) TestCorrelationHeaderEchoed() {
	rec := s.do(http.MethodGet, "/api/v1/sagas/missing/status", "", map[string]string{HeaderCorrelationID: "corr-9"})
	s.Equal("corr-9", rec.Header().Get(HeaderCorrelationID))
}

func (s *APITestSuite) TestPanicRecovered() {
	h := New(panicService{Service: s.orch}).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sagas/x/status", nil))

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal(response.CodeInternal.Num, decode[any](s, rec).Code)
}

func (s *APITestSuite) TestUnknownRoute() {
	rec := s.do(http.MethodDelete, "/api/v1/sagas/x", "", nil)
	s.Equal(http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(http.MethodGet, "/api/v2/anything", "", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, response.CodeNotFound, response.ExtractCode(classify(saga.ErrSagaNotFound)))
	assert.Equal(t, response.CodeValidationFailed, response.ExtractCode(classify(saga.ErrInvalidRequest)))
	assert.Equal(t, response.CodeConflict, response.ExtractCode(classify(saga.ErrVersionConflict)))
	assert.Equal(t, response.CodeServiceUnavailable, response.ExtractCode(classify(context.DeadlineExceeded)))
	assert.Equal(t, response.CodeInternal, response.ExtractCode(classify(errors.New("boom"))))
	assert.Equal(t, response.CodeUnauthorized, response.ExtractCode(classify(response.CodeUnauthorized)))
}
