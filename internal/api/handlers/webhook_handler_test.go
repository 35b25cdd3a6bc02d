package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/payments/config"
	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/services"
	"example.com/storefront/services/payments/internal/signature"
	"example.com/storefront/services/payments/internal/tracing"
)

type MockWebhookProcessor struct {
	mock.Mock
}

func (m *MockWebhookProcessor) ProcessWebhook(ctx context.Context, raw []byte, signatureHeader string) error {
	args := m.Called(ctx, raw, signatureHeader)
	return args.Error(0)
}

func newWebhookRouter(t *testing.T, processor *MockWebhookProcessor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	handler := NewWebhookHandler(processor, tracer)
	handler.RegisterRoutes(router)
	return router
}

func postWebhook(router *gin.Engine, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set(gateway.SignatureHeader, sig)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestHandleWebhookAcknowledges(t *testing.T) {
	processor := new(MockWebhookProcessor)
	processor.On("ProcessWebhook", mock.Anything, []byte(`{"event":"order.paid"}`), "sig-1").Return(nil)

	router := newWebhookRouter(t, processor)
	res := postWebhook(router, `{"event":"order.paid"}`, "sig-1")

	require.Equal(t, http.StatusOK, res.Code)
	processor.AssertExpectations(t)
}

func TestHandleWebhookConflictDuringFreshnessWindow(t *testing.T) {
	processor := new(MockWebhookProcessor)
	processor.On("ProcessWebhook", mock.Anything, mock.Anything, mock.Anything).
		Return(services.ErrRaceConflict)

	router := newWebhookRouter(t, processor)
	res := postWebhook(router, `{"event":"order.paid"}`, "sig-1")

	require.Equal(t, http.StatusConflict, res.Code)
}

func TestHandleWebhookAcknowledgesBadSignature(t *testing.T) {
	processor := new(MockWebhookProcessor)
	processor.On("ProcessWebhook", mock.Anything, mock.Anything, mock.Anything).
		Return(signature.ErrMismatch)

	router := newWebhookRouter(t, processor)
	res := postWebhook(router, `{"event":"order.paid"}`, "forged")

	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "ignored")
}

func TestHandleWebhookRetryableOnProcessingError(t *testing.T) {
	processor := new(MockWebhookProcessor)
	processor.On("ProcessWebhook", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("database unavailable"))

	router := newWebhookRouter(t, processor)
	res := postWebhook(router, `{"event":"order.paid"}`, "sig-1")

	require.Equal(t, http.StatusInternalServerError, res.Code)
}
