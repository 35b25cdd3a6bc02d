package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/payments/config"
	"example.com/storefront/services/payments/internal/gateway"
)

type MockRegistrarGateway struct {
	mock.Mock
}

func (m *MockRegistrarGateway) ListWebhooks(ctx context.Context) ([]gateway.Webhook, error) {
	args := m.Called(ctx)
	return args.Get(0).([]gateway.Webhook), args.Error(1)
}

func (m *MockRegistrarGateway) CreateWebhook(ctx context.Context, req gateway.WebhookRequest) (*gateway.Webhook, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Webhook), args.Error(1)
}

func (m *MockRegistrarGateway) UpdateWebhook(ctx context.Context, id string, req gateway.WebhookRequest) (*gateway.Webhook, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Webhook), args.Error(1)
}

// IP literals avoid DNS in tests; 203.0.113.0/24 is public, 192.168.0.0/16
// is not.
const (
	publicWebhookURL  = "https://203.0.113.10/webhook"
	privateWebhookURL = "https://192.168.1.10/webhook"
)

func TestEnsureWebhookCreatesRegistration(t *testing.T) {
	gw := new(MockRegistrarGateway)
	registrar := NewWebhookRegistrar(gw, config.GatewayConfig{
		WebhookURL:    publicWebhookURL,
		WebhookSecret: "whsec_configured",
	})

	gw.On("ListWebhooks", mock.Anything).Return([]gateway.Webhook{}, nil)
	gw.On("CreateWebhook", mock.Anything, mock.MatchedBy(func(req gateway.WebhookRequest) bool {
		return req.URL == publicWebhookURL &&
			req.Secret == "whsec_configured" &&
			req.Active &&
			req.Events[EventOrderPaid] &&
			req.Events[EventSubscriptionCharged]
	})).Return(&gateway.Webhook{ID: "wh_1"}, nil)

	require.NoError(t, registrar.EnsureWebhook(context.Background()))
	gw.AssertExpectations(t)
}

func TestEnsureWebhookUpdatesExistingAndMergesEvents(t *testing.T) {
	gw := new(MockRegistrarGateway)
	registrar := NewWebhookRegistrar(gw, config.GatewayConfig{
		WebhookURL:    publicWebhookURL,
		WebhookSecret: "whsec_configured",
	})

	gw.On("ListWebhooks", mock.Anything).Return([]gateway.Webhook{
		{ID: "wh_other", URL: "https://203.0.113.99/other"},
		{ID: "wh_1", URL: publicWebhookURL, Events: map[string]bool{"refund.created": true}},
	}, nil)
	gw.On("UpdateWebhook", mock.Anything, "wh_1", mock.MatchedBy(func(req gateway.WebhookRequest) bool {
		return req.Events["refund.created"] && req.Events[EventOrderPaid]
	})).Return(&gateway.Webhook{ID: "wh_1"}, nil)

	require.NoError(t, registrar.EnsureWebhook(context.Background()))
	gw.AssertExpectations(t)
}

func TestEnsureWebhookSkipsPrivateAddress(t *testing.T) {
	gw := new(MockRegistrarGateway)
	registrar := NewWebhookRegistrar(gw, config.GatewayConfig{
		WebhookURL:    privateWebhookURL,
		WebhookSecret: "whsec_configured",
	})

	require.NoError(t, registrar.EnsureWebhook(context.Background()))
	gw.AssertNotCalled(t, "ListWebhooks", mock.Anything)
	gw.AssertNotCalled(t, "CreateWebhook", mock.Anything, mock.Anything)
}

func TestEnsureWebhookGeneratesSecretWhenMissing(t *testing.T) {
	gw := new(MockRegistrarGateway)
	registrar := NewWebhookRegistrar(gw, config.GatewayConfig{WebhookURL: publicWebhookURL})

	gw.On("ListWebhooks", mock.Anything).Return([]gateway.Webhook{}, nil)
	gw.On("CreateWebhook", mock.Anything, mock.MatchedBy(func(req gateway.WebhookRequest) bool {
		return len(req.Secret) == 14
	})).Return(&gateway.Webhook{ID: "wh_1"}, nil)

	require.NoError(t, registrar.EnsureWebhook(context.Background()))
	require.Len(t, registrar.Secret(), 14)

	// The generated secret is stable across refreshes within the process.
	first := registrar.Secret()
	gw.On("ListWebhooks", mock.Anything).Return([]gateway.Webhook{}, nil)
	gw.On("CreateWebhook", mock.Anything, mock.Anything).Return(&gateway.Webhook{ID: "wh_1"}, nil)
	require.NoError(t, registrar.EnsureWebhook(context.Background()))
	require.Equal(t, first, registrar.Secret())
}
