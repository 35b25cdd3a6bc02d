package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/metrics"
	"example.com/storefront/services/payments/internal/models"
)

type MockSubscriptionGateway struct {
	mock.Mock
}

func (m *MockSubscriptionGateway) PauseSubscription(ctx context.Context, ref string) (*gateway.Subscription, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Subscription), args.Error(1)
}

func (m *MockSubscriptionGateway) ResumeSubscription(ctx context.Context, ref string) (*gateway.Subscription, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Subscription), args.Error(1)
}

func (m *MockSubscriptionGateway) CancelSubscription(ctx context.Context, ref string, atCycleEnd bool) (*gateway.Subscription, error) {
	args := m.Called(ctx, ref, atCycleEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Subscription), args.Error(1)
}

func (m *MockSubscriptionGateway) UpdateSubscription(ctx context.Context, ref string, req gateway.UpdateSubscriptionRequest) (*gateway.Subscription, error) {
	args := m.Called(ctx, ref, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Subscription), args.Error(1)
}

func (m *MockSubscriptionGateway) FetchSubscription(ctx context.Context, ref string) (*gateway.Subscription, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Subscription), args.Error(1)
}

func newTestSubscriptionService(subs *MockSubscriptionStore, gw *MockSubscriptionGateway) *SubscriptionService {
	return &SubscriptionService{
		subs:    subs,
		gateway: gw,
		metrics: metrics.New(),
		now:     func() time.Time { return testNow },
	}
}

func TestPauseSubscription(t *testing.T) {
	subs := new(MockSubscriptionStore)
	gw := new(MockSubscriptionGateway)
	svc := newTestSubscriptionService(subs, gw)

	active := &models.Subscription{ID: uuid.New(), GatewayID: "sub_1", Status: models.SubscriptionActive}
	paused := &models.Subscription{ID: active.ID, GatewayID: "sub_1", Status: models.SubscriptionPaused}

	subs.On("GetByGatewayID", mock.Anything, "sub_1").Return(active, nil).Once()
	gw.On("PauseSubscription", mock.Anything, "sub_1").
		Return(&gateway.Subscription{ID: "sub_1", Status: "paused"}, nil)
	subs.On("UpdateStatus", mock.Anything, "sub_1", models.SubscriptionPaused, models.ActorUser).
		Return(true, nil)
	subs.On("GetByGatewayID", mock.Anything, "sub_1").Return(paused, nil).Once()

	result, err := svc.Pause(context.Background(), "sub_1")
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionPaused, result.Status)
	gw.AssertExpectations(t)
	subs.AssertExpectations(t)
}

func TestPauseRejectsIllegalTransition(t *testing.T) {
	subs := new(MockSubscriptionStore)
	gw := new(MockSubscriptionGateway)
	svc := newTestSubscriptionService(subs, gw)

	subs.On("GetByGatewayID", mock.Anything, "sub_1").
		Return(&models.Subscription{GatewayID: "sub_1", Status: models.SubscriptionCancelled}, nil)

	_, err := svc.Pause(context.Background(), "sub_1")
	require.ErrorIs(t, err, models.ErrIllegalTransition)
	gw.AssertNotCalled(t, "PauseSubscription", mock.Anything, mock.Anything)
}

func TestCancelSubscriptionImmediate(t *testing.T) {
	subs := new(MockSubscriptionStore)
	gw := new(MockSubscriptionGateway)
	svc := newTestSubscriptionService(subs, gw)

	active := &models.Subscription{GatewayID: "sub_1", Status: models.SubscriptionActive}
	cancelled := &models.Subscription{GatewayID: "sub_1", Status: models.SubscriptionCancelled}

	subs.On("GetByGatewayID", mock.Anything, "sub_1").Return(active, nil).Once()
	gw.On("CancelSubscription", mock.Anything, "sub_1", false).
		Return(&gateway.Subscription{ID: "sub_1", Status: "cancelled"}, nil)
	subs.On("UpdateStatus", mock.Anything, "sub_1", models.SubscriptionCancelled, models.ActorUser).
		Return(true, nil)
	subs.On("GetByGatewayID", mock.Anything, "sub_1").Return(cancelled, nil).Once()

	result, err := svc.Cancel(context.Background(), "sub_1")
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionCancelled, result.Status)
}

func TestTransitionToleratesWebhookWinningRace(t *testing.T) {
	// The webhook applied the same transition while our gateway call was in
	// flight; the local update is a no-op and the call still succeeds.
	subs := new(MockSubscriptionStore)
	gw := new(MockSubscriptionGateway)
	svc := newTestSubscriptionService(subs, gw)

	active := &models.Subscription{GatewayID: "sub_1", Status: models.SubscriptionActive}
	paused := &models.Subscription{GatewayID: "sub_1", Status: models.SubscriptionPaused}

	subs.On("GetByGatewayID", mock.Anything, "sub_1").Return(active, nil).Once()
	gw.On("PauseSubscription", mock.Anything, "sub_1").
		Return(&gateway.Subscription{ID: "sub_1", Status: "paused"}, nil)
	subs.On("UpdateStatus", mock.Anything, "sub_1", models.SubscriptionPaused, models.ActorUser).
		Return(false, models.ErrIllegalTransition)
	subs.On("GetByGatewayID", mock.Anything, "sub_1").Return(paused, nil).Once()

	result, err := svc.Pause(context.Background(), "sub_1")
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionPaused, result.Status)
}

func TestChangePlan(t *testing.T) {
	subs := new(MockSubscriptionStore)
	gw := new(MockSubscriptionGateway)
	svc := newTestSubscriptionService(subs, gw)

	local := &models.Subscription{GatewayID: "sub_1", Status: models.SubscriptionActive, PlanRef: "plan_OLD"}
	subs.On("GetByGatewayID", mock.Anything, "sub_1").Return(local, nil)
	gw.On("UpdateSubscription", mock.Anything, "sub_1",
		gateway.UpdateSubscriptionRequest{PlanID: "plan_NEW", Quantity: 2}).
		Return(&gateway.Subscription{ID: "sub_1", PlanID: "plan_NEW", Quantity: 2}, nil)
	subs.On("Upsert", mock.Anything, local).Return(nil)

	result, err := svc.ChangePlan(context.Background(), "sub_1", "plan_NEW", 2)
	require.NoError(t, err)
	require.Equal(t, "plan_NEW", result.PlanRef)
	require.Equal(t, 2, result.Quantity)
}

func TestChangePlanRejectsTerminalSubscription(t *testing.T) {
	subs := new(MockSubscriptionStore)
	gw := new(MockSubscriptionGateway)
	svc := newTestSubscriptionService(subs, gw)

	subs.On("GetByGatewayID", mock.Anything, "sub_1").
		Return(&models.Subscription{GatewayID: "sub_1", Status: models.SubscriptionCompleted}, nil)

	_, err := svc.ChangePlan(context.Background(), "sub_1", "plan_NEW", 1)
	require.ErrorIs(t, err, models.ErrIllegalTransition)
	gw.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetSubscriptionWithCharges(t *testing.T) {
	subs := new(MockSubscriptionStore)
	svc := newTestSubscriptionService(subs, new(MockSubscriptionGateway))

	subs.On("GetByGatewayID", mock.Anything, "sub_1").
		Return(&models.Subscription{GatewayID: "sub_1", Status: models.SubscriptionActive}, nil)
	subs.On("GetCharges", mock.Anything, "sub_1").
		Return([]models.RecurringCharge{
			{PaymentID: "pay_1", Amount: 999},
			{PaymentID: "pay_2", Amount: 999},
		}, nil)

	detail, err := svc.Get(context.Background(), "sub_1")
	require.NoError(t, err)
	require.Len(t, detail.Charges, 2)
	require.Equal(t, "sub_1", detail.Subscription.GatewayID)
}
