package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:   server.URL,
		KeyID:     "key_test",
		KeySecret: "secret_test",
	})
}

func TestCreateOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key_test", user)
		require.Equal(t, "secret_test", pass)

		var req CreateOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, int64(4999), req.Amount)
		require.Equal(t, 1, req.PaymentCapture)

		json.NewEncoder(w).Encode(Order{ID: "order_1", Amount: req.Amount, Currency: req.Currency})
	})

	order, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		Receipt:        "r-1",
		Amount:         4999,
		Currency:       "USD",
		PaymentCapture: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "order_1", order.ID)
	require.Equal(t, int64(4999), order.Amount)
}

func TestFetchOrderPayments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/order_1/payments", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []Payment{
				{ID: "pay_1", Status: PaymentStatusFailed},
				{ID: "pay_2", Status: PaymentStatusCaptured},
			},
		})
	})

	payments, err := client.FetchOrderPayments(context.Background(), "order_1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	require.Equal(t, PaymentStatusCaptured, payments[1].Status)
}

func TestGatewayErrorDecoded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"code":        "BAD_REQUEST_ERROR",
				"description": "amount exceeds maximum",
			},
		})
	})

	_, err := client.CreateOrder(context.Background(), CreateOrderRequest{Amount: 1})
	require.Error(t, err)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	require.Equal(t, "BAD_REQUEST_ERROR", gwErr.Code)
	require.Contains(t, gwErr.Error(), "amount exceeds maximum")
}

func TestCreateOrFetchCustomerForcesFailExistingOff(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req CustomerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, 0, req.FailExisting)
		json.NewEncoder(w).Encode(Customer{ID: "cust_1", Email: req.Email})
	})

	customer, err := client.CreateOrFetchCustomer(context.Background(), CustomerRequest{
		Email:        "sam@example.com",
		FailExisting: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "cust_1", customer.ID)
}

func TestCancelSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/subscriptions/sub_1/cancel", r.URL.Path)

		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, 0, body["cancel_at_cycle_end"])

		json.NewEncoder(w).Encode(Subscription{ID: "sub_1", Status: "cancelled"})
	})

	sub, err := client.CancelSubscription(context.Background(), "sub_1", false)
	require.NoError(t, err)
	require.Equal(t, "cancelled", sub.Status)
}
