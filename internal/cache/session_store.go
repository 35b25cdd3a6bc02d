// Package cache holds the Redis-backed checkout session state. Gateway
// references created during checkout are scoped to one shopper session and
// one local order; Redis keeps them visible to whichever process serves the
// return request, without any process-wide shared state.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/storefront/services/payments/config"
)

// ErrSessionStateNotFound is returned when no checkout state exists for the
// session/order pair.
var ErrSessionStateNotFound = errors.New("checkout session state not found")

// CheckoutState is the per-session, per-order gateway context created when
// the shopper first reaches checkout.
type CheckoutState struct {
	GatewayOrderID        string `json:"gateway_order_id,omitempty"`
	GatewaySubscriptionID string `json:"gateway_subscription_id,omitempty"`
	Amount                int64  `json:"amount"`
}

// SessionStore persists checkout state across the redirect round-trip.
type SessionStore struct {
	client  *redis.Client
	ttl     time.Duration
	enabled bool
}

// NewSessionStore creates a Redis-backed session store
func NewSessionStore(cfg config.RedisConfig, ttl time.Duration) (*SessionStore, error) {
	if !cfg.Enabled {
		return &SessionStore{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	if ttl == 0 {
		ttl = time.Hour
	}
	return &SessionStore{
		client:  client,
		ttl:     ttl,
		enabled: true,
	}, nil
}

func checkoutKey(sessionID string, orderID uuid.UUID) string {
	return fmt.Sprintf("checkout:%s:%s", sessionID, orderID.String())
}

// Get retrieves checkout state for a session/order pair
func (s *SessionStore) Get(ctx context.Context, sessionID string, orderID uuid.UUID) (*CheckoutState, error) {
	if !s.enabled {
		return nil, errors.New("session store is disabled")
	}

	data, err := s.client.Get(ctx, checkoutKey(sessionID, orderID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionStateNotFound
		}
		return nil, errors.Wrap(err, "failed to get checkout state from Redis")
	}

	var state CheckoutState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal checkout state")
	}
	return &state, nil
}

// Set stores checkout state for a session/order pair
func (s *SessionStore) Set(ctx context.Context, sessionID string, orderID uuid.UUID, state *CheckoutState) error {
	if !s.enabled {
		return errors.New("session store is disabled")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkout state")
	}
	if err := s.client.Set(ctx, checkoutKey(sessionID, orderID), data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set checkout state in Redis")
	}
	return nil
}

// Delete removes checkout state once the order has resolved
func (s *SessionStore) Delete(ctx context.Context, sessionID string, orderID uuid.UUID) error {
	if !s.enabled {
		return nil
	}
	return s.client.Del(ctx, checkoutKey(sessionID, orderID)).Err()
}

// Close closes the Redis connection
func (s *SessionStore) Close() error {
	if !s.enabled || s.client == nil {
		return nil
	}
	return s.client.Close()
}
