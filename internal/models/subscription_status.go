package models

import "github.com/pkg/errors"

// SubscriptionStatus is the lifecycle state of a subscription, mirroring the
// gateway's states.
type SubscriptionStatus string

const (
	SubscriptionCreated       SubscriptionStatus = "created"
	SubscriptionAuthenticated SubscriptionStatus = "authenticated"
	SubscriptionActive        SubscriptionStatus = "active"
	SubscriptionPaused        SubscriptionStatus = "paused"
	SubscriptionCancelled     SubscriptionStatus = "cancelled"
	SubscriptionCompleted     SubscriptionStatus = "completed"
)

// ErrIllegalTransition is returned when a requested subscription status
// change is not an edge of the allowed transition graph.
var ErrIllegalTransition = errors.New("illegal subscription status transition")

// Allowed transitions:
//
//	created -> authenticated -> active
//	active <-> paused
//	active|paused -> cancelled
//	active -> completed
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionCreated:       {SubscriptionAuthenticated},
	SubscriptionAuthenticated: {SubscriptionActive},
	SubscriptionActive:        {SubscriptionPaused, SubscriptionCancelled, SubscriptionCompleted},
	SubscriptionPaused:        {SubscriptionActive, SubscriptionCancelled},
}

// CanTransitionTo reports whether moving from s to target is an allowed
// transition. Equal states are not a transition and return false.
func (s SubscriptionStatus) CanTransitionTo(target SubscriptionStatus) bool {
	for _, next := range subscriptionTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s SubscriptionStatus) IsTerminal() bool {
	return len(subscriptionTransitions[s]) == 0
}

// ValidSubscriptionStatus reports whether s is a known status value. Gateway
// payloads are untrusted input, so statuses are validated before use.
func ValidSubscriptionStatus(s SubscriptionStatus) bool {
	switch s {
	case SubscriptionCreated, SubscriptionAuthenticated, SubscriptionActive,
		SubscriptionPaused, SubscriptionCancelled, SubscriptionCompleted:
		return true
	}
	return false
}
