package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscriptionStatusTransitions(t *testing.T) {
	cases := []struct {
		from    SubscriptionStatus
		to      SubscriptionStatus
		allowed bool
	}{
		{SubscriptionCreated, SubscriptionAuthenticated, true},
		{SubscriptionCreated, SubscriptionActive, false},
		{SubscriptionAuthenticated, SubscriptionActive, true},
		{SubscriptionActive, SubscriptionPaused, true},
		{SubscriptionActive, SubscriptionCancelled, true},
		{SubscriptionActive, SubscriptionCompleted, true},
		{SubscriptionPaused, SubscriptionActive, true},
		{SubscriptionPaused, SubscriptionCancelled, true},
		{SubscriptionPaused, SubscriptionCompleted, false},
		{SubscriptionCancelled, SubscriptionActive, false},
		{SubscriptionCompleted, SubscriptionActive, false},
		// Same-state moves are not transitions.
		{SubscriptionActive, SubscriptionActive, false},
		{SubscriptionPaused, SubscriptionPaused, false},
	}

	for _, tc := range cases {
		require.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestSubscriptionStatusTerminal(t *testing.T) {
	require.True(t, SubscriptionCancelled.IsTerminal())
	require.True(t, SubscriptionCompleted.IsTerminal())
	require.False(t, SubscriptionCreated.IsTerminal())
	require.False(t, SubscriptionActive.IsTerminal())
	require.False(t, SubscriptionPaused.IsTerminal())
}

func TestValidSubscriptionStatus(t *testing.T) {
	require.True(t, ValidSubscriptionStatus(SubscriptionActive))
	require.True(t, ValidSubscriptionStatus(SubscriptionCancelled))
	require.False(t, ValidSubscriptionStatus(SubscriptionStatus("halted")))
	require.False(t, ValidSubscriptionStatus(SubscriptionStatus("")))
}
