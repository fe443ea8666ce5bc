package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryStateCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from DeliveryState
		to   DeliveryState
		want bool
	}{
		{"SendingToSent", StateSending, StateSent, true},
		{"SendingToDelivered", StateSending, StateDelivered, true},
		{"SendingToRead", StateSending, StateRead, true},
		{"SentToDelivered", StateSent, StateDelivered, true},
		{"DeliveredToRead", StateDelivered, StateRead, true},
		{"SentToSending", StateSent, StateSending, false},
		{"DeliveredToSent", StateDelivered, StateSent, false},
		{"ReadToDelivered", StateRead, StateDelivered, false},
		{"ReadToSending", StateRead, StateSending, false},
		{"SendingToFailed", StateSending, StateFailed, true},
		{"SentToFailed", StateSent, StateFailed, false},
		{"DeliveredToFailed", StateDelivered, StateFailed, false},
		{"ReadToFailed", StateRead, StateFailed, false},
		{"FailedToSending", StateFailed, StateSending, true},
		{"FailedToSent", StateFailed, StateSent, false},
		{"FailedToRead", StateFailed, StateRead, false},
		{"SelfLoop", StateSent, StateSent, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTransitionRejectsUnknownState(t *testing.T) {
	_, err := Transition(StateSent, DeliveryState("bogus"))
	require.Error(t, err)
}

// Applying acknowledgements in any order must settle on the furthest
// state ever observed.
func TestAdvanceNeverMovesBackward(t *testing.T) {
	s := StateSending
	for _, next := range []DeliveryState{StateRead, StateSent, StateDelivered, StateSending} {
		s = s.Advance(next)
	}
	assert.Equal(t, StateRead, s)
}

func TestAdvanceIgnoresFailedAfterSent(t *testing.T) {
	s := StateSent.Advance(StateFailed)
	assert.Equal(t, StateSent, s)
}
