package domain

import "fmt"

// DeliveryState is the coarse lifecycle stage of a message.
type DeliveryState string

const (
	StateSending   DeliveryState = "sending"
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
	StateFailed    DeliveryState = "failed"
)

// rank orders the forward progression. failed sits outside the ladder.
var rank = map[DeliveryState]int{
	StateSending:   0,
	StateSent:      1,
	StateDelivered: 2,
	StateRead:      3,
}

func (s DeliveryState) Valid() bool {
	_, ok := rank[s]
	return ok || s == StateFailed
}

// CanTransition reports whether a message may move from s to next.
// The ladder only moves forward; the only edges involving failed are
// sending -> failed and failed -> sending (manual retry).
func (s DeliveryState) CanTransition(next DeliveryState) bool {
	if s == next {
		return false
	}
	if s == StateFailed {
		return next == StateSending
	}
	if next == StateFailed {
		return s == StateSending
	}
	return rank[next] > rank[s]
}

// Advance returns the later of s and next on the ladder. Concurrent
// listeners may deliver acknowledgements out of order; Advance makes
// applying them commutative.
func (s DeliveryState) Advance(next DeliveryState) DeliveryState {
	if s.CanTransition(next) {
		return next
	}
	return s
}

// Transition validates a requested state change.
func Transition(from, to DeliveryState) (DeliveryState, error) {
	if !to.Valid() {
		return from, fmt.Errorf("unknown delivery state %q", to)
	}
	if !from.CanTransition(to) {
		return from, fmt.Errorf("illegal delivery transition %s -> %s", from, to)
	}
	return to, nil
}
