package receipt

import (
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/portalchat/internal/thread"
)

// State is the delivery state of a single message.
type State string

const (
	Sent      State = "SENT"
	Delivered State = "DELIVERED"
	Read      State = "READ"
)

// validTransitions defines allowed receipt transitions. Delivery may be
// skipped when the recipient opens the thread before its client observed
// the message.
var validTransitions = map[State][]State{
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Read:      {},
}

// TransitionError reports a receipt regression.
type TransitionError struct {
	ID   string
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("message %s: invalid receipt transition from %s to %s", e.ID, e.From, e.To)
}

// Of derives the receipt state from the message timestamps.
func Of(m thread.Message) State {
	switch {
	case m.ReadAt != nil:
		return Read
	case m.DeliveredAt != nil:
		return Delivered
	default:
		return Sent
	}
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// Advance moves m to state to, stamping now. The stamp is clamped so it is
// never earlier than the timestamp of the previous state.
func Advance(m thread.Message, to State, now time.Time) (thread.Message, error) {
	from := Of(m)
	if !CanTransition(from, to) {
		return m, &TransitionError{ID: m.ID, From: from, To: to}
	}

	floor := m.At
	if m.DeliveredAt != nil && m.DeliveredAt.After(floor) {
		floor = *m.DeliveredAt
	}
	stamp := now.UTC()
	if stamp.Before(floor) {
		stamp = floor
	}

	switch to {
	case Delivered:
		m.DeliveredAt = &stamp
	case Read:
		m.ReadAt = &stamp
	}
	return m, nil
}

// Deliver marks m delivered if it has no receipt yet. It reports whether m changed.
func Deliver(m *thread.Message, now time.Time) bool {
	if Of(*m) != Sent {
		return false
	}
	next, err := Advance(*m, Delivered, now)
	if err != nil {
		return false
	}
	*m = next
	return true
}

// MarkRead marks m read unless it already is. It reports whether m changed.
func MarkRead(m *thread.Message, now time.Time) bool {
	if Of(*m) == Read {
		return false
	}
	next, err := Advance(*m, Read, now)
	if err != nil {
		return false
	}
	*m = next
	return true
}
