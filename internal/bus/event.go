package bus

import "time"

// Event kinds published by the messaging components. Subscribers filter by
// prefix, so "message." receives every message event.
const (
	KindMessageNew       = "message.new"
	KindMessageDelivered = "message.delivered"
	KindMessageRead      = "message.read"
	KindThreadOpened     = "thread.opened"
	KindThreadClosed     = "thread.closed"
	KindUnreadTotal      = "unread.total"
	KindRosterChanged    = "roster.changed"
	KindStorageChanged   = "storage.changed"
)

// Event represents a domain event published on the bus.
// Origin is empty for events raised in this process and carries the
// relay origin id for events received from another process.
type Event struct {
	Kind      string
	Timestamp time.Time
	Origin    string
	Payload   any
}

// Remote reports whether the event arrived through the relay.
func (e Event) Remote() bool {
	return e.Origin != ""
}

// StorageChange is the payload for storage.changed events.
type StorageChange struct {
	Key string
}

// UnreadTotal is the payload for unread.total events.
type UnreadTotal struct {
	User  string
	Total int
}

// ThreadFocus is the payload for thread.opened and thread.closed events.
type ThreadFocus struct {
	User    string
	Partner string
}

// ReadReceipt is the payload for message.read events.
type ReadReceipt struct {
	Reader  string
	Partner string
	IDs     []string
}
