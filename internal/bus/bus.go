package bus

import (
	"strings"
	"sync"
	"time"
)

// Notifier is the publish/subscribe capability the messaging components
// depend on. *Bus is the in-process implementation; the relay extends it
// across processes.
type Notifier interface {
	Publish(evt Event)
	Subscribe(namespace string, bufSize int) (<-chan Event, func())
	SubscribeQueue(namespace string) (<-chan Event, func())
}

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
	queue     *queue
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// event.Kind. A zero Timestamp is filled in. Publishing on a nil bus is a no-op.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			if sub.queue != nil {
				sub.queue.push(evt)
				continue
			}
			select {
			case sub.ch <- evt:
			default:
				// Slow subscriber; drop.
			}
		}
	}
}

// Emit publishes a local event of the given kind.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Payload: payload})
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeQueue is Subscribe without drops: events wait in an unbounded
// queue until the subscriber reads them. Use it where a missed event loses
// state rather than a refresh.
func (b *Bus) SubscribeQueue(namespace string) (<-chan Event, func()) {
	q := &queue{signal: make(chan struct{}, 1)}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, queue: q}
	b.mu.Unlock()

	out := make(chan Event)
	done := make(chan struct{})
	go q.pump(out, done)

	var once sync.Once
	return out, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(done)
		})
	}
}

type queue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
}

func (q *queue) push(evt Event) {
	q.mu.Lock()
	q.items = append(q.items, evt)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) pump(out chan<- Event, done <-chan struct{}) {
	for {
		select {
		case <-q.signal:
		case <-done:
			return
		}
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()
		for _, evt := range items {
			select {
			case out <- evt:
			case <-done:
				return
			}
		}
	}
}

// SubscribeMany merges several namespaces into one channel. Each event is
// delivered once even if more than one namespace matches.
func (b *Bus) SubscribeMany(bufSize int, namespaces ...string) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: "", ch: ch}
	b.mu.Unlock()

	out := make(chan Event, bufSize)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-ch:
				if !matchesAny(evt.Kind, namespaces) {
					continue
				}
				select {
				case out <- evt:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(done)
		})
	}
}

func matchesAny(kind string, namespaces []string) bool {
	for _, ns := range namespaces {
		if strings.HasPrefix(kind, ns) {
			return true
		}
	}
	return false
}
