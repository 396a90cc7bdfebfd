// Package event provides the typed pub/sub bus for the server using
// watermill infrastructure.
package event

import (
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/agentd-dev/agentd/internal/logging"
)

// EventType represents the type of event.
type EventType string

const (
	SessionUpdated     EventType = "session.updated"
	SessionDeleted     EventType = "session.deleted"
	SessionError       EventType = "session.error"
	SessionIdle        EventType = "session.idle"
	SessionCompacted   EventType = "session.compacted"
	MessageUpdated     EventType = "message.updated"
	MessagePartUpdated EventType = "message.part.updated"
	MessageRemoved     EventType = "message.removed"
	TodoUpdated        EventType = "todo.updated"
	PermissionUpdated  EventType = "permission.updated"
	PermissionReplied  EventType = "permission.replied"
	FileEdited         EventType = "file.edited"
	FileWatcherUpdated EventType = "file.watcher.updated"
	ProjectUpdated     EventType = "project.updated"

	// Dropped is the per-subscriber marker delivered after a slow
	// subscriber lost events to buffer overflow.
	Dropped EventType = ".dropped"
)

// DefaultBuffer is the per-subscriber buffer size.
const DefaultBuffer = 256

// Event represents a published event with its typed payload.
type Event struct {
	Type       EventType `json:"type"`
	Properties any       `json:"properties"`
}

// Bus fans events out to subscribers. Fan-out is synchronous: by the time
// Publish returns, the event sits in every matching subscriber's buffer, so
// each subscriber observes events in publish order. A slow subscriber drops
// its oldest buffered events rather than blocking publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	// Watermill mirror of every event, kept for middleware/routing
	// consumers and potential distributed backends.
	pubsub *gochannel.GoChannel
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[uint64]*Subscription),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Publish delivers the event to every matching subscriber. Publishing never
// fails from the caller's perspective; mirror errors are only logged.
func (b *Bus) Publish(t EventType, properties any) {
	e := Event{Type: t, Properties: properties}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(t) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.push(e)
	}

	b.mirror(e)
}

func (b *Bus) mirror(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logging.Warn().Str("type", string(e.Type)).Err(err).Msg("event mirror marshal failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(string(e.Type), msg); err != nil {
		logging.Warn().Str("type", string(e.Type)).Err(err).Msg("event mirror publish failed")
	}
}

// Subscribe returns a stream of future events limited to the given types.
// With no types it behaves like SubscribeAll.
func (b *Bus) Subscribe(buffer int, kinds ...EventType) *Subscription {
	var filter map[EventType]bool
	if len(kinds) > 0 {
		filter = make(map[EventType]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}
	return b.subscribe(buffer, filter)
}

// SubscribeAll returns a stream of every future event.
func (b *Bus) SubscribeAll() *Subscription {
	return b.subscribe(DefaultBuffer, nil)
}

func (b *Bus) subscribe(buffer int, filter map[EventType]bool) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		bus:    b,
		filter: filter,
		limit:  buffer,
		out:    make(chan Event),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if b.closed {
		s.stopped = true
		close(s.done)
		close(s.out)
		return s
	}
	b.subs[s.id] = s
	go s.pump()
	return s
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// PubSub exposes the underlying watermill GoChannel for advanced use cases.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}

// Close shuts down the bus and every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
	return b.pubsub.Close()
}

// Subscription is a lossy-on-overflow stream of events for one subscriber.
type Subscription struct {
	id     uint64
	bus    *Bus
	filter map[EventType]bool // nil means all
	limit  int

	mu      sync.Mutex
	queue   []Event
	dropped int
	stopped bool

	out  chan Event
	wake chan struct{}
	done chan struct{}
}

// Events is the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.out }

// Close detaches the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
	s.shutdown()
}

func (s *Subscription) matches(t EventType) bool {
	return s.filter == nil || s.filter[t]
}

// push enqueues an event, evicting the oldest entries when the buffer is
// full. Evictions are counted so the consumer sees a Dropped marker before
// the next delivered event.
func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	for len(s.queue) > s.limit {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next Event
		ok := false
		if s.dropped > 0 {
			next = Event{Type: Dropped, Properties: DroppedData{Count: s.dropped}}
			s.dropped = 0
			ok = true
		} else if len(s.queue) > 0 {
			next = s.queue[0]
			s.queue = s.queue[1:]
			ok = true
		}
		stopped := s.stopped
		s.mu.Unlock()

		if !ok {
			if stopped {
				return
			}
			select {
			case <-s.wake:
			case <-s.done:
			}
			continue
		}

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.done)

	// Kick the pump so it can observe the stop.
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
