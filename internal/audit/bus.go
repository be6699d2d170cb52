// Package audit implements the audit wrapper (paired Action/ActionResult
// facts around every dispatched verb) and the process-local event bus
// (spec §4.7), grounded in the teacher's rpc.Server mutation-event design:
// a buffered channel per subscriber, non-blocking publish, a dropped-event
// counter instead of blocking producers.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/memogarden/memogarden/internal/verrs"
)

// EventType is the closed set of event-bus event types (spec §4.7).
type EventType string

const (
	EventArtifactDelta    EventType = "artifact_delta"
	EventMessageSent      EventType = "message_sent"
	EventContextUpdated   EventType = "context_updated"
	EventFrameUpdated     EventType = "frame_updated"
	EventScopeCreated     EventType = "scope_created"
	EventScopeModified    EventType = "scope_modified"
	EventRelationCreated  EventType = "relation_created"
	EventRelationModified EventType = "relation_modified"
)

var validEventTypes = map[EventType]struct{}{
	EventArtifactDelta: {}, EventMessageSent: {}, EventContextUpdated: {}, EventFrameUpdated: {},
	EventScopeCreated: {}, EventScopeModified: {}, EventRelationCreated: {}, EventRelationModified: {},
}

// Event is one item published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Scope     string    `json:"scope,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type subscription struct {
	ch     chan Event
	scopes map[string]struct{} // empty set means "all scopes"
}

// Bus is a bounded, best-effort fan-out: a slow or dead subscriber never
// blocks a publisher, it just misses events (dropped count is tracked).
type Bus struct {
	mu         sync.Mutex
	subs       map[int]*subscription
	nextID     int
	bufferSize int
	dropped    atomic.Int64
	log        *zap.Logger
}

func NewBus(bufferSize int, log *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[int]*subscription), bufferSize: bufferSize, log: log}
}

// Subscribe registers a new listener, optionally scope-filtered (empty
// scopes means receive everything).
func (b *Bus) Subscribe(scopes []string) (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	id := b.nextID
	b.nextID++
	sub := &subscription{ch: make(chan Event, b.bufferSize), scopes: set}
	b.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish validates evt.Type against the closed set and fans it out to
// every matching subscriber, dropping (and logging) on a full channel
// rather than blocking.
func (b *Bus) Publish(evt Event) error {
	if _, ok := validEventTypes[evt.Type]; !ok {
		return verrs.New(verrs.ValidationError, fmt.Sprintf("unknown event type %q", evt.Type), nil)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if len(sub.scopes) > 0 {
			if evt.Scope == "" {
				continue
			}
			if _, ok := sub.scopes[evt.Scope]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			b.log.Warn("event bus dropped event: subscriber queue full", zap.String("event_type", string(evt.Type)))
		}
	}
	return nil
}

// DroppedCount resets and returns the number of events dropped since the
// last call.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Swap(0)
}

// FormatSSE renders an event in the wire framing `event: <type>\ndata:
// <json>\n\n` (spec §4.7/§6).
func FormatSSE(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, verrs.Wrap(verrs.InternalError, "marshalling event for SSE", err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", evt.Type, data)), nil
}
