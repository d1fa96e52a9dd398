package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/carebridge/messaging/internal/logger"
	"github.com/carebridge/messaging/internal/models"
)

var log = logger.New("dispatch")

// Event is the tagged union delivered to handlers. Exactly one payload
// accessor is meaningful per concrete type.
type Event interface {
	EventType() string
}

// NewMessageEvent carries a full message pushed by the server.
type NewMessageEvent struct {
	Message models.Message
}

func (NewMessageEvent) EventType() string { return models.EventNewMessage }

// TypingEvent signals that a participant started or stopped typing.
type TypingEvent struct {
	models.TypingPayload
}

func (TypingEvent) EventType() string { return models.EventTyping }

// MessagesReadEvent signals that a participant read messages.
type MessagesReadEvent struct {
	models.MessagesReadPayload
}

func (MessagesReadEvent) EventType() string { return models.EventMessagesRead }

// ConnectionEvent is generated locally on every transport state
// transition. Err is set when the transition was caused by a terminal
// failure, e.g. a rejected handshake.
type ConnectionEvent struct {
	State models.ConnState
	Err   error
}

func (ConnectionEvent) EventType() string { return models.EventConnection }

// Handler consumes one event. Handlers for the same type run in
// registration order; a panicking handler does not prevent the rest
// from running.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed.
type Subscription uint64

type registration struct {
	id Subscription
	fn Handler
}

// Dispatcher routes inbound frames and locally generated events to the
// handlers registered for their type.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   Subscription
	handlers map[string][]registration
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]registration)}
}

// On registers a handler for an event type and returns its subscription
// id. Handlers are invoked in registration order.
func (d *Dispatcher) On(eventType string, fn Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[eventType] = append(d.handlers[eventType], registration{id: d.nextID, fn: fn})
	return d.nextID
}

// Off removes the handler registered under sub for the given event type.
// Removing an unknown subscription is a no-op.
func (d *Dispatcher) Off(eventType string, sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[eventType]
	for i, r := range regs {
		if r.id == sub {
			d.handlers[eventType] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler registered for the event's type, in
// registration order, each isolated against panics.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	regs := d.handlers[ev.EventType()]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	d.mu.RUnlock()

	for _, r := range snapshot {
		invoke(r.fn, ev)
	}
}

func invoke(fn Handler, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Handler for %q panicked: %v", ev.EventType(), rec)
		}
	}()
	fn(ev)
}

// DispatchFrame parses one inbound frame and routes it. Malformed frames
// are dropped and logged, never propagated; unknown types are ignored
// for forward compatibility.
func (d *Dispatcher) DispatchFrame(raw []byte) {
	var frame models.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Warn("Dropping malformed frame: %v", err)
		return
	}

	switch frame.Type {
	case models.EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			log.Warn("Dropping new_message frame with bad payload: %v", err)
			return
		}
		d.Emit(NewMessageEvent{Message: msg})
	case models.EventTyping:
		var p models.TypingPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Warn("Dropping typing frame with bad payload: %v", err)
			return
		}
		d.Emit(TypingEvent{TypingPayload: p})
	case models.EventMessagesRead:
		var p models.MessagesReadPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Warn("Dropping messages_read frame with bad payload: %v", err)
			return
		}
		d.Emit(MessagesReadEvent{MessagesReadPayload: p})
	default:
		log.Debug("Ignoring frame with unknown type %q", frame.Type)
	}
}
