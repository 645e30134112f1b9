package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type Event struct {
	// Dispatcher is the uid of the user whose connection sent the event.
	Dispatcher string `json:"-"`
	// Conn is the id of the connection that sent the event.
	Conn    int             `json:"-"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Dispatcher: %s, Conn: %d, Type: %s, Payload.Size: %d}",
		e.Dispatcher, e.Conn, e.Type, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

func NewEvent(t string, payload interface{}) (*Event, error) {
	e := &Event{Type: t}
	if payload == nil {
		return e, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	e.Payload = b
	return e, nil
}

type EventTransport interface {
	Send(event *Event)
	SendToUsers(event *Event, uids ...string)
	SendToConn(event *Event, uid string, conn int)
	Receive() <-chan *Event
}

type EventHandler func(context.Context, *Event) error

// EventRouter dispatches received events to handlers by type.
// Events are handled one at a time in the order they are received,
// so events of a connection never overtake each other.
type EventRouter struct {
	listeners map[string]EventHandler
	ctx       context.Context
	transport EventTransport
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewEventRouter(ctx context.Context, logger *slog.Logger, transport EventTransport) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		ctx:       ctx,
		transport: transport,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Listen starts dispatching events in the background until Close is called
// or the router context is done.
func (em *EventRouter) Listen() {
	em.wg.Add(1)
	go func() {
		defer em.wg.Done()
		for {
			select {
			case <-em.done:
				return
			case <-em.ctx.Done():
				return
			case e := <-em.transport.Receive():
				em.dispatch(e)
			}
		}
	}()
}

func (em *EventRouter) dispatch(e *Event) {
	em.logger.Debug(fmt.Sprintf("received: %v", e))
	handler, ok := em.listeners[e.Type]
	if !ok {
		em.logger.Error(fmt.Sprintf("handler(%s): not found", e.Type))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			em.logger.Error(fmt.Sprintf("handler(%s): panic: %v", e.Type, r))
		}
	}()
	if err := handler(em.ctx, e); err != nil {
		em.logger.Error(fmt.Sprintf("handler(%s): %v", e.Type, err))
	}
}

// On registers the handler of an event type. It must be called before Listen.
func (em *EventRouter) On(eventName string, handler EventHandler) {
	em.listeners[eventName] = handler
}

// Emit sends an event to every connection.
func (em *EventRouter) Emit(t string, payload interface{}) error {
	e, err := NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.Send(e)
	return nil
}

func (em *EventRouter) EmitTo(t string, payload interface{}, uids ...string) error {
	e, err := NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.SendToUsers(e, uids...)
	return nil
}

func (em *EventRouter) EmitToConn(t string, payload interface{}, uid string, conn int) error {
	e, err := NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.SendToConn(e, uid, conn)
	return nil
}

// Close stops dispatching and waits for the event being handled, if any.
func (em *EventRouter) Close(ctx context.Context) {
	em.closeOnce.Do(func() { close(em.done) })
	done := make(chan struct{})
	go func() {
		em.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
