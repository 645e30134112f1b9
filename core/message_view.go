package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// DefaultMessageLimit is the number of most recent messages a view keeps.
const DefaultMessageLimit = 50

// ViewState is what a MessageView presents after an update.
type ViewState struct {
	Room     RoomIdentity
	Messages []Message
	// Err is set when the latest snapshot could not be read.
	// Messages then still holds the last good list.
	Err error
}

// MessageView keeps the ordered messages of one room in sync with the store.
// A view holds at most one subscription at a time.
type MessageView struct {
	store    DocStore
	limit    int
	logger   *slog.Logger
	onChange func(ViewState)

	mu          sync.Mutex
	room        RoomIdentity
	mounted     bool
	generation  uint64
	unsubscribe Unsubscribe
	messages    []Message
	err         error
}

type MessageViewOption func(*MessageView)

// WithMessageLimit caps the view to the n most recent messages. Zero means no cap.
func WithMessageLimit(n int) MessageViewOption {
	return func(v *MessageView) {
		if n >= 0 {
			v.limit = n
		}
	}
}

func WithViewLogger(logger *slog.Logger) MessageViewOption {
	return func(v *MessageView) {
		v.logger = logger
	}
}

// OnViewChange registers f to be called after every update of the view.
func OnViewChange(f func(ViewState)) MessageViewOption {
	return func(v *MessageView) {
		v.onChange = f
	}
}

func NewMessageView(store DocStore, opts ...MessageViewOption) *MessageView {
	v := &MessageView{
		store:    store,
		limit:    DefaultMessageLimit,
		logger:   slog.Default(),
		onChange: func(ViewState) {},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Mount subscribes the view to the messages of room ordered by creation time.
// Mounting the room that is already mounted does nothing. Mounting another room
// releases the current subscription first.
func (v *MessageView) Mount(ctx context.Context, room RoomIdentity) error {
	if room.Key == "" {
		return ErrInsufficientMembers
	}

	v.mu.Lock()
	if v.mounted && v.room.Key == room.Key {
		v.mu.Unlock()
		return nil
	}
	previous := v.release()
	v.generation++
	gen := v.generation
	v.room = room
	v.mounted = true
	v.messages = nil
	v.err = nil
	v.mu.Unlock()

	if previous != nil {
		previous()
	}

	q := Query{
		Collection:  room.MessageCollection(),
		OrderBy:     "createdAt",
		LimitToLast: v.limit,
	}
	unsubscribe, err := v.store.Subscribe(ctx, q, func(snapshot *Snapshot, err error) {
		v.apply(gen, snapshot, err)
	})
	if err != nil {
		v.mu.Lock()
		if v.generation == gen {
			v.mounted = false
			v.generation++
		}
		v.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", q.Collection, err)
	}

	v.mu.Lock()
	if v.generation != gen {
		// unmounted or remounted while subscribing
		v.mu.Unlock()
		unsubscribe()
		return nil
	}
	v.unsubscribe = unsubscribe
	v.mu.Unlock()
	return nil
}

// release detaches the current subscription. The caller must hold v.mu and
// call the returned function after unlocking.
func (v *MessageView) release() Unsubscribe {
	unsubscribe := v.unsubscribe
	v.unsubscribe = nil
	v.mounted = false
	v.generation++
	return unsubscribe
}

// Unmount releases the subscription of the view. It is safe to call at any time
// and more than once; the subscription is released exactly once.
func (v *MessageView) Unmount() {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	unsubscribe := v.release()
	v.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (v *MessageView) apply(gen uint64, snapshot *Snapshot, err error) {
	var messages []Message
	if err == nil {
		messages = make([]Message, 0, len(snapshot.Docs))
		for _, doc := range snapshot.Docs {
			m, decodeErr := MessageFromDocument(doc)
			if decodeErr != nil {
				err = decodeErr
				break
			}
			messages = append(messages, m)
		}
	}

	v.mu.Lock()
	if gen != v.generation || !v.mounted {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.err = err
		v.logger.Error(fmt.Sprintf("room(%s) snapshot: %v", v.room.Key, err))
	} else {
		v.messages = messages
		v.err = nil
	}
	state := ViewState{Room: v.room, Messages: slices.Clone(v.messages), Err: v.err}
	v.mu.Unlock()

	v.onChange(state)
}

// Messages returns the messages of the latest snapshot in the order the store returned them.
func (v *MessageView) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.messages)
}

// Err returns the error of the latest snapshot, if any.
func (v *MessageView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

func (v *MessageView) Room() (RoomIdentity, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.room, v.mounted
}
