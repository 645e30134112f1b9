package roomchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/putto11262002/roomchat/core"
)

// connKey identifies a websocket connection.
type connKey struct {
	uid  string
	conn int
}

// RoomSession is the room a single connection has open: a message view that
// pushes snapshots and a composer that sends on behalf of the user.
type RoomSession struct {
	key     connKey
	emitter *core.EventRouter
	logger  *slog.Logger

	messageLimit int
	scrollDelay  time.Duration

	mu       sync.Mutex
	view     *core.MessageView
	composer *core.Composer
	closed   bool
}

var errRoomSessionClosed = errors.New("room session closed")

func newRoomSession(key connKey, emitter *core.EventRouter, logger *slog.Logger,
	messageLimit int, scrollDelay time.Duration) *RoomSession {
	return &RoomSession{
		key:          key,
		emitter:      emitter,
		logger:       logger.With(slog.String("connection", fmt.Sprintf("%s:%d", key.uid, key.conn))),
		messageLimit: messageLimit,
		scrollDelay:  scrollDelay,
	}
}

func (s *RoomSession) emit(t string, payload interface{}) {
	if err := s.emitter.EmitToConn(t, payload, s.key.uid, s.key.conn); err != nil {
		s.logger.Error(fmt.Sprintf("emit %s: %v", t, err))
	}
}

func (s *RoomSession) Notify(n core.Notification) {
	s.emit(NotificationEvent, NewNotificationPayload(n))
}

func (s *RoomSession) ScrollToBottom() {
	s.emit(ScrollToBottomEvent, nil)
}

func (s *RoomSession) onViewChange(state core.ViewState) {
	if state.Err != nil {
		s.emit(SubscriptionErrorEvent, SubscriptionErrorPayload{
			Room:  state.Room,
			Error: "messages could not be loaded",
			Retry: true,
		})
		return
	}
	s.emit(SnapshotEvent, SnapshotPayload{Room: state.Room, Messages: state.Messages})
}

// Open mounts room, replacing the room that was open before.
// The composer of the previous room is discarded with its input.
// room_opened is emitted before the first snapshot of the room.
// If the room cannot be mounted no room is open afterwards.
func (s *RoomSession) Open(ctx context.Context, store core.DocStore, session core.Session, room core.Room) error {
	composer, err := core.NewComposer(store, session, room,
		core.WithNotifier(s),
		core.WithScroller(s, s.scrollDelay),
		core.OnInputChange(func(text string) {
			s.emit(InputEvent, InputPayload{Text: text})
		}),
		core.WithComposerLogger(s.logger),
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		composer.Close()
		return errRoomSessionClosed
	}
	if s.view == nil {
		s.view = core.NewMessageView(store,
			core.WithMessageLimit(s.messageLimit),
			core.WithViewLogger(s.logger),
			core.OnViewChange(s.onViewChange))
	}
	view := s.view
	previous := s.composer
	s.composer = nil
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	s.emit(RoomOpenedEvent, RoomOpenedPayload{Key: room.Identity.Key, Name: room.Identity.DisplayName})
	if err := view.Mount(ctx, room.Identity); err != nil {
		composer.Close()
		return err
	}

	s.mu.Lock()
	if s.closed {
		// closed while mounting
		s.mu.Unlock()
		view.Unmount()
		composer.Close()
		return errRoomSessionClosed
	}
	s.composer = composer
	s.mu.Unlock()
	return nil
}

// Composer returns the composer of the open room.
func (s *RoomSession) Composer() (*core.Composer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer, s.composer != nil
}

// CloseRoom unmounts the view and discards the composer. Another room can be opened afterwards.
func (s *RoomSession) CloseRoom() {
	s.mu.Lock()
	view, composer := s.view, s.composer
	s.composer = nil
	s.mu.Unlock()

	if view != nil {
		view.Unmount()
	}
	if composer != nil {
		composer.Close()
	}
}

// Close closes the room for good. It is safe to call more than once.
func (s *RoomSession) Close() {
	s.mu.Lock()
	view, composer := s.view, s.composer
	s.composer = nil
	s.closed = true
	s.mu.Unlock()

	if view != nil {
		view.Unmount()
	}
	if composer != nil {
		composer.Close()
	}
}
