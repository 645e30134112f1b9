package roomchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/putto11262002/roomchat/core"
)

// client events
const (
	OpenRoomEvent  = "open_room"
	CloseRoomEvent = "close_room"
	SetInputEvent  = "input"
	SendEvent      = "send"
)

// server events
const (
	SnapshotEvent          = "snapshot"
	InputEvent             = "input"
	NotificationEvent      = "notification"
	ScrollToBottomEvent    = "scroll_to_bottom"
	SubscriptionErrorEvent = "subscription_error"
	RoomOpenedEvent        = "room_opened"
)

var ErrNoOpenRoom = errors.New("no open room")

var (
	noRoomNotification = core.Notification{
		Level: core.LevelWarning,
		Icon:  "warning",
		Title: "Open a room first",
		Timer: core.NotificationTimer,
	}
	unknownMemberNotification = core.Notification{
		Level: core.LevelError,
		Icon:  "error",
		Title: "Some members could not be found",
		Timer: core.NotificationTimer,
	}
	openFailedNotification = core.Notification{
		Level: core.LevelError,
		Icon:  "error",
		Title: "Room could not be opened",
		Timer: core.NotificationTimer,
	}
)

type OpenRoomPayload struct {
	MemberIDs []string `json:"member_ids"`
}

type InputPayload struct {
	Text string `json:"text"`
}

type SnapshotPayload struct {
	Room     core.RoomIdentity `json:"room"`
	Messages []core.Message    `json:"messages"`
}

type SubscriptionErrorPayload struct {
	Room  core.RoomIdentity `json:"room"`
	Error string            `json:"error"`
	// Retry tells the client that opening the room again may succeed.
	Retry bool `json:"retry"`
}

type RoomOpenedPayload struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type NotificationPayload struct {
	Level string `json:"level"`
	Icon  string `json:"icon"`
	Title string `json:"title"`
	// Timer is in milliseconds.
	Timer int64 `json:"timer"`
}

func NewNotificationPayload(n core.Notification) NotificationPayload {
	return NotificationPayload{
		Level: string(n.Level),
		Icon:  n.Icon,
		Title: n.Title,
		Timer: n.Timer.Milliseconds(),
	}
}

func decodePayload(e *core.Event, v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}

// memberSet returns ids in their given order without duplicates, with uid appended if missing.
func memberSet(uid string, ids []string) []string {
	seen := make(map[string]struct{}, len(ids)+1)
	set := make([]string, 0, len(ids)+1)
	for _, id := range append(slices.Clip(ids), uid) {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		set = append(set, id)
	}
	return set
}

// roomSession returns the room session of the connection that sent e.
// It returns false if the connection has already closed.
func (a *App) roomSession(e *core.Event) (*RoomSession, bool) {
	key := connKey{uid: e.Dispatcher, conn: e.Conn}
	var session *RoomSession
	a.roomSessions.LoadAndStoreFunc(key, func(existing *RoomSession, ok bool) (*RoomSession, bool) {
		if ok {
			session = existing
			return existing, true
		}
		// checked under the map lock so onConnectionClosed cannot miss the new session
		if !a.wsManager.IsConnected(key.uid, key.conn) {
			return nil, false
		}
		session = newRoomSession(key, a.eventRouter, a.logger, a.config.Room.MessageLimit, a.config.Room.ScrollDelay)
		return session, true
	})
	return session, session != nil
}

func (a *App) OpenRoomHandler(ctx context.Context, e *core.Event) error {
	var payload OpenRoomPayload
	if err := decodePayload(e, &payload); err != nil {
		return err
	}
	rs, ok := a.roomSession(e)
	if !ok {
		return nil
	}

	ids := memberSet(e.Dispatcher, payload.MemberIDs)
	members, err := a.userStore.GetUsersByIDs(ctx, ids...)
	if err != nil {
		rs.Notify(openFailedNotification)
		return fmt.Errorf("get members: %w", err)
	}
	if len(members) != len(ids) {
		rs.Notify(unknownMemberNotification)
		return fmt.Errorf("open room: %d of %d members found", len(members), len(ids))
	}

	room, err := core.OpenRoom(members, a.config.KeyEncoding())
	if err != nil {
		rs.Notify(openFailedNotification)
		return fmt.Errorf("open room: %w", err)
	}

	if err := rs.Open(ctx, a.docStore, core.Session{UID: e.Dispatcher}, room); err != nil {
		rs.Notify(openFailedNotification)
		return fmt.Errorf("open room %s: %w", room.Identity.Key, err)
	}
	return nil
}

func (a *App) CloseRoomHandler(_ context.Context, e *core.Event) error {
	if rs, ok := a.roomSessions.Load(connKey{uid: e.Dispatcher, conn: e.Conn}); ok {
		rs.CloseRoom()
	}
	return nil
}

func (a *App) SetInputHandler(_ context.Context, e *core.Event) error {
	var payload InputPayload
	if err := decodePayload(e, &payload); err != nil {
		return err
	}
	rs, ok := a.roomSession(e)
	if !ok {
		return nil
	}
	composer, ok := rs.Composer()
	if !ok {
		rs.Notify(noRoomNotification)
		return ErrNoOpenRoom
	}
	composer.SetInput(payload.Text)
	return nil
}

func (a *App) SendHandler(ctx context.Context, e *core.Event) error {
	rs, ok := a.roomSession(e)
	if !ok {
		return nil
	}
	composer, ok := rs.Composer()
	if !ok {
		rs.Notify(noRoomNotification)
		return ErrNoOpenRoom
	}

	// Submit runs on the event router goroutine
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := composer.Submit(ctx)
	if errors.Is(err, core.ErrEmptyMessage) {
		return nil
	}
	return err
}

func (a *App) onConnectionClosed(uid string, conn int) {
	if rs, ok := a.roomSessions.LoadAndDelete(connKey{uid: uid, conn: conn}); ok {
		rs.Close()
	}
}
