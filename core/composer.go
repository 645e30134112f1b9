package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultScrollDelay leaves the view time to render the new message before scrolling.
	DefaultScrollDelay = 100 * time.Millisecond
	// NotificationTimer is how long composer notifications stay visible.
	NotificationTimer = 1500 * time.Millisecond
)

var (
	// ErrEmptyMessage is returned when the input is empty or only whitespace.
	ErrEmptyMessage = errors.New("empty message")
	// ErrWriteFailed is returned when a write to the store failed.
	ErrWriteFailed = errors.New("write failed")
)

var (
	emptyMessageNotification = Notification{
		Level: LevelWarning,
		Icon:  "warning",
		Title: "Please enter a message",
		Timer: NotificationTimer,
	}
	sendFailedNotification = Notification{
		Level: LevelError,
		Icon:  "error",
		Title: "Message could not be sent",
		Timer: NotificationTimer,
	}
	summaryFailedNotification = Notification{
		Level: LevelError,
		Icon:  "error",
		Title: "Message sent but the room list could not be updated",
		Timer: NotificationTimer,
	}
)

// Room is a set of members together with the identity derived from them.
type Room struct {
	Identity RoomIdentity `json:"identity"`
	Members  []User       `json:"members"`
}

// OpenRoom derives the identity of the room formed by members.
func OpenRoom(members []User, enc KeyEncoding) (Room, error) {
	if len(members) == 0 {
		return Room{}, ErrInsufficientMembers
	}
	identity, err := DeriveRoomIdentity(members, enc)
	if err != nil {
		return Room{}, err
	}
	return Room{Identity: identity, Members: members}, nil
}

// Composer holds the input of a room and sends it on behalf of the session user.
type Composer struct {
	store       DocStore
	session     Session
	room        Room
	notifier    Notifier
	scroller    Scroller
	scrollDelay time.Duration
	onInput     func(string)
	logger      *slog.Logger

	mu          sync.Mutex
	input       string
	scrollTimer *time.Timer
	closed      bool
}

type ComposerOption func(*Composer)

func WithNotifier(n Notifier) ComposerOption {
	return func(c *Composer) {
		c.notifier = n
	}
}

func WithScroller(s Scroller, delay time.Duration) ComposerOption {
	return func(c *Composer) {
		c.scroller = s
		if delay >= 0 {
			c.scrollDelay = delay
		}
	}
}

// OnInputChange registers f to be called whenever the composer changes its own input.
func OnInputChange(f func(string)) ComposerOption {
	return func(c *Composer) {
		c.onInput = f
	}
}

func WithComposerLogger(logger *slog.Logger) ComposerOption {
	return func(c *Composer) {
		c.logger = logger
	}
}

func NewComposer(store DocStore, session Session, room Room, opts ...ComposerOption) (*Composer, error) {
	if len(room.Members) == 0 || room.Identity.Key == "" {
		return nil, ErrInsufficientMembers
	}
	c := &Composer{
		store:       store,
		session:     session,
		room:        room,
		notifier:    NotifierFunc(func(Notification) {}),
		scroller:    ScrollerFunc(func() {}),
		scrollDelay: DefaultScrollDelay,
		onInput:     func(string) {},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Composer) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

func (c *Composer) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Submit sends the current input to the room.
//
// Whitespace-only input is rejected with a warning and ErrEmptyMessage, and nothing is written.
// Otherwise the message is created and the room summary upserted, in that order,
// each awaited. If the message cannot be created the input is kept.
// Once the message is stored the input is cleared and a scroll to the bottom is scheduled,
// even if the summary update fails afterwards. It returns the ID of the new message.
func (c *Composer) Submit(ctx context.Context) (string, error) {
	text := c.Input()
	if strings.TrimSpace(text) == "" {
		c.notifier.Notify(emptyMessageNotification)
		return "", ErrEmptyMessage
	}

	identity := c.room.Identity
	id, err := c.store.Create(ctx, identity.MessageCollection(), Fields{
		"text":       text,
		"createdAt":  ServerTimestamp,
		"memberName": identity.DisplayName,
		"own":        c.session.UID,
	})
	if err != nil {
		c.logger.Error(fmt.Sprintf("room(%s) create message: %v", identity.Key, err))
		c.notifier.Notify(sendFailedNotification)
		return "", fmt.Errorf("%w: create message: %w", ErrWriteFailed, err)
	}

	summaryErr := c.store.Upsert(ctx, RoomSummaryCollection, identity.Key, Fields{
		"profilePicPath": c.room.Members[0].ProfilePicPath,
		"name":           identity.DisplayName,
		"createdAt":      ServerTimestamp,
		"recentMessage":  text,
		"member":         c.room.Members,
		"member_ids":     memberIDs(c.room.Members),
		"own":            c.session.UID,
	})

	c.clearInput(text)
	c.scheduleScroll()

	if summaryErr != nil {
		c.logger.Error(fmt.Sprintf("room(%s) upsert summary: %v", identity.Key, summaryErr))
		c.notifier.Notify(summaryFailedNotification)
		return id, fmt.Errorf("%w: upsert room summary: %w", ErrWriteFailed, summaryErr)
	}
	return id, nil
}

// clearInput clears the input unless it was changed while sending.
func (c *Composer) clearInput(sent string) {
	c.mu.Lock()
	if c.input != sent {
		c.mu.Unlock()
		return
	}
	c.input = ""
	c.mu.Unlock()
	c.onInput("")
}

func (c *Composer) scheduleScroll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.scrollTimer != nil {
		c.scrollTimer.Stop()
	}
	c.scrollTimer = time.AfterFunc(c.scrollDelay, c.scroller.ScrollToBottom)
}

// Close stops pending scrolls. The composer must not be used afterwards.
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.scrollTimer != nil {
		c.scrollTimer.Stop()
		c.scrollTimer = nil
	}
}

func (c *Composer) Room() Room {
	return c.room
}
