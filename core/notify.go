package core

import "time"

type NotificationLevel string

const (
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a short auto-dismissing message shown to the user.
type Notification struct {
	Level NotificationLevel `json:"level"`
	Icon  string            `json:"icon"`
	Title string            `json:"title"`
	// Timer is how long the notification stays visible.
	Timer time.Duration `json:"timer"`
}

type Notifier interface {
	Notify(n Notification)
}

// Scroller moves the message list to its trailing anchor.
type Scroller interface {
	ScrollToBottom()
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type ScrollerFunc func()

func (f ScrollerFunc) ScrollToBottom() { f() }
