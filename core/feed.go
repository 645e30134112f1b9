package core

import (
	"context"
	"slices"
	"sync"
)

// ChangeFeed notifies listeners that a collection has changed.
// Notifications carry no payload; listeners re-read what they need.
type ChangeFeed interface {
	Publish(ctx context.Context, collection string) error
	// Listen returns a channel that receives a value after changes to the collection
	// and a function that stops listening. Bursts of changes may be coalesced.
	Listen(collection string) (<-chan struct{}, func())
}

type feedListener struct {
	ch chan struct{}
}

// LocalFeed is an in-process ChangeFeed.
type LocalFeed struct {
	listeners *SyncMap[string, []*feedListener]
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{
		listeners: NewSyncMap[string, []*feedListener](),
	}
}

func (f *LocalFeed) Publish(_ context.Context, collection string) error {
	listeners, ok := f.listeners.Load(collection)
	if !ok {
		return nil
	}
	for _, l := range listeners {
		select {
		case l.ch <- struct{}{}:
		default:
			// a notification is already pending
		}
	}
	return nil
}

func (f *LocalFeed) Listen(collection string) (<-chan struct{}, func()) {
	l := &feedListener{ch: make(chan struct{}, 1)}
	f.listeners.LoadAndStore(collection, func(listeners []*feedListener, _ bool) []*feedListener {
		return append(slices.Clone(listeners), l)
	})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			f.listeners.LoadAndStore(collection, func(listeners []*feedListener, _ bool) []*feedListener {
				return slices.DeleteFunc(slices.Clone(listeners), func(other *feedListener) bool {
					return other == l
				})
			})
			f.listeners.DeleteFunc(collection, func(listeners []*feedListener) bool {
				return len(listeners) == 0
			})
		})
	}
	return l.ch, stop
}

// Listeners returns the number of listeners of the collection.
func (f *LocalFeed) Listeners(collection string) int {
	listeners, _ := f.listeners.Load(collection)
	return len(listeners)
}
