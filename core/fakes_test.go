package core

import (
	"context"
	"fmt"
	"sync"
)

type writeCall struct {
	op         string
	collection string
	key        string
	fields     Fields
}

// fakeStore records writes and lets tests push snapshots to subscribers by hand.
type fakeStore struct {
	mu            sync.Mutex
	writes        []writeCall
	createErr     error
	upsertErr     error
	subscribeErr  error
	subscriptions []*fakeSubscription
	nextID        int
}

type fakeSubscription struct {
	query        Query
	fn           SnapshotFunc
	unsubscribed int
}

func (s *fakeStore) Create(_ context.Context, collection string, fields Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, writeCall{op: "create", collection: collection, fields: fields})
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextID++
	return fmt.Sprintf("m%d", s.nextID), nil
}

func (s *fakeStore) Upsert(_ context.Context, collection, key string, fields Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, writeCall{op: "upsert", collection: collection, key: key, fields: fields})
	return s.upsertErr
}

func (s *fakeStore) Get(context.Context, string, string) (*Document, error) {
	return nil, nil
}

func (s *fakeStore) Query(context.Context, Query) ([]Document, error) {
	return nil, nil
}

func (s *fakeStore) Subscribe(_ context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	sub := &fakeSubscription{query: q, fn: fn}
	s.subscriptions = append(s.subscriptions, sub)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		sub.unsubscribed++
	}, nil
}

func (s *fakeStore) Writes() []writeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]writeCall(nil), s.writes...)
}

func (s *fakeStore) Subscription(i int) *fakeSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[i]
}

func (s *fakeStore) Unsubscribed(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[i].unsubscribed
}

func (s *fakeStore) NumSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

// push delivers docs built from texts to subscription i, the way a store would.
func (s *fakeStore) push(i int, texts ...string) {
	docs := make([]Document, 0, len(texts))
	for n, text := range texts {
		docs = append(docs, Document{
			ID:   fmt.Sprintf("d%d", n),
			Data: Fields{"text": text, "own": "a"},
		})
	}
	s.Subscription(i).fn(&Snapshot{Docs: docs}, nil)
}

func (s *fakeStore) fail(i int, err error) {
	s.Subscription(i).fn(nil, err)
}
