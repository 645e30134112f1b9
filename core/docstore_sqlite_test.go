package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createMessages(f *DocStoreFixture, collection string, texts ...string) []string {
	ids := make([]string, 0, len(texts))
	for _, text := range texts {
		id, err := f.store.Create(f.ctx, collection, Fields{"text": text, "createdAt": ServerTimestamp})
		require.Nil(f.t, err)
		ids = append(ids, id)
	}
	return ids
}

func texts(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Data["text"].(string))
	}
	return out
}

func TestDocStoreCreateAndGet(t *testing.T) {
	f := NewDocStoreFixture(t)
	defer f.tearDown()

	id, err := f.store.Create(f.ctx, "message=ab", Fields{
		"text":      "hi",
		"createdAt": ServerTimestamp,
		"own":       "a",
	})
	require.Nil(t, err)
	require.NotEmpty(t, id)

	doc, err := f.store.Get(f.ctx, "message=ab", id)
	require.Nil(t, err)
	require.NotNil(t, doc)

	m, err := MessageFromDocument(*doc)
	require.Nil(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "hi", m.Text)
	assert.Equal(t, "a", m.Own)
	assert.False(t, m.CreatedAt.IsZero(), "server timestamp should be resolved")
	assert.True(t, m.CreatedAt.After(f.clock.now))

	missing, err := f.store.Get(f.ctx, "message=ab", "nope")
	require.Nil(t, err)
	assert.Nil(t, missing)

	_, err = f.store.Create(f.ctx, "", Fields{})
	assert.ErrorIs(t, err, ErrInvalidCollection)
}

func TestDocStoreUpsertMerges(t *testing.T) {
	f := NewDocStoreFixture(t)
	defer f.tearDown()

	err := f.store.Upsert(f.ctx, RoomSummaryCollection, "a|b", Fields{
		"name":          "Alice,Bob",
		"recentMessage": "hi",
		"member_ids":    []string{"a", "b"},
	})
	require.Nil(t, err)

	err = f.store.Upsert(f.ctx, RoomSummaryCollection, "a|b", Fields{
		"recentMessage": "bye",
		"createdAt":     ServerTimestamp,
	})
	require.Nil(t, err)

	doc, err := f.store.Get(f.ctx, RoomSummaryCollection, "a|b")
	require.Nil(t, err)
	require.NotNil(t, doc)

	s, err := RoomSummaryFromDocument(*doc)
	require.Nil(t, err)
	assert.Equal(t, "a|b", s.ID)
	assert.Equal(t, "Alice,Bob", s.Name)
	assert.Equal(t, "bye", s.RecentMessage)
	assert.Equal(t, []string{"a", "b"}, s.MemberIDs)
	assert.False(t, s.CreatedAt.IsZero())

	docs, err := f.store.Query(f.ctx, Query{Collection: RoomSummaryCollection})
	require.Nil(t, err)
	assert.Len(t, docs, 1, "upsert should not create a second document")
}

func TestDocStoreQuery(t *testing.T) {
	f := NewDocStoreFixture(t)
	defer f.tearDown()

	createMessages(f, "message=ab", "1", "2", "3", "4", "5")
	createMessages(f, "message=other", "x")

	t.Run("ascending", func(t *testing.T) {
		docs, err := f.store.Query(f.ctx, Query{Collection: "message=ab", OrderBy: "createdAt"})
		require.Nil(t, err)
		assert.Equal(t, []string{"1", "2", "3", "4", "5"}, texts(docs))
	})

	t.Run("descending with limit", func(t *testing.T) {
		docs, err := f.store.Query(f.ctx, Query{Collection: "message=ab", OrderBy: "createdAt", Descending: true, Limit: 2})
		require.Nil(t, err)
		assert.Equal(t, []string{"5", "4"}, texts(docs))
	})

	t.Run("limit to last keeps ascending order", func(t *testing.T) {
		docs, err := f.store.Query(f.ctx, Query{Collection: "message=ab", OrderBy: "createdAt", LimitToLast: 3})
		require.Nil(t, err)
		assert.Equal(t, []string{"3", "4", "5"}, texts(docs))
	})

	t.Run("empty collection", func(t *testing.T) {
		docs, err := f.store.Query(f.ctx, Query{Collection: "message=none"})
		require.Nil(t, err)
		assert.Empty(t, docs)
	})

	t.Run("invalid field", func(t *testing.T) {
		_, err := f.store.Query(f.ctx, Query{Collection: "message=ab", OrderBy: "createdAt') --"})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})
}

func TestDocStoreQueryFilters(t *testing.T) {
	f := NewDocStoreFixture(t)
	defer f.tearDown()

	require.Nil(t, f.store.Upsert(f.ctx, RoomSummaryCollection, "a|b",
		Fields{"name": "ab", "member_ids": []string{"a", "b"}, "own": "a", "createdAt": ServerTimestamp}))
	require.Nil(t, f.store.Upsert(f.ctx, RoomSummaryCollection, "b|c",
		Fields{"name": "bc", "member_ids": []string{"b", "c"}, "own": "c", "createdAt": ServerTimestamp}))

	summaries, err := RoomSummaries(f.ctx, f.store, "b", 0)
	require.Nil(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "bc", summaries[0].Name, "most recent first")
	assert.Equal(t, "ab", summaries[1].Name)

	summaries, err = RoomSummaries(f.ctx, f.store, "a", 0)
	require.Nil(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "ab", summaries[0].Name)

	docs, err := f.store.Query(f.ctx, Query{
		Collection: RoomSummaryCollection,
		Where:      &Filter{Field: "own", Op: Equal, Value: "c"},
	})
	require.Nil(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b|c", docs[0].ID)

	member, err := IsRoomMember(f.ctx, f.store, "a|b", "a")
	require.Nil(t, err)
	assert.True(t, member)
	member, err = IsRoomMember(f.ctx, f.store, "a|b", "c")
	require.Nil(t, err)
	assert.False(t, member)
}

type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots [][]string
	errs      []error
}

func (r *snapshotRecorder) fn(s *Snapshot, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.snapshots = append(r.snapshots, texts(s.Docs))
}

func (r *snapshotRecorder) last() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil, 0
	}
	return r.snapshots[len(r.snapshots)-1], len(r.snapshots)
}

func TestDocStoreSubscribe(t *testing.T) {
	f := NewDocStoreFixture(t)
	defer f.tearDown()

	createMessages(f, "message=ab", "1")

	rec := &snapshotRecorder{}
	unsubscribe, err := f.store.Subscribe(f.ctx, Query{Collection: "message=ab", OrderBy: "createdAt", LimitToLast: 2}, rec.fn)
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		last, _ := rec.last()
		return assert.ObjectsAreEqual([]string{"1"}, last)
	}, baseTimeout, baseTimeout/20, "initial snapshot")

	createMessages(f, "message=ab", "2", "3")
	require.Eventually(t, func() bool {
		last, _ := rec.last()
		return assert.ObjectsAreEqual([]string{"2", "3"}, last)
	}, baseTimeout, baseTimeout/20, "snapshot after change")

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, f.feed.Listeners("message=ab"), "listener should be released")

	_, n := rec.last()
	createMessages(f, "message=ab", "4")
	time.Sleep(baseTimeout / 10)
	_, after := rec.last()
	assert.Equal(t, n, after, "no snapshot after unsubscribe")
}

func TestDocStoreSubscribeContextDone(t *testing.T) {
	f := NewDocStoreFixture(t)
	defer f.tearDown()

	rec := &snapshotRecorder{}
	_, err := f.store.Subscribe(f.ctx, Query{Collection: "message=ab"}, rec.fn)
	require.Nil(t, err)
	require.Eventually(t, func() bool {
		_, n := rec.last()
		return n == 1
	}, baseTimeout, baseTimeout/20)

	f.tearDown()
	require.Eventually(t, func() bool {
		return f.feed.Listeners("message=ab") == 0
	}, baseTimeout, baseTimeout/20, "listener should be released when the context is done")
}

func TestDocStoreSubscribeInvalidQuery(t *testing.T) {
	f := NewDocStoreFixture(t)
	defer f.tearDown()

	_, err := f.store.Subscribe(f.ctx, Query{}, func(*Snapshot, error) {})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
