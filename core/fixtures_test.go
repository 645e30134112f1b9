package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	baseTimeout = time.Second
	dbCounter   atomic.Int64
	testLogger  = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type BaseFixture struct {
	ctx      context.Context
	db       *SQLiteDB
	t        *testing.T
	tearDown func()
}

// NewBaseFixture opens a private in-memory database migrated to the latest version.
func NewBaseFixture(t *testing.T) *BaseFixture {
	ctx, cancel := context.WithCancel(context.Background())

	name := fmt.Sprintf("roomchat_test_%d", dbCounter.Add(1))
	db, err := NewSQLiteDB(name, "../migrations", SQLiteOptions{Mode: "memory", Cache: "shared"})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	var once sync.Once
	return &BaseFixture{
		ctx: ctx,
		db:  db,
		t:   t,
		tearDown: func() {
			once.Do(func() {
				cancel()
				db.Close()
			})
		},
	}
}

type DocStoreFixture struct {
	*BaseFixture
	feed  *LocalFeed
	store *SQLiteDocStore
	clock *testClock
}

func NewDocStoreFixture(t *testing.T) *DocStoreFixture {
	base := NewBaseFixture(t)
	feed := NewLocalFeed()
	clock := &testClock{now: time.Date(2024, 10, 20, 12, 0, 0, 0, time.UTC)}
	return &DocStoreFixture{
		BaseFixture: base,
		feed:        feed,
		clock:       clock,
		store:       NewSQLiteDocStore(base.db.DB, feed, WithDocStoreLogger(testLogger), WithClock(clock.Now)),
	}
}

// testClock advances by a millisecond every time it is read.
type testClock struct {
	now time.Time
	n   atomic.Int64
}

func (c *testClock) Now() time.Time {
	return c.now.Add(time.Duration(c.n.Add(1)) * time.Millisecond)
}

type UserFixture struct {
	*BaseFixture
	userStore UserStore
}

func NewUserFixture(t *testing.T) *UserFixture {
	base := NewBaseFixture(t)
	return &UserFixture{
		BaseFixture: base,
		userStore:   NewSQLiteUserStore(base.db.DB),
	}
}

type AuthFixture struct {
	*BaseFixture
	userStore UserStore
	authStore *SQLiteAuthStore
}

func NewAuthFixture(t *testing.T) *AuthFixture {
	base := NewBaseFixture(t)
	userStore := NewSQLiteUserStore(base.db.DB)
	return &AuthFixture{
		BaseFixture: base,
		userStore:   userStore,
		authStore:   NewSQLiteAuthStore(base.db.DB, userStore, secret),
	}
}

var secret = []byte("c2VjcmV0")

var signup = SignupInput{
	Name:     "Alice",
	Email:    "alice@example.com",
	Password: "password",
}

func seedUsers(ctx context.Context, t *testing.T, userStore UserStore, inputs ...SignupInput) []User {
	users := make([]User, 0, len(inputs))
	for _, in := range inputs {
		u, err := userStore.CreateUser(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		users = append(users, *u)
	}
	return users
}
