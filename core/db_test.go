package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteOptionsDSN(t *testing.T) {
	tcs := []struct {
		name string
		opts SQLiteOptions
		exp  string
	}{
		{name: "no options", exp: "file:chat.db"},
		{
			name: "all options",
			opts: SQLiteOptions{Mode: "rwc", Cache: "shared", JournalMode: "WAL", BusyTimeout: 5 * time.Second},
			exp:  "file:chat.db?_busy_timeout=5000&_journal_mode=WAL&cache=shared&mode=rwc",
		},
		{
			name: "memory",
			opts: SQLiteOptions{Mode: "memory", Cache: "shared"},
			exp:  "file:chat.db?cache=shared&mode=memory",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, tc.opts.dsn("chat.db"))
		})
	}
}

func TestMigrateTwice(t *testing.T) {
	name := fmt.Sprintf("roomchat_test_%d", dbCounter.Add(1))
	db, err := NewSQLiteDB(name, "../migrations", SQLiteOptions{Mode: "memory", Cache: "shared"})
	require.Nil(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), baseTimeout)
	defer cancel()
	require.Nil(t, db.Migrate(ctx))
	require.Nil(t, db.Migrate(ctx), "applied migrations are skipped")

	var n int
	require.Nil(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n))
	assert.Zero(t, n)

	bad, err := NewSQLiteDB(name+"_bad", t.TempDir(), SQLiteOptions{Mode: "memory"})
	require.Nil(t, err)
	defer bad.Close()
	assert.NotNil(t, bad.Migrate(ctx), "a directory without migrations is an error")
}
