package core

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// SQLiteOptions are the connection parameters of a SQLite database.
// Zero values leave the driver defaults in place.
type SQLiteOptions struct {
	// Mode is ro, rw, rwc or memory.
	Mode string
	// Cache is shared or private.
	Cache string
	// JournalMode is DELETE, TRUNCATE, PERSIST, MEMORY, WAL or OFF.
	JournalMode string
	// BusyTimeout is how long a statement waits on a locked database.
	BusyTimeout time.Duration
}

func (o SQLiteOptions) dsn(file string) string {
	params := url.Values{}
	if o.Mode != "" {
		params.Set("mode", o.Mode)
	}
	if o.Cache != "" {
		params.Set("cache", o.Cache)
	}
	if o.JournalMode != "" {
		params.Set("_journal_mode", o.JournalMode)
	}
	if o.BusyTimeout > 0 {
		params.Set("_busy_timeout", strconv.FormatInt(o.BusyTimeout.Milliseconds(), 10))
	}
	if len(params) == 0 {
		return "file:" + file
	}
	return "file:" + file + "?" + params.Encode()
}

// SQLiteDB is the database behind the user, auth and document stores.
type SQLiteDB struct {
	*sql.DB
	migrationDir string
}

func NewSQLiteDB(file, migrationDir string, opts SQLiteOptions) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite3", opts.dsn(file))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	// single connection: in-memory databases live as long as it does
	d.SetMaxOpenConns(1)
	return &SQLiteDB{DB: d, migrationDir: migrationDir}, nil
}

// Migrate applies every pending migration of the migration directory.
func (db *SQLiteDB) Migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, os.DirFS(db.migrationDir))
	if err != nil {
		return fmt.Errorf("migrations %s: %w", db.migrationDir, err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("migrate %s: %w", r.Source.Path, r.Error)
		}
	}
	return nil
}
