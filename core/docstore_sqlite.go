package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SQLiteDocStore stores documents as JSON in a single table and
// notifies subscribers through a ChangeFeed.
type SQLiteDocStore struct {
	db     *sql.DB
	feed   ChangeFeed
	logger *slog.Logger
	now    func() time.Time
}

type DocStoreOption func(*SQLiteDocStore)

func WithDocStoreLogger(logger *slog.Logger) DocStoreOption {
	return func(s *SQLiteDocStore) {
		s.logger = logger
	}
}

// WithClock sets the clock used for ServerTimestamp and bookkeeping columns.
func WithClock(now func() time.Time) DocStoreOption {
	return func(s *SQLiteDocStore) {
		s.now = now
	}
}

func NewSQLiteDocStore(db *sql.DB, feed ChangeFeed, opts ...DocStoreOption) *SQLiteDocStore {
	s := &SQLiteDocStore{
		db:     db,
		feed:   feed,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// prepare resolves sentinels and normalises timestamps so that they sort as text.
func (s *SQLiteDocStore) prepare(fields Fields, now time.Time) Fields {
	prepared := make(Fields, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case serverTimestamp:
			prepared[k] = now.UTC().Format(TimestampLayout)
		case time.Time:
			prepared[k] = v.UTC().Format(TimestampLayout)
		default:
			prepared[k] = v
		}
	}
	return prepared
}

func (s *SQLiteDocStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	if collection == "" {
		return "", ErrInvalidCollection
	}
	now := s.now()
	data, err := json.Marshal(s.prepare(fields, now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	id := uuid.New().String()
	query := `
	INSERT INTO documents (collection, id, data, created_at, updated_at)
	VALUES (@collection, @id, @data, @created_at, @updated_at)`
	_, err = s.db.ExecContext(ctx, query,
		sql.Named("collection", collection), sql.Named("id", id),
		sql.Named("data", string(data)),
		sql.Named("created_at", now.UTC()), sql.Named("updated_at", now.UTC()))
	if err != nil {
		return "", fmt.Errorf("ExecContext(insert document): %w", err)
	}

	s.publish(ctx, collection)
	return id, nil
}

func (s *SQLiteDocStore) Upsert(ctx context.Context, collection, key string, fields Fields) error {
	if collection == "" {
		return ErrInvalidCollection
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidDocument)
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	existing := make(Fields)
	row := tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = @collection AND id = @id`,
		sql.Named("collection", collection), sql.Named("id", key))
	switch err := row.Scan(&raw); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("row.Scan: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("unmarshal document %s/%s: %w", collection, key, err)
		}
	}

	maps.Copy(existing, s.prepare(fields, now))
	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	query := `
	INSERT INTO documents (collection, id, data, created_at, updated_at)
	VALUES (@collection, @id, @data, @now, @now)
	ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("collection", collection), sql.Named("id", key),
		sql.Named("data", string(data)), sql.Named("now", now.UTC()))
	if err != nil {
		return fmt.Errorf("ExecContext(upsert document): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}

	s.publish(ctx, collection)
	return nil
}

func (s *SQLiteDocStore) publish(ctx context.Context, collection string) {
	if s.feed == nil {
		return
	}
	// the write already succeeded; subscribers catch up on the next change
	if err := s.feed.Publish(ctx, collection); err != nil {
		s.logger.Error(fmt.Sprintf("publish change(%s): %v", collection, err))
	}
}

func (s *SQLiteDocStore) Get(ctx context.Context, collection, key string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, data, created_at, updated_at FROM documents
	WHERE collection = @collection AND id = @id`,
		sql.Named("collection", collection), sql.Named("id", key))

	doc := Document{Collection: collection}
	var raw string
	if err := row.Scan(&doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
		return nil, fmt.Errorf("unmarshal document %s/%s: %w", collection, key, err)
	}
	return &doc, nil
}

func (s *SQLiteDocStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	args := []any{sql.Named("collection", q.Collection)}
	sb.WriteString(`SELECT id, data, created_at, updated_at FROM documents WHERE collection = @collection`)

	if q.Where != nil {
		path := "'$." + q.Where.Field + "'"
		switch q.Where.Op {
		case Equal:
			sb.WriteString(" AND json_extract(data, " + path + ") = @value")
		case ArrayContains:
			sb.WriteString(" AND EXISTS (SELECT 1 FROM json_each(documents.data, " + path +
				") AS e WHERE e.value = @value)")
		}
		args = append(args, sql.Named("value", q.Where.Value))
	}

	descending := q.Descending
	limit := q.Limit
	reverse := false
	if limit == 0 && q.LimitToLast > 0 {
		limit = q.LimitToLast
		descending = !descending
		reverse = true
	}

	dir := "ASC"
	if descending {
		dir = "DESC"
	}
	if q.OrderBy != "" {
		sb.WriteString(" ORDER BY json_extract(data, '$." + q.OrderBy + "') " + dir + ",")
	} else {
		sb.WriteString(" ORDER BY")
	}
	sb.WriteString(" created_at " + dir + ", rowid " + dir)

	if limit > 0 {
		sb.WriteString(" LIMIT @limit")
		args = append(args, sql.Named("limit", limit))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc := Document{Collection: q.Collection}
		var raw string
		if err := rows.Scan(&doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
			return nil, fmt.Errorf("unmarshal document %s/%s: %w", q.Collection, doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	if reverse {
		slices.Reverse(docs)
	}
	return docs, nil
}

func (s *SQLiteDocStore) Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if s.feed == nil {
		return nil, errors.New("subscribe: no change feed configured")
	}

	changes, stopListening := s.feed.Listen(q.Collection)
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			stopListening()
		})
	}

	push := func() {
		docs, err := s.Query(ctx, q)
		select {
		case <-done:
			return
		default:
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			fn(nil, err)
			return
		}
		fn(&Snapshot{Docs: docs, ReadAt: s.now()}, nil)
	}

	go func() {
		push()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				unsubscribe()
				return
			case <-changes:
				push()
			}
		}
	}()

	return unsubscribe, nil
}
