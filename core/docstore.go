package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Fields is the content of a document.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp can be used as a field value to have the store
// fill in its own clock at write time.
var ServerTimestamp = serverTimestamp{}

// TimestampLayout is the layout timestamps are stored with. It is fixed width so
// timestamps sort lexicographically.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

var (
	ErrInvalidQuery      = errors.New("invalid query")
	ErrInvalidCollection = errors.New("invalid collection")
	ErrInvalidDocument   = errors.New("invalid document")
)

// Document is a snapshot of a single stored document.
type Document struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Data       Fields    `json:"data"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Decode decodes the document data into v using the json tags of v.
// Timestamps are decoded into time.Time fields.
func (d Document) Decode(v any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           v,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(d.Data)); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

type FilterOp string

const (
	Equal         FilterOp = "=="
	ArrayContains FilterOp = "array-contains"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Query selects documents of a single collection.
type Query struct {
	Collection string
	// OrderBy is the field to order by. Documents are ordered by creation time if it is empty.
	OrderBy    string
	Descending bool
	// Limit caps the result to the first n documents in order.
	Limit int
	// LimitToLast caps the result to the last n documents in order.
	// The result is still returned in the requested order.
	// It is ignored if Limit is set.
	LimitToLast int
	Where       *Filter
}

var fieldNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: empty collection", ErrInvalidQuery)
	}
	if q.OrderBy != "" && !fieldNameRegex.MatchString(q.OrderBy) {
		return fmt.Errorf("%w: order by field %q", ErrInvalidQuery, q.OrderBy)
	}
	if q.Limit < 0 || q.LimitToLast < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	if q.Where != nil {
		if !fieldNameRegex.MatchString(q.Where.Field) {
			return fmt.Errorf("%w: filter field %q", ErrInvalidQuery, q.Where.Field)
		}
		if q.Where.Op != Equal && q.Where.Op != ArrayContains {
			return fmt.Errorf("%w: filter op %q", ErrInvalidQuery, q.Where.Op)
		}
	}
	return nil
}

// Snapshot is the complete result of a query at a point in time.
type Snapshot struct {
	Docs   []Document
	ReadAt time.Time
}

// SnapshotFunc receives either a snapshot or the error that prevented reading one.
type SnapshotFunc func(snapshot *Snapshot, err error)

// Unsubscribe releases a subscription. It is safe to call more than once.
type Unsubscribe func()

// DocStore is a document store that pushes full query results to subscribers.
type DocStore interface {
	// Create adds a document with a generated ID to the collection and returns the ID.
	Create(ctx context.Context, collection string, fields Fields) (string, error)

	// Upsert merges fields into the document with the given key, creating it if needed.
	Upsert(ctx context.Context, collection, key string, fields Fields) error

	// Get returns nil if the document does not exist.
	Get(ctx context.Context, collection, key string) (*Document, error)

	Query(ctx context.Context, q Query) ([]Document, error)

	// Subscribe pushes the result of q to fn once and then again after every change
	// to the collection, until the returned Unsubscribe is called or ctx is done.
	// fn is never called concurrently with itself for the same subscription.
	Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error)
}
