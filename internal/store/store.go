// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record ID does not exist in a collection.
var ErrNotFound = errors.New("store: record not found")

// Record is a single document in a named collection. Fields is a flat map of
// JSON-compatible values; timestamps inside Fields are stored as unix
// milliseconds so they survive a JSON round trip through any backend.
type Record struct {
	ID      uuid.UUID      `json:"id"`
	Fields  map[string]any `json:"fields"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
}

// Store is the narrow contract the rest of the server depends on. The real
// backends (redis, postgres) and the in-memory test double all satisfy it.
type Store interface {
	Collection(name string) Collection
	Close() error
}

// Collection exposes create/update/delete plus equality filtering on one
// named collection. Update merges partial fields atomically, so concurrent
// partial updates interleave instead of overwriting each other; there is no
// optimistic concurrency token, and the last write to any one field wins.
type Collection interface {
	Create(ctx context.Context, fields map[string]any) (Record, error)
	Update(ctx context.Context, id uuid.UUID, partial map[string]any) (Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Filter(match map[string]any) Query
}

// Query is a filtered view over a collection.
//
// Subscribe delivers the full matching list on every change. Delivery is
// at-least-once and unordered: notifications may be duplicated or coalesced,
// and a silently broken channel is possible, which is why consumers pair a
// subscription with a backup poll (see internal/feed). Because every delivery
// carries the complete current list, consumers converge on the latest state
// no matter how notifications arrive.
type Query interface {
	GetList(ctx context.Context) ([]Record, error)
	Subscribe(ctx context.Context, fn func([]Record)) (func(), error)
}

// String reads a string field, returning "" when absent or mistyped.
func (r Record) String(key string) string {
	v, _ := r.Fields[key].(string)
	return v
}

// Bool reads a bool field, returning false when absent or mistyped.
func (r Record) Bool(key string) bool {
	v, _ := r.Fields[key].(bool)
	return v
}

// Int reads a numeric field. JSON decoding turns numbers into float64, so
// both int and float64 representations are accepted.
func (r Record) Int(key string) int {
	switch v := r.Fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Time reads a unix-millisecond timestamp field. The zero time is returned
// for absent or zero-valued fields.
func (r Record) Time(key string) time.Time {
	ms := r.Fields[key]
	var v int64
	switch t := ms.(type) {
	case int64:
		v = t
	case int:
		v = int64(t)
	case float64:
		v = int64(t)
	}
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

// Matches reports whether every key in match equals the corresponding record
// field. Numeric values are compared through float64 so that 30 and 30.0
// match across JSON round trips.
func (r Record) Matches(match map[string]any) bool {
	for k, want := range match {
		got, ok := r.Fields[k]
		if !ok {
			return false
		}
		if !valueEqual(got, want) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// CloneFields copies a field map so callers cannot alias stored state.
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
