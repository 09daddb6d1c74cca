// Package store defines the contract with the remote mutable store the
// canteen dashboard runs against. Values form a tree of scalar leaves
// addressed by slash-separated paths; counters are plain integer leaves
// mutated through relative increments so that concurrent writers never
// lose updates.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned when no value exists at the requested path.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks transient backend failures. Callers may retry;
	// no state changed on the backend unless documented otherwise.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotCounter is returned by ApplyIncrements when a target leaf
	// holds a non-integer value. The whole batch is rejected.
	ErrNotCounter = errors.New("increment target is not an integer leaf")
)

// IncrementBatch maps leaf paths to relative deltas. A backend applies the
// whole batch as one all-or-nothing operation: either every delta commits
// or none does, and no reader observes a partial batch.
type IncrementBatch map[string]int64

// Snapshot is a full-state view of a watched subtree, pushed whenever any
// leaf under the path changes. Data is the assembled JSON of the subtree,
// or nil when the subtree is empty.
type Snapshot struct {
	Path string
	Data json.RawMessage
}

// UnsubscribeFunc tears down a subscription and closes its channel.
type UnsubscribeFunc func()

// Store is the minimal surface the canteen core needs from a backend.
//
// Get and Children read; Set, Delete, ApplyIncrements and Append write.
// Writing a struct flattens it into scalar leaves under the path,
// replacing whatever subtree was there. Append generates a child id and
// resolves ServerTimestamp sentinels against the backend clock.
type Store interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Children(ctx context.Context, path string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, path string, value any) error
	Delete(ctx context.Context, path string) error
	ApplyIncrements(ctx context.Context, batch IncrementBatch) error
	Append(ctx context.Context, path string, record any) (string, error)
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, UnsubscribeFunc, error)
}

type serverTimestamp struct{}

// ServerTimestamp is a sentinel value. When written it is replaced by the
// backend's clock, in milliseconds since the Unix epoch, at commit time.
var ServerTimestamp = serverTimestamp{}

func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`{".sv":"timestamp"}`), nil
}
