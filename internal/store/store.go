package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// Value is a JSON-like tree node: map[string]any for branches, and string,
// float64, bool or nil at the leaves. A nil Value means "absent".
type Value = any

// EventKind selects what an observer is notified about.
type EventKind int

const (
	// ValueChanged delivers a snapshot of the observed node's subtree on
	// every committed mutation under it (and once on attach).
	ValueChanged EventKind = iota
	// ChildAdded delivers each direct child of the observed node exactly
	// once per appearance, existing children replayed on attach.
	ChildAdded
)

// Event is one element of an observation stream.
type Event struct {
	Kind  EventKind
	Path  string
	Key   string // child key, ChildAdded only
	Value Value  // subtree snapshot (nil when the node was removed)
}

// TxFunc transforms the current value at a path. Returning a nil Value
// commits a removal; returning an error aborts the transaction and the
// error is propagated unchanged.
type TxFunc func(current Value) (Value, error)

var (
	ErrClosed      = errors.New("store: closed")
	ErrPathInvalid = errors.New("store: invalid path")
	// ErrTxContention is returned when an optimistic transaction keeps
	// losing the race after many retries.
	ErrTxContention = errors.New("store: transaction contention")
)

// Store is an observable, path-addressed key-value store. Paths are
// slash-separated, e.g. "liveWorkouts/{sessionId}/exercises/{exerciseId}".
//
// Within one path, committed writes are delivered to every observer in
// commit order. No ordering is guaranteed across distinct paths; callers
// must not depend on cross-path interleaving.
//
// One Store value represents one logical client connection: disconnect
// hooks registered through it fire when that connection is lost (or closed)
// without an explicit CancelOnDisconnect.
type Store interface {
	// Read returns the subtree at path, or nil if absent.
	Read(ctx context.Context, path string) (Value, error)
	// Write overwrites the node at path with value.
	Write(ctx context.Context, path string, value Value) error
	// Update merges the given fields shallowly into the node at path.
	Update(ctx context.Context, path string, fields map[string]Value) error
	// Remove deletes the subtree at path. Removing an absent path is a no-op.
	Remove(ctx context.Context, path string) error
	// Observe attaches a cancellable stream of events at path. The caller
	// must call Subscription.Cancel when done; leaked subscriptions are a
	// resource leak.
	Observe(ctx context.Context, path string, kind EventKind) (*Subscription, error)
	// Transaction atomically applies fn to the value at path, retrying on
	// conflict, and returns the committed value.
	Transaction(ctx context.Context, path string, fn TxFunc) (Value, error)
	// RegisterOnDisconnect arranges for value to be written to path when
	// this connection is lost without explicit cleanup.
	RegisterOnDisconnect(ctx context.Context, path string, value Value) error
	// CancelOnDisconnect drops a previously registered disconnect write.
	CancelOnDisconnect(ctx context.Context, path string) error
	// Close releases the connection, firing any registered disconnect writes.
	Close() error
}

// Subscription is a handle on an observation stream. Events is closed after
// Cancel; Cancel is idempotent and safe from any goroutine.
type Subscription struct {
	events chan Event
	cancel func()
	once   sync.Once
}

func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Cancel() { s.once.Do(s.cancel) }

// Encode converts a struct into a store Value via its JSON form.
func Encode(v any) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out Value
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode fills out from a store Value via its JSON form.
func Decode(v Value, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, ErrPathInvalid
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, ErrPathInvalid
		}
	}
	return segs, nil
}

func joinPath(segs []string) string { return strings.Join(segs, "/") }

// isPrefix reports whether a is a (non-strict) segment-wise prefix of b.
func isPrefix(a, b []string) bool {
	if len(a) > len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
