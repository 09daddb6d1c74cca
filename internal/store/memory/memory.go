// Package memory is the in-process reference backend. It is the store the
// test suites run against and doubles as a dev-mode backend when neither
// Redis nor Postgres is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samuelcolman2/cantina-icone/internal/store"
)

const subscriberBuffer = 16

// Store keeps the leaf tree under a single RWMutex. Every mutating call is
// atomic with respect to readers and subscribers.
type Store struct {
	mu        sync.RWMutex
	leaves    map[string]json.RawMessage
	clock     func() time.Time
	subs      map[int]*subscriber
	nextSubID int

	failAll   error
	failPaths map[string]error
}

type subscriber struct {
	path string
	ch   chan store.Snapshot
	once sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the clock used to resolve server timestamps. Tests use
// this to pin the backend time.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		leaves:    make(map[string]json.RawMessage),
		clock:     time.Now,
		subs:      make(map[int]*subscriber),
		failPaths: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailWrites makes every subsequent mutating call fail with err until
// called again with nil. Simulates a backend outage.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
}

// FailPath makes mutating calls that target exactly path fail with err.
// Used to simulate partial fan-out failures.
func (s *Store) FailPath(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failPaths, path)
		return
	}
	s.failPaths[path] = err
}

func (s *Store) writeError(paths ...string) error {
	if s.failAll != nil {
		return s.failAll
	}
	for _, p := range paths {
		if err, ok := s.failPaths[p]; ok {
			return err
		}
	}
	return nil
}

func (s *Store) Get(_ context.Context, path string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(path)
}

func (s *Store) getLocked(path string) (json.RawMessage, error) {
	if raw, ok := s.leaves[path]; ok {
		return raw, nil
	}
	subtree := s.collectLocked(path)
	if len(subtree) == 0 {
		return nil, store.ErrNotFound
	}
	return store.Assemble(subtree)
}

// collectLocked returns the leaves strictly below path, keyed relative to it.
func (s *Store) collectLocked(path string) map[string]json.RawMessage {
	prefix := path + "/"
	subtree := make(map[string]json.RawMessage)
	for leaf, raw := range s.leaves {
		if strings.HasPrefix(leaf, prefix) {
			subtree[leaf[len(prefix):]] = raw
		}
	}
	return subtree
}

func (s *Store) Children(_ context.Context, path string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grouped := make(map[string]map[string]json.RawMessage)
	for rel, raw := range s.collectLocked(path) {
		name, rest, found := strings.Cut(rel, "/")
		if !found {
			rest = ""
		}
		if grouped[name] == nil {
			grouped[name] = make(map[string]json.RawMessage)
		}
		grouped[name][rest] = raw
	}

	children := make(map[string]json.RawMessage, len(grouped))
	for name, subtree := range grouped {
		assembled, err := store.Assemble(subtree)
		if err != nil {
			return nil, fmt.Errorf("child %q: %w", name, err)
		}
		children[name] = assembled
	}
	return children, nil
}

func (s *Store) Set(_ context.Context, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeError(path); err != nil {
		return err
	}
	leaves, err := store.Flatten(value, s.clock())
	if err != nil {
		return err
	}
	s.replaceLocked(path, leaves)
	s.notifyLocked(path)
	return nil
}

func (s *Store) replaceLocked(path string, leaves map[string]json.RawMessage) {
	s.deleteLocked(path)
	for rel, raw := range leaves {
		full := path
		if rel != "" {
			full = path + "/" + rel
		}
		s.leaves[full] = raw
	}
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeError(path); err != nil {
		return err
	}
	s.deleteLocked(path)
	s.notifyLocked(path)
	return nil
}

func (s *Store) deleteLocked(path string) {
	delete(s.leaves, path)
	prefix := path + "/"
	for leaf := range s.leaves {
		if strings.HasPrefix(leaf, prefix) {
			delete(s.leaves, leaf)
		}
	}
}

// ApplyIncrements validates every target before touching any of them, so a
// rejected batch leaves no trace.
func (s *Store) ApplyIncrements(_ context.Context, batch store.IncrementBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(batch))
	for p := range batch {
		paths = append(paths, p)
	}
	if err := s.writeError(paths...); err != nil {
		return err
	}

	current := make(map[string]int64, len(batch))
	for p := range batch {
		raw, ok := s.leaves[p]
		if !ok {
			current[p] = 0
			continue
		}
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", store.ErrNotCounter, p)
		}
		current[p] = n
	}

	for p, delta := range batch {
		s.leaves[p] = json.RawMessage(strconv.FormatInt(current[p]+delta, 10))
	}
	s.notifyLocked(paths...)
	return nil
}

func (s *Store) Append(_ context.Context, path string, record any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeError(path); err != nil {
		return "", err
	}
	leaves, err := store.Flatten(record, s.clock())
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.replaceLocked(path+"/"+id, leaves)
	s.notifyLocked(path + "/" + id)
	return id, nil
}

// Subscribe registers a watcher on a subtree. The current snapshot is
// delivered immediately, then a fresh one after every related change. Slow
// consumers skip intermediate snapshots but always receive the latest.
func (s *Store) Subscribe(_ context.Context, path string) (<-chan store.Snapshot, store.UnsubscribeFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber{path: path, ch: make(chan store.Snapshot, subscriberBuffer)}
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = sub
	sub.deliver(s.snapshotLocked(path))

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; !ok {
			return
		}
		delete(s.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, unsubscribe, nil
}

func (s *Store) snapshotLocked(path string) store.Snapshot {
	data, err := s.getLocked(path)
	if err != nil {
		data = nil
	}
	return store.Snapshot{Path: path, Data: data}
}

func (s *Store) notifyLocked(changed ...string) {
	for _, sub := range s.subs {
		for _, path := range changed {
			if store.Related(sub.path, path) {
				sub.deliver(s.snapshotLocked(sub.path))
				break
			}
		}
	}
}

// deliver never blocks: when the buffer is full the oldest snapshot is
// dropped in favor of the newer one.
func (sub *subscriber) deliver(snap store.Snapshot) {
	select {
	case sub.ch <- snap:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snap:
	default:
	}
}
