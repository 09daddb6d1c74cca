// Package redis backs the store contract with Redis. Leaves live as flat
// string keys under a configurable prefix, increment batches run inside a
// Lua script so they are all-or-nothing, server timestamps come from the
// Redis TIME command and the change feed rides Pub/Sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/samuelcolman2/cantina-icone/internal/store"
)

// incrScript validates every target before writing any of them: a batch
// aimed at a non-integer leaf is rejected untouched.
var incrScript = redis.NewScript(`
local current = {}
for i, key in ipairs(KEYS) do
  local v = redis.call('GET', key)
  if v == false then
    current[i] = 0
  else
    local n = tonumber(v)
    if n == nil or string.find(v, '[.eE]') then
      return redis.error_reply('NOTCOUNTER ' .. key)
    end
    current[i] = n
  end
end
for i, key in ipairs(KEYS) do
  redis.call('SET', key, string.format('%d', current[i] + tonumber(ARGV[i])))
end
return #KEYS
`)

type Store struct {
	client  *redis.Client
	prefix  string
	channel string
}

// New connects a store rooted at the given key prefix. Two deployments
// with different prefixes share a Redis without seeing each other.
func New(addr, password string, db int, prefix string) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(client, prefix)
}

func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "cantina"
	}
	return &Store{
		client:  client,
		prefix:  prefix,
		channel: prefix + "!changes",
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return wrapErr(s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(path string) string {
	return s.prefix + "/" + path
}

func (s *Store) path(key string) string {
	return strings.TrimPrefix(key, s.prefix+"/")
}

func (s *Store) serverNow(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, wrapErr(err)
	}
	return t, nil
}

// subtreeKeys lists the keys strictly below path.
func (s *Store) subtreeKeys(ctx context.Context, path string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.key(path)+"/*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return keys, nil
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	raw, err := s.client.Get(ctx, s.key(path)).Result()
	if err == nil {
		return json.RawMessage(raw), nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, wrapErr(err)
	}

	subtree, err := s.loadSubtree(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(subtree) == 0 {
		return nil, store.ErrNotFound
	}
	return store.Assemble(subtree)
}

// loadSubtree fetches the leaves below path keyed relative to it.
func (s *Store) loadSubtree(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	keys, err := s.subtreeKeys(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapErr(err)
	}

	prefix := path + "/"
	subtree := make(map[string]json.RawMessage, len(keys))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // deleted between SCAN and MGET
		}
		subtree[strings.TrimPrefix(s.path(keys[i]), prefix)] = json.RawMessage(raw)
	}
	return subtree, nil
}

func (s *Store) Children(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	subtree, err := s.loadSubtree(ctx, path)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string]map[string]json.RawMessage)
	for rel, raw := range subtree {
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
	for name, leaves := range grouped {
		assembled, err := store.Assemble(leaves)
		if err != nil {
			return nil, fmt.Errorf("child %q: %w", name, err)
		}
		children[name] = assembled
	}
	return children, nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	now, err := s.serverNow(ctx)
	if err != nil {
		return err
	}
	leaves, err := store.Flatten(value, now)
	if err != nil {
		return err
	}
	stale, err := s.subtreeKeys(ctx, path)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, append(stale, s.key(path))...)
	for rel, raw := range leaves {
		full := path
		if rel != "" {
			full = path + "/" + rel
		}
		pipe.Set(ctx, s.key(full), string(raw), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr(err)
	}
	s.publish(ctx, path)
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	stale, err := s.subtreeKeys(ctx, path)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, append(stale, s.key(path))...).Err(); err != nil {
		return wrapErr(err)
	}
	s.publish(ctx, path)
	return nil
}

func (s *Store) ApplyIncrements(ctx context.Context, batch store.IncrementBatch) error {
	keys := make([]string, 0, len(batch))
	deltas := make([]any, 0, len(batch))
	paths := make([]string, 0, len(batch))
	for path, delta := range batch {
		keys = append(keys, s.key(path))
		deltas = append(deltas, delta)
		paths = append(paths, path)
	}

	if err := incrScript.Run(ctx, s.client, keys, deltas...).Err(); err != nil {
		if strings.Contains(err.Error(), "NOTCOUNTER") {
			return fmt.Errorf("%w: %s", store.ErrNotCounter, err)
		}
		return wrapErr(err)
	}
	for _, path := range paths {
		s.publish(ctx, path)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, path string, record any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, path+"/"+id, record); err != nil {
		return "", err
	}
	return id, nil
}

// Subscribe delivers the current snapshot, then a fresh one whenever a
// published change touches the watched subtree.
func (s *Store) Subscribe(ctx context.Context, path string) (<-chan store.Snapshot, store.UnsubscribeFunc, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, wrapErr(err)
	}

	out := make(chan store.Snapshot, 1)
	snap, err := s.snapshot(ctx, path)
	if err != nil {
		pubsub.Close()
		return nil, nil, err
	}
	out <- snap

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			if !store.Related(path, msg.Payload) {
				continue
			}
			snap, err := s.snapshot(ctx, path)
			if err != nil {
				continue // transient; next change triggers a re-read
			}
			deliver(out, snap)
		}
	}()
	return out, func() { pubsub.Close() }, nil
}

func (s *Store) snapshot(ctx context.Context, path string) (store.Snapshot, error) {
	data, err := s.Get(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return store.Snapshot{Path: path}, nil
	}
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: path, Data: data}, nil
}

func (s *Store) publish(ctx context.Context, path string) {
	// Best effort: a missed publication only delays the next snapshot.
	_ = s.client.Publish(ctx, s.channel, path).Err()
}

func deliver(out chan store.Snapshot, snap store.Snapshot) {
	select {
	case out <- snap:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- snap:
	default:
	}
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
