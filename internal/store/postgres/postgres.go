// Package postgres backs the store contract with PostgreSQL. Leaves live
// in a single table keyed by path, increment batches run in one
// transaction and the change feed rides LISTEN/NOTIFY via a row trigger
// (see migrations/).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/samuelcolman2/cantina-icone/internal/store"
)

const notifyChannel = "leaf_changes"

type Store struct {
	db  *sql.DB
	dsn string
}

// Open connects to the database. The DSN is kept for the dedicated LISTEN
// connections that subscriptions open.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Store{db: db, dsn: dsn}, nil
}

// NewWithDB wraps an existing pool; dsn is still required for Subscribe.
func NewWithDB(db *sql.DB, dsn string) *Store {
	return &Store{db: db, dsn: dsn}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value::text FROM leaves WHERE path = $1`, path).Scan(&raw)
	if err == nil {
		return json.RawMessage(raw), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
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

func (s *Store) loadSubtree(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value::text FROM leaves WHERE path LIKE $1 ESCAPE '\'`,
		likePrefix(path))
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	prefix := path + "/"
	subtree := make(map[string]json.RawMessage)
	for rows.Next() {
		var leaf, raw string
		if err := rows.Scan(&leaf, &raw); err != nil {
			return nil, wrapErr(err)
		}
		subtree[strings.TrimPrefix(leaf, prefix)] = json.RawMessage(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	now, err := serverNow(ctx, tx)
	if err != nil {
		return err
	}
	leaves, err := store.Flatten(value, now)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM leaves WHERE path = $1 OR path LIKE $2 ESCAPE '\'`,
		path, likePrefix(path)); err != nil {
		return wrapErr(err)
	}
	for rel, raw := range leaves {
		full := path
		if rel != "" {
			full = path + "/" + rel
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leaves (path, value) VALUES ($1, $2::jsonb)`,
			full, string(raw)); err != nil {
			return wrapErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leaves WHERE path = $1 OR path LIKE $2 ESCAPE '\'`,
		path, likePrefix(path))
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

// ApplyIncrements locks the target rows in a stable order, validates every
// leaf, then writes. A rejected batch rolls back untouched.
func (s *Store) ApplyIncrements(ctx context.Context, batch store.IncrementBatch) error {
	paths := make([]string, 0, len(batch))
	for p := range batch {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	current := make(map[string]int64, len(batch))
	for _, p := range paths {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT value::text FROM leaves WHERE path = $1 FOR UPDATE`, p).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			current[p] = 0
			continue
		}
		if err != nil {
			return wrapErr(err)
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", store.ErrNotCounter, p)
		}
		current[p] = n
	}

	for _, p := range paths {
		next := strconv.FormatInt(current[p]+batch[p], 10)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leaves (path, value) VALUES ($1, $2::jsonb)
			 ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			p, next); err != nil {
			return wrapErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(err)
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

// Subscribe opens a dedicated LISTEN connection; the row trigger installed
// by the migrations notifies the changed path on every write.
func (s *Store) Subscribe(ctx context.Context, path string) (<-chan store.Snapshot, store.UnsubscribeFunc, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, nil, wrapErr(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Close(ctx)
		return nil, nil, wrapErr(err)
	}

	out := make(chan store.Snapshot, 1)
	snap, err := s.snapshot(ctx, path)
	if err != nil {
		conn.Close(ctx)
		return nil, nil, err
	}
	out <- snap

	waitCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(out)
		defer conn.Close(context.Background())
		for {
			notification, err := conn.WaitForNotification(waitCtx)
			if err != nil {
				return
			}
			if !store.Related(path, notification.Payload) {
				continue
			}
			snap, err := s.snapshot(waitCtx, path)
			if err != nil {
				continue // transient; next change triggers a re-read
			}
			deliver(out, snap)
		}
	}()
	return out, func() { cancel() }, nil
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

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func serverNow(ctx context.Context, q queryRower) (time.Time, error) {
	var millis int64
	err := q.QueryRowContext(ctx,
		`SELECT (extract(epoch FROM clock_timestamp()) * 1000)::bigint`).Scan(&millis)
	if err != nil {
		return time.Time{}, wrapErr(err)
	}
	return time.UnixMilli(millis), nil
}

// likePrefix builds the pattern matching leaves strictly below path.
func likePrefix(path string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(path)
	return escaped + "/%"
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
