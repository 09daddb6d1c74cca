// Package ledger is the read model over the append-only sales log. A Feed
// consumes the store's snapshot stream and keeps an in-memory view for the
// recent-sales panel and the per-product history report.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samuelcolman2/cantina-icone/internal/domain"
	"github.com/samuelcolman2/cantina-icone/internal/sales"
	"github.com/samuelcolman2/cantina-icone/internal/store"
)

// RecentLimit caps the recent-sales view, matching the window the
// dashboard subscribes to.
const RecentLimit = 100

// Feed mirrors the sales log. It owns no business state: the store is the
// source of truth and every snapshot replaces the previous view.
type Feed struct {
	loc *time.Location

	mu      sync.RWMutex
	entries []domain.SaleLogEntry // newest first

	unsubscribe store.UnsubscribeFunc
	done        chan struct{}
}

// Follow subscribes to the sales log and keeps the feed current until
// Close is called. The first snapshot is applied before Follow returns.
func Follow(ctx context.Context, st store.Store, loc *time.Location) (*Feed, error) {
	ch, unsubscribe, err := st.Subscribe(ctx, store.SalesLogPath)
	if err != nil {
		return nil, fmt.Errorf("subscribe sales log: %w", err)
	}

	f := &Feed{loc: loc, unsubscribe: unsubscribe, done: make(chan struct{})}
	select {
	case snap, ok := <-ch:
		if ok {
			f.apply(snap)
		}
	case <-ctx.Done():
		unsubscribe()
		return nil, ctx.Err()
	}
	go f.run(ch)
	return f, nil
}

// Close tears down the subscription and waits for the feed goroutine.
func (f *Feed) Close() {
	f.unsubscribe()
	<-f.done
}

func (f *Feed) run(ch <-chan store.Snapshot) {
	defer close(f.done)
	for snap := range ch {
		f.apply(snap)
	}
}

func (f *Feed) apply(snap store.Snapshot) {
	entries := decodeEntries(snap.Data)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		return entries[i].ID > entries[j].ID
	})

	f.mu.Lock()
	f.entries = entries
	f.mu.Unlock()
}

func decodeEntries(data json.RawMessage) []domain.SaleLogEntry {
	if len(data) == 0 {
		return nil
	}
	var byID map[string]domain.SaleLogEntry
	if err := json.Unmarshal(data, &byID); err != nil {
		return nil
	}
	entries := make([]domain.SaleLogEntry, 0, len(byID))
	for id, entry := range byID {
		entry.ID = id
		entries = append(entries, entry)
	}
	return entries
}

// Recent returns up to limit entries, newest first. A non-positive limit
// or anything above RecentLimit is clamped to RecentLimit.
func (f *Feed) Recent(limit int) []domain.SaleLogEntry {
	if limit <= 0 || limit > RecentLimit {
		limit = RecentLimit
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	out := make([]domain.SaleLogEntry, limit)
	copy(out, f.entries[:limit])
	return out
}

// DayGroup holds one product's sales on one local calendar date.
type DayGroup struct {
	Date    string // YYYY-MM-DD
	Entries []domain.SaleLogEntry
}

// ProductHistory groups a product's sales by local calendar date, newest
// date first; entries within a day stay newest first.
func (f *Feed) ProductHistory(productID string) []DayGroup {
	f.mu.RLock()
	defer f.mu.RUnlock()

	byDate := make(map[string][]domain.SaleLogEntry)
	var dates []string
	for _, entry := range f.entries {
		if entry.ProductID != productID {
			continue
		}
		key := sales.DateKey(entry.Time(), f.loc)
		if _, seen := byDate[key]; !seen {
			dates = append(dates, key)
		}
		byDate[key] = append(byDate[key], entry)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	groups := make([]DayGroup, 0, len(dates))
	for _, date := range dates {
		groups = append(groups, DayGroup{Date: date, Entries: byDate[date]})
	}
	return groups
}

// ProductSalesOn returns a product's sales on the given date key, newest
// first.
func (f *Feed) ProductSalesOn(productID, dateKey string) []domain.SaleLogEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []domain.SaleLogEntry
	for _, entry := range f.entries {
		if entry.ProductID == productID && sales.DateKey(entry.Time(), f.loc) == dateKey {
			out = append(out, entry)
		}
	}
	return out
}
