// Package sales implements the sale/unsell consistency contract. A sale is
// one all-or-nothing increment batch over the product counters and today's
// daily counter, followed by a best-effort ledger append. An unsell
// reverses the batch and leaves the ledger untouched.
package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/samuelcolman2/cantina-icone/internal/domain"
	"github.com/samuelcolman2/cantina-icone/internal/store"
)

var (
	ErrProductNotFound = errors.New("product not found")
)

// Clock supplies the instant used to derive the daily partition key. It is
// injected so date rollover is testable.
type Clock func() time.Time

// Coordinator orchestrates sells and unsells against the store.
//
// The counters rely on the backend's relative increments, never on a
// client-cached read-modify-write, so concurrent sellers accumulate
// correctly. There is no server-side guard against negative counters: the
// UI is expected to disable sell at stock<=0 and unsell at soldToday<=0,
// and a call past those preconditions drives the counter negative rather
// than being clamped.
type Coordinator struct {
	store store.Store
	clock Clock
	loc   *time.Location
	log   *zap.Logger
}

func NewCoordinator(st store.Store, clock Clock, loc *time.Location, log *zap.Logger) *Coordinator {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{store: st, clock: clock, loc: loc, log: log}
}

type saleRecord struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Price       float64 `json:"price"`
	Timestamp   any     `json:"timestamp"`
}

// Sell decrements stock, increments the all-time and today's counters as
// one atomic batch, then appends a ledger entry. If the batch fails, no
// counter changes and no entry is written. If only the append fails the
// sale still counts: the miss is logged, not surfaced, so a ledger outage
// never blocks the counter.
func (c *Coordinator) Sell(ctx context.Context, productID string) error {
	product, err := c.getProduct(ctx, productID)
	if err != nil {
		return err
	}

	day := DateKey(c.clock(), c.loc)
	batch := store.IncrementBatch{
		store.ProductField(productID, "stock"): -1,
		store.ProductField(productID, "sold"):  1,
		store.DailyCountPath(day, productID):   1,
	}
	if err := c.store.ApplyIncrements(ctx, batch); err != nil {
		return fmt.Errorf("sell %s: %w", productID, err)
	}

	record := saleRecord{
		ProductID:   productID,
		ProductName: product.Name,
		Price:       product.Price,
		Timestamp:   store.ServerTimestamp,
	}
	if _, err := c.store.Append(ctx, store.SalesLogPath, record); err != nil {
		c.log.Warn("sales log append failed after committed sale",
			zap.String("product_id", productID),
			zap.String("product_name", product.Name),
			zap.Error(err),
		)
	}
	return nil
}

// Unsell reverses a prior sale's counter effects in one atomic batch. No
// compensating ledger entry is written; the log keeps the original sale.
func (c *Coordinator) Unsell(ctx context.Context, productID string) error {
	if _, err := c.getProduct(ctx, productID); err != nil {
		return err
	}

	day := DateKey(c.clock(), c.loc)
	batch := store.IncrementBatch{
		store.ProductField(productID, "stock"): 1,
		store.ProductField(productID, "sold"):  -1,
		store.DailyCountPath(day, productID):   -1,
	}
	if err := c.store.ApplyIncrements(ctx, batch); err != nil {
		return fmt.Errorf("unsell %s: %w", productID, err)
	}
	return nil
}

// SoldToday reads today's counter for a product. Missing counters read as
// zero: the lazy (day, product) entry is only created by the first sale.
func (c *Coordinator) SoldToday(ctx context.Context, productID string) (int, error) {
	day := DateKey(c.clock(), c.loc)
	raw, err := c.store.Get(ctx, store.DailyCountPath(day, productID))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("daily count %s/%s: %w", day, productID, err)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("daily count %s/%s: %w", day, productID, err)
	}
	return n, nil
}

func (c *Coordinator) getProduct(ctx context.Context, productID string) (*domain.Product, error) {
	raw, err := c.store.Get(ctx, store.ProductPath(productID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", productID, err)
	}
	var product domain.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", productID, err)
	}
	product.ID = productID
	return &product, nil
}
