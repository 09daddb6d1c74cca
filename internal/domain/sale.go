package domain

import "time"

// SaleLogEntry is one confirmed sale in the append-only ledger. Name and
// price are denormalized snapshots of the product at sale time; the entry
// is never mutated after it is written. Timestamp is milliseconds since
// the Unix epoch, assigned by the backend clock.
type SaleLogEntry struct {
	ID          string  `json:"-"`
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Price       float64 `json:"price"`
	Timestamp   int64   `json:"timestamp"`
}

// Time converts the server-assigned timestamp to a time.Time.
func (e SaleLogEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
