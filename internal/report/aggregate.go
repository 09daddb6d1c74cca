// Package report derives dashboard aggregates from the current product
// collection. Everything here is pure and synchronous: the UI recomputes
// on every snapshot instead of persisting aggregate tables.
package report

import (
	"sort"

	"github.com/samuelcolman2/cantina-icone/internal/domain"
)

// TopN is how many products a category ranking shows individually before
// the remainder collapses into the Others slice.
const TopN = 4

// OthersLabel names the synthetic bucket holding everything below the
// ranking cutoff.
const OthersLabel = "Others"

// CategoryTotal accumulates units sold and revenue for one category.
type CategoryTotal struct {
	Sold    int
	Revenue float64
}

// Summary is the KPI block at the top of the dashboard.
type Summary struct {
	Products   int
	Sold       int
	Revenue    float64
	Categories map[string]CategoryTotal
}

// Totals sums sold units and revenue per category and overall. Products in
// a category absent from categories still count toward the overall totals,
// mirroring how the dashboard treats an unregistered category.
func Totals(products []domain.Product, categories []string) Summary {
	summary := Summary{
		Products:   len(products),
		Categories: make(map[string]CategoryTotal, len(categories)),
	}
	for _, cat := range categories {
		summary.Categories[cat] = CategoryTotal{}
	}
	for _, p := range products {
		summary.Sold += p.Sold
		summary.Revenue += p.Revenue()
		if total, ok := summary.Categories[p.Category]; ok {
			total.Sold += p.Sold
			total.Revenue += p.Revenue()
			summary.Categories[p.Category] = total
		}
	}
	return summary
}

// Slice is one wedge of a category ranking chart.
type Slice struct {
	Label string
	Value float64
}

// Ranking returns the category's products with sales, as revenue slices in
// descending order: the top four individually, then an Others slice
// holding the sum of the rest. Ties keep the input order, so the result is
// deterministic for a given product list. The slice values always sum to
// the category's total revenue.
func Ranking(products []domain.Product, category string) []Slice {
	ranked := CategoryDetail(products, category)
	if len(ranked) == 0 {
		return nil
	}

	top := ranked
	if len(top) > TopN {
		top = top[:TopN]
	}
	slices := make([]Slice, 0, len(top)+1)
	for _, p := range top {
		slices = append(slices, Slice{Label: p.Name, Value: p.Revenue})
	}
	if len(ranked) > TopN {
		var rest float64
		for _, p := range ranked[TopN:] {
			rest += p.Revenue
		}
		slices = append(slices, Slice{Label: OthersLabel, Value: rest})
	}
	return slices
}

// RankedProduct pairs a product with its computed revenue.
type RankedProduct struct {
	domain.Product
	Revenue float64
}

// CategoryDetail lists a category's products with at least one sale,
// sorted by revenue descending with stable ties. Used for the full
// per-category breakdown table; no bucketing.
func CategoryDetail(products []domain.Product, category string) []RankedProduct {
	var ranked []RankedProduct
	for _, p := range products {
		if p.Category != category || p.Sold <= 0 {
			continue
		}
		ranked = append(ranked, RankedProduct{Product: p, Revenue: p.Revenue()})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Revenue > ranked[j].Revenue
	})
	return ranked
}
