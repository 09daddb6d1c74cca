package domain

// Product is a catalog item sold at the canteen counter. The ID is the
// store path key and is not persisted inside the record.
type Product struct {
	ID        string  `json:"-"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Stock     int     `json:"stock"`
	Sold      int     `json:"sold"`
	Category  string  `json:"category"`
	Image     string  `json:"image,omitempty"`
	CreatedAt int64   `json:"createdAt,omitempty"`
}

// Revenue is the all-time revenue attributed to the product.
func (p Product) Revenue() float64 {
	return p.Price * float64(p.Sold)
}
