// Package inventory holds the administrative side of the product catalog:
// creating and editing products, direct stock adjustments, and the live
// product view the sale counter renders from. Counter mutations during a
// sale belong to the sales package, not here.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/samuelcolman2/cantina-icone/internal/domain"
	"github.com/samuelcolman2/cantina-icone/internal/store"
)

var (
	ErrNameRequired    = errors.New("product name is required")
	ErrInvalidPrice    = errors.New("price must be >= 0")
	ErrInvalidStock    = errors.New("stock must be >= 0")
	ErrProductNotFound = errors.New("product not found")
)

type Service struct {
	store store.Store
	log   *zap.Logger
}

func NewService(st store.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, log: log}
}

// NewProduct carries the fields an admin fills in when registering a
// product. Sold always starts at zero.
type NewProduct struct {
	Name     string
	Price    float64
	Stock    int
	Category string
	Image    string
}

func (s *Service) CreateProduct(ctx context.Context, np NewProduct) (string, error) {
	np.Name = strings.TrimSpace(np.Name)
	if np.Name == "" {
		return "", ErrNameRequired
	}
	if np.Price < 0 {
		return "", ErrInvalidPrice
	}
	if np.Stock < 0 {
		return "", ErrInvalidStock
	}

	record := struct {
		Name      string  `json:"name"`
		Price     float64 `json:"price"`
		Stock     int     `json:"stock"`
		Sold      int     `json:"sold"`
		Category  string  `json:"category"`
		Image     string  `json:"image,omitempty"`
		CreatedAt any     `json:"createdAt"`
	}{
		Name:      np.Name,
		Price:     np.Price,
		Stock:     np.Stock,
		Category:  np.Category,
		Image:     np.Image,
		CreatedAt: store.ServerTimestamp,
	}
	id, err := s.store.Append(ctx, store.ProductsPath, record)
	if err != nil {
		return "", fmt.Errorf("create product: %w", err)
	}
	s.log.Info("product created", zap.String("product_id", id), zap.String("name", np.Name))
	return id, nil
}

// ProductUpdate is a partial edit; nil fields are left untouched. Updates
// are field-level writes with last-writer-wins semantics, which is fine
// for these non-incrementing fields.
type ProductUpdate struct {
	Name     *string
	Price    *float64
	Category *string
	Image    *string
}

func (s *Service) UpdateProduct(ctx context.Context, id string, upd ProductUpdate) error {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return ErrNameRequired
	}
	if upd.Price != nil && *upd.Price < 0 {
		return ErrInvalidPrice
	}
	if _, err := s.GetProduct(ctx, id); err != nil {
		return err
	}

	fields := map[string]any{}
	if upd.Name != nil {
		fields["name"] = strings.TrimSpace(*upd.Name)
	}
	if upd.Price != nil {
		fields["price"] = *upd.Price
	}
	if upd.Category != nil {
		fields["category"] = *upd.Category
	}
	if upd.Image != nil {
		fields["image"] = *upd.Image
	}
	for field, value := range fields {
		if err := s.store.Set(ctx, store.ProductField(id, field), value); err != nil {
			return fmt.Errorf("update product %s field %s: %w", id, field, err)
		}
	}
	return nil
}

// SetStock overwrites the stock counter with an absolute value, the
// restock path used by the stock management screen.
func (s *Service) SetStock(ctx context.Context, id string, stock int) error {
	if stock < 0 {
		return ErrInvalidStock
	}
	if _, err := s.GetProduct(ctx, id); err != nil {
		return err
	}
	if err := s.store.Set(ctx, store.ProductField(id, "stock"), stock); err != nil {
		return fmt.Errorf("set stock for %s: %w", id, err)
	}
	return nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.GetProduct(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, store.ProductPath(id)); err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	s.log.Info("product deleted", zap.String("product_id", id))
	return nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	raw, err := s.store.Get(ctx, store.ProductPath(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	var product domain.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", id, err)
	}
	product.ID = id
	return &product, nil
}

// Products lists the catalog sorted by name.
func (s *Service) Products(ctx context.Context) ([]domain.Product, error) {
	children, err := s.store.Children(ctx, store.ProductsPath)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return decodeProducts(children), nil
}

// Search filters products by case-insensitive name substring.
func (s *Service) Search(ctx context.Context, query string) ([]domain.Product, error) {
	products, err := s.Products(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return products, nil
	}
	filtered := products[:0]
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), query) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// Watch delivers the sorted product list on every catalog change, starting
// with the current state. The returned channel closes on unsubscribe.
func (s *Service) Watch(ctx context.Context) (<-chan []domain.Product, store.UnsubscribeFunc, error) {
	snapshots, unsubscribe, err := s.store.Subscribe(ctx, store.ProductsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("watch products: %w", err)
	}

	out := make(chan []domain.Product, 1)
	go func() {
		defer close(out)
		for snap := range snapshots {
			var byID map[string]json.RawMessage
			if len(snap.Data) > 0 {
				if err := json.Unmarshal(snap.Data, &byID); err != nil {
					s.log.Warn("malformed products snapshot", zap.Error(err))
					continue
				}
			}
			deliver(out, decodeProducts(byID))
		}
	}()
	return out, unsubscribe, nil
}

// deliver never blocks: a stale unread list is replaced by the newer one.
func deliver(out chan []domain.Product, products []domain.Product) {
	select {
	case out <- products:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- products:
	default:
	}
}

func decodeProducts(byID map[string]json.RawMessage) []domain.Product {
	products := make([]domain.Product, 0, len(byID))
	for id, raw := range byID {
		var p domain.Product
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		p.ID = id
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products
}
