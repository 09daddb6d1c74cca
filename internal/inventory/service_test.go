package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samuelcolman2/cantina-icone/internal/domain"
	"github.com/samuelcolman2/cantina-icone/internal/store"
	"github.com/samuelcolman2/cantina-icone/internal/store/memory"
)

func newService() (*Service, *memory.Store) {
	st := memory.New()
	return NewService(st, nil), st
}

func TestCreateProduct(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	id, err := svc.CreateProduct(ctx, NewProduct{
		Name:     "  Coxinha  ",
		Price:    4.5,
		Stock:    12,
		Category: "Salgados",
	})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	product, err := svc.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if product.Name != "Coxinha" {
		t.Errorf("expected trimmed name, got %q", product.Name)
	}
	if product.Price != 4.5 || product.Stock != 12 || product.Category != "Salgados" {
		t.Errorf("unexpected product: %+v", product)
	}
	if product.Sold != 0 {
		t.Errorf("sold must start at zero, got %d", product.Sold)
	}
	if product.CreatedAt == 0 {
		t.Error("expected a server-assigned creation timestamp")
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	cases := []struct {
		name string
		np   NewProduct
		want error
	}{
		{"blank name", NewProduct{Name: "   ", Price: 1}, ErrNameRequired},
		{"negative price", NewProduct{Name: "A", Price: -1}, ErrInvalidPrice},
		{"negative stock", NewProduct{Name: "A", Price: 1, Stock: -1}, ErrInvalidStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateProduct(ctx, tc.np); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}

	products, err := svc.Products(ctx)
	if err != nil {
		t.Fatalf("Products failed: %v", err)
	}
	if len(products) != 0 {
		t.Errorf("rejected products reached the store: %v", products)
	}
}

func TestUpdateProductPartialFields(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	id, err := svc.CreateProduct(ctx, NewProduct{Name: "Coxinha", Price: 4.5, Stock: 10, Category: "Salgados"})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	price := 5.0
	if err := svc.UpdateProduct(ctx, id, ProductUpdate{Price: &price}); err != nil {
		t.Fatalf("UpdateProduct failed: %v", err)
	}

	product, err := svc.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if product.Price != 5.0 {
		t.Errorf("price not updated: %v", product.Price)
	}
	if product.Name != "Coxinha" || product.Stock != 10 || product.Category != "Salgados" {
		t.Errorf("untouched fields changed: %+v", product)
	}
}

func TestUpdateProductValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	id, err := svc.CreateProduct(ctx, NewProduct{Name: "Coxinha", Price: 4.5})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	blank := " "
	if err := svc.UpdateProduct(ctx, id, ProductUpdate{Name: &blank}); !errors.Is(err, ErrNameRequired) {
		t.Errorf("expected ErrNameRequired, got %v", err)
	}
	negative := -2.0
	if err := svc.UpdateProduct(ctx, id, ProductUpdate{Price: &negative}); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
	name := "X"
	if err := svc.UpdateProduct(ctx, "ghost", ProductUpdate{Name: &name}); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got %v", err)
	}
}

func TestSetStock(t *testing.T) {
	svc, st := newService()
	ctx := context.Background()

	id, err := svc.CreateProduct(ctx, NewProduct{Name: "Coxinha", Price: 4.5, Stock: 2})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	if err := svc.SetStock(ctx, id, 50); err != nil {
		t.Fatalf("SetStock failed: %v", err)
	}
	product, err := svc.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if product.Stock != 50 {
		t.Errorf("expected stock 50, got %d", product.Stock)
	}

	if err := svc.SetStock(ctx, id, -1); !errors.Is(err, ErrInvalidStock) {
		t.Errorf("expected ErrInvalidStock, got %v", err)
	}

	// The restock is an absolute write, still a plain integer leaf that
	// increment batches can target afterwards.
	if err := st.ApplyIncrements(ctx, store.IncrementBatch{store.ProductField(id, "stock"): -1}); err != nil {
		t.Errorf("stock leaf no longer incrementable: %v", err)
	}
}

func TestDeleteProduct(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	id, err := svc.CreateProduct(ctx, NewProduct{Name: "Coxinha", Price: 4.5})
	if err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}
	if err := svc.DeleteProduct(ctx, id); err != nil {
		t.Fatalf("DeleteProduct failed: %v", err)
	}
	if _, err := svc.GetProduct(ctx, id); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound after delete, got %v", err)
	}
	if err := svc.DeleteProduct(ctx, id); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound for a second delete, got %v", err)
	}
}

func TestProductsSortedByName(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	for _, name := range []string{"Pastel", "Coxinha", "Suco"} {
		if _, err := svc.CreateProduct(ctx, NewProduct{Name: name, Price: 1}); err != nil {
			t.Fatalf("CreateProduct failed: %v", err)
		}
	}

	products, err := svc.Products(ctx)
	if err != nil {
		t.Fatalf("Products failed: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("expected 3 products, got %d", len(products))
	}
	for i, want := range []string{"Coxinha", "Pastel", "Suco"} {
		if products[i].Name != want {
			t.Errorf("position %d: expected %q, got %q", i, want, products[i].Name)
		}
	}
}

func TestSearchByNameSubstring(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	for _, name := range []string{"Coxinha", "Coxinha de Frango", "Pastel"} {
		if _, err := svc.CreateProduct(ctx, NewProduct{Name: name, Price: 1}); err != nil {
			t.Fatalf("CreateProduct failed: %v", err)
		}
	}

	found, err := svc.Search(ctx, "coxinha")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 matches, got %d: %v", len(found), found)
	}

	all, err := svc.Search(ctx, "  ")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("blank query must return everything, got %d", len(all))
	}
}

func TestWatchDeliversCurrentAndUpdatedList(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	if _, err := svc.CreateProduct(ctx, NewProduct{Name: "Coxinha", Price: 4.5}); err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	updates, unsubscribe, err := svc.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer unsubscribe()

	first := receiveProducts(t, updates)
	if len(first) != 1 || first[0].Name != "Coxinha" {
		t.Fatalf("unexpected initial list: %v", first)
	}

	if _, err := svc.CreateProduct(ctx, NewProduct{Name: "Pastel", Price: 6}); err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case list := <-updates:
			if len(list) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for updated product list")
		}
	}
}

func receiveProducts(t *testing.T, ch <-chan []domain.Product) []domain.Product {
	t.Helper()
	select {
	case list := <-ch:
		return list
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for product list")
		return nil
	}
}
