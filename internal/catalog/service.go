// Package catalog manages the category registry and the fan-out
// operations that keep Product.category referentially consistent through
// renames and deletes.
//
// A fan-out touches one registry marker plus N product records and is not
// scoped to a single transaction: each sub-update succeeds or fails on its
// own and the caller gets the full per-target outcome. Re-running a
// partially applied rename or delete converges, because assigning a
// product's category (or deleting the product) is idempotent.
package catalog

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
	ErrNameRequired   = errors.New("category name is required")
	ErrCategoryExists = errors.New("category already exists")
)

// BulkFailure records one sub-update that did not apply.
type BulkFailure struct {
	Path string
	Err  error
}

// BulkResult is the partial-result status of a fan-out: which store paths
// were written and which failed. Callers retry by re-running the
// operation; already-applied sub-updates are no-ops.
type BulkResult struct {
	Succeeded []string
	Failed    []BulkFailure
}

// PartialError signals that a fan-out applied some sub-updates but not
// all. It is distinct from a clean failure: state on the backend is
// already a mix of old and new.
type PartialError struct {
	Op     string
	Result BulkResult
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s partially applied: %d succeeded, %d failed (first: %v)",
		e.Op, len(e.Result.Succeeded), len(e.Result.Failed), e.Result.Failed[0].Err)
}

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

// Categories lists registered category names sorted alphabetically.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	children, err := s.store.Children(ctx, store.CategoriesPath)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateCategory registers a new category. Names are unique
// case-insensitively; a duplicate never reaches the store.
func (s *Service) CreateCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	existing, err := s.Categories(ctx)
	if err != nil {
		return err
	}
	for _, cat := range existing {
		if strings.EqualFold(cat, name) {
			return fmt.Errorf("%w: %s", ErrCategoryExists, cat)
		}
	}
	if err := s.store.Set(ctx, store.CategoryPath(name), true); err != nil {
		return fmt.Errorf("create category %s: %w", name, err)
	}
	return nil
}

// RenameCategory moves the registry marker and re-categorizes every
// product still carrying the old name. Products already renamed by an
// earlier partial run are skipped, so a rerun converges on the same state
// as a single clean run. Uniqueness of newName against unrelated
// categories is the caller's check (see CreateCategory): enforcing it here
// would make a resumed rename reject its own half-written target.
func (s *Service) RenameCategory(ctx context.Context, oldName, newName string) (BulkResult, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return BulkResult{}, ErrNameRequired
	}
	if newName == oldName {
		return BulkResult{}, nil
	}

	targets, err := s.productsIn(ctx, oldName)
	if err != nil {
		return BulkResult{}, err
	}

	var result BulkResult
	result.record(store.CategoryPath(newName), s.store.Set(ctx, store.CategoryPath(newName), true))
	result.record(store.CategoryPath(oldName), s.store.Delete(ctx, store.CategoryPath(oldName)))
	for _, id := range targets {
		path := store.ProductField(id, "category")
		result.record(path, s.store.Set(ctx, path, newName))
	}
	return s.finish(ctx, "rename category", oldName, result)
}

// DeleteCategory removes the registry marker and cascade-deletes every
// product in the category.
func (s *Service) DeleteCategory(ctx context.Context, name string) (BulkResult, error) {
	targets, err := s.productsIn(ctx, name)
	if err != nil {
		return BulkResult{}, err
	}

	var result BulkResult
	result.record(store.CategoryPath(name), s.store.Delete(ctx, store.CategoryPath(name)))
	for _, id := range targets {
		path := store.ProductPath(id)
		result.record(path, s.store.Delete(ctx, path))
	}
	return s.finish(ctx, "delete category", name, result)
}

func (r *BulkResult) record(path string, err error) {
	if err != nil {
		r.Failed = append(r.Failed, BulkFailure{Path: path, Err: err})
		return
	}
	r.Succeeded = append(r.Succeeded, path)
}

func (s *Service) finish(_ context.Context, op, name string, result BulkResult) (BulkResult, error) {
	switch {
	case len(result.Failed) == 0:
		return result, nil
	case len(result.Succeeded) == 0:
		return result, fmt.Errorf("%s %s: %w", op, name, result.Failed[0].Err)
	default:
		s.log.Error("fan-out partially applied",
			zap.String("op", op),
			zap.String("category", name),
			zap.Int("succeeded", len(result.Succeeded)),
			zap.Int("failed", len(result.Failed)),
		)
		return result, &PartialError{Op: op, Result: result}
	}
}

// productsIn snapshots the ids of products currently in the category.
func (s *Service) productsIn(ctx context.Context, category string) ([]string, error) {
	children, err := s.store.Children(ctx, store.ProductsPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot products: %w", err)
	}
	var ids []string
	for id, raw := range children {
		var p domain.Product
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		if p.Category == category {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
