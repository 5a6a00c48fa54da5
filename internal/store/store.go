// Package store is the transactional persistence contract used by settlement.
//
// A RunAtomic scope performs transactional reads first and then stages writes.
// Staged writes are applied at commit time together with a check that no product
// read in the scope changed in between; if one did, the whole scope fails with
// ErrConflict and nothing is applied.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/diewo77/go-pos/internal/models"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrConflict           = errors.New("write conflict")
	ErrDuplicateID        = errors.New("duplicate record id")
	ErrIdempotencyKeyUsed = errors.New("idempotency key already used")
	ErrReadAfterWrite     = errors.New("read after first write in atomic scope")
	ErrUnreadWrite        = errors.New("write to a record not read in atomic scope")
	ErrInvalidTransition  = errors.New("invalid restock status transition")
)

// Tx is the handle passed to a RunAtomic function.
type Tx interface {
	// ReadProduct returns the authoritative product record. An empty category matches any.
	ReadProduct(ctx context.Context, category, productID string) (*models.Product, error)
	// WriteProduct stages an update of a product previously read in this scope.
	WriteProduct(p *models.Product) error
	// WriteSale stages the insert of a new sale record.
	WriteSale(s *models.SaleTransaction) error
}

// Store is implemented by GormStore and MemStore.
type Store interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	// CreateProduct inserts a new product; it never overwrites an existing one.
	CreateProduct(ctx context.Context, p *models.Product) error

	GetSale(ctx context.Context, id string) (*models.SaleTransaction, error)
	FindSaleByIdempotencyKey(ctx context.Context, key string) (*models.SaleTransaction, error)
	ListSales(ctx context.Context, limit int) ([]models.SaleTransaction, error)

	EnqueueRestock(ctx context.Context, r *models.RestockRequest) error
	ListRestock(ctx context.Context, status models.RestockStatus) ([]models.RestockRequest, error)
	UpdateRestockStatus(ctx context.Context, id string, to models.RestockStatus) (*models.RestockRequest, error)
}

// staged collects what one atomic scope read and wants to write.
type staged struct {
	reads    map[string]int64
	products map[string]*models.Product
	sales    []*models.SaleTransaction
	writing  bool
}

func newStaged() *staged {
	return &staged{
		reads:    make(map[string]int64),
		products: make(map[string]*models.Product),
	}
}

func (s *staged) beforeRead(ctx context.Context) error {
	if s.writing {
		return ErrReadAfterWrite
	}
	return ctx.Err()
}

func (s *staged) observe(p *models.Product) {
	s.reads[p.ID] = p.Version
}

func (s *staged) stageProduct(p *models.Product) error {
	s.writing = true
	if _, ok := s.reads[p.ID]; !ok {
		return fmt.Errorf("product %s: %w", p.ID, ErrUnreadWrite)
	}
	cp := p.Clone()
	cp.RecomputeQuantity()
	s.products[p.ID] = cp
	return nil
}

func (s *staged) stageSale(sale *models.SaleTransaction) error {
	s.writing = true
	if sale.ID == "" {
		return errors.New("sale id is required")
	}
	s.sales = append(s.sales, sale.Clone())
	return nil
}

// pending returns staged products ordered by id, so every scope takes row locks
// in the same order whatever the order of the cart lines.
func (s *staged) pending() []*models.Product {
	out := make([]*models.Product, 0, len(s.products))
	for _, id := range slices.Sorted(maps.Keys(s.products)) {
		out = append(out, s.products[id])
	}
	return out
}
