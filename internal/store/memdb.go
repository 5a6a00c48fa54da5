package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/diewo77/go-pos/internal/models"
	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableProducts = "products"
	tableSales    = "sales"
	tableRestock  = "restock"
)

// MemStore implements Store in process on top of go-memdb.
// An atomic scope reads from an immutable snapshot; commit opens the single
// write transaction, re-checks the version of every product read and applies
// staged writes only if none changed.
type MemStore struct {
	db  *memdb.MemDB
	now func() time.Time
}

type saleRecord struct {
	ID             string
	IdempotencyKey string
	Sale           *models.SaleTransaction
}

func memSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableProducts: {
				Name: tableProducts,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
				},
			},
			tableSales: {
				Name: tableSales,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"idempotency": {
						Name:         "idempotency",
						Unique:       true,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "IdempotencyKey"},
					},
				},
			},
			tableRestock: {
				Name: tableRestock,
				Indexes: map[string]*memdb.IndexSchema{
					"id":     {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"status": {Name: "status", Indexer: &memdb.StringFieldIndex{Field: "Status"}},
				},
			},
		},
	}
}

func NewMemStore() (*MemStore, error) {
	db, err := memdb.NewMemDB(memSchema())
	if err != nil {
		return nil, fmt.Errorf("memdb schema: %w", err)
	}
	return &MemStore{db: db, now: time.Now}, nil
}

type memTx struct {
	txn *memdb.Txn
	st  *staged
}

func (s *MemStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	st := newStaged()
	snapshot := s.db.Txn(false)
	defer snapshot.Abort()
	if err := fn(ctx, &memTx{txn: snapshot, st: st}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(st)
}

func (t *memTx) ReadProduct(ctx context.Context, category, productID string) (*models.Product, error) {
	if err := t.st.beforeRead(ctx); err != nil {
		return nil, err
	}
	raw, err := t.txn.First(tableProducts, "id", productID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	p := raw.(*models.Product).Clone()
	if category != "" && p.Category != category {
		return nil, fmt.Errorf("product %s in category %s: %w", productID, category, ErrNotFound)
	}
	t.st.observe(p)
	return p, nil
}

func (t *memTx) WriteProduct(p *models.Product) error { return t.st.stageProduct(p) }

func (t *memTx) WriteSale(s *models.SaleTransaction) error { return t.st.stageSale(s) }

func (s *MemStore) commit(st *staged) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	for id, version := range st.reads {
		raw, err := txn.First(tableProducts, "id", id)
		if err != nil {
			return err
		}
		if raw == nil || raw.(*models.Product).Version != version {
			return fmt.Errorf("product %s: %w", id, ErrConflict)
		}
	}
	for _, sale := range st.sales {
		raw, err := txn.First(tableSales, "id", sale.ID)
		if err != nil {
			return err
		}
		if raw != nil {
			return fmt.Errorf("sale %s: %w", sale.ID, ErrDuplicateID)
		}
		if sale.IdempotencyKey != nil {
			raw, err := txn.First(tableSales, "idempotency", *sale.IdempotencyKey)
			if err != nil {
				return err
			}
			if raw != nil {
				return fmt.Errorf("sale %s: %w", sale.ID, ErrIdempotencyKeyUsed)
			}
		}
	}

	now := s.now()
	for _, p := range st.pending() {
		p.Version = st.reads[p.ID] + 1
		p.UpdatedAt = now
		if err := txn.Insert(tableProducts, p); err != nil {
			return err
		}
	}
	for _, sale := range st.sales {
		for i := range sale.Lines {
			sale.Lines[i].SaleID = sale.ID
			sale.Lines[i].Position = i
		}
		rec := &saleRecord{ID: sale.ID, Sale: sale}
		if sale.IdempotencyKey != nil {
			rec.IdempotencyKey = *sale.IdempotencyKey
		}
		if err := txn.Insert(tableSales, rec); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

func (s *MemStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableProducts, "id", productID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return raw.(*models.Product).Clone(), nil
}

func (s *MemStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableProducts, "id")
	if err != nil {
		return nil, err
	}
	var out []models.Product
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*models.Product).Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *MemStore) CreateProduct(ctx context.Context, p *models.Product) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableProducts, "id", p.ID)
	if err != nil {
		return err
	}
	if raw != nil {
		return fmt.Errorf("product %s: %w", p.ID, ErrDuplicateID)
	}
	now := s.now()
	p.RecomputeQuantity()
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now
	if err := txn.Insert(tableProducts, p.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemStore) GetSale(ctx context.Context, id string) (*models.SaleTransaction, error) {
	return s.findSale("id", id)
}

func (s *MemStore) FindSaleByIdempotencyKey(ctx context.Context, key string) (*models.SaleTransaction, error) {
	return s.findSale("idempotency", key)
}

func (s *MemStore) findSale(index, value string) (*models.SaleTransaction, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableSales, index, value)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("sale %s: %w", value, ErrNotFound)
	}
	return raw.(*saleRecord).Sale.Clone(), nil
}

func (s *MemStore) ListSales(ctx context.Context, limit int) ([]models.SaleTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableSales, "id")
	if err != nil {
		return nil, err
	}
	var out []models.SaleTransaction
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*saleRecord).Sale.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) EnqueueRestock(ctx context.Context, r *models.RestockRequest) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableRestock, "id", r.ID)
	if err != nil {
		return err
	}
	if raw != nil {
		return fmt.Errorf("restock %s: %w", r.ID, ErrDuplicateID)
	}
	if r.Status == "" {
		r.Status = models.RestockPending
	}
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	cp := *r
	if err := txn.Insert(tableRestock, &cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemStore) ListRestock(ctx context.Context, status models.RestockStatus) ([]models.RestockRequest, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	var (
		it  memdb.ResultIterator
		err error
	)
	if status == "" {
		it, err = txn.Get(tableRestock, "id")
	} else {
		it, err = txn.Get(tableRestock, "status", string(status))
	}
	if err != nil {
		return nil, err
	}
	var out []models.RestockRequest
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*models.RestockRequest))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) UpdateRestockStatus(ctx context.Context, id string, to models.RestockStatus) (*models.RestockRequest, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableRestock, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("restock %s: %w", id, ErrNotFound)
	}
	cur := *raw.(*models.RestockRequest)
	if !cur.CanTransition(to) {
		return nil, fmt.Errorf("restock %s %s -> %s: %w", id, cur.Status, to, ErrInvalidTransition)
	}
	cur.Status = to
	cur.UpdatedAt = s.now()
	if err := txn.Insert(tableRestock, &cur); err != nil {
		return nil, err
	}
	txn.Commit()
	return &cur, nil
}
