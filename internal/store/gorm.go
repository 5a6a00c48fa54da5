package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// GormStore implements Store on a relational database through gorm.
// Conflicts are detected with the product version column.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

type gormTx struct {
	db *gorm.DB
	st *staged
}

// RunAtomic runs fn inside a database transaction. The transaction itself is opened
// with a context that ignores cancellation: ctx is honoured by reads and checked once
// more before commit begins, after which the commit runs to completion.
func (s *GormStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	st := newStaged()
	err := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(db *gorm.DB) error {
		tx := &gormTx{db: db, st: st}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return tx.commit()
	})
	if isConflict(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func (t *gormTx) ReadProduct(ctx context.Context, category, productID string) (*models.Product, error) {
	if err := t.st.beforeRead(ctx); err != nil {
		return nil, err
	}
	var p models.Product
	if err := t.db.Where("id = ?", productID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
		}
		return nil, err
	}
	if category != "" && p.Category != category {
		return nil, fmt.Errorf("product %s in category %s: %w", productID, category, ErrNotFound)
	}
	t.st.observe(&p)
	return &p, nil
}

func (t *gormTx) WriteProduct(p *models.Product) error { return t.st.stageProduct(p) }

func (t *gormTx) WriteSale(s *models.SaleTransaction) error { return t.st.stageSale(s) }

func (t *gormTx) commit() error {
	written := make(map[string]bool, len(t.st.products))
	now := time.Now()
	for _, p := range t.st.pending() {
		expected := t.st.reads[p.ID]
		res := t.db.Model(&models.Product{}).
			Where("id = ? AND version = ?", p.ID, expected).
			Select("variants", "quantity", "version", "updated_at").
			Updates(&models.Product{
				Variants:  p.Variants,
				Quantity:  p.Quantity,
				Version:   expected + 1,
				UpdatedAt: now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("product %s: %w", p.ID, ErrConflict)
		}
		written[p.ID] = true
	}
	for id, version := range t.st.reads {
		if written[id] {
			continue
		}
		var n int64
		if err := t.db.Model(&models.Product{}).Where("id = ? AND version = ?", id, version).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("product %s: %w", id, ErrConflict)
		}
	}
	for _, sale := range t.st.sales {
		if err := t.insertSale(sale); err != nil {
			return err
		}
	}
	return nil
}

func (t *gormTx) insertSale(sale *models.SaleTransaction) error {
	var n int64
	if err := t.db.Model(&models.SaleTransaction{}).Where("id = ?", sale.ID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("sale %s: %w", sale.ID, ErrDuplicateID)
	}
	if sale.IdempotencyKey != nil {
		if err := t.db.Model(&models.SaleTransaction{}).Where("idempotency_key = ?", *sale.IdempotencyKey).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("sale %s: %w", sale.ID, ErrIdempotencyKeyUsed)
		}
	}
	for i := range sale.Lines {
		sale.Lines[i].Position = i
	}
	if err := t.db.Create(sale).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("sale %s: %w", sale.ID, ErrDuplicateID)
		}
		return err
	}
	return nil
}

func (s *GormStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).Where("id = ?", productID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := s.db.WithContext(ctx).Order("category, name").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (s *GormStore) CreateProduct(ctx context.Context, p *models.Product) error {
	p.RecomputeQuantity()
	p.Version = 1
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("product %s: %w", p.ID, ErrDuplicateID)
		}
		return err
	}
	return nil
}

func (s *GormStore) GetSale(ctx context.Context, id string) (*models.SaleTransaction, error) {
	return s.findSale(ctx, "id = ?", id)
}

func (s *GormStore) FindSaleByIdempotencyKey(ctx context.Context, key string) (*models.SaleTransaction, error) {
	return s.findSale(ctx, "idempotency_key = ?", key)
}

func (s *GormStore) findSale(ctx context.Context, query string, arg any) (*models.SaleTransaction, error) {
	var sale models.SaleTransaction
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where(query, arg).
		First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("sale %v: %w", arg, ErrNotFound)
		}
		return nil, err
	}
	return &sale, nil
}

func (s *GormStore) ListSales(ctx context.Context, limit int) ([]models.SaleTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var sales []models.SaleTransaction
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("settled_at DESC").
		Limit(limit).
		Find(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *GormStore) EnqueueRestock(ctx context.Context, r *models.RestockRequest) error {
	if r.Status == "" {
		r.Status = models.RestockPending
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("restock %s: %w", r.ID, ErrDuplicateID)
		}
		return err
	}
	return nil
}

func (s *GormStore) ListRestock(ctx context.Context, status models.RestockStatus) ([]models.RestockRequest, error) {
	q := s.db.WithContext(ctx).Order("created_at")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.RestockRequest
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) UpdateRestockStatus(ctx context.Context, id string, to models.RestockStatus) (*models.RestockRequest, error) {
	var out models.RestockRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("restock %s: %w", id, ErrNotFound)
			}
			return err
		}
		if !out.CanTransition(to) {
			return fmt.Errorf("restock %s %s -> %s: %w", id, out.Status, to, ErrInvalidTransition)
		}
		from := out.Status
		res := tx.Model(&models.RestockRequest{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]any{"status": to, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("restock %s: %w", id, ErrConflict)
		}
		out.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SQLSTATE codes Postgres uses when it aborts a transaction that lost a race.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// isConflict reports whether the database aborted the transaction because of a
// concurrent one, which is retried like a version conflict.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
