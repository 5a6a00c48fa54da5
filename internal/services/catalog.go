package services

import (
	"context"
	"errors"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/stock"
	"github.com/diewo77/go-pos/internal/store"
	"github.com/diewo77/go-pos/validation"
	"go.uber.org/zap"
)

// ValidationError carries field violations found at the boundary.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string { return "validation failed" }

var ErrProductExists = errors.New("product already exists")

type CatalogService struct {
	store  store.Store
	broker *stock.Broker
	log    *zap.Logger
}

func NewCatalogService(s store.Store, b *stock.Broker, log *zap.Logger) *CatalogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogService{store: s, broker: b, log: log}
}

func (c *CatalogService) List(ctx context.Context) ([]models.Product, error) {
	return c.store.ListProducts(ctx)
}

func (c *CatalogService) Get(ctx context.Context, id string) (*models.Product, error) {
	return c.store.GetProduct(ctx, id)
}

// Create normalizes and inserts a product. Existing products are never overwritten.
func (c *CatalogService) Create(ctx context.Context, p *models.Product) (*models.Product, error) {
	if v := p.Normalize(); !v.Empty() {
		return nil, &ValidationError{Violations: v}
	}
	if err := c.store.CreateProduct(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return nil, ErrProductExists
		}
		return nil, err
	}
	c.log.Info("product created", zap.String("product_id", p.ID), zap.Int("variants", len(p.Variants)))
	if c.broker != nil {
		c.broker.Publish(stock.StockChanged{Products: []*models.Product{p.Clone()}})
	}
	return p, nil
}
