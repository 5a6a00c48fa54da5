package services

import (
	"context"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/store"
	"go.uber.org/zap"
)

// RestockService exposes the restock queue to the downstream workflow.
type RestockService struct {
	store store.Store
	log   *zap.Logger
}

func NewRestockService(s store.Store, log *zap.Logger) *RestockService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RestockService{store: s, log: log}
}

func (r *RestockService) List(ctx context.Context, status models.RestockStatus) ([]models.RestockRequest, error) {
	return r.store.ListRestock(ctx, status)
}

func (r *RestockService) Acknowledge(ctx context.Context, id string) (*models.RestockRequest, error) {
	return r.move(ctx, id, models.RestockAcknowledged)
}

func (r *RestockService) Resolve(ctx context.Context, id string) (*models.RestockRequest, error) {
	return r.move(ctx, id, models.RestockResolved)
}

func (r *RestockService) move(ctx context.Context, id string, to models.RestockStatus) (*models.RestockRequest, error) {
	out, err := r.store.UpdateRestockStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}
	r.log.Info("restock status changed", zap.String("restock_id", id), zap.String("status", string(to)))
	return out, nil
}
