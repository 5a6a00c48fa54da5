// Package restock turns post-settlement stock levels into restock requests.
package restock

import (
	"context"
	"errors"
	"time"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decrement is the committed outcome for one variant of a settlement.
type Decrement struct {
	ProductID    string
	VariantID    string
	NewQuantity  int
	RestockLevel int
	CustomFields map[string]any
}

// Queue persists restock requests.
type Queue interface {
	EnqueueRestock(ctx context.Context, r *models.RestockRequest) error
}

// Notifier is told about every request that was enqueued.
type Notifier interface {
	RestockRequested(ctx context.Context, r models.RestockRequest) error
}

type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Notifier    Notifier
	Logger      *zap.Logger
}

// Trigger enqueues one request per decremented variant that reached its
// restock level. It runs after commit and never reports failure to its caller.
type Trigger struct {
	queue    Queue
	notifier Notifier
	log      *zap.Logger
	attempts int
	delay    time.Duration
	newID    func() string
	now      func() time.Time
}

func NewTrigger(q Queue, opts Options) *Trigger {
	t := &Trigger{
		queue:    q,
		notifier: opts.Notifier,
		log:      opts.Logger,
		attempts: opts.MaxAttempts,
		delay:    opts.RetryDelay,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	if t.attempts <= 0 {
		t.attempts = 3
	}
	if t.delay <= 0 {
		t.delay = 50 * time.Millisecond
	}
	return t
}

// Evaluate builds the requests for a settlement without enqueuing them.
func (t *Trigger) Evaluate(saleID string, decrements []Decrement) []models.RestockRequest {
	var out []models.RestockRequest
	now := t.now().UTC()
	for _, d := range decrements {
		if d.NewQuantity > d.RestockLevel {
			continue
		}
		out = append(out, models.RestockRequest{
			CreatedAt:         now,
			ProductID:         d.ProductID,
			VariantID:         d.VariantID,
			SaleID:            saleID,
			CurrentStock:      d.NewQuantity,
			RestockLevel:      d.RestockLevel,
			SuggestedQuantity: SuggestedQuantity(d.NewQuantity, d.RestockLevel, d.CustomFields),
			Priority:          Priority(d.NewQuantity, d.RestockLevel),
			Status:            models.RestockPending,
		})
	}
	return out
}

// Fire evaluates and enqueues. Each request is retried on its own; the ones
// that could be enqueued are returned.
func (t *Trigger) Fire(ctx context.Context, saleID string, decrements []Decrement) []models.RestockRequest {
	reqs := t.Evaluate(saleID, decrements)
	done := make([]models.RestockRequest, 0, len(reqs))
	for i := range reqs {
		r := reqs[i]
		if err := t.enqueue(ctx, &r); err != nil {
			t.log.Error("restock enqueue failed",
				zap.String("receipt_id", saleID),
				zap.String("product_id", r.ProductID),
				zap.String("variant_id", r.VariantID),
				zap.Error(err))
			continue
		}
		t.log.Info("restock requested",
			zap.String("receipt_id", saleID),
			zap.String("product_id", r.ProductID),
			zap.String("variant_id", r.VariantID),
			zap.String("priority", string(r.Priority)),
			zap.Int("current_stock", r.CurrentStock))
		if t.notifier != nil {
			if err := t.notifier.RestockRequested(ctx, r); err != nil {
				t.log.Warn("restock notification failed", zap.String("restock_id", r.ID), zap.Error(err))
			}
		}
		done = append(done, r)
	}
	return done
}

// enqueue keeps the request id across retries. A duplicate id after a failed
// attempt means that attempt was persisted; only a duplicate on the first
// attempt is a collision with some other request and gets a fresh id.
func (t *Trigger) enqueue(ctx context.Context, r *models.RestockRequest) error {
	if r.ID == "" {
		r.ID = t.newID()
	}
	var err error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		err = t.queue.EnqueueRestock(ctx, r)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrDuplicateID) && attempt > 1:
			t.log.Info("restock request already persisted", zap.String("restock_id", r.ID), zap.Int("attempt", attempt))
			return nil
		case errors.Is(err, store.ErrDuplicateID):
			r.ID = t.newID()
		}
		if attempt == t.attempts {
			break
		}
		t.log.Warn("restock enqueue retry", zap.Int("attempt", attempt), zap.String("variant_id", r.VariantID), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.delay * time.Duration(attempt)):
		}
	}
	return err
}
