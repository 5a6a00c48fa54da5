// Package settlement converts a cart into a committed stock decrement and an
// immutable sale record, retrying store write conflicts under a bounded policy.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-pos/internal/cart"
	"github.com/diewo77/go-pos/internal/metrics"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/store"
	"github.com/diewo77/go-pos/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IDGenerator issues receipt identifiers.
type IDGenerator interface {
	Generate() string
	After(prev string) string
}

// Cashier identifies who settles the sale.
type Cashier struct {
	ID   string
	Name string
}

// Request is the input of one settlement. Lines are not modified.
type Request struct {
	Lines           []cart.Line
	AmountPaid      decimal.Decimal
	PaymentMethod   string
	CustomerName    string
	CustomerDetails map[string]any
	Cashier         Cashier
	TerminalID      string
	// IdempotencyKey, when set, makes a repeated request return the sale
	// already settled under the same key.
	IdempotencyKey string
}

// Decrement is the committed stock change of one variant.
type Decrement struct {
	ProductID    string
	VariantID    string
	Previous     int
	NewQuantity  int
	RestockLevel int
	CustomFields map[string]any
}

type Result struct {
	Sale       *models.SaleTransaction
	Decrements []Decrement
	// Products are the committed product records touched by the sale.
	Products []*models.Product
	Attempts int
	// Replayed is true when the sale was found by idempotency key and nothing was written.
	Replayed bool
}

type Options struct {
	Retry RetryPolicy

	// TaxRate is applied as given; zero settles untaxed.
	TaxRate decimal.Decimal

	Metrics *metrics.SettlementMetrics
	Logger  *zap.Logger
}

type Engine struct {
	store   store.Store
	ids     IDGenerator
	retry   RetryPolicy
	taxRate decimal.Decimal
	metrics *metrics.SettlementMetrics
	log     *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewEngine(s store.Store, ids IDGenerator, opts Options) *Engine {
	e := &Engine{
		store:   s,
		ids:     ids,
		retry:   opts.Retry.normalized(),
		taxRate: opts.TaxRate,
		metrics: opts.Metrics,
		log:     opts.Logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// Preflight checks what can be checked without touching the store.
func (e *Engine) Preflight(req Request) (cart.Totals, error) {
	if len(req.Lines) == 0 {
		return cart.Totals{}, invalid(-1, ErrEmptyCart, validation.Violations{"lines": "required"})
	}
	v := make(validation.Violations)
	line := -1
	var cause error
	for i, l := range req.Lines {
		prefix := fmt.Sprintf("lines[%d].", i)
		if l.Qty <= 0 {
			v.Add(prefix+"qty", "must_be_positive")
			if cause == nil {
				line, cause = i, ErrInvalidQuantity
			}
		}
		validation.NonNegativeDecimal(prefix+"unitPrice", l.UnitPrice, v)
		if l.StockBacked {
			validation.Required(prefix+"baseProductId", l.BaseProductID, v)
			validation.Required(prefix+"variantId", l.VariantID, v)
		}
	}
	validation.Required("paymentMethod", req.PaymentMethod, v)
	validation.Required("cashierId", req.Cashier.ID, v)
	validation.NonNegativeDecimal("amountPaid", req.AmountPaid, v)
	if cause != nil {
		return cart.Totals{}, invalid(line, cause, v)
	}
	if !v.Empty() {
		return cart.Totals{}, invalid(-1, ErrValidation, v)
	}

	totals := cart.ComputeTotals(req.Lines, e.taxRate)
	if models.RoundMoney(req.AmountPaid).LessThan(totals.Total) {
		return totals, invalid(-1, ErrInsufficientPayment, validation.Violations{"amountPaid": "less_than_total"})
	}
	return totals, nil
}

// Settle runs the settlement. On any error no stock changed and no sale was written.
func (e *Engine) Settle(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	if req.IdempotencyKey != "" {
		if res, ok, err := e.Replay(ctx, req.IdempotencyKey); err != nil || ok {
			if ok {
				e.metrics.Observe(metrics.OutcomeReplayed, 0, started)
			}
			return res, err
		}
	}
	totals, err := e.Preflight(req)
	if err != nil {
		e.metrics.Observe(metrics.OutcomeInvalid, 0, started)
		return nil, err
	}

	log := e.log.With(zap.String("terminal", req.TerminalID), zap.String("cashier_id", req.Cashier.ID))
	var (
		id      string
		lastErr error
	)
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if errors.Is(lastErr, store.ErrDuplicateID) {
			id = e.ids.After(id)
		} else {
			id = e.ids.Generate()
		}
		res, err := e.attempt(ctx, id, req, totals)
		if err == nil {
			res.Attempts = attempt
			e.metrics.Observe(metrics.OutcomeSettled, attempt, started)
			log.Info("sale settled",
				zap.String("receipt_id", id),
				zap.Int("attempt", attempt),
				zap.Int("lines", len(req.Lines)),
				zap.String("total", res.Sale.Total.StringFixed(2)))
			return res, nil
		}

		var serr *Error
		switch {
		case errors.As(err, &serr):
			e.metrics.Observe(outcomeOf(serr.Kind), attempt, started)
			log.Info("settlement rejected", zap.String("receipt_id", id), zap.String("kind", string(serr.Kind)),
				zap.String("product_id", serr.ProductID), zap.String("variant_id", serr.VariantID))
			return nil, serr
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			e.metrics.Observe(metrics.OutcomeCanceled, attempt, started)
			return nil, &Error{Kind: KindCanceled, Line: -1, Err: err}
		case errors.Is(err, store.ErrIdempotencyKeyUsed):
			res, ok, rerr := e.Replay(ctx, req.IdempotencyKey)
			if rerr != nil {
				return nil, rerr
			}
			if ok {
				e.metrics.Observe(metrics.OutcomeReplayed, attempt, started)
				return res, nil
			}
			lastErr = err
		case errors.Is(err, store.ErrConflict):
			e.metrics.Conflict()
			log.Debug("settlement conflict", zap.String("receipt_id", id), zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			if attempt < e.retry.MaxAttempts {
				if werr := e.sleep(ctx, e.retry.Backoff(attempt)); werr != nil {
					e.metrics.Observe(metrics.OutcomeCanceled, attempt, started)
					return nil, &Error{Kind: KindCanceled, Line: -1, Err: werr}
				}
			}
		case errors.Is(err, store.ErrDuplicateID):
			log.Warn("receipt id collision", zap.String("receipt_id", id), zap.Int("attempt", attempt))
			lastErr = err
		default:
			e.metrics.Observe(metrics.OutcomeError, attempt, started)
			log.Error("settlement failed", zap.String("receipt_id", id), zap.Int("attempt", attempt), zap.Error(err))
			return nil, fmt.Errorf("settle: %w", err)
		}
	}

	e.metrics.Observe(metrics.OutcomeUnavailable, e.retry.MaxAttempts, started)
	log.Warn("settlement retries exhausted", zap.Int("attempt", e.retry.MaxAttempts), zap.Error(lastErr))
	return nil, &Error{
		Kind: KindUnavailable,
		Line: -1,
		Err:  fmt.Errorf("%w after %d attempts: %w", ErrSettlementUnavailable, e.retry.MaxAttempts, lastErr),
	}
}

// Replay returns the sale already settled under key, if any.
func (e *Engine) Replay(ctx context.Context, key string) (*Result, bool, error) {
	sale, err := e.store.FindSaleByIdempotencyKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return &Result{Sale: sale, Replayed: true}, true, nil
}

type variantKey struct{ product, variant string }

func (e *Engine) attempt(ctx context.Context, id string, req Request, totals cart.Totals) (*Result, error) {
	var res *Result
	err := e.store.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		products := make(map[string]*models.Product)
		var order []string
		for i, l := range req.Lines {
			if !l.StockBacked {
				continue
			}
			if _, ok := products[l.BaseProductID]; ok {
				continue
			}
			p, err := tx.ReadProduct(ctx, l.Category, l.BaseProductID)
			if errors.Is(err, store.ErrNotFound) {
				return &Error{Kind: KindProductNotFound, Line: i, ProductID: l.BaseProductID, VariantID: l.VariantID, Requested: l.Qty, Err: ErrProductNotFound}
			}
			if err != nil {
				return err
			}
			products[l.BaseProductID] = p
			order = append(order, l.BaseProductID)
		}

		requested := make(map[variantKey]int)
		original := make(map[variantKey]int)
		var keys []variantKey
		for i, l := range req.Lines {
			if !l.StockBacked {
				continue
			}
			p := products[l.BaseProductID]
			vi := p.FindVariant(l.VariantID)
			if vi < 0 {
				return &Error{Kind: KindVariantNotFound, Line: i, ProductID: l.BaseProductID, VariantID: l.VariantID, Requested: l.Qty, Err: ErrVariantNotFound}
			}
			k := variantKey{l.BaseProductID, l.VariantID}
			if _, ok := original[k]; !ok {
				original[k] = p.Variants[vi].Quantity
				keys = append(keys, k)
			}
			requested[k] += l.Qty
			if original[k]-requested[k] < 0 {
				return &Error{
					Kind: KindInsufficientStock, Line: i,
					ProductID: l.BaseProductID, VariantID: l.VariantID,
					Requested: requested[k], Available: original[k],
					Err: ErrInsufficientStock,
				}
			}
			p.Variants[vi].Quantity = original[k] - requested[k]
		}

		touched := make([]*models.Product, 0, len(order))
		for _, pid := range order {
			p := products[pid]
			p.RecomputeQuantity()
			if err := tx.WriteProduct(p); err != nil {
				return err
			}
			touched = append(touched, p)
		}

		sale := e.buildSale(id, req, totals)
		if err := tx.WriteSale(sale); err != nil {
			return err
		}

		decs := make([]Decrement, 0, len(keys))
		for _, k := range keys {
			p := products[k.product]
			v := p.Variants[p.FindVariant(k.variant)]
			decs = append(decs, Decrement{
				ProductID:    k.product,
				VariantID:    k.variant,
				Previous:     original[k],
				NewQuantity:  v.Quantity,
				RestockLevel: v.RestockLevel,
				CustomFields: v.CustomFields,
			})
		}
		res = &Result{Sale: sale, Decrements: decs, Products: touched}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, p := range res.Products {
		p.Version++
	}
	return res, nil
}

func (e *Engine) buildSale(id string, req Request, totals cart.Totals) *models.SaleTransaction {
	lines := make([]models.SaleLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = models.SaleLine{
			Position:      i,
			Name:          l.Name,
			Category:      l.Category,
			BaseProductID: l.BaseProductID,
			VariantID:     l.VariantID,
			Price:         models.RoundMoney(l.UnitPrice),
			Quantity:      l.Qty,
			LineTotal:     models.RoundMoney(l.Total()),
			StockBacked:   l.StockBacked,
		}
	}
	paid := models.RoundMoney(req.AmountPaid)
	sale := &models.SaleTransaction{
		ID:              id,
		Timestamp:       e.now().UTC(),
		Lines:           lines,
		SubTotal:        totals.SubTotal,
		Tax:             totals.Tax,
		Total:           totals.Total,
		AmountPaid:      paid,
		Change:          models.RoundMoney(paid.Sub(totals.Total)),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerDetails: req.CustomerDetails,
		PaymentMethod:   strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		CashierID:       req.Cashier.ID,
		CashierName:     req.Cashier.Name,
		TerminalID:      req.TerminalID,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		sale.IdempotencyKey = &key
	}
	return sale
}

func outcomeOf(k Kind) string {
	switch k {
	case KindInsufficientStock:
		return metrics.OutcomeInsufficient
	case KindProductNotFound, KindVariantNotFound:
		return metrics.OutcomeNotFound
	case KindValidation:
		return metrics.OutcomeInvalid
	case KindCanceled:
		return metrics.OutcomeCanceled
	}
	return metrics.OutcomeError
}
