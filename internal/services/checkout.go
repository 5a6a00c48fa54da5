package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-pos/internal/cart"
	"github.com/diewo77/go-pos/internal/events"
	"github.com/diewo77/go-pos/internal/metrics"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/restock"
	"github.com/diewo77/go-pos/internal/settlement"
	"github.com/diewo77/go-pos/internal/stock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockError is returned when the advisory check rejects a cart before settlement.
type StockError struct {
	Result stock.Result
}

func (e *StockError) Error() string {
	return fmt.Sprintf("stock check failed for %d line(s)", len(e.Result.Problems))
}

// Is lets a rejected check match settlement.ErrInsufficientStock.
func (e *StockError) Is(target error) bool { return target == settlement.ErrInsufficientStock }

// CheckoutInput is the payment side of a checkout.
type CheckoutInput struct {
	AmountPaid      decimal.Decimal
	PaymentMethod   string
	CustomerName    string
	CustomerDetails map[string]any
	Cashier         settlement.Cashier
	IdempotencyKey  string
}

type CheckoutResult struct {
	Sale     *models.SaleTransaction `json:"sale"`
	Restock  []models.RestockRequest `json:"restock,omitempty"`
	Attempts int                     `json:"attempts"`
	Replayed bool                    `json:"replayed"`
}

type CheckoutDeps struct {
	Sessions  *SessionRegistry
	Cache     *stock.Cache
	Broker    *stock.Broker
	Engine    *settlement.Engine
	Trigger   *restock.Trigger
	Publisher events.Publisher
	Metrics   *metrics.SettlementMetrics
	Logger    *zap.Logger
	TaxRate   decimal.Decimal

	// SideEffectTimeout bounds restock enqueueing and event publication after a
	// commit. The terminal stays locked until they finish.
	SideEffectTimeout time.Duration
}

const defaultSideEffectTimeout = 3 * time.Second

// CheckoutService owns terminal carts and drives them through settlement.
type CheckoutService struct {
	CheckoutDeps
}

func NewCheckoutService(d CheckoutDeps) *CheckoutService {
	if d.Sessions == nil {
		d.Sessions = NewSessionRegistry()
	}
	if d.Publisher == nil {
		d.Publisher = events.Noop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.SideEffectTimeout <= 0 {
		d.SideEffectTimeout = defaultSideEffectTimeout
	}
	return &CheckoutService{CheckoutDeps: d}
}

func (s *CheckoutService) Cart(terminal string) CartView {
	sess := s.Sessions.Get(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(s.TaxRate)
}

// AddLine prices the variant from the catalogue cache and adds it to the terminal cart.
func (s *CheckoutService) AddLine(ctx context.Context, terminal, productID, variantID string, qty int) (CartView, error) {
	p, err := s.Cache.Product(ctx, productID)
	if err != nil {
		return CartView{}, err
	}
	i := p.FindVariant(variantID)
	if i < 0 {
		return CartView{}, fmt.Errorf("variant %s of %s: %w", variantID, productID, settlement.ErrVariantNotFound)
	}
	sess := s.Sessions.Get(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.cart.AddLine(p, p.Variants[i], qty); err != nil {
		return CartView{}, err
	}
	return sess.view(s.TaxRate), nil
}

func (s *CheckoutService) AddCustomLine(terminal, name string, price decimal.Decimal, qty int) (CartView, error) {
	sess := s.Sessions.Get(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.cart.AddCustomLine(name, models.RoundMoney(price), qty); err != nil {
		return CartView{}, err
	}
	return sess.view(s.TaxRate), nil
}

func (s *CheckoutService) SetQuantity(terminal string, index, qty int) CartView {
	sess := s.Sessions.Get(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart.SetQuantity(index, qty)
	return sess.view(s.TaxRate)
}

func (s *CheckoutService) RemoveLine(terminal string, index int) CartView {
	sess := s.Sessions.Get(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart.RemoveLine(index)
	return sess.view(s.TaxRate)
}

func (s *CheckoutService) ResetCart(terminal string) CartView {
	sess := s.Sessions.Get(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart.Reset()
	return sess.view(s.TaxRate)
}

// Check runs the advisory stock validation on the terminal cart.
func (s *CheckoutService) Check(ctx context.Context, terminal string) (stock.Result, error) {
	sess := s.Sessions.Get(terminal)
	sess.mu.Lock()
	lines := sess.cart.Lines()
	sess.mu.Unlock()
	return s.check(ctx, lines)
}

func (s *CheckoutService) check(ctx context.Context, lines []cart.Line) (stock.Result, error) {
	snap, err := s.Cache.Snapshot(ctx, stock.ProductIDs(lines))
	if err != nil {
		return stock.Result{}, err
	}
	return stock.Validate(lines, snap), nil
}

// Checkout settles the terminal cart. The cart is cleared only on success.
func (s *CheckoutService) Checkout(ctx context.Context, terminal string, in CheckoutInput) (*CheckoutResult, error) {
	sess := s.Sessions.Get(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	log := s.Logger.With(zap.String("terminal", terminal), zap.String("session_id", sess.ID))

	if in.IdempotencyKey != "" {
		res, ok, err := s.Engine.Replay(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Info("checkout replayed", zap.String("receipt_id", res.Sale.ID))
			return &CheckoutResult{Sale: res.Sale, Replayed: true}, nil
		}
	}

	lines := sess.cart.Lines()
	if len(lines) > 0 {
		check, err := s.check(ctx, lines)
		if err != nil {
			return nil, err
		}
		if !check.OK {
			log.Info("checkout rejected by stock check", zap.Int("problems", len(check.Problems)))
			return nil, &StockError{Result: check}
		}
	}

	res, err := s.Engine.Settle(ctx, settlement.Request{
		Lines:           lines,
		AmountPaid:      in.AmountPaid,
		PaymentMethod:   in.PaymentMethod,
		CustomerName:    in.CustomerName,
		CustomerDetails: in.CustomerDetails,
		Cashier:         in.Cashier,
		TerminalID:      terminal,
		IdempotencyKey:  in.IdempotencyKey,
	})
	if err != nil {
		var serr *settlement.Error
		if errors.As(err, &serr) && serr.Kind == settlement.KindInsufficientStock {
			s.Cache.Invalidate(serr.ProductID)
		}
		return nil, err
	}

	out := &CheckoutResult{Sale: res.Sale, Attempts: res.Attempts, Replayed: res.Replayed}
	if res.Replayed {
		return out, nil
	}
	sess.cart.Reset()
	effects, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.SideEffectTimeout)
	defer cancel()
	s.afterCommit(effects, res, out, log)
	return out, nil
}

// afterCommit runs the side effects of a committed sale. None of them can fail the checkout.
func (s *CheckoutService) afterCommit(ctx context.Context, res *settlement.Result, out *CheckoutResult, log *zap.Logger) {
	if s.Broker != nil {
		s.Broker.Publish(stock.StockChanged{SaleID: res.Sale.ID, Products: res.Products})
	}
	if s.Trigger != nil {
		decs := make([]restock.Decrement, 0, len(res.Decrements))
		for _, d := range res.Decrements {
			decs = append(decs, restock.Decrement{
				ProductID:    d.ProductID,
				VariantID:    d.VariantID,
				NewQuantity:  d.NewQuantity,
				RestockLevel: d.RestockLevel,
				CustomFields: d.CustomFields,
			})
		}
		out.Restock = s.Trigger.Fire(ctx, res.Sale.ID, decs)
		for _, r := range out.Restock {
			s.Metrics.Restock(string(r.Priority))
		}
	}
	if err := s.Publisher.SaleSettled(ctx, res.Sale); err != nil {
		log.Warn("sale event not published", zap.String("receipt_id", res.Sale.ID), zap.Error(err))
	}
}
