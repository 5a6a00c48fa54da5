package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diewo77/go-pos/internal/cart"
	"github.com/diewo77/go-pos/internal/metrics"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/receipt"
	"github.com/diewo77/go-pos/internal/stock"
	"github.com/diewo77/go-pos/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Product{}, &models.SaleTransaction{}, &models.SaleLine{}, &models.RestockRequest{}))
	return db
}

func memStore(t *testing.T) *store.MemStore {
	t.Helper()
	s, err := store.NewMemStore()
	require.NoError(t, err)
	return s
}

func eachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Run("gorm", func(t *testing.T) { fn(t, store.NewGormStore(openTestDB(t))) })
	t.Run("memdb", func(t *testing.T) { fn(t, memStore(t)) })
}

func newEngine(t *testing.T, s store.Store, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	e := NewEngine(s, receipt.NewGenerator("GS"), opts)
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return e
}

func seed(t *testing.T, s store.Store, productID, variantID string, qty int, price string) *models.Product {
	t.Helper()
	p := &models.Product{
		ID: productID, Name: productID, Category: "general",
		Variants: []models.Variant{{ID: variantID, Name: variantID, UnitPrice: decimal.RequireFromString(price), Quantity: qty, RestockLevel: 1}},
	}
	require.True(t, p.Normalize().Empty())
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func linesFor(t *testing.T, p *models.Product, qtys ...int) []cart.Line {
	t.Helper()
	c := cart.New()
	for _, q := range qtys {
		require.NoError(t, c.AddLine(p, p.Variants[0], q))
	}
	return c.Lines()
}

func request(lines []cart.Line, paid string) Request {
	return Request{
		Lines:         lines,
		AmountPaid:    decimal.RequireFromString(paid),
		PaymentMethod: models.PaymentCash,
		Cashier:       Cashier{ID: "c-1", Name: "Ana"},
		TerminalID:    "till-1",
	}
}

func variantQty(t *testing.T, s store.Store, productID string) int {
	t.Helper()
	p, err := s.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Variants[0].Quantity
}

func saleCount(t *testing.T, s store.Store) int {
	t.Helper()
	sales, err := s.ListSales(context.Background(), 1000)
	require.NoError(t, err)
	return len(sales)
}

func TestSettleSellsWholeStock(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		p := seed(t, s, "P1", "V1", 5, "100.00")
		e := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate})

		res, err := e.Settle(context.Background(), request(linesFor(t, p, 5), "600"))
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(res.Sale.ID, "GS-"))
		assert.Equal(t, "500.00", res.Sale.SubTotal.StringFixed(2))
		assert.Equal(t, "60.00", res.Sale.Tax.StringFixed(2))
		assert.Equal(t, "560.00", res.Sale.Total.StringFixed(2))
		assert.Equal(t, "40.00", res.Sale.Change.StringFixed(2))
		assert.True(t, res.Sale.Balanced())
		assert.Equal(t, 1, res.Attempts)
		require.Len(t, res.Decrements, 1)
		assert.Equal(t, Decrement{ProductID: "P1", VariantID: "V1", Previous: 5, NewQuantity: 0, RestockLevel: 1}, res.Decrements[0])
		require.Len(t, res.Products, 1)
		assert.Equal(t, int64(2), res.Products[0].Version)

		assert.Equal(t, 0, variantQty(t, s, "P1"))
		stored, err := s.GetSale(context.Background(), res.Sale.ID)
		require.NoError(t, err)
		assert.Equal(t, "P1 - V1", stored.Lines[0].Name)
		assert.Equal(t, "c-1", stored.CashierID)
	})
}

func TestSettleSingleUnitAtHundred(t *testing.T) {
	s := memStore(t)
	p := seed(t, s, "P1", "V1", 5, "100.00")
	res, err := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate}).Settle(context.Background(), request(linesFor(t, p, 1), "112"))
	require.NoError(t, err)
	assert.Equal(t, "112.00", res.Sale.Total.StringFixed(2))
	assert.True(t, res.Sale.Change.IsZero())
}

func TestZeroTaxRateIsHonoured(t *testing.T) {
	s := memStore(t)
	p := seed(t, s, "P1", "V1", 5, "100.00")
	res, err := newEngine(t, s, Options{TaxRate: decimal.Zero}).Settle(context.Background(), request(linesFor(t, p, 1), "100"))
	require.NoError(t, err)
	assert.True(t, res.Sale.Tax.IsZero())
	assert.Equal(t, "100.00", res.Sale.Total.StringFixed(2))
}

// hookStore runs hook once, after the wrapped scope staged its writes and before it commits.
type hookStore struct {
	store.Store
	once sync.Once
	hook func()
}

func (h *hookStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return h.Store.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		h.once.Do(h.hook)
		return nil
	})
}

func TestConcurrentSettlementObservesDecrementAfterRetry(t *testing.T) {
	s := memStore(t)
	p := seed(t, s, "P1", "V1", 5, "100.00")
	first := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate})

	var firstErr error
	hooked := &hookStore{Store: s, hook: func() {
		_, firstErr = first.Settle(context.Background(), request(linesFor(t, p, 5), "560"))
	}}
	second := newEngine(t, hooked, Options{TaxRate: models.DefaultTaxRate})

	_, err := second.Settle(context.Background(), request(linesFor(t, p, 1), "112"))
	require.NoError(t, firstErr)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, KindInsufficientStock, serr.Kind)
	assert.Equal(t, 0, serr.Line)
	assert.Equal(t, 1, serr.Requested)
	assert.Equal(t, 0, serr.Available)

	assert.Equal(t, 0, variantQty(t, s, "P1"))
	assert.Equal(t, 1, saleCount(t, s))
}

func TestInsufficientStockLeavesStockUntouched(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		p := seed(t, s, "P2", "V2", 2, "10.00")
		lines := linesFor(t, p, 3)

		snap := stock.NewSnapshot(p)
		check := stock.Validate(lines, snap)
		require.False(t, check.OK)
		assert.Equal(t, stock.ProblemInsufficient, check.Problems[0].Kind)

		_, err := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate}).Settle(context.Background(), request(lines, "100"))
		assert.ErrorIs(t, err, ErrInsufficientStock)
		assert.Equal(t, 2, variantQty(t, s, "P2"))
		assert.Equal(t, 0, saleCount(t, s))
	})
}

func TestSameVariantAcrossLinesIsSummed(t *testing.T) {
	s := memStore(t)
	p := seed(t, s, "P1", "V1", 5, "1.00")
	lines := linesFor(t, p, 3)
	lines = append(lines, lines[0])

	_, err := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate}).Settle(context.Background(), request(lines, "100"))
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindInsufficientStock, serr.Kind)
	assert.Equal(t, 1, serr.Line)
	assert.Equal(t, 6, serr.Requested)
	assert.Equal(t, 5, serr.Available)
}

func TestMissingProductAndVariant(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		p := seed(t, s, "P1", "V1", 5, "1.00")
		e := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate})

		ghost := []cart.Line{
			linesFor(t, p, 1)[0],
			{BaseProductID: "NOPE", VariantID: "X", Name: "ghost", Category: "general", UnitPrice: decimal.NewFromInt(1), Qty: 1, StockBacked: true},
		}
		_, err := e.Settle(context.Background(), request(ghost, "10"))
		var serr *Error
		require.ErrorAs(t, err, &serr)
		assert.ErrorIs(t, err, ErrProductNotFound)
		assert.Equal(t, 1, serr.Line)

		noVariant := []cart.Line{{BaseProductID: "P1", VariantID: "V9", Name: "x", Category: "general", UnitPrice: decimal.NewFromInt(1), Qty: 1, StockBacked: true}}
		_, err = e.Settle(context.Background(), request(noVariant, "10"))
		require.ErrorAs(t, err, &serr)
		assert.ErrorIs(t, err, ErrVariantNotFound)
		assert.Equal(t, "V9", serr.VariantID)

		assert.Equal(t, 5, variantQty(t, s, "P1"))
		assert.Equal(t, 0, saleCount(t, s))
	})
}

func TestPreflightValidation(t *testing.T) {
	s := memStore(t)
	p := seed(t, s, "P1", "V1", 5, "10.00")
	e := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate})
	good := linesFor(t, p, 1)

	zeroQty := append([]cart.Line(nil), good...)
	zeroQty[0].Qty = 0
	noCashier := request(good, "20")
	noCashier.Cashier = Cashier{}

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"empty cart", request(nil, "0"), ErrEmptyCart},
		{"zero quantity", request(zeroQty, "20"), ErrInvalidQuantity},
		{"underpaid", request(good, "11.19"), ErrInsufficientPayment},
		{"no cashier", noCashier, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Settle(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, ErrValidation)
			var serr *Error
			require.ErrorAs(t, err, &serr)
			assert.True(t, serr.Terminal())
		})
	}
	assert.Equal(t, 5, variantQty(t, s, "P1"))
	assert.Equal(t, 0, saleCount(t, s))
}

// conflictStore runs the scope and then reports a conflict instead of committing.
type conflictStore struct {
	store.Store
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (c *conflictStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	c.mu.Lock()
	c.calls++
	inject := c.conflicts > 0
	if inject {
		c.conflicts--
	}
	c.mu.Unlock()
	return c.Store.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if inject {
			return fmt.Errorf("injected: %w", store.ErrConflict)
		}
		return nil
	})
}

func TestConflictRetryWritesOneSale(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		p := seed(t, s, "P1", "V1", 5, "10.00")
		cs := &conflictStore{Store: s, conflicts: 2}
		reg := prometheus.NewRegistry()
		m := metrics.NewSettlementMetrics(reg)

		res, err := newEngine(t, cs, Options{TaxRate: models.DefaultTaxRate, Metrics: m}).Settle(context.Background(), request(linesFor(t, p, 2), "30"))
		require.NoError(t, err)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 3, cs.calls)
		assert.Equal(t, 3, variantQty(t, s, "P1"))
		assert.Equal(t, 1, saleCount(t, s))
		assert.Equal(t, float64(2), testutil.ToFloat64(m.Conflicts))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Settlements.WithLabelValues(metrics.OutcomeSettled)))
	})
}

func TestConflictRetriesExhausted(t *testing.T) {
	s := memStore(t)
	p := seed(t, s, "P1", "V1", 5, "10.00")
	cs := &conflictStore{Store: s, conflicts: 10}
	e := newEngine(t, cs, Options{TaxRate: models.DefaultTaxRate, Retry: RetryPolicy{MaxAttempts: 3}})

	_, err := e.Settle(context.Background(), request(linesFor(t, p, 1), "20"))
	assert.ErrorIs(t, err, ErrSettlementUnavailable)
	assert.ErrorIs(t, err, store.ErrConflict)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindUnavailable, serr.Kind)
	assert.False(t, serr.Terminal())
	assert.Equal(t, 3, cs.calls)
	assert.Equal(t, 5, variantQty(t, s, "P1"))
	assert.Equal(t, 0, saleCount(t, s))
}

func TestReceiptCollisionRegeneratesGreaterID(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		p := seed(t, s, "P1", "V1", 5, "10.00")
		clock := func() time.Time { return time.UnixMilli(1716239991234) }
		gen := receipt.NewGeneratorWithClock("GS", clock)
		e := NewEngine(s, gen, Options{TaxRate: models.DefaultTaxRate, Logger: zaptest.NewLogger(t)})

		first, err := e.Settle(context.Background(), request(linesFor(t, p, 1), "20"))
		require.NoError(t, err)
		assert.Equal(t, "GS-1716239991234", first.Sale.ID)

		second, err := e.Settle(context.Background(), request(linesFor(t, p, 1), "20"))
		require.NoError(t, err)
		assert.Equal(t, "GS-1716239991235", second.Sale.ID)
		assert.Equal(t, 2, second.Attempts)
		assert.Equal(t, 3, variantQty(t, s, "P1"))
	})
}

func TestIdempotencyKeyReplaysSale(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		p := seed(t, s, "P1", "V1", 5, "10.00")
		e := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate})
		req := request(linesFor(t, p, 2), "30")
		req.IdempotencyKey = "till-1-42"

		first, err := e.Settle(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, first.Replayed)

		again, err := e.Settle(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, first.Sale.ID, again.Sale.ID)
		assert.Equal(t, 3, variantQty(t, s, "P1"))
		assert.Equal(t, 1, saleCount(t, s))
	})
}

func TestCustomLinesSkipInventory(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		p := seed(t, s, "P1", "V1", 1, "10.00")
		c := cart.New()
		require.NoError(t, c.AddCustomLine("Quoted install", decimal.RequireFromString("250.00"), 4))
		require.NoError(t, c.AddLine(p, p.Variants[0], 1))

		res, err := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate}).Settle(context.Background(), request(c.Lines(), "2000"))
		require.NoError(t, err)
		require.Len(t, res.Sale.Lines, 2)
		assert.False(t, res.Sale.Lines[0].StockBacked)
		assert.Equal(t, "1000.00", res.Sale.Lines[0].LineTotal.StringFixed(2))
		require.Len(t, res.Decrements, 1)
		assert.Equal(t, 0, variantQty(t, s, "P1"))
	})
}

func TestCanceledBeforeSettle(t *testing.T) {
	s := memStore(t)
	p := seed(t, s, "P1", "V1", 5, "10.00")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate}).Settle(ctx, request(linesFor(t, p, 1), "20"))
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindCanceled, serr.Kind)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, variantQty(t, s, "P1"))
}

func TestConcurrentSettlementsNeverOversell(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		p := seed(t, s, "P1", "V1", 10, "1.00")
		e := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate, Retry: RetryPolicy{MaxAttempts: 100}})

		const workers = 25
		var (
			wg                 sync.WaitGroup
			mu                 sync.Mutex
			sold, out, unavail int
			other              []error
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.Settle(context.Background(), request(linesFor(t, p, 1), "5"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					sold++
				case errors.Is(err, ErrInsufficientStock):
					out++
				case errors.Is(err, ErrSettlementUnavailable):
					unavail++
				default:
					other = append(other, err)
				}
			}()
		}
		wg.Wait()

		require.Empty(t, other)
		assert.Equal(t, workers, sold+out+unavail)
		assert.LessOrEqual(t, sold, 10)
		assert.Equal(t, 10-sold, variantQty(t, s, "P1"))
		assert.Equal(t, sold, saleCount(t, s))
	})
}

// Carts holding the same products in opposite line order settle concurrently
// without losing or double counting stock on either product.
func TestOppositeLineOrderSettlementsConserveStock(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		a := seed(t, s, "P-A", "M", 12, "2.00")
		b := seed(t, s, "P-B", "M", 12, "3.00")
		e := newEngine(t, s, Options{TaxRate: models.DefaultTaxRate, Retry: RetryPolicy{MaxAttempts: 100}})

		forward := append(linesFor(t, a, 1), linesFor(t, b, 1)...)
		backward := append(linesFor(t, b, 1), linesFor(t, a, 1)...)

		const workers = 20
		var (
			wg          sync.WaitGroup
			mu          sync.Mutex
			sold, other int
			failures    []error
		)
		for i := 0; i < workers; i++ {
			lines := forward
			if i%2 == 1 {
				lines = backward
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.Settle(context.Background(), request(lines, "10"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					sold++
				case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrSettlementUnavailable):
					other++
				default:
					failures = append(failures, err)
				}
			}()
		}
		wg.Wait()

		require.Empty(t, failures)
		assert.Equal(t, workers, sold+other)
		assert.Equal(t, 12-sold, variantQty(t, s, "P-A"))
		assert.Equal(t, 12-sold, variantQty(t, s, "P-B"))
		assert.Equal(t, sold, saleCount(t, s))
	})
}

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 10*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 20*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 160*time.Millisecond, p.Backoff(5))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(6))
	assert.Equal(t, time.Duration(0), RetryPolicy{}.Backoff(3))
}
