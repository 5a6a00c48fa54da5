package main

import (
	"fmt"
	"net/http"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/config"
	"github.com/diewo77/go-pos/internal/events"
	"github.com/diewo77/go-pos/internal/handlers"
	"github.com/diewo77/go-pos/internal/metrics"
	"github.com/diewo77/go-pos/internal/receipt"
	"github.com/diewo77/go-pos/internal/restock"
	"github.com/diewo77/go-pos/internal/services"
	"github.com/diewo77/go-pos/internal/settlement"
	"github.com/diewo77/go-pos/internal/stock"
	"github.com/diewo77/go-pos/internal/store"
	"github.com/diewo77/go-pos/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Deps are the collaborators main builds before the App.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Publisher events.Publisher
	Registry  *prometheus.Registry
	Logger    *zap.Logger
	// Ping reports database health for /healthz; nil means always healthy.
	Ping func() error
}

// App holds the wired components and the HTTP routes.
type App struct {
	mux       *http.ServeMux
	deps      Deps
	cache     *stock.Cache
	gate      *gate.Gate[auth.Cashier]
	server    *metrics.ServerMetrics
	products  *handlers.ProductHandler
	terminals *handlers.TerminalHandler
	sales     *handlers.SalesHandler
	restock   *handlers.RestockHandler
}

// NewApp wires the stock cache, settlement engine, restock trigger and handlers.
func NewApp(d Deps) (*App, error) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Publisher == nil {
		d.Publisher = events.Noop{}
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	cfg := d.Config.Settlement
	v := make(validation.Violations)
	validation.RangeDecimal("TAX_RATE", cfg.TaxRate, decimal.Zero, decimal.NewFromInt(1), v)
	if !v.Empty() {
		return nil, fmt.Errorf("invalid settlement config: %v", v)
	}

	broker := stock.NewBroker(0)
	cache, err := stock.NewCache(d.Store, cfg.StockCacheSize, d.Logger.Named("stock"))
	if err != nil {
		return nil, err
	}
	cache.Watch(broker)

	settleMetrics := metrics.NewSettlementMetrics(d.Registry)
	engine := settlement.NewEngine(d.Store, receipt.NewGenerator(cfg.ReceiptPrefix), settlement.Options{
		Retry: settlement.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
		},
		TaxRate: cfg.TaxRate,
		Metrics: settleMetrics,
		Logger:  d.Logger.Named("settlement"),
	})
	trigger := restock.NewTrigger(d.Store, restock.Options{
		MaxAttempts: cfg.RestockMaxAttempts,
		Notifier:    d.Publisher,
		Logger:      d.Logger.Named("restock"),
	})

	checkout := services.NewCheckoutService(services.CheckoutDeps{
		Sessions:  services.NewSessionRegistry(),
		Cache:     cache,
		Broker:    broker,
		Engine:    engine,
		Trigger:   trigger,
		Publisher: d.Publisher,
		Metrics:   settleMetrics,
		Logger:    d.Logger.Named("checkout"),
		TaxRate:   cfg.TaxRate,
	})

	a := &App{
		mux:       http.NewServeMux(),
		deps:      d,
		cache:     cache,
		gate:      newGate(),
		server:    metrics.NewServerMetrics(d.Registry),
		products:  handlers.NewProductHandler(services.NewCatalogService(d.Store, broker, d.Logger.Named("catalog")), d.Logger),
		terminals: handlers.NewTerminalHandler(checkout, d.Logger),
		sales:     handlers.NewSalesHandler(d.Store, d.Logger),
		restock:   handlers.NewRestockHandler(services.NewRestockService(d.Store, d.Logger.Named("restock")), d.Logger),
	}
	a.setupRoutes()
	return a, nil
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth.Middleware(a.mux).ServeHTTP(w, r)
}

// Close stops the cache watcher and flushes the event publisher.
func (a *App) Close() error {
	a.cache.Close()
	return a.deps.Publisher.Close()
}

// newGate grants catalogue writes and restock queue moves to managers only.
// Cashiers and managers may settle sales; other roles may only read.
func newGate() *gate.Gate[auth.Cashier] {
	g := gate.NewGate[auth.Cashier]()
	g.Register("sale", gate.NewRolePolicy("sale", auth.RoleOf).
		Grant(auth.RoleCashier, "sale:settle").
		Grant(auth.RoleManager, "sale:*"))
	g.Register("product", gate.NewRolePolicy("product", auth.RoleOf).
		Grant(auth.RoleManager, "product:*"))
	g.Register("restock", gate.NewRolePolicy("restock", auth.RoleOf).
		Grant(auth.RoleManager, "restock:*"))
	return g
}

func (a *App) handle(pattern, name string, h http.HandlerFunc) {
	a.mux.Handle(pattern, a.server.Wrap(name, h))
}

// guarded registers h behind the gate for resourceType and action.
func (a *App) guarded(pattern, name, resourceType string, action gate.Action, h http.HandlerFunc) {
	a.mux.Handle(pattern, a.server.Wrap(name, auth.Require(a.gate, resourceType, action)(h)))
}

func (a *App) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Operational
	// ─────────────────────────────────────────────────────────────────────────
	a.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.Handle("GET /metrics", metrics.Handler(a.deps.Registry))

	// ─────────────────────────────────────────────────────────────────────────
	// Catalogue
	// ─────────────────────────────────────────────────────────────────────────
	a.handle("GET /products", "products_list", a.products.List)
	a.guarded("POST /products", "products_create", "product", gate.ActionCreate, a.products.Create)
	a.handle("GET /products/{id}", "products_get", a.products.Get)

	// ─────────────────────────────────────────────────────────────────────────
	// Terminal carts
	// ─────────────────────────────────────────────────────────────────────────
	a.handle("GET /terminals/{terminal}/cart", "cart_get", a.terminals.Cart)
	a.handle("DELETE /terminals/{terminal}/cart", "cart_reset", a.terminals.ResetCart)
	a.handle("GET /terminals/{terminal}/cart/check", "cart_check", a.terminals.Check)
	a.handle("POST /terminals/{terminal}/cart/lines", "cart_add_line", a.terminals.AddLine)
	a.handle("POST /terminals/{terminal}/cart/custom-lines", "cart_add_custom_line", a.terminals.AddCustomLine)
	a.handle("PATCH /terminals/{terminal}/cart/lines/{index}", "cart_set_quantity", a.terminals.SetQuantity)
	a.handle("DELETE /terminals/{terminal}/cart/lines/{index}", "cart_remove_line", a.terminals.RemoveLine)
	a.guarded("POST /terminals/{terminal}/checkout", "checkout", "sale", gate.ActionSettle, a.terminals.Checkout)

	// ─────────────────────────────────────────────────────────────────────────
	// Sales and restock queue
	// ─────────────────────────────────────────────────────────────────────────
	a.handle("GET /sales", "sales_list", a.sales.List)
	a.handle("GET /sales/{id}", "sales_get", a.sales.Get)
	a.handle("GET /restock", "restock_list", a.restock.List)
	a.guarded("POST /restock/{id}/acknowledge", "restock_acknowledge", "restock", gate.ActionAcknowledge, a.restock.Acknowledge)
	a.guarded("POST /restock/{id}/resolve", "restock_resolve", "restock", gate.ActionResolve, a.restock.Resolve)
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ping != nil {
		if err := a.deps.Ping(); err != nil {
			a.deps.Logger.Warn("health check failed", zap.Error(err))
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
