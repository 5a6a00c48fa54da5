package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/store"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// ProductReader is the non-transactional read side of the store.
type ProductReader interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
}

// Cache is a read-through LRU of product records used for advisory checks and
// for pricing cart lines. Settlement never reads from it.
type Cache struct {
	reader ProductReader
	log    *zap.Logger
	sub    *Subscription
	done   chan struct{}

	// mu makes the version compare and the insert one step.
	mu  sync.Mutex
	lru *lru.Cache
}

func NewCache(reader ProductReader, size int, log *zap.Logger) (*Cache, error) {
	if size <= 0 {
		size = 1024
	}
	l, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("stock cache: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{reader: reader, lru: l, log: log}, nil
}

// Watch keeps entries fresh from the broker until Close is called.
func (c *Cache) Watch(b *Broker) {
	c.sub = b.Subscribe()
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for ev := range c.sub.C() {
			c.apply(ev)
		}
	}()
}

func (c *Cache) apply(ev StockChanged) {
	for _, p := range ev.Products {
		if p != nil {
			c.keepNewest(p)
		}
	}
	c.log.Debug("stock cache refreshed", zap.String("receipt_id", ev.SaleID), zap.Int("products", len(ev.Products)))
}

// Close stops watching and waits for the consumer goroutine to exit.
func (c *Cache) Close() {
	if c.sub == nil {
		return
	}
	c.sub.Cancel()
	<-c.done
}

// Product returns a copy of the product, loading it on a miss.
func (c *Cache) Product(ctx context.Context, productID string) (*models.Product, error) {
	if v, ok := c.lru.Get(productID); ok {
		return v.(*models.Product).Clone(), nil
	}
	p, err := c.reader.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return c.keepNewest(p).Clone(), nil
}

// keepNewest stores a copy of p unless the cache already holds a newer version,
// and returns the entry that is cached afterwards.
func (c *Cache) keepNewest(p *models.Product) *models.Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.lru.Peek(p.ID); ok && cur.(*models.Product).Version > p.Version {
		return cur.(*models.Product)
	}
	cp := p.Clone()
	c.lru.Add(p.ID, cp)
	return cp
}

func (c *Cache) Invalidate(productID string) { c.lru.Remove(productID) }

func (c *Cache) Len() int { return c.lru.Len() }

// Snapshot collects the given products. Unknown products are left out of the
// snapshot so validation reports them as missing.
func (c *Cache) Snapshot(ctx context.Context, productIDs []string) (Snapshot, error) {
	snap := Snapshot{products: make(map[string]*models.Product, len(productIDs))}
	for _, id := range productIDs {
		if _, ok := snap.products[id]; ok {
			continue
		}
		p, err := c.Product(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Snapshot{}, err
		}
		snap.products[id] = p
	}
	return snap, nil
}
