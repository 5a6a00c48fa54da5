// Package receipt generates sale receipt identifiers of the form "<PREFIX>-<epoch-millis>".
package receipt

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultPrefix = "GS"

// Generator issues identifiers that never decrease within one process.
// It is safe for concurrent use.
type Generator struct {
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	last int64
}

// NewGenerator returns a generator using the wall clock.
func NewGenerator(prefix string) *Generator {
	return NewGeneratorWithClock(prefix, time.Now)
}

// NewGeneratorWithClock returns a generator reading time from now.
func NewGeneratorWithClock(prefix string, now func() time.Time) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{prefix: prefix, now: now}
}

// Generate returns the identifier for the current millisecond. If the clock went
// backwards the last issued millisecond is reused, so two calls within the same
// millisecond may return the same value; the store rejects the duplicate and the
// caller asks for After.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.now().UnixMilli()
	if ms < g.last {
		ms = g.last
	}
	g.last = ms
	return g.format(ms)
}

// After returns an identifier strictly greater than prev. It is used to
// re-attempt a write that collided with an existing receipt.
func (g *Generator) After(prev string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.now().UnixMilli()
	if p, err := g.parse(prev); err == nil && ms <= p {
		ms = p + 1
	}
	if ms < g.last {
		ms = g.last + 1
	}
	g.last = ms
	return g.format(ms)
}

// Millis extracts the timestamp part of an identifier produced by this generator.
func (g *Generator) Millis(id string) (int64, error) {
	return g.parse(id)
}

func (g *Generator) format(ms int64) string {
	return g.prefix + "-" + strconv.FormatInt(ms, 10)
}

func (g *Generator) parse(id string) (int64, error) {
	rest, ok := strings.CutPrefix(id, g.prefix+"-")
	if !ok {
		return 0, fmt.Errorf("receipt id %q: missing prefix %q", id, g.prefix)
	}
	ms, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("receipt id %q: %w", id, err)
	}
	return ms, nil
}
