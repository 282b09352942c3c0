package implindex

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/implindex/internal/pubsub"
)

// CatalogOption customizes a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogLogger routes diagnostics from the catalog and its indexes to l.
func WithCatalogLogger(l Logger) CatalogOption {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// Catalog holds one Index per capability. Indexes are created on first use and
// share one update broker.
type Catalog struct {
	logger Logger
	broker *pubsub.Broker[Update]

	mu      sync.Mutex
	open    bool
	ready   chan struct{}
	indexes map[string]*Index
}

// NewCatalog returns an empty, unopened catalog.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		logger:  nopLogger{},
		broker:  pubsub.NewBroker[Update](),
		ready:   make(chan struct{}),
		indexes: map[string]*Index{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Index returns the index for capability, creating it if needed. Indexes
// created after the catalog opened start open.
func (c *Catalog) Index(capability string) *Index {
	capability = strings.TrimSpace(capability)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ix, ok := c.indexes[capability]; ok {
		return ix
	}
	ix := New(capability, WithLogger(c.logger), WithBroker(c.broker))
	c.indexes[capability] = ix
	if c.open {
		ix.Open()
	}
	return ix
}

// Lookup returns the index for capability without creating one.
func (c *Catalog) Lookup(capability string) (*Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ix, ok := c.indexes[strings.TrimSpace(capability)]
	return ix, ok
}

// Register hands mapping to the index for capability.
func (c *Catalog) Register(capability string, m Mapping) Path {
	return c.Index(capability).Register(m)
}

// Open opens every index and makes later indexes start open. It returns the
// total number of mappings drained. Calling it again is a no-op.
func (c *Catalog) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return 0
	}
	c.open = true
	drained := 0
	for _, name := range c.sortedLocked() {
		drained += c.indexes[name].Open()
	}
	close(c.ready)
	return drained
}

// Ready is closed once Open has run and every index that existed then is open.
func (c *Catalog) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until the catalog opens or ctx is done. It creates no index.
func (c *Catalog) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsOpen reports whether Open has run.
func (c *Catalog) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Capabilities lists known capabilities in sorted order.
func (c *Catalog) Capabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedLocked()
}

// Pending sums pending mappings across all indexes.
func (c *Catalog) Pending() int {
	c.mu.Lock()
	indexes := make([]*Index, 0, len(c.indexes))
	for _, ix := range c.indexes {
		indexes = append(indexes, ix)
	}
	c.mu.Unlock()
	total := 0
	for _, ix := range indexes {
		total += ix.Pending()
	}
	return total
}

// Subscribe streams updates from every index in the catalog.
func (c *Catalog) Subscribe(ctx context.Context) <-chan pubsub.Event[Update] {
	return c.broker.Subscribe(ctx)
}

// Close releases subscribers. The indexes stay readable.
func (c *Catalog) Close() {
	c.broker.Close()
}

func (c *Catalog) sortedLocked() []string {
	names := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
