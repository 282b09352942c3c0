package implindex

import (
	"context"
	"sync"

	"github.com/kingrea/implindex/internal/pubsub"
)

// Path reports which way a handoff went.
type Path string

const (
	// PathDirect means the mapping was merged into a live registry.
	PathDirect Path = "direct"
	// PathQueued means the mapping was parked until the index opens.
	PathQueued Path = "queued"
)

// Intake accepts fragment mappings.
type Intake interface {
	Register(Mapping) Path
}

// Logger records index activity. It matches logging.Logger's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Update is the payload published on every index change.
type Update struct {
	Capability string
	Revision   uint64
	Components []string
	Pending    int
}

// Option customizes an Index.
type Option func(*Index)

// WithLogger routes index diagnostics to l.
func WithLogger(l Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithBroker publishes updates on a shared broker instead of a private one.
func WithBroker(b *pubsub.Broker[Update]) Option {
	return func(ix *Index) {
		if b != nil {
			ix.broker = b
		}
	}
}

// Index is the registry for one capability plus the pending queue that feeds
// it before it opens.
type Index struct {
	capability string
	logger     Logger
	broker     *pubsub.Broker[Update]

	mu       sync.RWMutex
	open     bool
	ready    chan struct{}
	pending  []Mapping
	order    []string
	entries  map[string][]Descriptor
	revision uint64
}

// New returns an index for capability that is not yet open.
func New(capability string, opts ...Option) *Index {
	ix := &Index{
		capability: capability,
		logger:     nopLogger{},
		ready:      make(chan struct{}),
		entries:    map[string][]Descriptor{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	if ix.broker == nil {
		ix.broker = pubsub.NewBroker[Update]()
	}
	return ix
}

// Capability returns the capability this index aggregates.
func (ix *Index) Capability() string {
	return ix.capability
}

// Register hands a mapping to the index. Before Open the mapping is queued,
// after Open it is merged. It never fails and never drops data.
func (ix *Index) Register(m Mapping) Path {
	m = m.Clone()
	ix.mu.Lock()
	if !ix.open {
		ix.pending = append(ix.pending, m)
		update := ix.updateLocked(m.Components())
		ix.mu.Unlock()
		ix.broker.Publish(pubsub.QueuedEvent, update)
		return PathQueued
	}
	ix.mergeLocked(m)
	update := ix.updateLocked(m.Components())
	ix.mu.Unlock()
	ix.broker.Publish(pubsub.MergedEvent, update)
	return PathDirect
}

// Open marks the index ready and drains the pending queue in arrival order.
// Both happen in one critical section. Calling Open again is a no-op. It
// returns the number of mappings drained.
func (ix *Index) Open() int {
	ix.mu.Lock()
	if ix.open {
		ix.mu.Unlock()
		return 0
	}
	ix.open = true
	drained := ix.pending
	ix.pending = nil
	var touched []string
	for _, m := range drained {
		ix.mergeLocked(m)
		touched = append(touched, m.Components()...)
	}
	close(ix.ready)
	update := ix.updateLocked(touched)
	ix.mu.Unlock()
	ix.logger.Printf("implindex: %s opened, drained %d pending mapping(s)", ix.capability, len(drained))
	ix.broker.Publish(pubsub.OpenedEvent, update)
	return len(drained)
}

// IsOpen reports whether Open has run.
func (ix *Index) IsOpen() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.open
}

// Ready is closed once the index opens.
func (ix *Index) Ready() <-chan struct{} {
	return ix.ready
}

// Wait blocks until the index opens or ctx is done.
func (ix *Index) Wait(ctx context.Context) error {
	select {
	case <-ix.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of mappings waiting for Open.
func (ix *Index) Pending() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.pending)
}

// Revision counts merges into the registry. Queued mappings do not count
// until Open drains them.
func (ix *Index) Revision() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.revision
}

// Len returns the number of components in the registry.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.order)
}

// Components lists registry components in first-installed order.
func (ix *Index) Components() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, len(ix.order))
	copy(out, ix.order)
	return out
}

// Lookup returns a copy of the implementors installed for component.
func (ix *Index) Lookup(component string) ([]Descriptor, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	impls, ok := ix.entries[component]
	if !ok {
		return nil, false
	}
	return cloneDescriptors(impls), true
}

// Snapshot returns a deep copy of the registry in first-installed order along
// with the revision it reflects.
func (ix *Index) Snapshot() (Mapping, uint64) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(Mapping, 0, len(ix.order))
	for _, name := range ix.order {
		out = append(out, Entry{Component: name, Implementors: cloneDescriptors(ix.entries[name])})
	}
	return out, ix.revision
}

// Subscribe streams index updates until ctx is done.
func (ix *Index) Subscribe(ctx context.Context) <-chan pubsub.Event[Update] {
	return ix.broker.Subscribe(ctx)
}

func (ix *Index) mergeLocked(m Mapping) {
	for _, e := range m {
		existing, ok := ix.entries[e.Component]
		if !ok {
			ix.order = append(ix.order, e.Component)
			existing = make([]Descriptor, 0, len(e.Implementors))
		}
		ix.entries[e.Component] = append(existing, e.Implementors...)
	}
	ix.revision++
}

func (ix *Index) updateLocked(components []string) Update {
	return Update{
		Capability: ix.capability,
		Revision:   ix.revision,
		Components: components,
		Pending:    len(ix.pending),
	}
}
