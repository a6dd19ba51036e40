// Package synchronizer keeps client-held ordered collections (menus of a
// restaurant, items of a category, ...) consistent with drag gestures while the
// remote store stays the arbiter of truth. Reorders are applied optimistically,
// sent to the store, and either kept or rolled back when the store answers.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/menu-sync/internal/notify"
	"github.com/example/menu-sync/internal/ordering"
)

// ErrStaleFetch is returned by Load when a newer local write or fetch
// superseded the fetch before it resolved. The snapshot was left untouched.
var ErrStaleFetch = errors.New("fetch superseded by newer local state")

// Remote is the authoritative store behind a family of collections.
type Remote[T any] interface {
	FetchCollection(ctx context.Context, parent string) ([]T, error)
	UpdateOrder(ctx context.Context, parent string, updates []ordering.PositionUpdate) error
	DeleteEntity(ctx context.Context, id string) (T, error)
	SaveEntity(ctx context.Context, parent string, item T) (T, error)
}

// Listener receives every published snapshot of a collection.
type Listener[T any] func(items []T)

// Config configures a Synchronizer.
type Config struct {
	// Name labels the entity type in notifications and metrics, e.g. "menu".
	Name     string
	Notifier notify.Notifier
}

// Synchronizer owns one local snapshot per parent collection.
type Synchronizer[T ordering.Orderable[T]] struct {
	name     string
	remote   Remote[T]
	notifier notify.Notifier
	logger   zerolog.Logger
	seq      *ordering.SequenceTracker

	mu          sync.Mutex
	collections map[string]*collection[T]
}

type pendingReorder[T any] struct {
	previous  []T
	prevOwner uint64
}

type collection[T any] struct {
	mu    sync.Mutex
	items []T
	// head is the sequence number of the reorder whose optimistic state is
	// displayed, 0 when the snapshot came from a fetch.
	head    uint64
	pending map[uint64]*pendingReorder[T]

	fetchGen    uint64
	cancelFetch context.CancelFunc

	version   uint64
	emitMu    sync.Mutex
	emitted   uint64
	emitting  bool
	queued    *emission[T]
	listeners map[int]Listener[T]
	nextID    int
}

type emission[T any] struct {
	items     []T
	listeners []Listener[T]
}

// New constructs a Synchronizer over remote.
func New[T ordering.Orderable[T]](remote Remote[T], logger zerolog.Logger, cfg Config) *Synchronizer[T] {
	name := cfg.Name
	if name == "" {
		name = "item"
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Synchronizer[T]{
		name:        name,
		remote:      remote,
		notifier:    notifier,
		logger:      logger.With().Str("collection", name).Logger(),
		seq:         ordering.NewSequenceTracker(),
		collections: make(map[string]*collection[T]),
	}
}

// Snapshot returns a copy of the current local snapshot for parent.
func (s *Synchronizer[T]) Snapshot(parent string) []T {
	c := s.collection(parent)
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// Subscribe registers fn for every snapshot published for parent. Listeners
// run outside the collection lock; a listener never observes an older snapshot
// after a newer one, though superseded snapshots may be skipped. A listener may
// call back into the Synchronizer: snapshots it causes are delivered after it
// returns.
func (s *Synchronizer[T]) Subscribe(parent string, fn Listener[T]) func() {
	c := s.collection(parent)
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Load fetches the collection and replaces the local snapshot wholesale. The
// result is discarded with ErrStaleFetch when a reorder or a newer Load started
// while the fetch was in flight.
func (s *Synchronizer[T]) Load(ctx context.Context, parent string) ([]T, error) {
	c := s.collection(parent)

	c.mu.Lock()
	c.cancelFetchLocked()
	gen := c.fetchGen
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancelFetch = cancel
	c.mu.Unlock()
	defer cancel()

	var items []T
	err := s.call(fetchCtx, "fetch_collection", parent, func(ctx context.Context) error {
		var err error
		items, err = s.remote.FetchCollection(ctx, parent)
		return err
	})

	c.mu.Lock()
	if gen != c.fetchGen {
		c.mu.Unlock()
		staleResponses.WithLabelValues(s.name, "fetch").Inc()
		s.logger.Debug().Str("parent", parent).Msg("discarding superseded fetch")
		return nil, ErrStaleFetch
	}
	c.cancelFetch = nil
	if err != nil {
		c.mu.Unlock()
		s.notifier.ShowError(fmt.Sprintf("Failed to retrieve %ss", s.name), err)
		return nil, fmt.Errorf("fetch %s collection %s: %w", s.name, parent, err)
	}

	sorted := ordering.Sort(items)
	c.head = 0
	publish := c.publishLocked(sorted)
	c.mu.Unlock()
	publish()

	return append([]T(nil), sorted...), nil
}

// ApplyOptimisticReorder moves the element at from to index to. The new order
// is published before the remote store is contacted; if the store rejects the
// update the snapshot reverts and the failure is shown to the user. The call
// returns once the remote store answered.
func (s *Synchronizer[T]) ApplyOptimisticReorder(ctx context.Context, parent string, from, to int) error {
	if from == to {
		return nil
	}
	c := s.collection(parent)

	c.mu.Lock()
	c.cancelFetchLocked()
	previous := c.items
	next, err := ordering.Reorder(previous, from, to)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	seq := s.seq.Issue(parent)
	c.pending[seq] = &pendingReorder[T]{previous: previous, prevOwner: c.head}
	c.head = seq
	publish := c.publishLocked(next)
	c.mu.Unlock()
	publish()

	logger := s.logger.With().Str("parent", parent).Uint64("seq", seq).Logger()
	logger.Debug().Int("from", from).Int("to", to).Msg("optimistic reorder applied")

	err = s.call(ctx, "update_order", parent, func(ctx context.Context) error {
		return s.remote.UpdateOrder(ctx, parent, ordering.Updates(next))
	})
	if err != nil {
		s.rollback(c, parent, seq, logger)
		s.notifier.ShowError(fmt.Sprintf("Failed to update the position of %s", s.name), err)
		return fmt.Errorf("update %s order: %w", s.name, err)
	}

	s.commit(c, parent, seq, logger)
	return nil
}

func (s *Synchronizer[T]) commit(c *collection[T], parent string, seq uint64, logger zerolog.Logger) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()

	if !s.seq.Observe(parent, seq) {
		staleResponses.WithLabelValues(s.name, "commit").Inc()
		reorderOutcomes.WithLabelValues(s.name, "superseded").Inc()
		logger.Debug().Msg("reorder committed after a newer one")
		return
	}
	reorderOutcomes.WithLabelValues(s.name, "committed").Inc()
	logger.Debug().Msg("reorder committed")
}

func (s *Synchronizer[T]) rollback(c *collection[T], parent string, seq uint64, logger zerolog.Logger) {
	c.mu.Lock()
	m := c.pending[seq]
	delete(c.pending, seq)

	if m == nil || s.seq.Stale(parent, seq) {
		c.mu.Unlock()
		staleResponses.WithLabelValues(s.name, "rollback").Inc()
		reorderOutcomes.WithLabelValues(s.name, "superseded").Inc()
		logger.Debug().Msg("ignoring failure of a reorder older than the last committed one")
		return
	}

	if c.head == seq {
		c.head = m.prevOwner
		publish := c.publishLocked(m.previous)
		c.mu.Unlock()
		publish()
		reorderOutcomes.WithLabelValues(s.name, "rolled_back").Inc()
		logger.Warn().Msg("reorder rejected; local order reverted")
		return
	}

	// A newer reorder was built on top of this one. Hand it our rollback
	// target so its own failure restores the last state the store accepted.
	for _, other := range c.pending {
		if other.prevOwner == seq {
			other.previous = m.previous
			other.prevOwner = m.prevOwner
		}
	}
	c.mu.Unlock()
	reorderOutcomes.WithLabelValues(s.name, "rolled_back").Inc()
	logger.Warn().Msg("reorder rejected underneath a newer reorder")
}

// Delete removes the entity from the store and, on success, from the local
// snapshot of parent.
func (s *Synchronizer[T]) Delete(ctx context.Context, parent, id string) (T, error) {
	var deleted T
	err := s.call(ctx, "delete_entity", parent, func(ctx context.Context) error {
		var err error
		deleted, err = s.remote.DeleteEntity(ctx, id)
		return err
	})
	if err != nil {
		s.notifier.ShowError(fmt.Sprintf("Failed to delete %s", s.name), err)
		var zero T
		return zero, fmt.Errorf("delete %s %s: %w", s.name, id, err)
	}

	c := s.collection(parent)
	c.mu.Lock()
	c.rebasePendingLocked(func(items []T) []T {
		out, _ := ordering.Remove(items, id)
		return out
	})
	if items, ok := ordering.Remove(c.items, id); ok {
		c.cancelFetchLocked()
		publish := c.publishLocked(items)
		c.mu.Unlock()
		publish()
	} else {
		c.mu.Unlock()
	}

	s.notifier.ShowSuccess("Successfully deleted", fmt.Sprintf("Deleted the %s %s", s.name, label(deleted, id)))
	return deleted, nil
}

// Save creates or updates an entity and merges the store's answer into the
// local snapshot of parent. New entities are appended at the end.
func (s *Synchronizer[T]) Save(ctx context.Context, parent string, item T) (T, error) {
	var saved T
	err := s.call(ctx, "save_entity", parent, func(ctx context.Context) error {
		var err error
		saved, err = s.remote.SaveEntity(ctx, parent, item)
		return err
	})
	if err != nil {
		s.notifier.ShowError(fmt.Sprintf("Failed to save %s", s.name), err)
		var zero T
		return zero, fmt.Errorf("save %s: %w", s.name, err)
	}

	c := s.collection(parent)
	c.mu.Lock()
	created := true
	for _, existing := range c.items {
		if existing.OrderKey() == saved.OrderKey() {
			created = false
			break
		}
	}
	c.rebasePendingLocked(func(items []T) []T {
		return ordering.Upsert(items, saved)
	})
	c.cancelFetchLocked()
	publish := c.publishLocked(ordering.Upsert(c.items, saved))
	c.mu.Unlock()
	publish()

	verb := "updated"
	if created {
		verb = "created"
	}
	s.notifier.ShowSuccess("Successfully "+verb, fmt.Sprintf("%s %s %s", capitalize(verb), s.name, label(saved, saved.OrderKey())))
	return saved, nil
}

// Close drops the snapshot of parent and cancels its in-flight fetch. Reorders
// still in flight settle against the dropped snapshot. Sequence numbers keep
// counting across Close so their late answers never shadow reorders issued
// after the collection is reopened.
func (s *Synchronizer[T]) Close(parent string) {
	s.mu.Lock()
	c, ok := s.collections[parent]
	delete(s.collections, parent)
	s.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.cancelFetchLocked()
	c.mu.Unlock()
}

func (s *Synchronizer[T]) collection(parent string) *collection[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[parent]
	if !ok {
		c = &collection[T]{
			pending:   make(map[uint64]*pendingReorder[T]),
			listeners: make(map[int]Listener[T]),
		}
		s.collections[parent] = c
	}
	return c
}

func (s *Synchronizer[T]) call(ctx context.Context, operation, parent string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "synchronizer."+operation)
	defer span.End()
	span.SetAttributes(attribute.String("collection", s.name), attribute.String("parent", parent))

	start := time.Now()
	err := fn(ctx)
	remoteLatency.WithLabelValues(s.name, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// cancelFetchLocked cancels the in-flight fetch, if any, and invalidates its
// generation so a response that still arrives is ignored.
func (c *collection[T]) cancelFetchLocked() {
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	c.fetchGen++
}

// rebasePendingLocked rewrites the rollback target of every reorder in flight
// so that reverting one keeps entity changes the store already accepted.
func (c *collection[T]) rebasePendingLocked(fn func([]T) []T) {
	for _, p := range c.pending {
		p.previous = fn(p.previous)
	}
}

// publishLocked stores items as the snapshot and returns a function that
// notifies listeners. The returned function must be called after c.mu is
// released.
func (c *collection[T]) publishLocked(items []T) func() {
	c.items = items
	c.version++
	version := c.version
	listeners := make([]Listener[T], 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}

	return func() {
		c.emitMu.Lock()
		if version <= c.emitted {
			c.emitMu.Unlock()
			return
		}
		c.emitted = version
		c.queued = &emission[T]{items: items, listeners: listeners}
		if c.emitting {
			// the goroutine already emitting delivers it once its listeners return
			c.emitMu.Unlock()
			return
		}
		c.emitting = true
		for c.queued != nil {
			e := c.queued
			c.queued = nil
			c.emitMu.Unlock()
			for _, l := range e.listeners {
				l(append([]T(nil), e.items...))
			}
			c.emitMu.Lock()
		}
		c.emitting = false
		c.emitMu.Unlock()
	}
}

func label(item any, fallback string) string {
	if named, ok := item.(interface{ DisplayName() string }); ok && named.DisplayName() != "" {
		return named.DisplayName()
	}
	return fallback
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
