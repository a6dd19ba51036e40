// Package events fans collection change events out across service instances
// through Redis pub/sub.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/menu-sync/internal/types"
)

const (
	defaultTopicPrefix = "collection:"
	defaultDedupeTTL   = 2 * time.Minute
	maxBackoffDelay    = 30 * time.Second
)

// Publisher announces collection changes.
type Publisher interface {
	Publish(ctx context.Context, ev types.ChangeEvent) error
}

// Sink receives events consumed from the bus.
type Sink interface {
	Deliver(ev types.ChangeEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev types.ChangeEvent)

// Deliver implements Sink.
func (f SinkFunc) Deliver(ev types.ChangeEvent) { f(ev) }

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, types.ChangeEvent) error { return nil }

var deliveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "events",
	Name:      "publish_to_deliver_seconds",
	Help:      "Observed latency between publishing a change event and delivering it locally.",
	Buckets:   prometheus.LinearBuckets(0.005, 0.005, 12),
}, []string{"kind"})

func init() {
	prometheus.MustRegister(deliveryLatency)
}

// RedisBus publishes change events to per-collection Redis channels and
// relays events from every instance to the local sink.
type RedisBus struct {
	client *redis.Client
	sink   Sink
	logger zerolog.Logger
	origin string

	topicPrefix string
	dedupeTTL   time.Duration

	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewRedisBus constructs a bus backed by Redis pub/sub. origin identifies this
// instance in emitted events.
func NewRedisBus(client *redis.Client, sink Sink, origin string, logger zerolog.Logger) *RedisBus {
	return &RedisBus{
		client:      client,
		sink:        sink,
		logger:      logger,
		origin:      origin,
		topicPrefix: defaultTopicPrefix,
		dedupeTTL:   defaultDedupeTTL,
		seen:        make(map[string]time.Time),
	}
}

// Topic is the Redis channel of a collection.
func (b *RedisBus) Topic(key types.ParentKey) string {
	return b.topicPrefix + key.String()
}

// Publish stamps and sends an event to its collection channel, retrying with
// backoff until the context ends.
func (b *RedisBus) Publish(ctx context.Context, ev types.ChangeEvent) error {
	if b == nil || b.client == nil {
		return errors.New("nil event bus")
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Origin == "" {
		ev.Origin = b.origin
	}
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}

	topic := b.Topic(ev.Collection())
	backoff := time.Second
	for {
		if err := b.client.Publish(ctx, topic, ev).Err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			b.logger.Warn().Err(err).Str("topic", topic).Dur("backoff", backoff).Msg("redis publish failed; retrying")
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoffDelay)
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

// Start begins consuming events in the background until ctx ends.
func (b *RedisBus) Start(ctx context.Context) {
	go b.run(ctx)
}

func (b *RedisBus) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := b.client.PSubscribe(ctx, b.topicPrefix+"*")
		if err := b.consume(ctx, pubsub); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn().Err(err).Dur("backoff", backoff).Msg("redis subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoffDelay)
		}
	}
}

func (b *RedisBus) consume(ctx context.Context, pubsub *redis.PubSub) error {
	defer pubsub.Close()

	ch := pubsub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			if err := b.process(msg); err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("failed to process change event")
			}
		}
	}
}

func (b *RedisBus) process(msg *redis.Message) error {
	var ev types.ChangeEvent
	if err := ev.UnmarshalBinary([]byte(msg.Payload)); err != nil {
		return err
	}
	if ev.EventID == "" || ev.Parent == "" {
		return errors.New("incomplete event")
	}
	if want := b.Topic(ev.Collection()); msg.Channel != want {
		return fmt.Errorf("event for %s arrived on %s", want, msg.Channel)
	}

	if b.isDuplicate(ev.EventID) {
		return nil
	}

	var latencySeconds float64
	if !ev.EmittedAt.IsZero() {
		latencySeconds = time.Since(ev.EmittedAt).Seconds()
	}
	deliveryLatency.WithLabelValues(string(ev.Kind)).Observe(latencySeconds)

	if b.sink != nil {
		b.sink.Deliver(ev)
	}
	return nil
}

func (b *RedisBus) isDuplicate(eventID string) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	if ts, ok := b.seen[eventID]; ok {
		if time.Since(ts) < b.dedupeTTL {
			return true
		}
	}

	b.seen[eventID] = time.Now()
	cutoff := time.Now().Add(-b.dedupeTTL)
	for k, ts := range b.seen {
		if ts.Before(cutoff) {
			delete(b.seen, k)
		}
	}
	return false
}
