// Package publish writes the public rendition of restaurants to object
// storage and keeps it fresh while owners keep editing.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/example/menu-sync/internal/types"
)

const defaultInterval = time.Minute

var snapshotsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "publish",
	Name:      "snapshots_total",
	Help:      "Public menu snapshots written, by trigger and result.",
}, []string{"trigger", "result"})

func init() {
	prometheus.MustRegister(snapshotsWritten)
}

// Payload is the document stored for a published restaurant.
type Payload struct {
	View        types.PublicView `json:"view"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// DecodePayload unmarshals a snapshot written by the Publisher.
func DecodePayload(data []byte) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Payload{}, err
	}
	return payload, nil
}

// Source is the store side of publishing.
type Source interface {
	SetPublished(ctx context.Context, id string, published bool) (types.Restaurant, error)
	PublicView(ctx context.Context, restaurantID string) (types.PublicView, error)
	RecordPublication(ctx context.Context, id, objectPath string, at time.Time) error
	ListStalePublished(ctx context.Context) ([]types.Restaurant, error)
}

// Invalidator drops cached public data after a publication changes.
type Invalidator interface {
	Invalidate(ctx context.Context, restaurantID string)
}

// Publisher publishes restaurants and periodically refreshes snapshots of
// published restaurants that changed since.
type Publisher struct {
	source      Source
	objects     Objects
	invalidator Invalidator
	interval    time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewPublisher constructs a publisher. invalidator may be nil.
func NewPublisher(source Source, objects Objects, invalidator Invalidator, interval time.Duration, logger zerolog.Logger) *Publisher {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Publisher{
		source:      source,
		objects:     objects,
		invalidator: invalidator,
		interval:    interval,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// Publish marks the restaurant public and writes its first snapshot. When a
// restaurant that had no snapshot yet cannot be snapshotted it is made private
// again, so a failed publish never leaves it public.
func (p *Publisher) Publish(ctx context.Context, id string) (types.Restaurant, error) {
	r, err := p.source.SetPublished(ctx, id, true)
	if err != nil {
		return types.Restaurant{}, err
	}
	path, at, err := p.snapshot(ctx, id, "publish")
	if err != nil {
		if r.PublishedObject == "" {
			if _, revertErr := p.source.SetPublished(context.WithoutCancel(ctx), id, false); revertErr != nil {
				p.logger.Error().Err(revertErr).Str("restaurant", id).Msg("failed to revert publish")
			}
		}
		return types.Restaurant{}, err
	}
	r.PublishedObject = path
	r.PublishedAt = &at
	return r, nil
}

// Unpublish hides the restaurant from the public surface.
func (p *Publisher) Unpublish(ctx context.Context, id string) (types.Restaurant, error) {
	r, err := p.source.SetPublished(ctx, id, false)
	if err != nil {
		return types.Restaurant{}, err
	}
	p.invalidate(ctx, id)
	return r, nil
}

// Start begins the periodic republish loop.
func (p *Publisher) Start(ctx context.Context) {
	go p.loop(ctx)
}

func (p *Publisher) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce republishes every stale restaurant and reports how many snapshots
// were written.
func (p *Publisher) RunOnce(ctx context.Context) int {
	stale, err := p.source.ListStalePublished(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("list stale restaurants failed")
		return 0
	}

	written := 0
	for _, r := range stale {
		if _, _, err := p.snapshot(ctx, r.ID, "refresh"); err != nil {
			p.logger.Error().Err(err).Str("restaurant", r.ID).Msg("republish failed")
			continue
		}
		written++
	}
	return written
}

func (p *Publisher) snapshot(ctx context.Context, id, trigger string) (string, time.Time, error) {
	// Taken before reading so edits racing the read mark the snapshot stale.
	at := p.now()

	view, err := p.source.PublicView(ctx, id)
	if err != nil {
		snapshotsWritten.WithLabelValues(trigger, "error").Inc()
		return "", at, fmt.Errorf("build public view: %w", err)
	}

	data, err := json.Marshal(Payload{View: view, GeneratedAt: at})
	if err != nil {
		snapshotsWritten.WithLabelValues(trigger, "error").Inc()
		return "", at, fmt.Errorf("encode snapshot payload: %w", err)
	}

	path := ObjectPath(id, at)
	if err := p.objects.Put(ctx, path, data); err != nil {
		snapshotsWritten.WithLabelValues(trigger, "error").Inc()
		return "", at, err
	}
	if err := p.source.RecordPublication(ctx, id, path, at); err != nil {
		snapshotsWritten.WithLabelValues(trigger, "error").Inc()
		return "", at, fmt.Errorf("record publication: %w", err)
	}

	snapshotsWritten.WithLabelValues(trigger, "ok").Inc()
	p.invalidate(ctx, id)
	p.logger.Info().Str("restaurant", id).Str("object", path).Str("trigger", trigger).Msg("public snapshot written")
	return path, at, nil
}

func (p *Publisher) invalidate(ctx context.Context, id string) {
	if p.invalidator != nil {
		p.invalidator.Invalidate(ctx, id)
	}
}

// ObjectPath is the key of the snapshot of restaurant id taken at at.
func ObjectPath(id string, at time.Time) string {
	return fmt.Sprintf("published/%s/%d.json", id, at.UnixNano())
}
