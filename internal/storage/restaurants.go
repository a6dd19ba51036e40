package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/menu-sync/internal/types"
)

const restaurantColumns = `id, owner_id, name, location, contact_no, image_path, is_published, published_at, published_object, created_at, updated_at`

func scanRestaurant(row pgx.Row) (types.Restaurant, error) {
	var r types.Restaurant
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Location, &r.ContactNo, &r.ImagePath,
		&r.IsPublished, &r.PublishedAt, &r.PublishedObject, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) queryRestaurants(ctx context.Context, sql string, args ...any) ([]types.Restaurant, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Restaurant{}
	for rows.Next() {
		r, err := scanRestaurant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRestaurant stores a new restaurant owned by r.OwnerID.
func (s *Store) CreateRestaurant(ctx context.Context, r types.Restaurant) (types.Restaurant, error) {
	defer s.observe(ctx, "restaurants.create")()
	if err := r.Validate(); err != nil {
		return types.Restaurant{}, err
	}

	var created types.Restaurant
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		created, err = scanRestaurant(s.pool.QueryRow(ctx, `
INSERT INTO restaurants (id, owner_id, name, location, contact_no, image_path)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+restaurantColumns,
			uuid.NewString(), r.OwnerID, r.Name, r.Location, r.ContactNo, r.ImagePath,
		))
		return err
	})
	return created, err
}

// GetRestaurant returns the restaurant id.
func (s *Store) GetRestaurant(ctx context.Context, id string) (types.Restaurant, error) {
	defer s.observe(ctx, "restaurants.get")()
	r, err := scanRestaurant(s.pool.QueryRow(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return r, fmt.Errorf("restaurant %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRestaurants returns the restaurants of owner, oldest first.
func (s *Store) ListRestaurants(ctx context.Context, owner string) ([]types.Restaurant, error) {
	defer s.observe(ctx, "restaurants.list")()
	return s.queryRestaurants(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE owner_id = $1 ORDER BY created_at, id`, owner)
}

// UpdateRestaurant replaces the editable fields of r.ID.
func (s *Store) UpdateRestaurant(ctx context.Context, r types.Restaurant) (types.Restaurant, error) {
	defer s.observe(ctx, "restaurants.update")()
	if err := r.Validate(); err != nil {
		return types.Restaurant{}, err
	}

	var updated types.Restaurant
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		updated, err = scanRestaurant(s.pool.QueryRow(ctx, `
UPDATE restaurants
SET name = $2, location = $3, contact_no = $4, image_path = $5, updated_at = now()
WHERE id = $1
RETURNING `+restaurantColumns,
			r.ID, r.Name, r.Location, r.ContactNo, r.ImagePath,
		))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return updated, fmt.Errorf("restaurant %s: %w", r.ID, ErrNotFound)
	}
	return updated, err
}

// DeleteRestaurant removes the restaurant and, through cascades, everything
// below it.
func (s *Store) DeleteRestaurant(ctx context.Context, id string) (types.Restaurant, error) {
	defer s.observe(ctx, "restaurants.delete")()
	r, err := scanRestaurant(s.pool.QueryRow(ctx, `DELETE FROM restaurants WHERE id = $1 RETURNING `+restaurantColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return r, fmt.Errorf("restaurant %s: %w", id, ErrNotFound)
	}
	return r, err
}

// SetPublished toggles the public visibility of a restaurant. Unpublishing
// forgets the last snapshot so a later publish always writes a fresh one.
func (s *Store) SetPublished(ctx context.Context, id string, published bool) (types.Restaurant, error) {
	defer s.observe(ctx, "restaurants.set_published")()

	var r types.Restaurant
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		r, err = scanRestaurant(s.pool.QueryRow(ctx, `
UPDATE restaurants
SET is_published = $2,
    published_at = CASE WHEN $2 THEN published_at ELSE NULL END,
    published_object = CASE WHEN $2 THEN published_object ELSE '' END
WHERE id = $1
RETURNING `+restaurantColumns, id, published))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return r, fmt.Errorf("restaurant %s: %w", id, ErrNotFound)
	}
	return r, err
}

// RecordPublication stores the object key of a freshly written public
// snapshot taken at the given time.
func (s *Store) RecordPublication(ctx context.Context, id, objectPath string, at time.Time) error {
	defer s.observe(ctx, "restaurants.record_publication")()
	return s.retry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
UPDATE restaurants SET published_object = $2, published_at = $3
WHERE id = $1 AND is_published`, id, objectPath, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("published restaurant %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ListPublished returns every published restaurant, most recently published
// first.
func (s *Store) ListPublished(ctx context.Context) ([]types.Restaurant, error) {
	defer s.observe(ctx, "restaurants.list_published")()
	out, err := s.queryRestaurants(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE is_published ORDER BY published_at DESC NULLS LAST, id`)
	if err == nil {
		publishedRestaurants.Set(float64(len(out)))
	}
	return out, err
}

// ListStalePublished returns published restaurants whose content changed
// after their last snapshot.
func (s *Store) ListStalePublished(ctx context.Context) ([]types.Restaurant, error) {
	defer s.observe(ctx, "restaurants.list_stale")()
	return s.queryRestaurants(ctx, `
SELECT `+restaurantColumns+` FROM restaurants
WHERE is_published AND (published_at IS NULL OR published_object = '' OR updated_at > published_at)
ORDER BY updated_at, id`)
}

func (s *Store) observe(ctx context.Context, operation string) func() {
	start := time.Now()
	_, span := tracer.Start(ctx, "storage."+operation)
	span.SetAttributes(attribute.String("operation", operation))
	return func() {
		queryLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		span.End()
	}
}
