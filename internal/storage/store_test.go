package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/menu-sync/internal/types"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"unique", &pgconn.PgError{Code: "23505"}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTransient(tc.err))
		})
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	s := New(nil, WithRetryDelay(time.Millisecond))
	calls := 0
	err := s.retry(context.Background(), func(context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	s := New(nil, WithRetryDelay(time.Millisecond), WithMaxRetries(2))
	calls := 0
	err := s.retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	s := New(nil, WithRetryDelay(time.Millisecond), WithMaxRetries(1))
	calls := 0
	err := s.retry(context.Background(), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestCollectionStatements(t *testing.T) {
	s := New(nil)

	assert.Equal(t, "SELECT id, category_id, name, price, description, image_path, position, created_at, updated_at FROM items", s.Items.selectSQL)
	assert.Equal(t, "INSERT INTO menus (id, restaurant_id, name, availability, position) VALUES ($1, $2, $3, $4, $5) RETURNING id, restaurant_id, name, availability, position, created_at, updated_at", s.Menus.insertSQL)
	assert.Equal(t, "UPDATE banners SET image_path = $2, updated_at = now() WHERE id = $1 RETURNING id, restaurant_id, image_path, position, created_at, updated_at", s.Banners.updateSQL)
	assert.Equal(t, types.KindCategory, s.Categories.Kind())
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	s := New(nil)

	_, err := s.Menus.Create(context.Background(), "r1", types.Menu{})
	require.ErrorIs(t, err, types.ErrInvalid)

	_, err = s.Items.Create(context.Background(), "c1", types.Item{Name: "Soup"})
	require.ErrorIs(t, err, types.ErrInvalid)

	_, err = s.CreateRestaurant(context.Background(), types.Restaurant{Name: "Cafe"})
	require.ErrorIs(t, err, types.ErrInvalid)
}

func TestLimits(t *testing.T) {
	s := New(nil, WithLimits(map[types.Kind]int{types.KindMenu: 5}))
	assert.Equal(t, 5, s.limit(types.KindMenu))
	assert.Equal(t, 0, s.limit(types.KindItem))
}
