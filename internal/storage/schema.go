package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Positions are unique per parent, but the constraint is only checked at
// commit so a reorder can move siblings through each other's slots.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS restaurants (
		id               TEXT PRIMARY KEY,
		owner_id         TEXT NOT NULL,
		name             TEXT NOT NULL,
		location         TEXT NOT NULL,
		contact_no       TEXT NOT NULL DEFAULT '',
		image_path       TEXT NOT NULL DEFAULT '',
		is_published     BOOLEAN NOT NULL DEFAULT false,
		published_at     TIMESTAMPTZ,
		published_object TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS restaurants_owner_idx ON restaurants (owner_id)`,
	`CREATE INDEX IF NOT EXISTS restaurants_published_idx ON restaurants (is_published) WHERE is_published`,
	`CREATE TABLE IF NOT EXISTS menus (
		id            TEXT PRIMARY KEY,
		restaurant_id TEXT NOT NULL REFERENCES restaurants (id) ON DELETE CASCADE,
		name          TEXT NOT NULL,
		availability  TEXT NOT NULL DEFAULT '',
		position      INTEGER NOT NULL CHECK (position >= 0),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT menus_position_key UNIQUE (restaurant_id, position) DEFERRABLE INITIALLY DEFERRED
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id         TEXT PRIMARY KEY,
		menu_id    TEXT NOT NULL REFERENCES menus (id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		position   INTEGER NOT NULL CHECK (position >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT categories_position_key UNIQUE (menu_id, position) DEFERRABLE INITIALLY DEFERRED
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id          TEXT PRIMARY KEY,
		category_id TEXT NOT NULL REFERENCES categories (id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		price       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		image_path  TEXT NOT NULL DEFAULT '',
		position    INTEGER NOT NULL CHECK (position >= 0),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT items_position_key UNIQUE (category_id, position) DEFERRABLE INITIALLY DEFERRED
	)`,
	`CREATE TABLE IF NOT EXISTS banners (
		id            TEXT PRIMARY KEY,
		restaurant_id TEXT NOT NULL REFERENCES restaurants (id) ON DELETE CASCADE,
		image_path    TEXT NOT NULL,
		position      INTEGER NOT NULL CHECK (position >= 0),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT banners_position_key UNIQUE (restaurant_id, position) DEFERRABLE INITIALLY DEFERRED
	)`,
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	return s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migrate statement %d: %w", i, err)
			}
		}
		return nil
	})
}
