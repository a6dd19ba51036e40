package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/example/menu-sync/internal/types"
)

// PublicView assembles the nested customer view of a restaurant inside a
// single read-only transaction so every level comes from the same snapshot.
func (s *Store) PublicView(ctx context.Context, restaurantID string) (types.PublicView, error) {
	defer s.observe(ctx, "public_view")()

	var view types.PublicView
	err := s.retry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		view, err = s.buildView(ctx, tx, restaurantID)
		if err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	return view, err
}

func (s *Store) buildView(ctx context.Context, tx pgx.Tx, restaurantID string) (types.PublicView, error) {
	r, err := scanRestaurant(tx.QueryRow(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = $1`, restaurantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.PublicView{}, fmt.Errorf("restaurant %s: %w", restaurantID, ErrNotFound)
		}
		return types.PublicView{}, err
	}

	view := types.PublicView{Restaurant: r}
	if view.Banners, err = s.Banners.list(ctx, tx, restaurantID, false); err != nil {
		return view, err
	}

	menus, err := s.Menus.list(ctx, tx, restaurantID, false)
	if err != nil {
		return view, err
	}
	view.Menus = make([]types.PublicMenu, 0, len(menus))
	for _, m := range menus {
		categories, err := s.Categories.list(ctx, tx, m.ID, false)
		if err != nil {
			return view, err
		}
		pm := types.PublicMenu{Menu: m, Categories: make([]types.PublicCategory, 0, len(categories))}
		for _, c := range categories {
			items, err := s.Items.list(ctx, tx, c.ID, false)
			if err != nil {
				return view, err
			}
			pm.Categories = append(pm.Categories, types.PublicCategory{Category: c, Items: items})
		}
		view.Menus = append(view.Menus, pm)
	}
	return view, nil
}
