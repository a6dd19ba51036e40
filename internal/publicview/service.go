// Package publicview serves the customer-facing rendition of published
// restaurants.
package publicview

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/menu-sync/internal/publish"
	"github.com/example/menu-sync/internal/storage"
	"github.com/example/menu-sync/internal/types"
)

// ErrNotPublished is returned for restaurants that exist but are private.
var ErrNotPublished = fmt.Errorf("restaurant is not published: %w", storage.ErrNotFound)

// Store provides the live read operations used on cache misses.
type Store interface {
	GetRestaurant(ctx context.Context, id string) (types.Restaurant, error)
	PublicView(ctx context.Context, restaurantID string) (types.PublicView, error)
	ListPublished(ctx context.Context) ([]types.Restaurant, error)
}

// Service resolves public menus from the newest snapshot in object storage,
// falling back to the live store while no usable snapshot exists.
type Service struct {
	store   Store
	objects publish.Objects
	explore ExploreCache
	cache   *viewCache
	logger  zerolog.Logger

	exploreMu sync.Mutex
}

// ServiceConfig configures optional behaviours of the service.
type ServiceConfig struct {
	CacheSize    int
	ExploreCache ExploreCache
}

// NewService constructs a Service.
func NewService(store Store, objects publish.Objects, logger zerolog.Logger, cfg ServiceConfig) *Service {
	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = 64
	}
	return &Service{
		store:   store,
		objects: objects,
		explore: cfg.ExploreCache,
		cache:   newViewCache(cacheSize),
		logger:  logger,
	}
}

// Menu returns the public view of a published restaurant.
func (s *Service) Menu(ctx context.Context, restaurantID string) (types.PublicView, error) {
	r, err := s.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return types.PublicView{}, err
	}
	if !r.IsPublished {
		return types.PublicView{}, ErrNotPublished
	}

	if r.PublishedObject != "" {
		if view, ok := s.cache.Get(restaurantID, r.PublishedObject); ok {
			return view, nil
		}
		view, err := s.load(ctx, r.PublishedObject)
		if err == nil {
			s.cache.Put(restaurantID, r.PublishedObject, view)
			return view, nil
		}
		s.logger.Warn().Err(err).Str("restaurant", restaurantID).Str("object", r.PublishedObject).Msg("snapshot unavailable; serving live view")
	}

	return s.store.PublicView(ctx, restaurantID)
}

func (s *Service) load(ctx context.Context, object string) (types.PublicView, error) {
	if s.objects == nil {
		return types.PublicView{}, fmt.Errorf("no object storage configured")
	}
	data, err := s.objects.Get(ctx, object)
	if err != nil {
		return types.PublicView{}, fmt.Errorf("load snapshot: %w", err)
	}
	payload, err := publish.DecodePayload(data)
	if err != nil {
		return types.PublicView{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return payload.View, nil
}

// Explore lists every published restaurant.
func (s *Service) Explore(ctx context.Context) ([]types.Restaurant, error) {
	if s.explore == nil {
		return s.store.ListPublished(ctx)
	}
	if list, ok := s.cachedExplore(ctx); ok {
		return list, nil
	}

	// One instance-local refill at a time; late arrivals re-check the cache.
	s.exploreMu.Lock()
	defer s.exploreMu.Unlock()
	if list, ok := s.cachedExplore(ctx); ok {
		return list, nil
	}

	list, err := s.store.ListPublished(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode explore listing: %w", err)
	}
	if err := s.explore.Set(ctx, data); err != nil {
		s.logger.Warn().Err(err).Msg("explore cache fill failed")
	}
	return list, nil
}

func (s *Service) cachedExplore(ctx context.Context) ([]types.Restaurant, bool) {
	data, ok, err := s.explore.Get(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("explore cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var list []types.Restaurant
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn().Err(err).Msg("explore cache entry is corrupt")
		return nil, false
	}
	return list, true
}

// Invalidate implements publish.Invalidator.
func (s *Service) Invalidate(ctx context.Context, restaurantID string) {
	s.cache.Forget(restaurantID)
	if s.explore != nil {
		if err := s.explore.Delete(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("explore cache invalidation failed")
		}
	}
}
