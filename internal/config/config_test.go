package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/menu-sync/internal/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "menu-sync", cfg.AppName)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, Limits{MenusPerRestaurant: 5, CategoriesPerMenu: 20, ItemsPerCategory: 50, BannersPerRestaurant: 5}, cfg.Limits)
	assert.Equal(t, time.Minute, cfg.PublishInterval)
	assert.Equal(t, 5*time.Minute, cfg.ExploreCacheTTL)
	assert.Equal(t, 64, cfg.PublicCacheSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_ITEMS_PER_CATEGORY", "10")
	t.Setenv("PUBLISH_INTERVAL", "30s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("OBJECT_USE_SSL", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Limits.ItemsPerCategory)
	assert.Equal(t, 30*time.Second, cfg.PublishInterval)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.ObjectUseSSL)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MAX_MENUS_PER_RESTAURANT", "lots")
	t.Setenv("EXPLORE_CACHE_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Limits.MenusPerRestaurant)
	assert.Equal(t, 5*time.Minute, cfg.ExploreCacheTTL)
}

func TestLoadRejectsEmptyCache(t *testing.T) {
	t.Setenv("PUBLIC_CACHE_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestLimitsByKind(t *testing.T) {
	limits := Limits{MenusPerRestaurant: 1, CategoriesPerMenu: 2, ItemsPerCategory: 3, BannersPerRestaurant: 4}
	assert.Equal(t, map[types.Kind]int{
		types.KindMenu:     1,
		types.KindCategory: 2,
		types.KindItem:     3,
		types.KindBanner:   4,
	}, limits.ByKind())
}
