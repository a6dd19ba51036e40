package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/menu-sync/internal/types"
)

type fakeSource struct {
	mu          sync.Mutex
	restaurants map[string]types.Restaurant
	viewErr     error
}

func newFakeSource(rs ...types.Restaurant) *fakeSource {
	f := &fakeSource{restaurants: make(map[string]types.Restaurant)}
	for _, r := range rs {
		f.restaurants[r.ID] = r
	}
	return f
}

func (f *fakeSource) SetPublished(_ context.Context, id string, published bool) (types.Restaurant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.restaurants[id]
	if !ok {
		return types.Restaurant{}, errors.New("not found")
	}
	r.IsPublished = published
	if !published {
		r.PublishedAt = nil
		r.PublishedObject = ""
	}
	f.restaurants[id] = r
	return r, nil
}

func (f *fakeSource) PublicView(_ context.Context, id string) (types.PublicView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewErr != nil {
		return types.PublicView{}, f.viewErr
	}
	return types.PublicView{
		Restaurant: f.restaurants[id],
		Menus:      []types.PublicMenu{{Menu: types.Menu{ID: "m1", RestaurantID: id, Name: "Lunch"}}},
	}, nil
}

func (f *fakeSource) RecordPublication(_ context.Context, id, objectPath string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.restaurants[id]
	r.PublishedObject = objectPath
	r.PublishedAt = &at
	f.restaurants[id] = r
	return nil
}

func (f *fakeSource) ListStalePublished(context.Context) ([]types.Restaurant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Restaurant
	for _, r := range f.restaurants {
		if r.NeedsRepublish() {
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id string) {
	r.ids = append(r.ids, id)
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestPublishWritesSnapshot(t *testing.T) {
	source := newFakeSource(types.Restaurant{ID: "r1", Name: "Cafe"})
	objects := NewMemoryObjects()
	inv := &recordingInvalidator{}
	p := NewPublisher(source, objects, inv, time.Minute, zerolog.Nop())
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = fixedClock(at)

	r, err := p.Publish(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, r.IsPublished)
	assert.Equal(t, ObjectPath("r1", at), r.PublishedObject)

	data, err := objects.Get(context.Background(), r.PublishedObject)
	require.NoError(t, err)
	payload, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, "Lunch", payload.View.Menus[0].Name)
	assert.True(t, payload.GeneratedAt.Equal(at))
	assert.Equal(t, []string{"r1"}, inv.ids)
}

func TestPublishFailsWhenViewFails(t *testing.T) {
	source := newFakeSource(types.Restaurant{ID: "r1"})
	source.viewErr = errors.New("db down")
	objects := NewMemoryObjects()
	p := NewPublisher(source, objects, nil, time.Minute, zerolog.Nop())

	_, err := p.Publish(context.Background(), "r1")
	require.Error(t, err)
	assert.Empty(t, objects.Paths())
	assert.False(t, source.restaurants["r1"].IsPublished)
}

func TestFailedRepublishKeepsRestaurantPublic(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	source := newFakeSource(types.Restaurant{ID: "r1", IsPublished: true, PublishedObject: "published/r1/1.json", PublishedAt: &at})
	source.viewErr = errors.New("db down")
	p := NewPublisher(source, NewMemoryObjects(), nil, time.Minute, zerolog.Nop())

	_, err := p.Publish(context.Background(), "r1")
	require.Error(t, err)
	assert.True(t, source.restaurants["r1"].IsPublished)
	assert.Equal(t, "published/r1/1.json", source.restaurants["r1"].PublishedObject)
}

func TestRunOnceRefreshesOnlyStaleRestaurants(t *testing.T) {
	published := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	fresh := types.Restaurant{ID: "fresh", IsPublished: true, PublishedObject: "x", PublishedAt: &published, UpdatedAt: published.Add(-time.Minute)}
	stale := types.Restaurant{ID: "stale", IsPublished: true, PublishedObject: "y", PublishedAt: &published, UpdatedAt: published.Add(time.Minute)}
	hidden := types.Restaurant{ID: "hidden", UpdatedAt: published.Add(time.Hour)}

	source := newFakeSource(fresh, stale, hidden)
	objects := NewMemoryObjects()
	p := NewPublisher(source, objects, nil, time.Minute, zerolog.Nop())
	p.now = fixedClock(published.Add(2 * time.Minute))

	assert.Equal(t, 1, p.RunOnce(context.Background()))
	assert.Equal(t, []string{ObjectPath("stale", published.Add(2*time.Minute))}, objects.Paths())

	// the refreshed restaurant is no longer stale
	assert.Equal(t, 0, p.RunOnce(context.Background()))
}

func TestUnpublishInvalidates(t *testing.T) {
	source := newFakeSource(types.Restaurant{ID: "r1", IsPublished: true})
	inv := &recordingInvalidator{}
	p := NewPublisher(source, NewMemoryObjects(), inv, 0, zerolog.Nop())

	r, err := p.Unpublish(context.Background(), "r1")
	require.NoError(t, err)
	assert.False(t, r.IsPublished)
	assert.Equal(t, []string{"r1"}, inv.ids)
}
