package publicview

import (
	"container/list"
	"sync"

	"github.com/example/menu-sync/internal/types"
)

type cacheKey struct {
	Restaurant string
	Object     string
}

type cacheEntry struct {
	key  cacheKey
	view types.PublicView
}

// viewCache is a small LRU of decoded snapshots. Keys include the object
// path, so a republish naturally misses and the old entry ages out.
type viewCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[cacheKey]*list.Element
}

func newViewCache(capacity int) *viewCache {
	if capacity < 1 {
		capacity = 1
	}
	return &viewCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[cacheKey]*list.Element),
	}
}

func (c *viewCache) Get(restaurantID, object string) (types.PublicView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[cacheKey{Restaurant: restaurantID, Object: object}]
	if !ok {
		return types.PublicView{}, false
	}
	c.ll.MoveToFront(element)
	return element.Value.(cacheEntry).view, true
}

func (c *viewCache) Put(restaurantID, object string, view types.PublicView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{Restaurant: restaurantID, Object: object}
	if element, ok := c.items[key]; ok {
		element.Value = cacheEntry{key: key, view: view}
		c.ll.MoveToFront(element)
		return
	}

	c.items[key] = c.ll.PushFront(cacheEntry{key: key, view: view})
	if c.ll.Len() > c.capacity {
		last := c.ll.Back()
		c.ll.Remove(last)
		delete(c.items, last.Value.(cacheEntry).key)
	}
}

// Forget drops every entry of a restaurant.
func (c *viewCache) Forget(restaurantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, element := range c.items {
		if key.Restaurant == restaurantID {
			c.ll.Remove(element)
			delete(c.items, key)
		}
	}
}

func (c *viewCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
