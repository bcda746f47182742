package geocode

import (
	"container/list"
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/uber/h3-go/v4"

	"github.com/couchcryptid/geoposition-service/internal/domain"
	"github.com/couchcryptid/geoposition-service/internal/observability"
)

// DefaultH3Resolution groups reverse lookups into cells of roughly 300 m².
const DefaultH3Resolution = 12

// CacheConfig sizes a Cached provider.
type CacheConfig struct {
	MaxEntries   int
	H3Resolution int
}

// Cached wraps a role's Provider with an in-memory LRU cache. Reverse
// lookups are keyed by the H3 cell of the coordinates, forward lookups by
// the normalized address text and IP lookups by the address.
type Cached struct {
	role       domain.GeocodeRole
	inner      Provider
	cache      *lru
	resolution int
	metrics    *observability.Metrics
}

// NewCached creates a cache decorator for role around inner. A zero
// H3Resolution selects DefaultH3Resolution.
func NewCached(role domain.GeocodeRole, inner Provider, cfg CacheConfig, metrics *observability.Metrics) *Cached {
	if cfg.H3Resolution <= 0 {
		cfg.H3Resolution = DefaultH3Resolution
	}
	return &Cached{
		role:       role,
		inner:      inner,
		cache:      newLRU(cfg.MaxEntries),
		resolution: cfg.H3Resolution,
		metrics:    metrics,
	}
}

// Geocode serves pos from the cache when its key was resolved before. On a
// miss the inner provider runs against a blank position seeded with the key
// fields only, so the recorded enrichment holds every field the provider
// set regardless of what pos already carried. Hits and misses merge that
// enrichment into pos before cb runs.
func (c *Cached) Geocode(ctx context.Context, pos *domain.Position, cb domain.GeocodeCallback) {
	if cb == nil {
		cb = func(any, error) {}
	}
	key, seed, ok := c.key(pos)
	if !ok {
		c.inner.Geocode(ctx, pos, cb)
		return
	}

	if r, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues(string(c.role), "hit").Inc()
		pos.Merge(r.enrichment)
		cb(r.data, nil)
		return
	}
	c.metrics.GeocodeCache.WithLabelValues(string(c.role), "miss").Inc()

	scratch := domain.NewPosition(seed)
	before := scratch.Snapshot()
	c.inner.Geocode(ctx, scratch, func(data any, err error) {
		if err != nil || data == nil {
			cb(data, err)
			return
		}
		r := resolved{data: data, enrichment: changes(before, scratch.Snapshot())}
		c.cache.put(key, r)
		pos.Merge(r.enrichment)
		cb(data, nil)
	})
}

// key returns the cache key for pos and the payload that seeds a lookup
// for it.
func (c *Cached) key(pos *domain.Position) (string, domain.Payload, bool) {
	switch c.role {
	case domain.RoleReverse:
		if !pos.HasCoordinates() {
			return "", nil, false
		}
		lat, lng := *pos.Coords.Latitude, *pos.Coords.Longitude
		cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), c.resolution)
		if err != nil {
			return "", nil, false
		}
		return "rev:" + cell.String(), domain.Payload{"latitude": lat, "longitude": lng}, true
	case domain.RoleForward:
		text := strings.ToLower(strings.Join(strings.Fields(pos.Address.Formatted), " "))
		return "fwd:" + text, domain.Payload{"formatted": pos.Address.Formatted}, text != ""
	case domain.RoleIP:
		return "ip:" + pos.IP, domain.Payload{"ip": pos.IP}, pos.IP != ""
	default:
		return "", nil, false
	}
}

// changes returns the snapshot fields whose value differs between before
// and after. Coordinates are compared one by one so a hit never clears a
// coordinate the provider did not set. The timestamp is excluded.
func changes(before, after domain.Payload) domain.Payload {
	out := make(domain.Payload)
	for k, v := range after {
		switch k {
		case "timestamp":
		case "coords":
			prev, _ := before[k].(domain.Payload)
			next, _ := v.(domain.Payload)
			if moved := changes(prev, next); len(moved) > 0 {
				out[k] = moved
			}
		default:
			if !reflect.DeepEqual(before[k], v) {
				out[k] = v
			}
		}
	}
	return out
}

// resolved is one cached lookup: the provider's result and the position
// fields it set.
type resolved struct {
	data       any
	enrichment domain.Payload
}

// lru is a thread-safe, size-bounded map of resolved lookups. The front of
// order is the most recently used key.
type lru struct {
	mu    sync.Mutex
	limit int
	order *list.List
	items map[string]*list.Element
}

type lruItem struct {
	key string
	val resolved
}

func newLRU(limit int) *lru {
	return &lru{limit: limit, order: list.New(), items: make(map[string]*list.Element)}
}

func (l *lru) get(key string) (resolved, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if !ok {
		return resolved{}, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruItem).val, true
}

func (l *lru) put(key string, val resolved) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[key]; ok {
		el.Value.(*lruItem).val = val
		l.order.MoveToFront(el)
		return
	}
	l.items[key] = l.order.PushFront(&lruItem{key: key, val: val})
	for l.order.Len() > l.limit {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(*lruItem).key)
	}
}

func (l *lru) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
