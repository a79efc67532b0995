// Package stops caches the full bus stop listing and resolves stop and
// destination codes to names.
package stops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/tidwall/rtree"

	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/prefs"
	"buszy.nrfz.sg/internal/utils"
)

// DefaultPageSize is the upstream page length of /bus-stops.
const DefaultPageSize = 500

// SharedProfile is the preference profile the service-wide cache is
// persisted under.
const SharedProfile = "shared"

// PageSource returns one page of the stop listing.
type PageSource interface {
	BusStopsPage(ctx context.Context, skip int) ([]lta.BusStop, error)
}

// Cache holds every stop once loaded. It is persisted under the allBusStops
// preference so a restart does not refetch.
type Cache struct {
	src      PageSource
	prefs    *prefs.Store
	pageSize int
	logger   *slog.Logger

	mu        sync.RWMutex
	loaded    bool
	stops     []lta.BusStop
	byCode    map[string]int
	tree      *rtree.RTreeG[int]
	overrides map[string]string

	loadMu sync.Mutex
}

// NewCache returns an empty cache backed by src and persisted in p.
func NewCache(src PageSource, p *prefs.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		src:       src,
		prefs:     p,
		pageSize:  DefaultPageSize,
		logger:    logger.With(slog.String("component", "stop_cache")),
		byCode:    map[string]int{},
		overrides: map[string]string{},
	}
}

// SetPageSize overrides the page length used to advance $skip.
func (c *Cache) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// Load returns the cached list, reading it from the preference store or
// fetching every page on first use.
func (c *Cache) Load(ctx context.Context) ([]lta.BusStop, error) {
	c.mu.RLock()
	if c.loaded {
		stops := c.stops
		c.mu.RUnlock()
		return stops, nil
	}
	c.mu.RUnlock()

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return c.All(), nil
	}

	var persisted []lta.BusStop
	if c.prefs != nil && c.prefs.GetInto(prefs.KeyAllBusStops, &persisted) && len(persisted) > 0 {
		c.install(persisted)
		logging.LogOperation(c.logger, "stop_cache_restored", slog.Int("stops", len(persisted)))
		return persisted, nil
	}
	return c.fetchAll(ctx)
}

// Refresh drops the cache and refetches every page.
func (c *Cache) Refresh(ctx context.Context) ([]lta.BusStop, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	return c.fetchAll(ctx)
}

// fetchAll walks $skip=0,pageSize,... until an empty page. Caller holds loadMu.
func (c *Cache) fetchAll(ctx context.Context) ([]lta.BusStop, error) {
	var all []lta.BusStop
	pages := 0
	for skip := 0; ; skip += c.pageSize {
		page, err := c.src.BusStopsPage(ctx, skip)
		pages++
		if err != nil {
			return nil, fmt.Errorf("load bus stops at skip %d: %w", skip, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
	}

	c.install(all)
	if c.prefs != nil {
		c.prefs.Set(prefs.KeyAllBusStops, all)
	}
	logging.LogOperation(c.logger, "stop_cache_fetched",
		slog.Int("stops", len(all)),
		slog.Int("requests", pages))
	return all, nil
}

func (c *Cache) install(all []lta.BusStop) {
	byCode := make(map[string]int, len(all))
	tree := &rtree.RTreeG[int]{}
	for i, s := range all {
		byCode[s.BusStopCode] = i
		if s.Latitude == 0 && s.Longitude == 0 {
			continue
		}
		pt := [2]float64{s.Longitude, s.Latitude}
		tree.Insert(pt, pt, i)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops = all
	c.byCode = byCode
	c.tree = tree
	c.loaded = true
}

// All returns the loaded stops, or nil before Load.
func (c *Cache) All() []lta.BusStop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stops
}

// Loaded reports whether the stop list is available.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Lookup returns the stop record for code.
func (c *Cache) Lookup(code string) (lta.BusStop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byCode[code]
	if !ok {
		return lta.BusStop{}, false
	}
	return c.stops[i], true
}

// Name returns the description of stop code.
func (c *Cache) Name(code string) (string, bool) {
	s, ok := c.Lookup(code)
	if !ok || s.Description == "" {
		return "", false
	}
	return s.Description, true
}

// DestinationName resolves a destination code through the stop cache, then
// the static override mapping, then falls back to the raw code.
func (c *Cache) DestinationName(code string) string {
	if name, ok := c.Name(code); ok {
		return name
	}
	c.mu.RLock()
	name, ok := c.overrides[code]
	c.mu.RUnlock()
	if ok && name != "" {
		return name
	}
	return code
}

// SetOverrides replaces the static destination mapping.
func (c *Cache) SetOverrides(m map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides = make(map[string]string, len(m))
	for k, v := range m {
		c.overrides[k] = v
	}
}

// LoadOverrides reads a JSON object of destination code to name.
func (c *Cache) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read destination overrides: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse destination overrides: %w", err)
	}
	c.SetOverrides(m)
	return nil
}

// Nearby returns up to limit cached stops within radiusKm of the point,
// nearest first. A limit of zero returns every match.
func (c *Cache) Nearby(lat, lon, radiusKm float64, limit int) []lta.NearbyStop {
	bounds := utils.CalculateBounds(lat, lon, radiusKm*1000)

	c.mu.RLock()
	if c.tree == nil {
		c.mu.RUnlock()
		return nil
	}
	var out []lta.NearbyStop
	c.tree.Search(
		[2]float64{bounds.MinLon, bounds.MinLat},
		[2]float64{bounds.MaxLon, bounds.MaxLat},
		func(_, _ [2]float64, i int) bool {
			s := c.stops[i]
			d := utils.DistanceKm(lat, lon, s.Latitude, s.Longitude)
			if d <= radiusKm {
				out = append(out, lta.NearbyStop{
					BusStopCode: s.BusStopCode,
					Description: s.Description,
					RoadName:    s.RoadName,
					Distance:    d,
				})
			}
			return true
		})
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].BusStopCode < out[j].BusStopCode
		}
		return out[i].Distance < out[j].Distance
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
