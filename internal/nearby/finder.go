// Package nearby finds the bus stops around the user.
package nearby

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/prefs"
	"buszy.nrfz.sg/internal/utils"
)

type State string

const (
	StateIdle         State = "idle"
	StateLocating     State = "locating"
	StateFound        State = "found"
	StateDenied       State = "denied"
	StateUnsupported  State = "unsupported"
	StateInAppBlocked State = "in-app-browser-blocked"
	StateError        State = "error"
)

const (
	// RadiusKm is the search radius sent upstream.
	RadiusKm = 2.0

	DefaultLocationTTL = 10 * time.Minute

	locationKey = "location"
)

const (
	MsgLocating     = "Searching for nearby bus stops..."
	MsgUnavailable  = "Unable to retrieve your location."
	MsgUnsupported  = "Geolocation is not supported by your browser."
	MsgNoStops      = "No Bus Stops found nearby."
	MsgInAppBrowser = "Location access is not available in this in-app browser."
)

// Location is a WGS84 point reported by the page.
type Location struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Request is one locate attempt. Location is nil until the page has a fix.
type Request struct {
	UserAgent   string    `json:"-"`
	PageURL     string    `json:"-"`
	Location    *Location `json:"location,omitempty"`
	Denied      bool      `json:"denied,omitempty"`
	Unsupported bool      `json:"unsupported,omitempty"`
	Force       bool      `json:"force,omitempty"`
}

type Stop struct {
	BusStopCode  string  `json:"busStopCode"`
	Description  string  `json:"description"`
	RoadName     string  `json:"roadName"`
	DistanceKm   float64 `json:"distanceKm"`
	DistanceText string  `json:"distance"`
	Nearest      bool    `json:"nearest"`
	Pinned       bool    `json:"pinned"`
}

type Result struct {
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	Stops     []Stop    `json:"stops"`
	EscapeURL string    `json:"escapeUrl,omitempty"`
	Location  *Location `json:"location,omitempty"`
	// Source is "upstream" or "local".
	Source string `json:"source,omitempty"`
}

// Source is the upstream nearby lookup.
type Source interface {
	NearbyBusStops(ctx context.Context, lat, lon, radiusKm float64) ([]lta.NearbyStop, error)
}

// Index answers nearby queries from the cached stop list.
type Index interface {
	Nearby(lat, lon, radiusKm float64, limit int) []lta.NearbyStop
}

// Pins is the bookmark list.
type Pins interface {
	IsPinned(code string) bool
	TogglePinned(stop prefs.PinnedStop) bool
}

type Config struct {
	Source      Source
	Local       Index
	Pins        Pins
	LocationTTL time.Duration
	Logger      *slog.Logger
}

// Finder is owned by one session. It remembers the last location for
// LocationTTL so navigating back does not prompt again.
type Finder struct {
	source Source
	local  Index
	pins   Pins
	logger *slog.Logger

	locations *gocache.Cache

	mu    sync.Mutex
	state State
	last  Result
}

func New(cfg Config) *Finder {
	if cfg.LocationTTL <= 0 {
		cfg.LocationTTL = DefaultLocationTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Finder{
		source:    cfg.Source,
		local:     cfg.Local,
		pins:      cfg.Pins,
		logger:    cfg.Logger.With(slog.String("component", "nearby")),
		locations: gocache.New(cfg.LocationTTL, 2*cfg.LocationTTL),
		state:     StateIdle,
	}
}

func (f *Finder) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Last returns the most recent result.
func (f *Finder) Last() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := f.last
	last.Stops = append([]Stop(nil), f.last.Stops...)
	return last
}

// CachedLocation returns the remembered location, if still fresh.
func (f *Finder) CachedLocation() (Location, bool) {
	v, ok := f.locations.Get(locationKey)
	if !ok {
		return Location{}, false
	}
	loc, ok := v.(Location)
	return loc, ok
}

// Forget drops the remembered location.
func (f *Finder) Forget() {
	f.locations.Delete(locationKey)
}

// Locate runs one step of the state machine. Without a fix and without a
// fresh cached location it returns StateLocating and the page is expected
// to call again with coordinates, a denial or an unsupported report.
func (f *Finder) Locate(ctx context.Context, req Request) Result {
	res := f.locate(ctx, req)
	f.mu.Lock()
	f.state = res.State
	f.last = res
	f.last.Stops = append([]Stop(nil), res.Stops...)
	f.mu.Unlock()
	logging.LogOperation(f.logger, "nearby_located",
		slog.String("state", string(res.State)),
		slog.Int("stops", len(res.Stops)),
		slog.String("source", res.Source))
	return res
}

func (f *Finder) locate(ctx context.Context, req Request) Result {
	if IsInAppBrowser(req.UserAgent) {
		return Result{
			State:     StateInAppBlocked,
			Message:   MsgInAppBrowser,
			EscapeURL: EscapeURL(req.PageURL, req.UserAgent),
		}
	}

	if req.Location != nil {
		f.locations.SetDefault(locationKey, *req.Location)
		return f.lookup(ctx, *req.Location)
	}
	if !req.Force {
		if loc, ok := f.CachedLocation(); ok {
			return f.lookup(ctx, loc)
		}
	}

	switch {
	case req.Unsupported:
		return Result{State: StateUnsupported, Message: MsgUnsupported}
	case req.Denied:
		return Result{State: StateDenied, Message: MsgUnavailable}
	}

	return Result{State: StateLocating, Message: MsgLocating}
}

func (f *Finder) lookup(ctx context.Context, loc Location) Result {
	var (
		found  []lta.NearbyStop
		source = "upstream"
		err    error
	)
	if f.source != nil {
		found, err = f.source.NearbyBusStops(ctx, loc.Latitude, loc.Longitude, RadiusKm)
	}
	if f.source == nil || err != nil {
		if err != nil {
			logging.LogWarn(f.logger, "nearby lookup failed", err, slog.String("kind", lta.KindOf(err).String()))
		}
		var local []lta.NearbyStop
		if f.local != nil {
			local = f.local.Nearby(loc.Latitude, loc.Longitude, RadiusKm, 0)
		}
		if len(local) == 0 {
			return Result{State: StateError, Message: MsgUnavailable, Location: &loc}
		}
		found, source = local, "local"
	}

	res := Result{State: StateFound, Location: &loc, Source: source, Stops: make([]Stop, 0, len(found))}
	for i, s := range found {
		res.Stops = append(res.Stops, Stop{
			BusStopCode:  s.BusStopCode,
			Description:  s.Description,
			RoadName:     s.RoadName,
			DistanceKm:   s.Distance,
			DistanceText: utils.FormatDistance(s.Distance),
			Nearest:      i == 0,
			Pinned:       f.pins != nil && f.pins.IsPinned(s.BusStopCode),
		})
	}
	if len(res.Stops) == 0 {
		res.Message = MsgNoStops
	}
	return res
}

// TogglePin pins or unpins stop and returns the new pinned flag. The last
// result is updated to match.
func (f *Finder) TogglePin(stop prefs.PinnedStop) bool {
	if f.pins == nil {
		return false
	}
	pinned := f.pins.TogglePinned(stop)
	f.mu.Lock()
	for i := range f.last.Stops {
		if f.last.Stops[i].BusStopCode == stop.BusStopCode {
			f.last.Stops[i].Pinned = pinned
		}
	}
	f.mu.Unlock()
	return pinned
}
