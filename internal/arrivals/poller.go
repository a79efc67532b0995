package arrivals

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/metrics"
)

// Fetcher returns the arrivals of one stop.
type Fetcher interface {
	BusArrivals(ctx context.Context, stopCode string) (*lta.ArrivalResponse, error)
}

// Settings supplies the per-profile display choices read on every cycle.
type Settings interface {
	TimeFormat() string
	MonitoredServices(stopCode string) map[string]bool
}

// Update is one published render.
type Update struct {
	StopCode string
	Markup   []byte
	Board    *Board
	Panel    *Panel
	Err      error
	At       time.Time
}

// PollerConfig wires a Poller.
type PollerConfig struct {
	Fetcher  Fetcher
	Resolver Resolver
	Settings Settings
	Clock    clock.Clock
	Interval time.Duration
	Debounce time.Duration
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// OnRender receives markup that differs from the previous publish.
	OnRender func(Update)
	// OnError is called for every failed fetch, after the error panel is rendered.
	OnError func(stopCode string, err error)
	// OnArrivals is called after every successful cycle with the arrival set.
	OnArrivals func(stopCode, stopName string, services []lta.Service, now time.Time)
}

// Poller refreshes one stop's board on a fixed interval and on input change.
// Cycles are not cancelled by newer ones; whichever finishes last is the
// render that stays published.
type Poller struct {
	cfg    PollerConfig
	logger *slog.Logger

	mu       sync.Mutex
	stopCode string
	last     []byte
	debounce clock.Timer

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPoller returns an idle poller. Call Start to begin ticking.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "arrival_poller")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// StopCode returns the stop currently being polled.
func (p *Poller) StopCode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCode
}

// SetStopCode changes the polled stop after the debounce delay. Repeated
// calls inside the window restart it, so only the last input is fetched.
func (p *Poller) SetStopCode(code string) {
	code = strings.TrimSpace(code)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = p.cfg.Clock.AfterFunc(p.cfg.Debounce, func() {
		p.mu.Lock()
		p.stopCode = code
		p.debounce = nil
		p.mu.Unlock()
		p.Poll(p.ctx)
	})
}

// Refresh runs a cycle now, e.g. after the time format changed.
func (p *Poller) Refresh() {
	p.Poll(p.ctx)
}

// Start begins the interval ticker. It is safe to call once.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C():
				p.Poll(p.ctx)
			}
		}
	}()
}

// Close stops the ticker and any pending debounce and waits for the loop.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
		p.debounce = nil
	}
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

// Poll runs one fetch-build-render cycle for the current stop code. It never
// returns an error: failures become the error panel and an OnError call.
func (p *Poller) Poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	code := p.StopCode()
	if code == "" {
		p.publishPanel(code, PanelNoStop, nil)
		p.cfg.Metrics.ObservePoll("idle")
		return
	}

	resp, err := p.cfg.Fetcher.BusArrivals(ctx, code)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logging.LogWarn(p.logger, "arrival fetch failed", err, slog.String("stop", code))
		p.publishPanel(code, ErrorPanel(err), err)
		p.cfg.Metrics.ObservePoll("error")
		if p.cfg.OnError != nil {
			p.cfg.OnError(code, err)
		}
		return
	}

	now := p.cfg.Clock.Now()
	format := ""
	var monitored map[string]bool
	if p.cfg.Settings != nil {
		format = p.cfg.Settings.TimeFormat()
		monitored = p.cfg.Settings.MonitoredServices(code)
	}
	board := BuildBoard(code, resp, now, format, p.cfg.Resolver, monitored)

	if len(board.Cards) == 0 {
		p.publishPanel(code, PanelNoData, nil)
	} else {
		markup, err := Render(board)
		if err != nil {
			logging.LogError(p.logger, "render failed", err, slog.String("stop", code))
			p.cfg.Metrics.ObservePoll("error")
			return
		}
		p.publish(Update{StopCode: code, Markup: markup, Board: board, At: now})
	}

	if p.cfg.OnArrivals != nil {
		p.cfg.OnArrivals(code, board.StopName, resp.Services, now)
	}
}

func (p *Poller) publishPanel(code string, panel Panel, err error) {
	markup, rerr := RenderPanel(panel)
	if rerr != nil {
		logging.LogError(p.logger, "render failed", rerr, slog.String("stop", code))
		return
	}
	p.publish(Update{StopCode: code, Markup: markup, Panel: &panel, Err: err, At: p.cfg.Clock.Now()})
}

// publish forwards u unless its markup is byte-identical to the last publish.
func (p *Poller) publish(u Update) {
	p.mu.Lock()
	if bytes.Equal(p.last, u.Markup) {
		p.mu.Unlock()
		p.cfg.Metrics.ObservePoll("unchanged")
		return
	}
	p.last = u.Markup
	p.mu.Unlock()

	p.cfg.Metrics.ObservePoll("rendered")
	if p.cfg.OnRender != nil {
		p.cfg.OnRender(u)
	}
}

// LastMarkup returns the most recently published markup.
func (p *Poller) LastMarkup() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
