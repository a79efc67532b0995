package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"buszy.nrfz.sg/internal/app"
	"buszy.nrfz.sg/internal/appconf"
	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/delays"
	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/metrics"
	"buszy.nrfz.sg/internal/prefs"
	"buszy.nrfz.sg/internal/rail"
	"buszy.nrfz.sg/internal/restapi"
	"buszy.nrfz.sg/internal/session"
	"buszy.nrfz.sg/internal/stops"
	"buszy.nrfz.sg/internal/webui"
	"buszy.nrfz.sg/internal/worker"
	"buszy.nrfz.sg/store"
)

const (
	// destinationsFile maps destination codes missing from the stop list to
	// display names. It is optional.
	destinationsFile = "destinations.json"

	stopLoadTimeout   = 2 * time.Minute
	railLoadTimeout   = time.Minute
	dbStatsInterval   = 15 * time.Second
	janitorInterval   = time.Minute
	shutdownTimeout   = 30 * time.Second
	serverIdleTimeout = time.Minute
	serverReadTimeout = 5 * time.Second
)

// BuildApplication wires every component from cfg. Only a store failure is
// fatal; missing rail or delay data leaves those features disabled.
func BuildApplication(cfg appconf.Config) (*app.Application, error) {
	logger := slog.Default()
	clk := clock.RealClock{}

	db, err := store.NewClient(store.Config{DBPath: cfg.DataPath, Env: cfg.Env})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	m := metrics.NewWithLogger(logger)
	m.StartDBStatsCollector(db.DB, dbStatsInterval)

	w := worker.New(worker.Config{
		Clock:     clk,
		CacheSize: cfg.WorkerCacheSize,
		BaseURL:   fmt.Sprintf("http://localhost:%d", cfg.Port),
		Metrics:   m,
		Logger:    logger,
	})
	w.Start()

	upstream := lta.NewClient(cfg.UpstreamURL,
		lta.WithAPIKey(cfg.UpstreamAPIKey),
		lta.WithTransport(w.Transport()),
		lta.WithTimeout(appconf.DefaultUpstreamTimeout),
		lta.WithMetrics(m),
		lta.WithLogger(logger),
	)

	stopCache := stops.NewCache(upstream, prefs.New(db, stops.SharedProfile, logger), logger)
	stopCache.SetPageSize(appconf.DefaultStopCachePageSize)
	if err := stopCache.LoadOverrides(filepath.Join(cfg.DataDir(), destinationsFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.LogWarn(logger, "destination overrides not loaded", err)
	}
	stopCtx, cancelStops := context.WithTimeout(context.Background(), stopLoadTimeout)
	defer cancelStops()
	if _, err := stopCache.Load(stopCtx); err != nil {
		logging.LogWarn(logger, "bus stop cache not loaded; stop names fall back to codes", err)
	}

	coreApp := &app.Application{
		Config:   cfg,
		Logger:   logger,
		Clock:    clk,
		Metrics:  m,
		Store:    db,
		Upstream: upstream,
		Stops:    stopCache,
		Worker:   w,
	}

	dataFS := os.DirFS(cfg.DataDir())
	timetable, err := loadTimetable(dataFS, logger)
	if err != nil {
		logging.LogWarn(logger, "rail timetable not loaded", err, slog.String("dir", cfg.DataDir()))
	} else {
		coreApp.Rail = timetable
	}

	history, err := delays.Load(dataFS, clk)
	if err != nil {
		logging.LogWarn(logger, "delay history not loaded", err, slog.String("dir", cfg.DataDir()))
	} else {
		coreApp.Delays = history
	}

	coreApp.Sessions = session.NewManager(session.Config{
		Backend:      db,
		Store:        db,
		Fetcher:      upstream,
		Nearby:       upstream,
		Directory:    stopCache,
		Worker:       w,
		Clock:        clk,
		Metrics:      m,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		Debounce:     cfg.Debounce,
		IdleTimeout:  cfg.SessionIdle,
		LocationTTL:  appconf.DefaultLocationCacheTTL,
	})
	coreApp.Sessions.StartJanitor(context.Background(), janitorInterval)

	logging.LogOperation(logger, "application_built",
		slog.String("env", cfg.Env.String()),
		slog.Int("stops", len(stopCache.All())),
		slog.Bool("rail", coreApp.Rail != nil),
		slog.Bool("delays", coreApp.Delays != nil))
	return coreApp, nil
}

// loadTimetable runs the rail loader under its own deadline so the retry
// budget does not depend on how long the stop list took.
func loadTimetable(fsys fs.FS, logger *slog.Logger) (*rail.Timetable, error) {
	ctx, cancel := context.WithTimeout(context.Background(), railLoadTimeout)
	defer cancel()
	return rail.NewLoader(fsys,
		rail.WithRetry(appconf.DefaultRailLoadAttempts, appconf.DefaultRailRetryStep),
		rail.WithLogger(logger),
	).Load(ctx)
}

// CreateServer builds the HTTP server for coreApp. The write timeout stays
// zero because event streams and permission prompts hold responses open.
func CreateServer(coreApp *app.Application, cfg appconf.Config) (*http.Server, *restapi.RestAPI, error) {
	api := restapi.NewRestAPI(coreApp)
	webUI := &webui.WebUI{Application: coreApp}

	mux := http.NewServeMux()
	api.SetRoutes(mux)
	webUI.SetWebUIRoutes(mux)

	handler, err := api.Handler(mux)
	if err != nil {
		api.Shutdown()
		return nil, nil, fmt.Errorf("failed to build handler chain: %w", err)
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler,
		IdleTimeout: serverIdleTimeout,
		ReadTimeout: serverReadTimeout,
		ErrorLog:    slog.NewLogLogger(coreApp.Logger.Handler(), slog.LevelError),
	}
	return srv, api, nil
}

// Run serves until SIGINT or SIGTERM, then drains connections and releases
// the application.
func Run(srv *http.Server, coreApp *app.Application, api *restapi.RestAPI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, srv, coreApp, api)
}

func serve(ctx context.Context, srv *http.Server, coreApp *app.Application, api *restapi.RestAPI) error {
	logger := coreApp.Logger.With(slog.String("component", "server"))

	serverErr := make(chan error, 1)
	go func() {
		logging.LogOperation(logger, "server_starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = err
	case <-ctx.Done():
		logging.LogOperation(logger, "server_shutting_down")
	}

	// Sessions close first so their streams end and Shutdown does not wait
	// on them.
	coreApp.Sessions.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "server shutdown failed", err)
		if runErr == nil {
			runErr = err
		}
	}
	api.Shutdown()
	coreApp.Close()

	logging.LogOperation(logger, "server_stopped")
	return runErr
}
