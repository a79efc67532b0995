package app

import (
	"context"
	"errors"
	"log/slog"

	"buszy.nrfz.sg/internal/appconf"
	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/delays"
	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/metrics"
	"buszy.nrfz.sg/internal/rail"
	"buszy.nrfz.sg/internal/session"
	"buszy.nrfz.sg/internal/stops"
	"buszy.nrfz.sg/internal/worker"
	"buszy.nrfz.sg/store"
)

var errNoStore = errors.New("store not initialized")

// Application holds the dependencies for our HTTP handlers, helpers,
// and middleware. Rail and Delays are nil when their data files failed to
// load; the service still runs without them.
type Application struct {
	Config   appconf.Config
	Logger   *slog.Logger
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Store    *store.Client
	Upstream *lta.Client
	Stops    *stops.Cache
	Worker   *worker.Worker
	Sessions *session.Manager
	Rail     *rail.Timetable
	Delays   *delays.History
}

// Ping checks that the storage backend is reachable.
func (app *Application) Ping(ctx context.Context) error {
	if app.Store == nil || app.Store.DB == nil {
		return errNoStore
	}
	return app.Store.DB.PingContext(ctx)
}

// Close releases everything BuildApplication started, in reverse order.
func (app *Application) Close() {
	if app.Sessions != nil {
		app.Sessions.Shutdown()
	}
	if app.Worker != nil {
		app.Worker.Close()
	}
	if app.Metrics != nil {
		app.Metrics.Shutdown()
	}
	if app.Store != nil {
		logging.SafeCloseWithLogging(app.Store, app.Logger, "store")
	}
}
