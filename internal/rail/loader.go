// Package rail loads the MRT and LRT first/last train tables and serves the
// merged station list.
package rail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"buszy.nrfz.sg/internal/logging"
)

const (
	SMRTFile         = "smrt-ft-lt.json"
	SBSFile          = "sbs-transit-ft-lt.json"
	StationCodesFile = "smrt-station-codes.json"

	DefaultAttempts = 3
	DefaultStep     = time.Second
)

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.step * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

type Loader struct {
	fsys     fs.FS
	attempts int
	step     time.Duration
	logger   *slog.Logger
}

type LoaderOption func(*Loader)

// WithRetry sets the attempt count and the linear backoff step.
func WithRetry(attempts int, step time.Duration) LoaderOption {
	return func(l *Loader) {
		l.attempts = attempts
		l.step = step
	}
}

func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader reads the timetable files from fsys.
func NewLoader(fsys fs.FS, opts ...LoaderOption) *Loader {
	l := &Loader{
		fsys:     fsys,
		attempts: DefaultAttempts,
		step:     DefaultStep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.attempts < 1 {
		l.attempts = 1
	}
	l.logger = l.logger.With(slog.String("component", "rail"))
	return l
}

// Load reads and merges both operators' files, retrying the whole load with
// linear backoff. The station code file is optional.
func (l *Loader) Load(ctx context.Context) (*Timetable, error) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: l.step}, uint64(l.attempts-1)),
		ctx)

	attempt := 0
	tt, err := backoff.RetryNotifyWithData(
		func() (*Timetable, error) {
			attempt++
			return l.loadOnce()
		},
		b,
		func(err error, d time.Duration) {
			logging.LogWarn(l.logger, "timetable load failed, retrying", err,
				slog.Int("attempt", attempt),
				slog.Duration("backoff", d))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("load rail timetable after %d attempts: %w", attempt, err)
	}
	logging.LogOperation(l.logger, "rail_timetable_loaded",
		slog.Int("stations", len(tt.stations)),
		slog.Int("attempts", attempt))
	return tt, nil
}

func (l *Loader) loadOnce() (*Timetable, error) {
	var smrt []rawDirectionStation
	if err := l.readJSON(SMRTFile, &smrt); err != nil {
		return nil, err
	}
	var sbs sbsFile
	if err := l.readJSON(SBSFile, &sbs); err != nil {
		return nil, err
	}
	codes := map[string]string{}
	if err := l.readJSON(StationCodesFile, &codes); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.LogWarn(l.logger, "station codes unreadable", err)
		}
		codes = map[string]string{}
	}
	return merge(smrt, sbs, codes), nil
}

func (l *Loader) readJSON(name string, v any) error {
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}
