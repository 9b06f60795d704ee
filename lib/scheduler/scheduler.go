// Package scheduler runs the collector and the HTTP server under a suture
// supervisor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/icco/trendwatch/lib/collector"
)

// NewSupervisor returns the root supervisor with suture events logged
// through logger.
func NewSupervisor(logger *slog.Logger, shutdownTimeout time.Duration) *suture.Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	handler := &sutureslog.Handler{Logger: logger}
	return suture.New("trendwatch", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

// Runner executes one collection.
type Runner interface {
	Run(ctx context.Context, plan collector.Plan) (*collector.Result, error)
}

// Clock is a local time of day.
type Clock struct {
	Hour   int
	Minute int
}

// Schedule says when the collector runs. A zero Interval and nil Daily leave
// only manual triggers.
type Schedule struct {
	Interval   time.Duration
	Daily      *Clock
	RunOnStart bool
}

// NextRun returns the earliest time after now at which a run is due, given
// the start of the previous run. It returns the zero time when nothing is
// scheduled.
func NextRun(now, last time.Time, s Schedule) time.Time {
	var next time.Time
	if s.Interval > 0 {
		next = last.Add(s.Interval)
		if next.Before(now) {
			next = now
		}
	}
	if s.Daily != nil {
		d := time.Date(now.Year(), now.Month(), now.Day(), s.Daily.Hour, s.Daily.Minute, 0, 0, now.Location())
		if !d.After(now) {
			d = d.AddDate(0, 0, 1)
		}
		if next.IsZero() || d.Before(next) {
			next = d
		}
	}
	return next
}

// CollectorService runs a plan on a schedule and on demand.
type CollectorService struct {
	runner   Runner
	plan     collector.Plan
	schedule Schedule
	trigger  chan struct{}
	logger   *slog.Logger
	now      func() time.Time
}

func NewCollectorService(runner Runner, plan collector.Plan, schedule Schedule, logger *slog.Logger) *CollectorService {
	return &CollectorService{
		runner:   runner,
		plan:     plan,
		schedule: schedule,
		trigger:  make(chan struct{}, 1),
		logger:   logger.With(slog.String("service", "collector")),
		now:      time.Now,
	}
}

// Trigger asks for a run as soon as possible. It returns false if a
// triggered run is already pending.
func (s *CollectorService) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Serve blocks until ctx is done. Failed runs are logged and do not stop
// the service.
func (s *CollectorService) Serve(ctx context.Context) error {
	last := s.now()
	if s.schedule.RunOnStart {
		s.runOnce(ctx)
		last = s.now()
	}

	for {
		now := s.now()
		next := NextRun(now, last, s.schedule)

		var timer *time.Timer
		var due <-chan time.Time
		if !next.IsZero() {
			s.logger.DebugContext(ctx, "Next collection scheduled", slog.Time("at", next))
			timer = time.NewTimer(next.Sub(now))
			due = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-due:
		case <-s.trigger:
			if timer != nil {
				timer.Stop()
			}
			s.logger.InfoContext(ctx, "Collection triggered")
		}

		last = s.now()
		s.runOnce(ctx)
	}
}

func (s *CollectorService) runOnce(ctx context.Context) {
	_, err := s.runner.Run(ctx, s.plan)
	switch {
	case err == nil:
	case errors.Is(err, collector.ErrAlreadyRunning):
		s.logger.InfoContext(ctx, "Skipped collection, another run holds the lock")
	case ctx.Err() != nil:
	default:
		s.logger.ErrorContext(ctx, "Scheduled collection failed", slog.Any("error", err))
	}
}

func (s *CollectorService) String() string {
	return "collector:" + s.plan.Name
}

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server and shuts it down gracefully.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string {
	return "http-server"
}
