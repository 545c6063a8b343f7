// Package lifecycle drives a long-running service through start and stop
// with ordered hooks, state-change notification and OpenTelemetry spans.
//
// trustd registers its startup work (initial key set load, secret store
// health check, background refresher) as OnStart hooks and its teardown as
// OnStop hooks; /health reports [Service.Health].
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-trust/pkg/lifecycle"

// Hook runs during start or stop. Hooks execute outside the state mutex
// and may call read-only methods on the service.
type Hook func(ctx context.Context) error

// StateChangeHandler observes transitions. Handlers run synchronously
// under the state mutex, so they must not call Start or Stop. A panicking
// handler is recovered and logged.
type StateChangeHandler func(old, new State)

// Info is a point-in-time snapshot of the service.
type Info struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	State     State      `json:"state"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Uptime    string     `json:"uptime,omitempty"`
}

// Service is safe for concurrent use. Build one with [NewBuilder].
type Service struct {
	name    string
	version string
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	onStart  []Hook
	onStop   []Hook
	handlers []StateChangeHandler

	mu        sync.RWMutex
	state     State
	startedAt time.Time
}

func (s *Service) Name() string    { return s.name }
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot. StartedAt and Uptime are set only while running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{Name: s.name, Version: s.version, State: s.state}
	if s.state == StateRunning {
		t := s.startedAt
		info.StartedAt = &t
		info.Uptime = s.now().Sub(t).Truncate(time.Second).String()
	}
	return info
}

// Health returns nil while running and UNAVAIL_001 otherwise.
func (s *Service) Health(context.Context) error {
	if st := s.State(); st != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable, "lifecycle: service is %s", st)
	}
	return nil
}

// SetState validates and applies a transition, then notifies handlers.
// An invalid transition returns CONF_001.
func (s *Service) SetState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	if !ValidTransition(prev, next) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", prev, next)
	}
	s.state = next
	if next == StateRunning {
		s.startedAt = s.now().UTC()
	}

	for _, h := range s.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r, "old_state", string(prev), "new_state", string(next))
				}
			}()
			h(prev, next)
		}()
	}
	return nil
}

// Start runs the OnStart hooks in registration order. The first failing
// hook stops the sequence, moves the service to failed and is returned
// wrapped as INT_001. A context cancelled before Start returns TIMEOUT_001
// without changing state.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return recordSpan(span, sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution"))
	}
	if err := s.SetState(StateStarting); err != nil {
		return recordSpan(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service", "service", s.name, "version", s.version)

	for i, hook := range s.onStart {
		if err := hook(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed", "hook", i, "error", err)
			_ = s.SetState(StateFailed)
			return recordSpan(span, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start hook failed"))
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return recordSpan(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop runs every OnStop hook in reverse registration order, even when an
// earlier one fails, so each resource gets its chance to close. Stopping
// an already stopped or failed service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer span.End()

	if s.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := s.SetState(StateStopping); err != nil {
		return recordSpan(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	var errs []error
	for i := len(s.onStop) - 1; i >= 0; i-- {
		if err := s.onStop[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed", "hook", i, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		_ = s.SetState(StateFailed)
		return recordSpan(span, sserr.Wrap(errors.Join(errs...), sserr.CodeInternal, "lifecycle: stop hook failed"))
	}

	if err := s.SetState(StateStopped); err != nil {
		return recordSpan(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.version", s.version),
		),
	)
}

func recordSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func newService(name, version string, logger *slog.Logger) *Service {
	return &Service{
		name:    name,
		version: version,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
		state:   StateUnknown,
	}
}
