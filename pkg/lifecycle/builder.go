package lifecycle

import (
	"log/slog"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// Builder assembles a [Service].
//
//	svc, err := lifecycle.NewBuilder("trustd", version).
//	    WithLogger(logger).
//	    OnStart(loadKeys).
//	    OnStop(closeDB).
//	    Build()
type Builder struct {
	name     string
	version  string
	logger   *slog.Logger
	now      func() time.Time
	onStart  []Hook
	onStop   []Hook
	handlers []StateChangeHandler
}

// NewBuilder starts a builder for the named service.
func NewBuilder(name, version string) *Builder {
	return &Builder{name: name, version: version}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for start timestamps and uptime.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// OnStart appends a start hook. Nil hooks are ignored.
func (b *Builder) OnStart(hook Hook) *Builder {
	if hook != nil {
		b.onStart = append(b.onStart, hook)
	}
	return b
}

// OnStop appends a stop hook. Stop hooks run in reverse order.
func (b *Builder) OnStop(hook Hook) *Builder {
	if hook != nil {
		b.onStop = append(b.onStop, hook)
	}
	return b
}

// OnStateChange appends a transition observer.
func (b *Builder) OnStateChange(h StateChangeHandler) *Builder {
	if h != nil {
		b.handlers = append(b.handlers, h)
	}
	return b
}

// Build validates the name and version and returns the service in
// [StateUnknown].
func (b *Builder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "lifecycle: service name is required")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "lifecycle: service version is required")
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	s := newService(b.name, b.version, logger)
	if b.now != nil {
		s.now = b.now
	}
	s.onStart = append([]Hook(nil), b.onStart...)
	s.onStop = append([]Hook(nil), b.onStop...)
	s.handlers = append([]StateChangeHandler(nil), b.handlers...)
	return s, nil
}
