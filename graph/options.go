package graph

import (
	"log/slog"
	"time"

	"github.com/dshills/invoicegraph/graph/emit"
	"go.jetify.com/typeid"
)

// Option configures an Engine.
type Option func(*engineConfig) error

type engineConfig struct {
	emitter emit.Emitter
	metrics *PrometheusMetrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() (string, error)
}

func defaultConfig() engineConfig {
	return engineConfig{
		emitter: emit.NewNullEmitter(),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   newInstanceID,
	}
}

// newInstanceID returns a sortable, prefixed id such as
// "inv_01h455vb4pex5vsknk084sn02q".
func newInstanceID() (string, error) {
	id, err := typeid.WithPrefix("inv")
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// WithEmitter sets the event emitter. Defaults to a NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			return &EngineError{Message: "emitter cannot be nil", Code: CodeInvalidArguments}
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithLogger sets the logger for engine diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if l == nil {
			return &EngineError{Message: "logger cannot be nil", Code: CodeInvalidArguments}
		}
		cfg.logger = l
		return nil
	}
}

// WithClock overrides the time source. Times are stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return &EngineError{Message: "clock cannot be nil", Code: CodeInvalidArguments}
		}
		cfg.now = func() time.Time { return now().UTC() }
		return nil
	}
}

// WithIDGenerator overrides instance id allocation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(cfg *engineConfig) error {
		if newID == nil {
			return &EngineError{Message: "id generator cannot be nil", Code: CodeInvalidArguments}
		}
		cfg.newID = newID
		return nil
	}
}
