package store

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	logger    *zap.Logger
	retention RetentionPolicy
	now       func() time.Time
}

func defaultOptions() *options {
	return &options{
		logger:    zap.NewNop(),
		retention: DefaultRetention(),
		now:       time.Now,
	}
}

// Option configures a Store backend.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetention sets the snapshot retention policy.
func WithRetention(p RetentionPolicy) Option {
	return func(o *options) {
		o.retention = p
	}
}

// WithClock overrides the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
