package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const otelScope = "github.com/fyrsmithlabs/taskmaster"

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel

	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// newCore tees the console writer and the OTEL bridge, then samples.
func newCore(cfg *Config, provider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stdout || cfg.Output.Stderr {
		w := zapcore.Lock(os.Stdout)
		if cfg.Output.Stderr {
			w = zapcore.Lock(os.Stderr)
		}
		enc := newRedactingEncoder(newEncoder(cfg.Format), cfg.RedactKeys, cfg.Scrubber)
		cores = append(cores, zapcore.NewCore(enc, w, cfg.Level))
	}
	if cfg.Output.OTEL && provider != nil {
		cores = append(cores, otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(provider)))
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log output available")
	}

	core := zapcore.NewTee(cores...)
	if !cfg.Sampling.Enabled {
		return core, nil
	}

	// Errors bypass the sampler.
	sampled := zapcore.NewSamplerWithOptions(
		levelRange{Core: core, max: zapcore.WarnLevel},
		cfg.Sampling.Tick, cfg.Sampling.Initial, cfg.Sampling.Thereafter,
	)
	return zapcore.NewTee(levelRange{Core: core, min: zapcore.ErrorLevel, hasMin: true}, sampled), nil
}

// levelRange passes entries at or above min when hasMin is set, otherwise
// entries at or below max.
type levelRange struct {
	zapcore.Core
	min, max zapcore.Level
	hasMin   bool
}

func (c levelRange) Enabled(l zapcore.Level) bool {
	if c.hasMin && l < c.min {
		return false
	}
	if !c.hasMin && l > c.max {
		return false
	}
	return c.Core.Enabled(l)
}

func (c levelRange) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c levelRange) With(fields []zapcore.Field) zapcore.Core {
	return levelRange{Core: c.Core.With(fields), min: c.min, max: c.max, hasMin: c.hasMin}
}
