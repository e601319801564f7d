// Package logging builds the process-wide zap logger: a colored console
// core (errors routed to stderr), an optional size-rotated file core, and
// an in-memory ring of recent entries that the HTTP API can query. One
// atomic level gates every core and can be retuned at runtime.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TraceLevel sits below zap's Debug for very chatty dispatch internals.
const TraceLevel = zapcore.Level(-2)

const (
	defaultRingSize  = 100
	defaultFileMaxMB = 50
)

// Options configures the logger. The zero value yields a console-only
// logger at Info with a 100-entry ring.
type Options struct {
	Level          string // trace|debug|info|warn|error|fatal, default info
	File           string // path of the rotated log file; empty disables it
	FileMaxMB      int    // rotate size in megabytes, default 50
	RingSize       int    // recent-entry buffer length, default 100
	DisableConsole bool   // drop the console cores (tests)
}

// Service owns the shared logger and its level.
type Service struct {
	atom   zap.AtomicLevel
	logger *zap.Logger
	ring   *ringCore
	file   *lumberjack.Logger
}

// New builds the logger stack from opts.
func New(opts Options) (*Service, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	atom := zap.NewAtomicLevelAt(lvl)

	ringSize := opts.RingSize
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	ring := newRingCore(ringSize, atom)
	cores := []zapcore.Core{ring}

	if !opts.DisableConsole {
		enc := zapcore.NewConsoleEncoder(consoleEncoderConfig(true))
		outLow := zapcore.Lock(os.Stdout)
		outHigh := zapcore.Lock(os.Stderr)
		below := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return atom.Enabled(l) && l < zapcore.ErrorLevel
		})
		atLeast := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return atom.Enabled(l) && l >= zapcore.ErrorLevel
		})
		cores = append(cores,
			zapcore.NewCore(enc, outLow, below),
			zapcore.NewCore(enc, outHigh, atLeast),
		)
	}

	var file *lumberjack.Logger
	if opts.File != "" {
		maxMB := opts.FileMaxMB
		if maxMB <= 0 {
			maxMB = defaultFileMaxMB
		}
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxMB,
			MaxBackups: 3,
			MaxAge:     28,
		}
		enc := zapcore.NewJSONEncoder(fileEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(file), atom))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &Service{atom: atom, logger: logger, ring: ring, file: file}, nil
}

// Logger returns the root logger.
func (s *Service) Logger() *zap.Logger { return s.logger }

// Named returns a child logger for one component.
func (s *Service) Named(name string) *zap.Logger { return s.logger.Named(name) }

// SetLevel retunes the shared level at runtime.
func (s *Service) SetLevel(name string) error {
	lvl, err := ParseLevel(name)
	if err != nil {
		return err
	}
	s.atom.SetLevel(lvl)
	return nil
}

// Level reports the current level name.
func (s *Service) Level() string { return LevelName(s.atom.Level()) }

// Recent returns up to n of the latest entries, oldest first.
func (s *Service) Recent(n int) []Entry { return s.ring.recent(n) }

// Sync flushes buffered cores and closes the rotated file if any.
func (s *Service) Sync() error {
	err := s.logger.Sync()
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Trace logs at TraceLevel; zap has no method for custom levels.
func Trace(l *zap.Logger, msg string, fields ...zap.Field) {
	l.Log(TraceLevel, msg, fields...)
}

// ParseLevel maps a level name to its zapcore value. Empty means Info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return TraceLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// LevelName is the inverse of ParseLevel.
func LevelName(l zapcore.Level) string {
	if l == TraceLevel {
		return "trace"
	}
	return l.String()
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(LevelName(l))
	}
	return cfg
}

func consoleEncoderConfig(color bool) zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l == TraceLevel {
			if color {
				enc.AppendString("\x1b[35mTRACE\x1b[0m")
			} else {
				enc.AppendString("TRACE")
			}
			return
		}
		if color {
			zapcore.CapitalColorLevelEncoder(l, enc)
		} else {
			zapcore.CapitalLevelEncoder(l, enc)
		}
	}
	return cfg
}
