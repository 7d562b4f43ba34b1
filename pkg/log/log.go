// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger used across the EARPM daemon and libraries.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(err error, msg string, keysAndValues ...any)

	// WithName returns a new logger with the specified name appended.
	WithName(name string) Logger

	// WithValues returns a new logger with additional key-value pairs.
	WithValues(keysAndValues ...any) Logger

	// Logr returns a logr.Logger view of the same core.
	Logr() logr.Logger

	// Sync flushes any buffered entries.
	Sync() error
}

var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	core *zap.Logger
}

// NewLogger builds a Logger from opts. A nil opts uses NewOptions().
func NewLogger(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	outputPaths := opts.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	cfg := &zap.Config{
		DisableCaller:    opts.DisableCaller,
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         opts.Format,
		EncoderConfig:    encoderConfig(opts),
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	core, err := cfg.Build(zap.AddCallerSkip(opts.CallerSkip), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		panic(fmt.Sprintf("failed to build zap logger: %v", err))
	}

	if opts.Name != "" {
		core = core.Named(opts.Name)
	}

	return &zapLogger{core: core}
}

// NewFromZap wraps an existing zap logger, mostly useful in tests with zaptest/observer cores.
func NewFromZap(l *zap.Logger) Logger {
	return &zapLogger{core: l}
}

func encoderConfig(opts *Options) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		MessageKey:    "message",
		LevelKey:      "level",
		TimeKey:       "timestamp",
		NameKey:       "logger",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
		EncodeDuration: func(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendFloat64(float64(d) / float64(time.Millisecond))
		},
	}
	if opts.Format == "console" && opts.EnableColor {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return ec
}

func Debug(msg string, keysAndValues ...any)            { Std().Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...any)             { Std().Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...any)             { Std().Warn(msg, keysAndValues...) }
func Error(err error, msg string, keysAndValues ...any) { Std().Error(err, msg, keysAndValues...) }
func WithName(name string) Logger                       { return Std().WithName(name) }
func WithValues(keysAndValues ...any) Logger            { return Std().WithValues(keysAndValues...) }
func Logr() logr.Logger                                 { return Std().Logr() }

func (z *zapLogger) Debug(msg string, keysAndValues ...any) {
	z.core.Debug(msg, toFields(keysAndValues...)...)
}

func (z *zapLogger) Info(msg string, keysAndValues ...any) {
	z.core.Info(msg, toFields(keysAndValues...)...)
}

func (z *zapLogger) Warn(msg string, keysAndValues ...any) {
	z.core.Warn(msg, toFields(keysAndValues...)...)
}

func (z *zapLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	z.core.Error(msg, fields...)
}

func (z *zapLogger) WithName(name string) Logger {
	return &zapLogger{core: z.core.Named(name)}
}

func (z *zapLogger) WithValues(keysAndValues ...any) Logger {
	return &zapLogger{core: z.core.With(toFields(keysAndValues...)...)}
}

func (z *zapLogger) Logr() logr.Logger {
	return zapr.NewLogger(z.core)
}

func (z *zapLogger) Sync() error {
	return z.core.Sync()
}

var (
	once sync.Once

	mu  sync.RWMutex
	std = NewNopLogger()
)

// Init replaces the global logger. Only the first call has an effect.
func Init(opts *Options) {
	once.Do(func() {
		SetStd(NewLogger(opts))
	})
}

// SetStd replaces the global logger unconditionally.
func SetStd(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	std = l
}

// Std returns the global logger instance.
func Std() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// NewNopLogger returns a logger that performs no operations.
func NewNopLogger() Logger {
	return &zapLogger{core: zap.NewNop()}
}
