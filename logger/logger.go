// Package logger builds the zap loggers used across pbrpc.
//
// A logger writes human-readable console output to stderr and, when a file
// path is configured, JSON lines to a file rotated by lumberjack.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"pbrpc/config"
)

var (
	globalLogger *zap.Logger
	mu           sync.RWMutex
)

func init() {
	ResetDefault()
}

// ResetDefault installs a logger built from the default options.
func ResetDefault() {
	l, err := New(config.DefaultLogOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: failed to build default logger: %v\n", err)
		l = zap.NewNop()
	}
	SetLogger(l)
}

// SetLogger replaces the process-wide default logger.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = l
}

// L returns the process-wide default logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Module returns the default logger tagged with a module field.
func Module(name string) *zap.Logger {
	return L().With(zap.String("module", name))
}

// ParseLevel maps a level name to a zap level; unknown names fall back to info.
func ParseLevel(name string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// New builds a logger from opts. With neither console nor file output it returns a no-op logger.
func New(opts config.LogOptions) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	var cores []zapcore.Core
	if opts.ToConsole {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("logger: create log dir: %w", err)
		}
		writer := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(writer),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.EnableCaller {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), zopts...), nil
}
