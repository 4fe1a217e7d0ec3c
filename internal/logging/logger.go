// Package logging wraps zerolog with file rotation and exposes key/value helpers
// used across the application.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// InitLogger sets up the package logger writing to stderr and, when file is non-empty,
// to a rotated log file.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	if file != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		})
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Logger().
		Level(parseLevel(level))

	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetLogLevel changes the minimum level; unknown values fall back to info
func SetLogLevel(level string) {
	mu.Lock()
	logger = logger.Level(parseLevel(level))
	mu.Unlock()
}

// SetLoggerForTest replaces the package logger
func SetLoggerForTest(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logger returns the current package logger
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func Debug(msg string, kv ...interface{}) {
	l := Logger()
	l.Debug().Fields(kv).Msg(msg)
}

func Info(msg string, kv ...interface{}) {
	l := Logger()
	l.Info().Fields(kv).Msg(msg)
}

func Warn(msg string, kv ...interface{}) {
	l := Logger()
	l.Warn().Fields(kv).Msg(msg)
}

func Error(msg string, kv ...interface{}) {
	l := Logger()
	l.Error().Fields(kv).Msg(msg)
}
