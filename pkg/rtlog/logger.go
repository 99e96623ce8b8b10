// Package rtlog provides structured logging for the task runtime: an
// event/category/level shape backed by zerolog.
package rtlog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Category identifies the runtime subsystem emitting the event.
type Category string

const (
	CategoryExecutor   Category = "executor"
	CategoryParkingLot Category = "parkinglot"
	CategoryFutex      Category = "futex"
	CategoryTask       Category = "task"
	CategoryCmdBuf     Category = "cmdbuf"
	CategoryStackArena Category = "stackarena"
	CategorySync       Category = "sync"
)

// Logger wraps a zerolog.Logger with the runtime's category vocabulary.
type Logger struct {
	base zerolog.Logger
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns a process-wide Logger writing to stderr at info level.
// Safe to call concurrently; the underlying zerolog.Logger is immutable.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLog = New(os.Stderr, zerolog.InfoLevel)
	})
	return defaultLog
}

// New builds a Logger writing JSON lines to w at the given minimum level.
func New(w io.Writer, level zerolog.Level) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger().Level(level)
	return &Logger{base: zl}
}

// Event starts a structured log entry for the given category.
func (l *Logger) Event(category Category) *zerolog.Event {
	return l.base.Info().Str("category", string(category))
}

// Debug logs a debug-level event with a category and message.
func (l *Logger) Debug(category Category, msg string) {
	l.base.Debug().Str("category", string(category)).Msg(msg)
}

// Warn logs a warn-level event with a category and message.
func (l *Logger) Warn(category Category, msg string) {
	l.base.Warn().Str("category", string(category)).Msg(msg)
}

// Error logs an error-level event with a category, error, and message.
func (l *Logger) Error(category Category, err error, msg string) {
	l.base.Error().Str("category", string(category)).Err(err).Msg(msg)
}

// WithTask returns a child Logger that stamps task_id/worker_id fields.
func (l *Logger) WithTask(taskID, workerID uint64) *Logger {
	return &Logger{base: l.base.With().Uint64("task_id", taskID).Uint64("worker_id", workerID).Logger()}
}
