// Package dblog persists worker log entries into the local store so they
// survive restarts and can be inspected offline.
package dblog

import (
	"context"
	"time"

	"github.com/unkn0wn-root/offlinecache"
	"github.com/unkn0wn-root/offlinecache/localdb"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// ParseLevel maps a level name to a Level; unknown names yield LevelWarn.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "error":
		return LevelError
	default:
		return LevelWarn
	}
}

// Appender is the subset of localdb.Store the logger needs.
type Appender interface {
	AppendLog(ctx context.Context, e localdb.LogEntry) (localdb.LogEntry, error)
}

type Options struct {
	// Entries below Min are only forwarded to Next. Default LevelWarn.
	Min Level
	// Next receives every entry. Default NopLogger.
	Next offlinecache.Logger
	// Timeout bounds each write. Default 2s.
	Timeout time.Duration
	Now     func() time.Time
}

type Logger struct {
	db      Appender
	min     Level
	next    offlinecache.Logger
	timeout time.Duration
	now     func() time.Time
}

var _ offlinecache.Logger = (*Logger)(nil)

func New(db Appender, opts Options) *Logger {
	l := &Logger{
		db:      db,
		min:     opts.Min,
		next:    opts.Next,
		timeout: opts.Timeout,
		now:     opts.Now,
	}
	if l.next == nil {
		l.next = offlinecache.NopLogger{}
	}
	if l.timeout <= 0 {
		l.timeout = 2 * time.Second
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

func (l *Logger) Debug(msg string, f offlinecache.Fields) {
	l.next.Debug(msg, f)
	l.persist(LevelDebug, msg, f)
}

func (l *Logger) Info(msg string, f offlinecache.Fields) {
	l.next.Info(msg, f)
	l.persist(LevelInfo, msg, f)
}

func (l *Logger) Warn(msg string, f offlinecache.Fields) {
	l.next.Warn(msg, f)
	l.persist(LevelWarn, msg, f)
}

func (l *Logger) Error(msg string, f offlinecache.Fields) {
	l.next.Error(msg, f)
	l.persist(LevelError, msg, f)
}

func (l *Logger) persist(level Level, msg string, f offlinecache.Fields) {
	if l.db == nil || level < l.min {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	var details map[string]any
	if len(f) > 0 {
		details = map[string]any(f)
	}
	_, err := l.db.AppendLog(ctx, localdb.LogEntry{
		Timestamp: l.now(),
		Level:     level.String(),
		Message:   msg,
		Details:   details,
	})
	if err != nil {
		// only to next, never back into the store
		l.next.Debug("log entry not persisted", offlinecache.Fields{"err": err, "message": msg})
	}
}
