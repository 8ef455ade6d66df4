package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/offlinecache"
)

var _ offlinecache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps the standard logrus logger tagged with component=offlinecache.
func New(l *logrus.Logger) LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return LogrusLogger{E: l.WithField("component", "offlinecache")}
}

func (l LogrusLogger) entry(f offlinecache.Fields) *logrus.Entry {
	e := l.E
	if err, ok := f["err"].(error); ok {
		e = e.WithError(err)
		rest := make(logrus.Fields, len(f))
		for k, v := range f {
			if k != "err" {
				rest[k] = v
			}
		}
		return e.WithFields(rest)
	}
	return e.WithFields(logrus.Fields(f))
}

func (l LogrusLogger) Debug(msg string, f offlinecache.Fields) { l.entry(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f offlinecache.Fields)  { l.entry(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f offlinecache.Fields)  { l.entry(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f offlinecache.Fields) { l.entry(f).Error(msg) }
