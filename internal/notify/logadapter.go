package notify

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"

	"meeting-insights-go/internal/logger"
)

// logAdapter routes watermill's logging into the service logger.
type logAdapter struct {
	entry *logrus.Entry
}

func newLogAdapter(log *logger.Logger) watermill.LoggerAdapter {
	return logAdapter{entry: log.Entry}
}

func (a logAdapter) fields(f watermill.LogFields) *logrus.Entry {
	return a.entry.WithFields(logrus.Fields(f))
}

func (a logAdapter) Error(msg string, err error, f watermill.LogFields) {
	a.fields(f).WithError(err).Error(msg)
}

func (a logAdapter) Info(msg string, f watermill.LogFields) {
	a.fields(f).Info(msg)
}

func (a logAdapter) Debug(msg string, f watermill.LogFields) {
	a.fields(f).Debug(msg)
}

func (a logAdapter) Trace(msg string, f watermill.LogFields) {
	a.fields(f).Trace(msg)
}

func (a logAdapter) With(f watermill.LogFields) watermill.LoggerAdapter {
	return logAdapter{entry: a.fields(f)}
}
