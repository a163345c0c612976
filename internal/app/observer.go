package app

import (
	"io"
	"time"

	"trivia-sync-service/internal/domain"

	"github.com/sirupsen/logrus"
)

// Observer receives command and event counters (implemented by the metrics package).
type Observer interface {
	ObserveCommand(command string, err error, elapsed time.Duration)
	ObserveEvent(table domain.Table, typ domain.EventType, applied bool)
}

type nopObserver struct{}

func (nopObserver) ObserveCommand(string, error, time.Duration)          {}
func (nopObserver) ObserveEvent(domain.Table, domain.EventType, bool) {}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func observe(o Observer, command string, start time.Time, err *error) {
	o.ObserveCommand(command, *err, time.Since(start))
}
