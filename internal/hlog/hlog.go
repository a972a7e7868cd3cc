// Package hlog provides the structured logger shared by every harmonics
// component, grounded in orbas1-Synnergy's logrus-based logging (the pack's
// only repo with a real structured-logging dependency). All components log
// through a single *logrus.Entry carrying a "component" field rather than
// constructing ad-hoc loggers, so `run`/`fit`/partition output is greppable.
package hlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base     *logrus.Logger
	baseOnce sync.Once
)

func root() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		base.SetLevel(logrus.InfoLevel)
	})
	return base
}

// SetLevel adjusts the process-wide log level, e.g. from a --verbose flag.
func SetLevel(level logrus.Level) {
	root().SetLevel(level)
}

// For returns a logger scoped to a named component, e.g. hlog.For("runtime").
func For(component string) *logrus.Entry {
	return root().WithField("component", component)
}
