package peripheral

import "github.com/sirupsen/logrus"

type cleanupStep struct {
	name string
	fn   func() error
}

// cleanupStack runs its steps once, last pushed first.
type cleanupStack []cleanupStep

func (s *cleanupStack) push(name string, fn func() error) {
	*s = append(*s, cleanupStep{name: name, fn: fn})
}

func (s *cleanupStack) run(logger *logrus.Logger) {
	steps := *s
	*s = nil
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].fn(); err != nil {
			logger.WithError(err).WithField("step", steps[i].name).Warn("Teardown step failed")
			continue
		}
		logger.WithField("step", steps[i].name).Debug("Teardown step done")
	}
}
