// Package scheduler runs the periodic capsule sweeps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the delay grouping kicks into a single pass.
const DefaultDebounce = 2 * time.Second

type (
	// A Capsules exposes the batch operations run by the sweeper.
	Capsules interface {
		SweepAllPending(ctx context.Context) (int, error)
		SendReminders(ctx context.Context) (int, error)
	}

	// Config holds the sweeper settings.
	Config struct {
		Capsules  Capsules
		Logger    logrus.FieldLogger
		Interval  time.Duration
		Reminders bool
		Debounce  time.Duration
	}

	// A Sweeper periodically delivers the pending capsules and sends the reminders.
	Sweeper struct {
		capsules  Capsules
		logger    logrus.FieldLogger
		interval  time.Duration
		reminders bool
		debounced func(f func())
		kick      chan struct{}
		mu        sync.Mutex // one pass at a time
	}
)

// New returns a new Sweeper.
func New(cfg Config) *Sweeper {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Sweeper{
		capsules:  cfg.Capsules,
		logger:    cfg.Logger,
		interval:  cfg.Interval,
		reminders: cfg.Reminders,
		debounced: debounce.New(cfg.Debounce),
		kick:      make(chan struct{}, 1),
	}
}

// Run sweeps every interval and on kicks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("sweep interval must be positive")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval).Info("Sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return nil
		case <-ticker.C:
		case <-s.kick:
		}

		if err := s.Pass(ctx); err != nil {
			s.logger.WithError(err).Error("Sweep failed")
		}
	}
}

// Kick requests a pass. Kicks received within the debounce delay trigger a single pass.
func (s *Sweeper) Kick() {
	s.debounced(func() {
		select {
		case s.kick <- struct{}{}:
		default: // A pass is already requested.
		}
	})
}

// Pass runs a sweep then, when enabled, the reminders.
func (s *Sweeper) Pass(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delivered, err := s.capsules.SweepAllPending(ctx)
	if err != nil {
		return errors.Wrap(err, "sweep")
	}

	fields := logrus.Fields{"delivered": delivered}
	if s.reminders {
		reminded, err := s.capsules.SendReminders(ctx)
		if err != nil {
			return errors.Wrap(err, "reminders")
		}
		fields["reminded"] = reminded
	}

	s.logger.WithFields(fields).Debug("Sweep done")
	return nil
}
