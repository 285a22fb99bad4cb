package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mdouchement/timecapsule/internal/scheduler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

type capsules struct {
	sweeps    atomic.Int32
	reminders atomic.Int32
	err       error
}

func (c *capsules) SweepAllPending(context.Context) (int, error) {
	c.sweeps.Add(1)
	return 1, c.err
}

func (c *capsules) SendReminders(context.Context) (int, error) {
	c.reminders.Add(1)
	return 0, nil
}

func TestPass(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := new(capsules)

	s := scheduler.New(scheduler.Config{Capsules: c, Logger: log, Interval: time.Hour, Reminders: true})
	assert.NoError(t, s.Pass(context.Background()))
	assert.EqualValues(t, 1, c.sweeps.Load())
	assert.EqualValues(t, 1, c.reminders.Load())

	s = scheduler.New(scheduler.Config{Capsules: c, Logger: log, Interval: time.Hour})
	assert.NoError(t, s.Pass(context.Background()))
	assert.EqualValues(t, 2, c.sweeps.Load())
	assert.EqualValues(t, 1, c.reminders.Load())

	c.err = errors.New("disk I/O error")
	assert.EqualError(t, s.Pass(context.Background()), "sweep: disk I/O error")
}

func TestRunInterval(t *testing.T) {
	log, hook := test.NewNullLogger()
	c := &capsules{err: errors.New("disk I/O error")}

	s := scheduler.New(scheduler.Config{Capsules: c, Logger: log, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return c.sweeps.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, "Sweeper stopped", hook.LastEntry().Message)
}

func TestRunInvalidInterval(t *testing.T) {
	s := scheduler.New(scheduler.Config{Capsules: new(capsules)})
	assert.EqualError(t, s.Run(context.Background()), "sweep interval must be positive")
}

func TestKick(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := new(capsules)

	s := scheduler.New(scheduler.Config{Capsules: c, Logger: log, Interval: time.Hour, Debounce: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx) //nolint:errcheck

	for i := 0; i < 5; i++ {
		s.Kick()
	}

	assert.Eventually(t, func() bool {
		return c.sweeps.Load() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, c.sweeps.Load())
}
