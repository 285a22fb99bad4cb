package delivery

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mdouchement/timecapsule/internal/milestone"
	"github.com/mdouchement/timecapsule/internal/model"
	"golang.org/x/text/cases"
)

// unlockDate parses the trigger value of a date capsule.
// Values without timezone are read as UTC.
func unlockDate(c *model.Capsule) (time.Time, bool) {
	t, err := dateparse.ParseIn(strings.TrimSpace(c.TriggerValue), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// dateDue returns true if the unlock date is reached, the boundary is inclusive.
// An unparsable date is never due.
func dateDue(c *model.Capsule, now time.Time) bool {
	t, ok := unlockDate(c)
	return ok && !t.After(now)
}

// sameLocation compares two locations case-insensitively.
func sameLocation(expected, actual string) bool {
	fold := cases.Fold() // Casers are not safe for concurrent use.
	return fold.String(strings.TrimSpace(expected)) == fold.String(strings.TrimSpace(actual))
}

// milestoneTarget parses the trigger value of a milestone capsule.
func milestoneTarget(c *model.Capsule) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(c.TriggerValue))
	if err != nil {
		return 0, false
	}
	return n, true
}

// milestoneReached returns true if the owner's milestone count reaches the capsule target.
// When credential is true, owners without a milestone credential are skipped.
// Provider failures are logged and treated as not reached.
func (p *pass) milestoneReached(ctx context.Context, counts *counter, c *model.Capsule, credential bool) bool {
	log := p.log.WithField("capsule", c.ID)

	target, ok := milestoneTarget(c)
	if !ok {
		log.WithField("value", c.TriggerValue).Warn("Invalid milestone target")
		return false
	}

	var token string
	if credential {
		user, err := p.db.FindUser(c.OwnerID)
		if err != nil && !p.db.IsNotFound(err) {
			log.WithError(err).Error("Could not find capsule owner")
			return false
		}
		if !user.HasMilestoneCredential() {
			log.Debug("Owner has no milestone credential, skipped")
			return false
		}
		token = user.MilestoneCredential
	}

	count, err := counts.get(ctx, c.OwnerID, token)
	if err != nil {
		log.WithError(err).Warn("Milestone provider failure")
		return false
	}
	return count >= target
}

// A counter memoizes the milestone count of each owner during a pass.
type counter struct {
	provider milestone.Provider
	timeout  time.Duration

	mu     sync.Mutex
	owners map[int]*count
}

type count struct {
	once sync.Once
	n    int
	err  error
}

func newCounter(provider milestone.Provider, timeout time.Duration) *counter {
	return &counter{
		provider: provider,
		timeout:  timeout,
		owners:   map[int]*count{},
	}
}

func (c *counter) get(ctx context.Context, ownerID int, credential string) (int, error) {
	c.mu.Lock()
	entry, ok := c.owners[ownerID]
	if !ok {
		entry = new(count)
		c.owners[ownerID] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		ctx, cancel := withTimeout(ctx, c.timeout)
		defer cancel()

		entry.n, entry.err = c.provider.Count(ctx, credential)
	})
	return entry.n, entry.err
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
