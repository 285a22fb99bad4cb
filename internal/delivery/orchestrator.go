package delivery

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mdouchement/timecapsule/internal/logger"
	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/mdouchement/timecapsule/internal/notifier"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type (
	// protocol tunes the delivery steps of a pass.
	protocol struct {
		// verify re-reads the capsule after its transition.
		verify bool
		// location is the check-in location quoted in the unlock emails.
		location string
	}

	// A pass is one evaluation over a set of pending capsules.
	pass struct {
		*Service
		protocol
		log logrus.FieldLogger
	}

	// eligibility decides whether a capsule is unlocked.
	eligibility func(ctx context.Context, c *model.Capsule) bool

	// dump is the debug representation of an evaluated capsule.
	dump struct {
		ID           int
		OwnerID      int
		TriggerKind  model.TriggerKind
		TriggerValue string
	}
)

func (s *Service) pass(p protocol) *pass {
	return &pass{
		Service:  s,
		protocol: p,
		log:      s.logger.WithField("sweep", ulid.Make().String()),
	}
}

// run delivers the eligible capsules.
// It returns the number of capsules delivered by this pass.
func (p *pass) run(ctx context.Context, capsules []*model.Capsule, eligible eligibility) int {
	return p.each(ctx, capsules, func(ctx context.Context, capsule *model.Capsule) bool {
		return eligible(ctx, capsule) && p.deliver(ctx, capsule)
	})
}

// each processes each capsule independently, at most s.concurrency at a time.
// It returns the number of capsules for which fn returned true.
func (p *pass) each(ctx context.Context, capsules []*model.Capsule, fn func(context.Context, *model.Capsule) bool) int {
	if len(capsules) == 0 {
		return 0
	}

	var processed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for _, capsule := range capsules {
		g.Go(func() error {
			logger.Dump(p.log, "Evaluating capsule", dump{
				ID:           capsule.ID,
				OwnerID:      capsule.OwnerID,
				TriggerKind:  capsule.TriggerKind,
				TriggerValue: capsule.TriggerValue,
			})

			if fn(ctx, capsule) {
				processed.Add(1)
			}
			return nil // Failures are isolated per capsule.
		})
	}
	g.Wait() //nolint:errcheck

	n := int(processed.Load())
	p.log.WithFields(logrus.Fields{
		"evaluated": len(capsules),
		"processed": n,
	}).Info("Pass done")
	return n
}

// deliver transitions the capsule then notifies its owner.
// It returns true if this call performed the transition.
func (p *pass) deliver(ctx context.Context, capsule *model.Capsule) bool {
	log := p.log.WithFields(logrus.Fields{
		"capsule": capsule.ID,
		"kind":    capsule.TriggerKind,
	})

	// Transition
	ok, err := p.db.MarkCapsuleDelivered(capsule.ID, p.now())
	if err != nil {
		if p.db.IsNotFound(err) {
			log.Info("Capsule vanished before its delivery")
			return false
		}
		log.WithError(err).Error("Could not mark capsule as delivered")
		return false
	}
	if !ok {
		log.Info("Capsule already delivered by another pass")
		return false
	}

	// The transition is committed, the unlock email must outlive the caller.
	ctx = context.WithoutCancel(ctx)

	// Verify
	if p.verify {
		if !p.confirm(ctx, log, capsule.ID) {
			return false
		}
	}
	log.Info("Capsule delivered")

	// Decrypt
	message, err := p.codec.Decrypt(capsule.Message)
	if err != nil {
		log.WithError(err).Warn("Could not decrypt capsule")
		message = DecryptErrorPlaceholder
	}

	// Notify
	if to := p.recipient(log, capsule); to != "" {
		p.notify(ctx, log, unlockedMail(capsule, to, message, p.dashboardURL, p.location))
	}

	// Delivered milestone capsules are not kept.
	if capsule.TriggerKind == model.TriggerMilestone {
		if err = p.db.DeleteCapsule(capsule.ID); err != nil && !p.db.IsNotFound(err) {
			log.WithError(err).Error("Could not delete delivered milestone capsule")
		}
	}

	return true
}

// confirm re-reads the capsule and checks its delivered state.
func (p *pass) confirm(ctx context.Context, log logrus.FieldLogger, id int) bool {
	if p.settle > 0 {
		t := time.NewTimer(p.settle)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	capsule, err := p.db.FindCapsule(id)
	if err != nil {
		if p.db.IsNotFound(err) {
			log.WithError(err).WithField("cause", ErrVerificationMismatch).Warn("Could not confirm delivery")
			return false
		}
		// The conditional update already succeeded.
		log.WithError(err).Warn("Could not re-read delivered capsule, assuming delivered")
		return true
	}
	if !capsule.Delivered || capsule.OpenedAt == nil {
		log.WithError(ErrVerificationMismatch).Warn("Could not confirm delivery")
		return false
	}
	return true
}

// remind sends the due unlock reminders of the given date capsules.
func (p *pass) remind(ctx context.Context, capsules []*model.Capsule, now time.Time) int {
	return p.each(ctx, capsules, func(ctx context.Context, capsule *model.Capsule) bool {
		log := p.log.WithField("capsule", capsule.ID)

		at, ok := unlockDate(capsule)
		if !ok || !at.After(now) {
			return false
		}

		var reminder model.Reminder
		switch left := at.Sub(now); {
		case left <= model.ReminderDay.Window() && !capsule.Reminder1Sent:
			reminder = model.ReminderDay
		case left <= model.ReminderWeek.Window() && !capsule.Reminder7Sent && !capsule.Reminder1Sent:
			reminder = model.ReminderWeek
		default:
			return false
		}

		ok, err := p.db.MarkCapsuleReminded(capsule.ID, reminder)
		if err != nil {
			log.WithError(err).Error("Could not mark capsule as reminded")
			return false
		}
		if !ok {
			return false
		}

		if to := p.recipient(log, capsule); to != "" {
			p.notify(context.WithoutCancel(ctx), log, reminderMail(capsule, to, at, reminder, p.dashboardURL))
		}
		return true
	})
}

// recipient returns the live owner email, or the snapshot taken at creation.
func (s *Service) recipient(log logrus.FieldLogger, capsule *model.Capsule) string {
	user, err := s.db.FindUser(capsule.OwnerID)
	switch {
	case err == nil && user.Email != "":
		return user.Email
	case err != nil && !s.db.IsNotFound(err):
		log.WithError(err).Warn("Could not find capsule owner, using email snapshot")
	}

	if capsule.OwnerEmail == "" {
		log.Warn("No recipient for capsule")
	}
	return capsule.OwnerEmail
}

// notify sends the message, failures are only logged.
func (s *Service) notify(ctx context.Context, log logrus.FieldLogger, m notifier.Message) {
	ctx, cancel := withTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.notifier.Send(ctx, m); err != nil {
		log.WithError(err).WithField("to", m.To).Error("Could not send email")
		return
	}
	log.WithField("to", m.To).Info("Email sent")
}
