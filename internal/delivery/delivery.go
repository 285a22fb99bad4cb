// Package delivery evaluates capsule triggers and delivers the unlocked capsules.
//
// A delivery is the single transition of a capsule from pending to delivered.
// It is performed by a conditional update in the store, optionally confirmed by a re-read,
// and followed by the owner notification. Notification and decryption failures never undo a transition.
package delivery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mdouchement/timecapsule/internal/database"
	"github.com/mdouchement/timecapsule/internal/milestone"
	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/mdouchement/timecapsule/internal/notifier"
	"github.com/mdouchement/timecapsule/internal/tcerror"
	"github.com/mdouchement/timecapsule/internal/vault"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// LockedPlaceholder replaces the message of a pending capsule.
	LockedPlaceholder = "🔒 Locked until trigger is met."
	// DecryptErrorPlaceholder replaces a message that cannot be decrypted.
	DecryptErrorPlaceholder = "[Error decrypting message]"
	// NoLocationMessage is the check-in summary when nothing was delivered.
	NoLocationMessage = "No capsules to deliver at this location."
)

// ErrVerificationMismatch is reported when a transition is not confirmed by the re-read.
var ErrVerificationMismatch = errors.New("verification mismatch")

type (
	// Config holds the Service collaborators and settings.
	Config struct {
		Database   database.Client
		Codec      vault.Codec
		Milestones milestone.Provider
		Notifier   notifier.Notifier
		Logger     logrus.FieldLogger
		// DashboardURL is linked in the date unlock emails.
		DashboardURL string
		// SettleDelay is waited between a transition and its verification read.
		SettleDelay time.Duration
		// CallTimeout bounds each milestone provider and notifier call.
		CallTimeout time.Duration
		// Concurrency is the number of capsules processed at the same time.
		Concurrency int
		// Now is the clock, time.Now when nil.
		Now func() time.Time
	}

	// Service exposes the capsule operations.
	Service struct {
		db           database.Client
		codec        vault.Codec
		milestones   milestone.Provider
		notifier     notifier.Notifier
		logger       logrus.FieldLogger
		dashboardURL string
		settle       time.Duration
		callTimeout  time.Duration
		concurrency  int
		now          func() time.Time
	}

	// NewCapsule are the params used to create a capsule.
	NewCapsule struct {
		OwnerID      int
		OwnerEmail   string
		Title        string
		Message      string
		TriggerKind  model.TriggerKind
		TriggerValue string
		Type         string
	}

	// A View is a capsule as shown to its owner.
	// Message is the decrypted message when the capsule is delivered, the lock placeholder otherwise.
	View struct {
		Capsule *model.Capsule
		Message string
	}

	// CheckInResult is the outcome of a check-in.
	CheckInResult struct {
		Delivered bool
		Count     int
		Message   string
	}
)

// New returns a new Service.
func New(cfg Config) *Service {
	s := &Service{
		db:           cfg.Database,
		codec:        cfg.Codec,
		milestones:   cfg.Milestones,
		notifier:     cfg.Notifier,
		logger:       cfg.Logger,
		dashboardURL: cfg.DashboardURL,
		settle:       cfg.SettleDelay,
		callTimeout:  cfg.CallTimeout,
		concurrency:  cfg.Concurrency,
		now:          cfg.Now,
	}

	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.notifier == nil {
		s.notifier = notifier.NewLog(s.logger)
	}
	if s.milestones == nil {
		s.milestones = milestone.NewGitHub("")
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Unlocked returns true if the capsule message is readable.
func (v View) Unlocked() bool {
	return v.Capsule.Delivered
}

// CreateCapsule seals and stores a new capsule then notifies its owner.
// The notification failure is only logged.
func (s *Service) CreateCapsule(ctx context.Context, params NewCapsule) (*model.Capsule, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	ciphertext, err := s.codec.Encrypt(params.Message)
	if err != nil {
		return nil, errors.Wrap(err, "could not seal message")
	}

	capsule := &model.Capsule{
		OwnerID:      params.OwnerID,
		OwnerEmail:   params.OwnerEmail,
		Title:        params.Title,
		Message:      ciphertext,
		TriggerKind:  params.TriggerKind,
		TriggerValue: strings.TrimSpace(params.TriggerValue),
		Type:         params.Type,
	}
	if err = s.db.Save(capsule); err != nil {
		return nil, errors.Wrap(err, "could not save capsule")
	}

	log := s.logger.WithFields(logrus.Fields{
		"capsule": capsule.ID,
		"kind":    capsule.TriggerKind,
	})
	log.Info("Capsule created")

	if to := s.recipient(log, capsule); to != "" {
		s.notify(ctx, log, createdMail(capsule, to))
	}

	return capsule, nil
}

func (p NewCapsule) validate() error {
	switch {
	case strings.TrimSpace(p.Title) == "":
		return tcerror.NewWithTagCode(http.StatusBadRequest, "invalid_parameters", "title is required.")
	case p.Message == "":
		return tcerror.NewWithTagCode(http.StatusBadRequest, "invalid_parameters", "message is required.")
	case !p.TriggerKind.Valid():
		return tcerror.NewWithTagCode(http.StatusBadRequest, "invalid_parameters", "trigger type must be one of date, location or milestone.")
	case strings.TrimSpace(p.TriggerValue) == "":
		return tcerror.NewWithTagCode(http.StatusBadRequest, "invalid_parameters", "trigger value is required.")
	}
	return nil
}

// ListAndSweep delivers the owner's overdue date capsules then returns all the owner's capsules.
func (s *Service) ListAndSweep(ctx context.Context, ownerID int) ([]View, error) {
	pending, err := s.db.FindPendingCapsulesByOwner(ownerID, model.TriggerDate)
	if err != nil {
		return nil, errors.Wrap(err, "could not list pending capsules")
	}

	now := s.now()
	p := s.pass(protocol{verify: true})
	p.run(ctx, pending, func(_ context.Context, c *model.Capsule) bool {
		return dateDue(c, now)
	})

	capsules, err := s.db.FindCapsulesByOwner(ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "could not list capsules")
	}

	views := make([]View, 0, len(capsules))
	for _, capsule := range capsules {
		views = append(views, s.view(capsule))
	}
	return views, nil
}

func (s *Service) view(capsule *model.Capsule) View {
	if !capsule.Delivered {
		return View{Capsule: capsule, Message: LockedPlaceholder}
	}

	message, err := s.codec.Decrypt(capsule.Message)
	if err != nil {
		s.logger.WithField("capsule", capsule.ID).WithError(err).Warn("Could not decrypt capsule")
		message = DecryptErrorPlaceholder
	}
	return View{Capsule: capsule, Message: message}
}

// SweepAllPending delivers every pending date and milestone capsule whose trigger is met.
// Location capsules need a check-in and are never delivered by a sweep.
func (s *Service) SweepAllPending(ctx context.Context) (int, error) {
	pending, err := s.db.FindPendingCapsules("")
	if err != nil {
		return 0, errors.Wrap(err, "could not list pending capsules")
	}

	now := s.now()
	p := s.pass(protocol{verify: true})
	counts := newCounter(s.milestones, s.callTimeout)
	return p.run(ctx, pending, func(ctx context.Context, c *model.Capsule) bool {
		switch c.TriggerKind {
		case model.TriggerDate:
			return dateDue(c, now)
		case model.TriggerMilestone:
			return p.milestoneReached(ctx, counts, c, true)
		default:
			return false
		}
	}), nil
}

// CheckIn delivers the owner's pending location capsules matching the given location.
func (s *Service) CheckIn(ctx context.Context, ownerID int, location string) (CheckInResult, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return CheckInResult{}, tcerror.NewWithTagCode(http.StatusBadRequest, "invalid_parameters", "location is required.")
	}

	pending, err := s.db.FindPendingCapsulesByOwner(ownerID, model.TriggerLocation)
	if err != nil {
		return CheckInResult{}, errors.Wrap(err, "could not list pending capsules")
	}

	p := s.pass(protocol{location: location})
	n := p.run(ctx, pending, func(_ context.Context, c *model.Capsule) bool {
		return sameLocation(c.TriggerValue, location)
	})

	result := CheckInResult{
		Delivered: n > 0,
		Count:     n,
		Message:   NoLocationMessage,
	}
	if n > 0 {
		result.Message = checkInMessage(n, location)
	}
	return result, nil
}

// EvaluateMilestones delivers the pending milestone capsules whose target is reached
// according to the milestone provider. An ownerID of 0 evaluates all the owners.
func (s *Service) EvaluateMilestones(ctx context.Context, ownerID int) (int, error) {
	return s.evaluateMilestones(ctx, ownerID, newCounter(s.milestones, s.callTimeout), true)
}

// SimulateMilestones is like EvaluateMilestones with a provider always returning count.
// No milestone credential is needed.
func (s *Service) SimulateMilestones(ctx context.Context, ownerID, count int) (int, error) {
	return s.evaluateMilestones(ctx, ownerID, newCounter(milestone.Fixed(count), s.callTimeout), false)
}

func (s *Service) evaluateMilestones(ctx context.Context, ownerID int, counts *counter, credential bool) (int, error) {
	var pending []*model.Capsule
	var err error
	if ownerID == 0 {
		pending, err = s.db.FindPendingCapsules(model.TriggerMilestone)
	} else {
		pending, err = s.db.FindPendingCapsulesByOwner(ownerID, model.TriggerMilestone)
	}
	if err != nil {
		return 0, errors.Wrap(err, "could not list pending capsules")
	}

	p := s.pass(protocol{verify: true})
	return p.run(ctx, pending, func(ctx context.Context, c *model.Capsule) bool {
		return p.milestoneReached(ctx, counts, c, credential)
	}), nil
}

// SendReminders notifies the owners of the date capsules unlocking within a week or a day.
// Each reminder is sent once, the day reminder supersedes the week one.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	pending, err := s.db.FindPendingCapsules(model.TriggerDate)
	if err != nil {
		return 0, errors.Wrap(err, "could not list pending capsules")
	}

	p := s.pass(protocol{})
	return p.remind(ctx, pending, s.now()), nil
}

func checkInMessage(n int, location string) string {
	return fmt.Sprintf("Delivered %d capsule(s) at %s.", n, location)
}
