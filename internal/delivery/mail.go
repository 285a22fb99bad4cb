package delivery

import (
	"fmt"
	"time"

	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/mdouchement/timecapsule/internal/notifier"
)

func dashboard(url string) string {
	if url == "" {
		return "your dashboard"
	}
	return url
}

func createdMail(c *model.Capsule, to string) notifier.Message {
	return notifier.Message{
		To:      to,
		Subject: fmt.Sprintf("Your Time Capsule \"%s\" has been created!", c.Title),
		Body:    fmt.Sprintf("Hi! Your time capsule \"%s\" was successfully created.\n\nYou will be notified when it is unlocked.", c.Title),
	}
}

// unlockedMail returns the unlock notification of the capsule with its decrypted message.
// location is the check-in location of a location capsule.
func unlockedMail(c *model.Capsule, to, message, url, location string) notifier.Message {
	m := notifier.Message{To: to}

	switch c.TriggerKind {
	case model.TriggerLocation:
		m.Subject = fmt.Sprintf("🎉 Your Time Capsule is Unlocked at %s!", location)
		m.Body = fmt.Sprintf("Hi! You have just unlocked your time capsule \"%s\" by arriving at %s.\n\nMessage: %s\nCapsule Type: %s\n\nVisit the app to view more.",
			c.Title, location, message, c.Label())
	case model.TriggerMilestone:
		m.Subject = "🎉 Your Time Capsule is Unlocked!"
		m.Body = fmt.Sprintf("Congrats! Your capsule \"%s\" has been unlocked.\n\nMessage: %s\nCapsule Type: %s\n\nVisit the app to view it.",
			c.Title, message, c.Label())
	default:
		m.Subject = fmt.Sprintf("Your Time Capsule \"%s\" has been unlocked! 🎉", c.Title)
		m.Body = fmt.Sprintf("Hi! Your time capsule \"%s\" has been unlocked.\n\nMessage: %s\n\nType: %s\n\nView it now at: %s",
			c.Title, message, c.Label(), dashboard(url))
	}

	return m
}

// reminderMail never contains the capsule message.
func reminderMail(c *model.Capsule, to string, at time.Time, r model.Reminder, url string) notifier.Message {
	when := "in 7 days"
	if r == model.ReminderDay {
		when = "tomorrow"
	}

	return notifier.Message{
		To:      to,
		Subject: fmt.Sprintf("⏳ Your Time Capsule \"%s\" unlocks %s", c.Title, when),
		Body: fmt.Sprintf("Hi! Your time capsule \"%s\" will be unlocked on %s.\n\nSee you there: %s",
			c.Title, at.UTC().Format("Mon, 02 Jan 2006 15:04 MST"), dashboard(url)),
	}
}
