package delivery

import (
	"testing"
	"time"

	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/mdouchement/timecapsule/internal/notifier"
	"github.com/sebdah/goldie/v2"
)

func render(m notifier.Message) []byte {
	return []byte("To: " + m.To + "\nSubject: " + m.Subject + "\n\n" + m.Body + "\n")
}

func TestMails(t *testing.T) {
	g := goldie.New(t)
	at := time.Date(2030, 1, 1, 9, 30, 0, 0, time.UTC)
	to := "george.abitbol@nowhere.lan"

	date := &model.Capsule{Title: "Dear me", TriggerKind: model.TriggerDate, Type: "letter"}
	location := &model.Capsule{Title: "Paris trip", TriggerKind: model.TriggerLocation}
	milestone := &model.Capsule{Title: "100 PRs", TriggerKind: model.TriggerMilestone, Type: "goal"}

	tests := []struct {
		name    string
		message notifier.Message
	}{
		{"created", createdMail(date, to)},
		{"unlocked_date", unlockedMail(date, to, "Remember the class.", "https://capsule.nowhere.lan", "")},
		{"unlocked_date_no_dashboard", unlockedMail(date, to, "Remember the class.", "", "")},
		{"unlocked_location", unlockedMail(location, to, "Bonjour", "https://capsule.nowhere.lan", "paris")},
		{"unlocked_milestone", unlockedMail(milestone, to, DecryptErrorPlaceholder, "https://capsule.nowhere.lan", "")},
		{"reminder_week", reminderMail(date, to, at, model.ReminderWeek, "https://capsule.nowhere.lan")},
		{"reminder_day", reminderMail(date, to, at, model.ReminderDay, "https://capsule.nowhere.lan")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, render(tt.message))
		})
	}
}
