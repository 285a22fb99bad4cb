package model_test

import (
	"testing"
	"time"

	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestTriggerKindValid(t *testing.T) {
	for _, k := range model.TriggerKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, model.TriggerKind("").Valid())
	assert.False(t, model.TriggerKind("Date").Valid())
	assert.False(t, model.TriggerKind("weather").Valid())
}

func TestCapsuleLabel(t *testing.T) {
	c := &model.Capsule{TriggerKind: model.TriggerLocation}
	assert.Equal(t, "location", c.Label())

	c.Type = "letter"
	assert.Equal(t, "letter", c.Label())
}

func TestCiphertextIsZero(t *testing.T) {
	assert.True(t, model.Ciphertext{}.IsZero())
	assert.False(t, model.Ciphertext{Payload: []byte{0x42}}.IsZero())
	assert.False(t, model.Ciphertext{Nonce: []byte{0x42}}.IsZero())
}

func TestReminderWindow(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, model.ReminderWeek.Window())
	assert.Equal(t, 24*time.Hour, model.ReminderDay.Window())
}

func TestHasMilestoneCredential(t *testing.T) {
	var u *model.User
	assert.False(t, u.HasMilestoneCredential())

	u = model.NewUser()
	assert.False(t, u.HasMilestoneCredential())

	u.MilestoneCredential = "ghp_token"
	assert.True(t, u.HasMilestoneCredential())
}

func TestBase(t *testing.T) {
	var m model.Model = &model.Capsule{}
	assert.Zero(t, m.GetID())
	assert.Nil(t, m.GetCreatedAt())

	now := time.Now()
	m.SetID(42)
	m.SetCreatedAt(now)
	m.SetUpdatedAt(now)
	assert.Equal(t, 42, m.GetID())
	assert.Equal(t, now, *m.GetCreatedAt())
	assert.Equal(t, now, *m.GetUpdatedAt())
}
