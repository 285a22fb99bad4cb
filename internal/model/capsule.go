package model

import (
	"time"
)

// A TriggerKind is the category of unlock condition of a capsule.
type TriggerKind string

const (
	// TriggerDate unlocks once the trigger value (a timestamp) is reached.
	TriggerDate TriggerKind = "date"
	// TriggerLocation unlocks on a check-in at the trigger value (a location name).
	TriggerLocation TriggerKind = "location"
	// TriggerMilestone unlocks once the owner's milestone count reaches the trigger value.
	TriggerMilestone TriggerKind = "milestone"
)

// TriggerKinds lists the supported trigger kinds.
var TriggerKinds = []TriggerKind{TriggerDate, TriggerLocation, TriggerMilestone}

// Valid returns true if k is a supported trigger kind.
func (k TriggerKind) Valid() bool {
	for _, kind := range TriggerKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// A Ciphertext is a sealed message as stored at rest.
type Ciphertext struct {
	Nonce   []byte `msgpack:"nonce"`
	Payload []byte `msgpack:"payload"`
}

// IsZero returns true if nothing has been sealed.
func (c Ciphertext) IsZero() bool {
	return len(c.Nonce) == 0 && len(c.Payload) == 0
}

// A Capsule represents a database record.
//
// Apart from the delivery and reminder flags, a capsule is immutable once inserted.
// OpenedAt is set if and only if Delivered is true.
type Capsule struct {
	Base `msgpack:",inline" storm:"inline"`

	OwnerID      int         `msgpack:"owner_id"      storm:"index"`
	Title        string      `msgpack:"title"`
	Message      Ciphertext  `msgpack:"message"`
	TriggerKind  TriggerKind `msgpack:"trigger_kind"  storm:"index"`
	TriggerValue string      `msgpack:"trigger_value"`
	Type         string      `msgpack:"type,omitempty"`
	Delivered    bool        `msgpack:"delivered"     storm:"index"`
	OpenedAt     *time.Time  `msgpack:"opened_at"`
	// OwnerEmail is a snapshot of the owner's email at creation time.
	OwnerEmail string `msgpack:"owner_email"`

	Reminder7Sent bool `msgpack:"reminder7_sent"`
	Reminder1Sent bool `msgpack:"reminder1_sent"`
}

// Label returns the capsule type, or its trigger kind when no type was given.
func (c *Capsule) Label() string {
	if c.Type != "" {
		return c.Type
	}
	return string(c.TriggerKind)
}

// A Reminder identifies an unlock reminder window.
type Reminder int

const (
	// ReminderWeek is sent when the unlock date is at most 7 days away.
	ReminderWeek Reminder = 7
	// ReminderDay is sent when the unlock date is at most 1 day away.
	ReminderDay Reminder = 1
)

// Window returns the duration before the unlock date that opens the reminder.
func (r Reminder) Window() time.Duration {
	return time.Duration(r) * 24 * time.Hour
}
