package serializer

import (
	"time"

	"github.com/mdouchement/timecapsule/internal/delivery"
)

// Capsule serializes the render of a capsule.
// The ciphertext is never rendered.
func Capsule(v delivery.View) map[string]any {
	m := v.Capsule
	return map[string]any{
		"id":            m.ID,
		"created_at":    utc(m.CreatedAt),
		"title":         m.Title,
		"message":       v.Message,
		"trigger_type":  m.TriggerKind,
		"trigger_value": m.TriggerValue,
		"type":          m.Type,
		"is_delivered":  m.Delivered,
		"opened_at":     utc(m.OpenedAt),
	}
}

// Capsules serializes the render of capsules.
func Capsules(views []delivery.View) []map[string]any {
	capsules := make([]map[string]any, len(views))
	for i, v := range views {
		capsules[i] = Capsule(v)
	}
	return capsules
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
