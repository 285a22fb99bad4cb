package serializer

import "github.com/mdouchement/timecapsule/internal/model"

// User serializes the render of a user.
func User(m *model.User) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"created_at": utc(m.CreatedAt),
		"updated_at": utc(m.UpdatedAt),
		"email":      m.Email,
		"milestone":  m.HasMilestoneCredential(),
	}
}
