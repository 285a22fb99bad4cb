package model

// A User represents a database record.
type User struct {
	Base `msgpack:",inline" storm:"inline"`

	Email    string `msgpack:"email"    storm:"unique"`
	Password string `msgpack:"password,omitempty"`
	// MilestoneCredential is the access token given to the milestone provider (e.g. a GitHub token).
	MilestoneCredential string `msgpack:"milestone_credential,omitempty"`

	// Used to revoke tokens issued before a password change.
	PasswordUpdatedAt int64 `msgpack:"password_updated_at"`
}

// NewUser returns a new user with default params.
func NewUser() *User {
	return &User{}
}

// HasMilestoneCredential returns true if the user can be asked for a milestone count.
func (u *User) HasMilestoneCredential() bool {
	return u != nil && u.MilestoneCredential != ""
}
