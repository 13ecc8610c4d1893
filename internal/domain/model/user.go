package model

import "time"

// User anchors a user's existence in the quota domain. It is created
// lazily on first contact and never deleted by this core.
type User struct {
	ID        string
	Email     string // optional; empty means absent
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUser constructs a fresh user record for upsert.
func NewUser(id, email string, now time.Time) *User {
	return &User{
		ID:        id,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch refreshes UpdatedAt and, if provided, the email.
func (u *User) Touch(email string, now time.Time) {
	if email != "" {
		u.Email = email
	}
	u.UpdatedAt = now
}
