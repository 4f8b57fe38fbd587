package domain

import "time"

// User is an account able to own lists.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RefreshToken is a persisted refresh credential.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}
