package domain

import "time"

// List is an ordered container of tasks owned by a single user.
type List struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Position  float64   `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version is the storage concurrency token observed when the list was read.
	Version string `json:"-"`
}

// ListPatch carries the editable list fields. Nil fields are left untouched.
type ListPatch struct {
	Title *string `json:"title"`
}
