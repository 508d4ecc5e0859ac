package model

import "time"

// Authority is a permission atom. Rows are created at bootstrap from the
// catalog and never mutated afterwards.
type Authority struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Category    string `json:"category" db:"category"`
}

// Role is a named bundle of authorities. Users are granted roles, never
// authorities directly.
type Role struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Authorities []string  `json:"authorities"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
