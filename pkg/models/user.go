package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns jobs, API keys, and a metered credit balance.
type User struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	Email          string    `db:"email"           json:"email"`
	CreditsBalance int       `db:"credits_balance" json:"credits_balance"`
	IsAdmin        bool      `db:"is_admin"        json:"is_admin"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}
