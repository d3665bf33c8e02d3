package domain

import "time"

type AccountLockedEvent struct {
	Email       string    `json:"email"`
	Origin      string    `json:"origin"`
	LockedUntil time.Time `json:"locked_until"`
	Reason      string    `json:"reason"`
	Attempts    int       `json:"attempts"`
}

type TwoFactorStatusChangedEvent struct {
	Email   string `json:"email"`
	Enabled bool   `json:"enabled"`
}

type PasswordChangedEvent struct {
	Email     string    `json:"email"`
	ChangedAt time.Time `json:"changed_at"`
}
