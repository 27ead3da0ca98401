package challenge

import (
	"time"
)

type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeVerified Outcome = "verified"
	OutcomeExpired  Outcome = "expired"
)

// Record is the single stored verification challenge for a principal. Only the
// keyed digest of the code is persisted.
type Record struct {
	ID          uint       `json:"-" gorm:"primarykey"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PrincipalID string     `json:"principal_id" gorm:"uniqueIndex;size:255;not null"`
	Nonce       string     `json:"nonce" gorm:"size:36;not null"`
	CodeHash    string     `json:"code_hash" gorm:"size:64;not null"`
	IssuedAt    time.Time  `json:"issued_at" gorm:"not null"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"not null;index"`
	Attempts    int        `json:"attempts" gorm:"not null"`
	Consumed    bool       `json:"consumed" gorm:"not null"`
	Outcome     Outcome    `json:"outcome" gorm:"size:16"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

func (Record) TableName() string {
	return "verification_records"
}

func (r *Record) clone() *Record {
	c := *r
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		c.ConsumedAt = &t
	}
	return &c
}

// Challenge is handed to the caller exactly once, at issuance. It is the only
// place the plaintext code exists.
type Challenge struct {
	PrincipalID string
	Code        string
	Nonce       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type State string

const (
	StateActive   State = "active"
	StateConsumed State = "consumed"
	StateExpired  State = "expired"
	StateLocked   State = "locked"
)

type Status struct {
	PrincipalID       string    `json:"principal_id"`
	State             State     `json:"state"`
	IssuedAt          time.Time `json:"issued_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Attempts          int       `json:"attempts"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}
