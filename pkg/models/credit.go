package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction types. The ledger is append-only: a user's balance is
// the running sum of all grants minus all debits, and no row is ever mutated.
const (
	TransactionGrant = "grant"
	TransactionDebit = "debit"
)

// Transaction reason codes.
const (
	ReasonVideoEvaluation = "video_evaluation"
	ReasonSignupGrant     = "signup_grant"
	ReasonTokenPurchase   = "token_purchase"
	ReasonRenderRefund    = "render_refund"
	ReasonManualGrant     = "manual_grant"
)

// CreditTransaction is one append-only ledger entry against a user balance.
type CreditTransaction struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	UserID    uuid.UUID  `db:"user_id"    json:"user_id"`
	Type      string     `db:"type"       json:"type"`
	Amount    int        `db:"amount"     json:"amount"`
	Reason    string     `db:"reason"     json:"reason"`
	JobID     *uuid.UUID `db:"job_id"     json:"job_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// TokenPack is a purchasable credit bundle surfaced as a top-up offer when a
// user's balance is too low to start an evaluation.
type TokenPack struct {
	Pack   string `json:"pack"`
	USD    int    `json:"usd"`
	Tokens int    `json:"tokens"`
}
