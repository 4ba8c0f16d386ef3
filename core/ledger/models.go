package ledger

import (
	"time"

	"github.com/trezcool/tutorly/core"
)

type EntryKind string

const (
	KindPurchase     EntryKind = "purchase"
	KindBookingDebit EntryKind = "booking-debit"
	KindRefund       EntryKind = "refund"
	KindTutorEarning EntryKind = "tutor-earning"
	KindAdjustment   EntryKind = "adjustment"
)

var Gateways = []string{"stripe", "paypal"}

// Account is the credit balance of one user (student, principal or tutor).
type Account struct {
	OwnerID   string    `json:"owner_id"`
	Balance   int       `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is an append-only movement on an Account. Amount is signed.
type Entry struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Kind         EntryKind `json:"kind"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balance_after"`
	SessionID    string    `json:"session_id,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Purchase is a payment confirmed by a gateway, to be credited once.
type Purchase struct {
	OwnerID    string `json:"owner_id" validate:"required,uuid"`
	Credits    int    `json:"credits" validate:"required,min=1"`
	Gateway    string `json:"gateway" validate:"required,oneof=stripe paypal"`
	PaymentRef string `json:"payment_ref" validate:"required,notblank"`
}

func (p *Purchase) Clean() {
	p.Gateway = core.CleanString(p.Gateway, true /* lower */)
	p.PaymentRef = core.CleanString(p.PaymentRef)
}

func (p Purchase) Reference() string {
	return p.Gateway + ":" + p.PaymentRef
}

// Adjustment is a manual signed correction made by an admin.
type Adjustment struct {
	OwnerID string `json:"owner_id" validate:"required,uuid"`
	Amount  int    `json:"amount" validate:"required"`
	Note    string `json:"note" validate:"required,notblank"`
}

// Discrepancy reports an account whose balance does not match the sum of its entries.
type Discrepancy struct {
	OwnerID    string `json:"owner_id"`
	Balance    int    `json:"balance"`
	EntriesSum int    `json:"entries_sum"`
}
