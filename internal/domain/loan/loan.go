package loan

import (
	"time"

	"github.com/equiptrack/station/internal/domain/equipment"
)

// MaxOperatorID is the highest operator id accepted by the workflow.
const MaxOperatorID = 9_000_000

// ActiveLoan is one row of the remote-computed view of equipment currently
// in an operator's possession. It is never authoritative locally; the
// workflow only patches it optimistically between refetches.
type ActiveLoan struct {
	ID           int64              `json:"id"`
	LoanID       int64              `json:"loan_id"`
	OperatorID   string             `json:"operator_id"`
	ItemID       int64              `json:"item_id"`
	Category     equipment.Category `json:"category"`
	IssuedAt     time.Time          `json:"issued_at"`
	DueAt        *time.Time         `json:"due_at,omitempty"`
	SerialNumber string             `json:"serial_number"`
	InternalID   string             `json:"internal_id"`
}

// Overdue reports whether the loan is past its due date at the given time.
func (l *ActiveLoan) Overdue(now time.Time) bool {
	return l.DueAt != nil && now.After(*l.DueAt)
}

// ValidOperatorID reports whether s is an acceptable operator id: digits
// only, at most 7 of them, with a numeric value in (0, MaxOperatorID].
func ValidOperatorID(s string) bool {
	if len(s) == 0 || len(s) > 7 {
		return false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		n = n*10 + int(r-'0')
	}
	return n > 0 && n <= MaxOperatorID
}

// HoldsCategory reports whether the operator already has an item of the
// given category in the active-loans view. The workflow enforces at most
// one device per category per operator against this (possibly optimistic)
// view; the remote service is not trusted to reject the second issue.
func HoldsCategory(loans []ActiveLoan, operatorID string, category equipment.Category) bool {
	for i := range loans {
		if loans[i].OperatorID == operatorID && loans[i].Category == category {
			return true
		}
	}
	return false
}
