// Package escrow owns the escrow status of an order. Funds release happens
// exactly once, all-or-nothing, and only as a side effect of an order
// transition or dispute resolution. Decisions are pure; the orders repository
// persists them inside the transition transaction.
package escrow

import (
	"errors"
	"time"

	"github.com/cambia-market/order-lifecycle/internal/domain"
)

var (
	// ErrAlreadyLocked rejects a second lock for the same order.
	ErrAlreadyLocked = errors.New("escrow already locked for order")
	// ErrDisputeOpen blocks release while a dispute is unresolved.
	ErrDisputeOpen = errors.New("escrow disputed: release blocked")
	// ErrNotLocked rejects operations on an order with no escrow record.
	ErrNotLocked = errors.New("no escrow locked for order")
	// ErrAlreadyReleased rejects a dispute on funds that have already moved.
	ErrAlreadyReleased = errors.New("escrow already released")
)

// ReleaseResult reports where the funds went. Released is false when the call
// was an idempotent no-op on an already-released record.
type ReleaseResult struct {
	Destination domain.ReleaseDestination `json:"destination"`
	Amount      int64                     `json:"amount"`
	ReleasedAt  time.Time                 `json:"released_at"`
	Released    bool                      `json:"-"`
}

// Lock builds the initial record for an order. rec must be nil (no prior lock).
func Lock(rec *domain.EscrowRecord, orderID string, amount int64, now time.Time) (*domain.EscrowRecord, error) {
	if rec != nil {
		return nil, ErrAlreadyLocked
	}
	return &domain.EscrowRecord{
		OrderID:  orderID,
		Amount:   amount,
		Status:   domain.EscrowStatusLocked,
		LockedAt: now,
	}, nil
}

// Release moves locked funds to dest. A repeat call after a successful release
// returns the prior result unchanged, so retries from the notification and UI
// layers are safe.
func Release(rec *domain.EscrowRecord, dest domain.ReleaseDestination, now time.Time) (ReleaseResult, error) {
	if rec == nil {
		return ReleaseResult{}, ErrNotLocked
	}
	switch rec.Status {
	case domain.EscrowStatusReleased:
		return ReleaseResult{
			Destination: rec.Destination,
			Amount:      rec.Amount,
			ReleasedAt:  *rec.ReleasedAt,
		}, nil
	case domain.EscrowStatusDisputed:
		return ReleaseResult{}, ErrDisputeOpen
	}
	rec.Status = domain.EscrowStatusReleased
	rec.Destination = dest
	rec.ReleasedAt = &now
	return ReleaseResult{
		Destination: dest,
		Amount:      rec.Amount,
		ReleasedAt:  now,
		Released:    true,
	}, nil
}

// MarkDisputed raises the dispute substatus. Raising on an already-disputed
// record is a no-op; raising after release is rejected, there is nothing left
// to block.
func MarkDisputed(rec *domain.EscrowRecord) error {
	if rec == nil {
		return ErrNotLocked
	}
	if rec.Status == domain.EscrowStatusReleased {
		return ErrAlreadyReleased
	}
	rec.Status = domain.EscrowStatusDisputed
	return nil
}

// ResolveDispute clears the dispute substatus and releases to the named party.
func ResolveDispute(rec *domain.EscrowRecord, outcome domain.ReleaseDestination, now time.Time) (ReleaseResult, error) {
	if rec == nil {
		return ReleaseResult{}, ErrNotLocked
	}
	if rec.Status == domain.EscrowStatusDisputed {
		rec.Status = domain.EscrowStatusLocked
	}
	return Release(rec, outcome, now)
}
