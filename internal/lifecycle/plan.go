package lifecycle

import (
	"errors"
	"fmt"

	"github.com/cambia-market/order-lifecycle/internal/domain"
)

var (
	// ErrTrackingRequired rejects a shipped transition without a tracking number.
	ErrTrackingRequired = errors.New("tracking number required to mark order shipped")
	// ErrDisputeRequired rejects a refund with no open dispute on the order.
	ErrDisputeRequired = errors.New("refund requires an open dispute")
	// ErrDisputeOpen blocks any transition that would release escrow while a
	// dispute is open.
	ErrDisputeOpen = errors.New("dispute open: escrow release blocked")
)

type Request struct {
	To             domain.OrderStatus
	Role           domain.ActorRole
	ActorID        string
	TrackingNumber string
	Reason         string
}

// Plan is the full effect of one legal transition. The storage layer applies
// it atomically; the in-memory store used by handler tests applies the same
// plan, so the rules live only here.
type Plan struct {
	From           domain.OrderStatus
	To             domain.OrderStatus
	TrackingNumber string
	// Release names the party receiving escrow funds, empty when the
	// transition leaves escrow locked.
	Release domain.ReleaseDestination
	// ResolveDispute marks the open dispute resolved in the same transaction
	// (refund path only).
	ResolveDispute bool
	Description    string
}

// PlanTransition validates a transition request against the current order and
// dispute state and returns the effect to apply. Any error means no state
// change.
func PlanTransition(o *domain.Order, disputeOpen bool, req Request) (*Plan, error) {
	if err := Validate(o.Status, req.To, req.Role); err != nil {
		return nil, err
	}

	p := &Plan{
		From:           o.Status,
		To:             req.To,
		TrackingNumber: o.TrackingNumber,
		Description:    describe(req),
	}

	switch req.To {
	case domain.OrderStatusShipped:
		if req.TrackingNumber == "" {
			return nil, ErrTrackingRequired
		}
		p.TrackingNumber = req.TrackingNumber

	case domain.OrderStatusDelivered:
		if disputeOpen {
			return nil, ErrDisputeOpen
		}
		p.Release = domain.ReleaseToVendor

	case domain.OrderStatusCancelled:
		if disputeOpen {
			return nil, ErrDisputeOpen
		}
		p.Release = domain.ReleaseToCustomer

	case domain.OrderStatusRefunded:
		if !disputeOpen {
			return nil, ErrDisputeRequired
		}
		p.Release = domain.ReleaseToCustomer
		p.ResolveDispute = true
	}

	return p, nil
}

func describe(req Request) string {
	switch req.To {
	case domain.OrderStatusConfirmed:
		return "Order confirmed by vendor"
	case domain.OrderStatusProcessing:
		return "Vendor started preparing the order"
	case domain.OrderStatusShipped:
		return fmt.Sprintf("Order shipped, tracking %s", req.TrackingNumber)
	case domain.OrderStatusDelivered:
		return fmt.Sprintf("Delivery confirmed by %s", req.Role)
	case domain.OrderStatusCancelled:
		if req.Reason != "" {
			return fmt.Sprintf("Order cancelled by %s: %s", req.Role, req.Reason)
		}
		return fmt.Sprintf("Order cancelled by %s", req.Role)
	case domain.OrderStatusRefunded:
		return "Order refunded after dispute resolution"
	}
	return fmt.Sprintf("Status changed to %s", req.To)
}
