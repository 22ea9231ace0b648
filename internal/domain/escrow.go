package domain

import "time"

type ReleaseDestination string

const (
	ReleaseToVendor   ReleaseDestination = "vendor"
	ReleaseToCustomer ReleaseDestination = "customer"
)

// EscrowRecord is 1:1 with an order; its lifetime is bound to the order and it
// is only ever mutated as a side effect of order transitions or dispute
// resolution.
type EscrowRecord struct {
	OrderID     string             `json:"order_id"`
	Amount      int64              `json:"amount"`
	Status      EscrowStatus       `json:"status"`
	Destination ReleaseDestination `json:"destination,omitempty"`
	LockedAt    time.Time          `json:"locked_at"`
	ReleasedAt  *time.Time         `json:"released_at,omitempty"`
}

type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

type Dispute struct {
	ID           string             `json:"id"`
	OrderID      string             `json:"order_id"`
	RaisedByRole ActorRole          `json:"raised_by_role"`
	RaisedByID   string             `json:"raised_by_id"`
	Reason       string             `json:"reason"`
	Status       DisputeStatus      `json:"status"`
	Outcome      ReleaseDestination `json:"outcome,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	ResolvedAt   *time.Time         `json:"resolved_at,omitempty"`
}
