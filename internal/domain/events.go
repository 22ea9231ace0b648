package domain

import "time"

// OrderTransitionedEvent is published after every committed transition. The
// notification worker consumes it at-least-once; consumers must tolerate
// duplicates.
type OrderTransitionedEvent struct {
	OrderID           string       `json:"order_id"`
	OrderNumber       string       `json:"order_number"`
	CustomerID        string       `json:"customer_id"`
	VendorID          string       `json:"vendor_id"`
	ShippingPartnerID string       `json:"shipping_partner_id,omitempty"`
	FromStatus        OrderStatus  `json:"from_status"`
	ToStatus          OrderStatus  `json:"to_status"`
	ActorRole         ActorRole    `json:"actor_role"`
	ActorID           string       `json:"actor_id"`
	EscrowStatus      EscrowStatus `json:"escrow_status"`
	TrackingNumber    string       `json:"tracking_number,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
}
