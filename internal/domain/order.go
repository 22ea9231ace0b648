package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

type EscrowStatus string

const (
	EscrowStatusLocked   EscrowStatus = "locked"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusDisputed EscrowStatus = "disputed"
)

type ActorRole string

const (
	RoleCustomer ActorRole = "customer"
	RoleVendor   ActorRole = "vendor"
	RoleShipping ActorRole = "shipping"
	// RolePlatform is the out-of-band dispute resolution actor; it is never
	// assumed from a dashboard request.
	RolePlatform ActorRole = "platform"
)

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Order money fields are kobo (minor units).
type Order struct {
	ID                string       `json:"id"`
	OrderNumber       string       `json:"order_number"`
	CustomerID        string       `json:"customer_id"`
	VendorID          string       `json:"vendor_id"`
	ShippingPartnerID string       `json:"shipping_partner_id,omitempty"`
	Status            OrderStatus  `json:"status"`
	EscrowStatus      EscrowStatus `json:"escrow_status"`
	Items             []OrderItem  `json:"items"`
	Subtotal          int64        `json:"subtotal"`
	ShippingCost      int64        `json:"shipping_cost"`
	Tax               int64        `json:"tax"`
	Total             int64        `json:"total"`
	TrackingNumber    string       `json:"tracking_number,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// OrderEvent is one row of the append-only transition history, rendered as the
// tracking timeline by the dashboards.
type OrderEvent struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"order_id"`
	FromStatus  OrderStatus `json:"from_status"`
	ToStatus    OrderStatus `json:"to_status"`
	ActorRole   ActorRole   `json:"actor_role"`
	ActorID     string      `json:"actor_id"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
}
