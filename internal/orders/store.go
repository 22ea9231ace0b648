package orders

import (
	"context"
	"errors"

	"github.com/cambia-market/order-lifecycle/internal/domain"
	"github.com/cambia-market/order-lifecycle/internal/escrow"
	"github.com/cambia-market/order-lifecycle/internal/lifecycle"
)

var (
	// ErrNotFound reports an unknown order id.
	ErrNotFound = errors.New("order not found")
	// ErrUnavailable reports that the per-order lock could not be acquired
	// within the bounded wait. Callers should retry with backoff.
	ErrUnavailable = errors.New("order busy, try again")
	// ErrDisputeAlreadyOpen rejects a second dispute while one is unresolved.
	ErrDisputeAlreadyOpen = errors.New("dispute already open for order")
)

// VendorListParams filters and sorts the vendor dashboard view.
type VendorListParams struct {
	Status domain.OrderStatus // empty = all
	SortBy string             // "date" (default), "amount" or "status"
}

// TransitionOutcome is the committed effect of one transition: the updated
// order, the history entry appended for the tracking timeline, and the escrow
// release if the edge triggered one.
type TransitionOutcome struct {
	Order   *domain.Order
	Event   domain.OrderEvent
	Release *escrow.ReleaseResult
}

// Store is the persistence boundary of the lifecycle service. The Postgres
// repository implements it; handler tests substitute an in-memory version.
// Every implementation serializes Transition calls per order: at most one
// transition applies at a time, concurrent losers observe pre- or post-state
// atomically, never a torn one.
type Store interface {
	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
	ListByVendor(ctx context.Context, vendorID string, params VendorListParams) ([]domain.Order, error)
	ListForShipping(ctx context.Context) ([]domain.Order, error)

	Transition(ctx context.Context, orderID string, req lifecycle.Request) (*TransitionOutcome, error)
	History(ctx context.Context, orderID string) ([]domain.OrderEvent, error)
	GetEscrow(ctx context.Context, orderID string) (*domain.EscrowRecord, error)

	OpenDispute(ctx context.Context, orderID string, role domain.ActorRole, actorID, reason string) (*domain.Dispute, error)
	ResolveDispute(ctx context.Context, orderID string, outcome domain.ReleaseDestination, actorID string) (*TransitionOutcome, error)
}
