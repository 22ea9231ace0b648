// Package lifecycle is the single authority for order status transitions.
// It is pure: the repository applies its decisions inside a transaction, and
// the dashboards consult it for the actions they may offer.
package lifecycle

import (
	"fmt"

	"github.com/cambia-market/order-lifecycle/internal/domain"
)

type edge struct {
	from domain.OrderStatus
	to   domain.OrderStatus
}

var transitions = map[edge][]domain.ActorRole{
	{domain.OrderStatusPending, domain.OrderStatusConfirmed}:    {domain.RoleVendor},
	{domain.OrderStatusConfirmed, domain.OrderStatusProcessing}: {domain.RoleVendor},
	{domain.OrderStatusProcessing, domain.OrderStatusShipped}:   {domain.RoleVendor, domain.RoleShipping},
	{domain.OrderStatusShipped, domain.OrderStatusDelivered}:    {domain.RoleShipping, domain.RoleCustomer},
	{domain.OrderStatusPending, domain.OrderStatusCancelled}:    {domain.RoleCustomer, domain.RoleVendor},
	{domain.OrderStatusConfirmed, domain.OrderStatusCancelled}:  {domain.RoleCustomer, domain.RoleVendor},
	{domain.OrderStatusProcessing, domain.OrderStatusRefunded}:  {domain.RolePlatform},
	{domain.OrderStatusShipped, domain.OrderStatusRefunded}:     {domain.RolePlatform},
	{domain.OrderStatusDelivered, domain.OrderStatusRefunded}:   {domain.RolePlatform},
}

// TransitionError reports an edge that is not in the table or an actor not
// authorized for it. The order is left untouched.
type TransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
	Role domain.ActorRole
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for role %s", e.From, e.To, e.Role)
}

// Allowed reports whether role may move an order from one status to another.
func Allowed(from, to domain.OrderStatus, role domain.ActorRole) bool {
	for _, r := range transitions[edge{from, to}] {
		if r == role {
			return true
		}
	}
	return false
}

// Validate returns a *TransitionError if the requested edge is illegal for the
// actor, nil otherwise.
func Validate(from, to domain.OrderStatus, role domain.ActorRole) error {
	if !Allowed(from, to, role) {
		return &TransitionError{From: from, To: to, Role: role}
	}
	return nil
}

// ActionsFor returns the target statuses role may request from the current
// status. Dashboards render exactly these as buttons instead of hardcoding
// status-specific actions.
func ActionsFor(role domain.ActorRole, from domain.OrderStatus) []domain.OrderStatus {
	var actions []domain.OrderStatus
	for e, roles := range transitions {
		if e.from != from {
			continue
		}
		for _, r := range roles {
			if r == role {
				actions = append(actions, e.to)
				break
			}
		}
	}
	// map iteration order is random; keep the output stable for the UI
	sortStatuses(actions)
	return actions
}

var statusOrder = map[domain.OrderStatus]int{
	domain.OrderStatusPending:    0,
	domain.OrderStatusConfirmed:  1,
	domain.OrderStatusProcessing: 2,
	domain.OrderStatusShipped:    3,
	domain.OrderStatusDelivered:  4,
	domain.OrderStatusCancelled:  5,
	domain.OrderStatusRefunded:   6,
}

func sortStatuses(s []domain.OrderStatus) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && statusOrder[s[j]] < statusOrder[s[j-1]]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// Terminal reports whether no edge leaves the status for any role.
func Terminal(status domain.OrderStatus) bool {
	for e := range transitions {
		if e.from == status {
			return false
		}
	}
	return true
}
