package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cambia-market/order-lifecycle/internal/domain"
	"github.com/cambia-market/order-lifecycle/internal/escrow"
	"github.com/cambia-market/order-lifecycle/internal/lifecycle"
)

// memStore is an in-memory Store used by handler tests. It applies the same
// lifecycle plans as the Postgres repository, under a single mutex, so the
// serialization contract holds and the business rules stay identical.
type memStore struct {
	mu       sync.Mutex
	seq      int
	orders   map[string]*domain.Order
	escrows  map[string]*domain.EscrowRecord
	events   map[string][]domain.OrderEvent
	disputes map[string][]*domain.Dispute
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[string]*domain.Order),
		escrows:  make(map[string]*domain.EscrowRecord),
		events:   make(map[string][]domain.OrderEvent),
		disputes: make(map[string][]*domain.Dispute),
	}
}

func (s *memStore) nextID() string {
	s.seq++
	return fmt.Sprintf("id-%d", s.seq)
}

func (s *memStore) CreateOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	o.ID = s.nextID()
	o.OrderNumber = fmt.Sprintf("CMB-%s-%06d", now.Format("20060102"), s.seq)
	o.Status = domain.OrderStatusPending
	o.EscrowStatus = domain.EscrowStatusLocked
	o.CreatedAt = now
	o.UpdatedAt = now

	rec, err := escrow.Lock(nil, o.ID, o.Total, now)
	if err != nil {
		return err
	}

	cp := *o
	s.orders[o.ID] = &cp
	s.escrows[o.ID] = rec
	s.events[o.ID] = append(s.events[o.ID], domain.OrderEvent{
		ID:          s.nextID(),
		OrderID:     o.ID,
		FromStatus:  o.Status,
		ToStatus:    o.Status,
		ActorRole:   domain.RoleCustomer,
		ActorID:     o.CustomerID,
		Description: "Order placed, payment locked in escrow",
		CreatedAt:   now,
	})
	return nil
}

func (s *memStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) ListOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (s *memStore) ListByCustomer(_ context.Context, customerID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memStore) ListByVendor(_ context.Context, vendorID string, params VendorListParams) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.VendorID != vendorID {
			continue
		}
		if params.Status != "" && o.Status != params.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (s *memStore) ListForShipping(_ context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Status == domain.OrderStatusProcessing || o.Status == domain.OrderStatusShipped {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memStore) disputeOpen(orderID string) bool {
	for _, d := range s.disputes[orderID] {
		if d.Status == domain.DisputeStatusOpen {
			return true
		}
	}
	return false
}

func (s *memStore) Transition(_ context.Context, orderID string, req lifecycle.Request) (*TransitionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(orderID, req)
}

func (s *memStore) transitionLocked(orderID string, req lifecycle.Request) (*TransitionOutcome, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	rec := s.escrows[orderID]

	plan, err := lifecycle.PlanTransition(o, s.disputeOpen(orderID), req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o.Status = plan.To
	o.TrackingNumber = plan.TrackingNumber
	o.UpdatedAt = now

	var release *escrow.ReleaseResult
	if plan.Release != "" {
		var res escrow.ReleaseResult
		if plan.ResolveDispute {
			res, err = escrow.ResolveDispute(rec, plan.Release, now)
		} else {
			res, err = escrow.Release(rec, plan.Release, now)
		}
		if err != nil {
			return nil, err
		}
		release = &res
	}
	o.EscrowStatus = rec.Status

	if plan.ResolveDispute {
		s.resolveDisputeRows(orderID, domain.ReleaseToCustomer, now)
	}

	event := domain.OrderEvent{
		ID:          s.nextID(),
		OrderID:     orderID,
		FromStatus:  plan.From,
		ToStatus:    plan.To,
		ActorRole:   req.Role,
		ActorID:     req.ActorID,
		Description: plan.Description,
		CreatedAt:   now,
	}
	s.events[orderID] = append(s.events[orderID], event)

	cp := *o
	return &TransitionOutcome{Order: &cp, Event: event, Release: release}, nil
}

func (s *memStore) History(_ context.Context, orderID string) ([]domain.OrderEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return nil, ErrNotFound
	}
	return append([]domain.OrderEvent(nil), s.events[orderID]...), nil
}

func (s *memStore) GetEscrow(_ context.Context, orderID string) (*domain.EscrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.escrows[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) OpenDispute(_ context.Context, orderID string, role domain.ActorRole, actorID, reason string) (*domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.disputeOpen(orderID) {
		return nil, ErrDisputeAlreadyOpen
	}
	rec := s.escrows[orderID]
	if err := escrow.MarkDisputed(rec); err != nil {
		return nil, err
	}
	o.EscrowStatus = rec.Status

	now := time.Now().UTC()
	d := &domain.Dispute{
		ID:           s.nextID(),
		OrderID:      orderID,
		RaisedByRole: role,
		RaisedByID:   actorID,
		Reason:       reason,
		Status:       domain.DisputeStatusOpen,
		CreatedAt:    now,
	}
	s.disputes[orderID] = append(s.disputes[orderID], d)
	s.events[orderID] = append(s.events[orderID], domain.OrderEvent{
		ID:          s.nextID(),
		OrderID:     orderID,
		FromStatus:  o.Status,
		ToStatus:    o.Status,
		ActorRole:   role,
		ActorID:     actorID,
		Description: "Dispute opened: " + reason,
		CreatedAt:   now,
	})
	cp := *d
	return &cp, nil
}

func (s *memStore) ResolveDispute(_ context.Context, orderID string, outcome domain.ReleaseDestination, actorID string) (*TransitionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outcome == domain.ReleaseToCustomer {
		return s.transitionLocked(orderID, lifecycle.Request{
			To:      domain.OrderStatusRefunded,
			Role:    domain.RolePlatform,
			ActorID: actorID,
		})
	}

	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.disputeOpen(orderID) {
		return nil, lifecycle.ErrDisputeRequired
	}
	rec := s.escrows[orderID]

	now := time.Now().UTC()
	var release *escrow.ReleaseResult
	if o.Status == domain.OrderStatusDelivered {
		res, err := escrow.ResolveDispute(rec, domain.ReleaseToVendor, now)
		if err != nil {
			return nil, err
		}
		release = &res
	} else if rec.Status == domain.EscrowStatusDisputed {
		rec.Status = domain.EscrowStatusLocked
	}
	o.EscrowStatus = rec.Status
	o.UpdatedAt = now

	s.resolveDisputeRows(orderID, domain.ReleaseToVendor, now)

	event := domain.OrderEvent{
		ID:          s.nextID(),
		OrderID:     orderID,
		FromStatus:  o.Status,
		ToStatus:    o.Status,
		ActorRole:   domain.RolePlatform,
		ActorID:     actorID,
		Description: "Dispute resolved in favor of vendor",
		CreatedAt:   now,
	}
	s.events[orderID] = append(s.events[orderID], event)

	cp := *o
	return &TransitionOutcome{Order: &cp, Event: event, Release: release}, nil
}

func (s *memStore) resolveDisputeRows(orderID string, outcome domain.ReleaseDestination, now time.Time) {
	for _, d := range s.disputes[orderID] {
		if d.Status == domain.DisputeStatusOpen {
			d.Status = domain.DisputeStatusResolved
			d.Outcome = outcome
			t := now
			d.ResolvedAt = &t
		}
	}
}
