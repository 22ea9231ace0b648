package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cambia-market/order-lifecycle/internal/domain"
	"github.com/cambia-market/order-lifecycle/internal/escrow"
	"github.com/cambia-market/order-lifecycle/internal/lifecycle"
)

// lockWait bounds how long a transition waits for the per-order row lock
// before reporting ErrUnavailable.
const lockWait = "3s"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const orderColumns = `
	o.id, o.order_number, o.customer_id, o.vendor_id,
	COALESCE(o.shipping_partner_id, ''), o.status, e.status,
	o.subtotal, o.shipping_cost, o.tax, o.total,
	COALESCE(o.tracking_number, ''), o.created_at, o.updated_at
`

const orderFrom = ` FROM orders o JOIN escrow_accounts e ON e.order_id = o.id`

func (r *Repository) CreateOrder(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	o.ID = uuid.New().String()
	o.OrderNumber = newOrderNumber(now)
	o.Status = domain.OrderStatusPending
	o.EscrowStatus = domain.EscrowStatusLocked
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, customer_id, vendor_id, shipping_partner_id,
			status, subtotal, shipping_cost, tax, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $11)
	`, o.ID, o.OrderNumber, o.CustomerID, o.VendorID, o.ShippingPartnerID,
		o.Status, o.Subtotal, o.ShippingCost, o.Tax, o.Total, now)
	if err != nil {
		return err
	}

	for _, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New().String(), o.ID, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			return err
		}
	}

	rec, err := escrow.Lock(nil, o.ID, o.Total, now)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow_accounts (order_id, amount, status, locked_at)
		VALUES ($1, $2, $3, $4)
	`, rec.OrderID, rec.Amount, rec.Status, rec.LockedAt)
	if err != nil {
		return err
	}

	if err := insertEvent(ctx, tx, domain.OrderEvent{
		OrderID:     o.ID,
		FromStatus:  o.Status,
		ToStatus:    o.Status,
		ActorRole:   domain.RoleCustomer,
		ActorID:     o.CustomerID,
		Description: "Order placed, payment locked in escrow",
		CreatedAt:   now,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+orderFrom+` WHERE o.id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	items, err := r.loadItems(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *Repository) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+orderFrom+` ORDER BY o.created_at DESC`)
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+orderFrom+`
		WHERE o.customer_id = $1 ORDER BY o.created_at DESC`, customerID)
}

func (r *Repository) ListByVendor(ctx context.Context, vendorID string, params VendorListParams) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + orderFrom + ` WHERE o.vendor_id = $1`
	args := []any{vendorID}
	if params.Status != "" {
		query += ` AND o.status = $2`
		args = append(args, params.Status)
	}
	switch params.SortBy {
	case "amount":
		query += ` ORDER BY o.total DESC`
	case "status":
		query += ` ORDER BY o.status, o.created_at DESC`
	default:
		query += ` ORDER BY o.created_at DESC`
	}
	return r.queryOrders(ctx, query, args...)
}

func (r *Repository) ListForShipping(ctx context.Context) ([]domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+orderFrom+`
		WHERE o.status = ANY($1) ORDER BY o.updated_at ASC`,
		pq.Array([]string{string(domain.OrderStatusProcessing), string(domain.OrderStatusShipped)}))
}

func (r *Repository) Transition(ctx context.Context, orderID string, req lifecycle.Request) (*TransitionOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, rec, disputeOpen, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	plan, err := lifecycle.PlanTransition(o, disputeOpen, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	outcome, err := applyPlan(ctx, tx, o, rec, plan, req, now)
	if err != nil {
		return nil, err
	}

	items, err := loadItemsTx(ctx, tx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (r *Repository) History(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, actor_role, actor_id, description, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []domain.OrderEvent
	for rows.Next() {
		var e domain.OrderEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus,
			&e.ActorRole, &e.ActorID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) GetEscrow(ctx context.Context, orderID string) (*domain.EscrowRecord, error) {
	rec, err := scanEscrow(r.db.QueryRowContext(ctx, `
		SELECT order_id, amount, status, COALESCE(destination, ''), locked_at, released_at
		FROM escrow_accounts
		WHERE order_id = $1
	`, orderID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *Repository) OpenDispute(ctx context.Context, orderID string, role domain.ActorRole, actorID, reason string) (*domain.Dispute, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, rec, disputeOpen, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if disputeOpen {
		return nil, ErrDisputeAlreadyOpen
	}
	if err := escrow.MarkDisputed(rec); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &domain.Dispute{
		ID:           uuid.New().String(),
		OrderID:      orderID,
		RaisedByRole: role,
		RaisedByID:   actorID,
		Reason:       reason,
		Status:       domain.DisputeStatusOpen,
		CreatedAt:    now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO disputes (id, order_id, raised_by_role, raised_by_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.OrderID, d.RaisedByRole, d.RaisedByID, d.Reason, d.Status, d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := saveEscrow(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := insertEvent(ctx, tx, domain.OrderEvent{
		OrderID:     orderID,
		FromStatus:  o.Status,
		ToStatus:    o.Status,
		ActorRole:   role,
		ActorID:     actorID,
		Description: "Dispute opened: " + reason,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	return d, tx.Commit()
}

func (r *Repository) ResolveDispute(ctx context.Context, orderID string, outcome domain.ReleaseDestination, actorID string) (*TransitionOutcome, error) {
	if outcome == domain.ReleaseToCustomer {
		return r.Transition(ctx, orderID, lifecycle.Request{
			To:      domain.OrderStatusRefunded,
			Role:    domain.RolePlatform,
			ActorID: actorID,
		})
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	o, rec, disputeOpen, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !disputeOpen {
		return nil, lifecycle.ErrDisputeRequired
	}

	now := time.Now().UTC()
	desc := "Dispute resolved in favor of vendor"
	var release *escrow.ReleaseResult

	// Funds only move to the vendor once the order is actually delivered;
	// otherwise resolution lifts the block and the delivered transition
	// releases later.
	if o.Status == domain.OrderStatusDelivered {
		res, err := escrow.ResolveDispute(rec, domain.ReleaseToVendor, now)
		if err != nil {
			return nil, err
		}
		release = &res
		desc += ", escrow released"
	} else if rec.Status == domain.EscrowStatusDisputed {
		rec.Status = domain.EscrowStatusLocked
	}

	if err := saveEscrow(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := resolveDisputeRow(ctx, tx, orderID, domain.ReleaseToVendor, now); err != nil {
		return nil, err
	}

	event := domain.OrderEvent{
		OrderID:     orderID,
		FromStatus:  o.Status,
		ToStatus:    o.Status,
		ActorRole:   domain.RolePlatform,
		ActorID:     actorID,
		Description: desc,
		CreatedAt:   now,
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	o.EscrowStatus = rec.Status
	o.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET updated_at = $2 WHERE id = $1`, orderID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &TransitionOutcome{Order: o, Event: event, Release: release}, nil
}

// lockOrder takes the per-order row lock with a bounded wait and returns a
// consistent snapshot of order, escrow and open-dispute state.
func lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (*domain.Order, *domain.EscrowRecord, bool, error) {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%s'", lockWait)); err != nil {
		return nil, nil, false, err
	}

	o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+orderFrom+`
		WHERE o.id = $1 FOR UPDATE OF o`, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, false, ErrNotFound
		}
		if isLockTimeout(err) {
			return nil, nil, false, ErrUnavailable
		}
		return nil, nil, false, err
	}

	rec, err := scanEscrow(tx.QueryRowContext(ctx, `
		SELECT order_id, amount, status, COALESCE(destination, ''), locked_at, released_at
		FROM escrow_accounts
		WHERE order_id = $1 FOR UPDATE
	`, orderID))
	if err != nil {
		return nil, nil, false, err
	}

	var disputeOpen bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM disputes WHERE order_id = $1 AND status = 'open')
	`, orderID).Scan(&disputeOpen)
	if err != nil {
		return nil, nil, false, err
	}

	return o, rec, disputeOpen, nil
}

func applyPlan(ctx context.Context, tx *sql.Tx, o *domain.Order, rec *domain.EscrowRecord, plan *lifecycle.Plan, req lifecycle.Request, now time.Time) (*TransitionOutcome, error) {
	o.Status = plan.To
	o.TrackingNumber = plan.TrackingNumber
	o.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, tracking_number = NULLIF($3, ''), updated_at = $4
		WHERE id = $1
	`, o.ID, o.Status, o.TrackingNumber, now)
	if err != nil {
		return nil, err
	}

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
		if err := saveEscrow(ctx, tx, rec); err != nil {
			return nil, err
		}
	}
	o.EscrowStatus = rec.Status

	if plan.ResolveDispute {
		if err := resolveDisputeRow(ctx, tx, o.ID, domain.ReleaseToCustomer, now); err != nil {
			return nil, err
		}
	}

	event := domain.OrderEvent{
		OrderID:     o.ID,
		FromStatus:  plan.From,
		ToStatus:    plan.To,
		ActorRole:   req.Role,
		ActorID:     req.ActorID,
		Description: plan.Description,
		CreatedAt:   now,
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	return &TransitionOutcome{Order: o, Event: event, Release: release}, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, e domain.OrderEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (id, order_id, from_status, to_status, actor_role, actor_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.OrderID, e.FromStatus, e.ToStatus, e.ActorRole, e.ActorID, e.Description, e.CreatedAt)
	return err
}

func saveEscrow(ctx context.Context, tx *sql.Tx, rec *domain.EscrowRecord) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE escrow_accounts
		SET status = $2, destination = NULLIF($3, ''), released_at = $4
		WHERE order_id = $1
	`, rec.OrderID, rec.Status, string(rec.Destination), rec.ReleasedAt)
	return err
}

func resolveDisputeRow(ctx context.Context, tx *sql.Tx, orderID string, outcome domain.ReleaseDestination, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE disputes SET status = 'resolved', outcome = $2, resolved_at = $3
		WHERE order_id = $1 AND status = 'open'
	`, orderID, outcome, now)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	o := &domain.Order{}
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.VendorID,
		&o.ShippingPartnerID, &o.Status, &o.EscrowStatus,
		&o.Subtotal, &o.ShippingCost, &o.Tax, &o.Total,
		&o.TrackingNumber, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func scanEscrow(row rowScanner) (*domain.EscrowRecord, error) {
	rec := &domain.EscrowRecord{}
	var dest string
	var releasedAt sql.NullTime
	err := row.Scan(&rec.OrderID, &rec.Amount, &rec.Status, &dest, &rec.LockedAt, &releasedAt)
	if err != nil {
		return nil, err
	}
	rec.Destination = domain.ReleaseDestination(dest)
	if releasedAt.Valid {
		t := releasedAt.Time
		rec.ReleasedAt = &t
	}
	return rec, nil
}

func (r *Repository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		o.Items = []domain.OrderItem{}
		orderMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	items, err := r.loadItems(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for id, list := range items {
		orderMap[id].Items = list
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

func (r *Repository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := make(map[string][]domain.OrderItem)
	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items[orderID] = append(items[orderID], item)
	}
	return items, rows.Err()
}

func loadItemsTx(ctx context.Context, tx *sql.Tx, orderID string) ([]domain.OrderItem, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func isLockTimeout(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "55P03" // lock_not_available
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("CMB-%s-%s", now.Format("20060102"), suffix)
}
