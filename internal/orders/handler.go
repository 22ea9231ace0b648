package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cambia-market/order-lifecycle/internal/domain"
	"github.com/cambia-market/order-lifecycle/internal/escrow"
	"github.com/cambia-market/order-lifecycle/internal/lifecycle"
	"github.com/cambia-market/order-lifecycle/internal/telemetry"
)

// Publisher emits transition events for the notification worker. Publishing is
// fire-and-forget relative to the transition: a failure is logged, never
// rolled back.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Handler struct {
	store    Store
	producer Publisher
	logger   *slog.Logger
}

func NewHandler(store Store, producer Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		producer: producer,
		logger:   logger,
	}
}

type createOrderRequest struct {
	CustomerID        string             `json:"customer_id"`
	VendorID          string             `json:"vendor_id"`
	ShippingPartnerID string             `json:"shipping_partner_id"`
	Items             []domain.OrderItem `json:"items"`
	ShippingCost      int64              `json:"shipping_cost"`
	Tax               int64              `json:"tax"`
	Total             int64              `json:"total"` // optional cross-check
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CustomerID == "" || req.VendorID == "" {
		h.writeError(w, http.StatusBadRequest, "customer_id and vendor_id are required")
		return
	}
	if len(req.Items) == 0 {
		h.writeError(w, http.StatusUnprocessableEntity, "order must contain at least one item")
		return
	}

	var subtotal int64
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity <= 0 || item.UnitPrice < 0 {
			h.writeError(w, http.StatusUnprocessableEntity, "invalid order item")
			return
		}
		subtotal += int64(item.Quantity) * item.UnitPrice
	}
	if req.ShippingCost < 0 || req.Tax < 0 {
		h.writeError(w, http.StatusUnprocessableEntity, "negative shipping cost or tax")
		return
	}

	total := subtotal + req.ShippingCost + req.Tax
	if req.Total != 0 && req.Total != total {
		h.writeError(w, http.StatusUnprocessableEntity, "total does not equal subtotal + shipping_cost + tax")
		return
	}

	order := &domain.Order{
		CustomerID:        req.CustomerID,
		VendorID:          req.VendorID,
		ShippingPartnerID: req.ShippingPartnerID,
		Items:             req.Items,
		Subtotal:          subtotal,
		ShippingCost:      req.ShippingCost,
		Tax:               req.Tax,
		Total:             total,
	}

	if err := h.store.CreateOrder(r.Context(), order); err != nil {
		h.logger.Error("failed to create order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.Total)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	order, err := h.store.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err, "get order")
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.ListOrders(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "list orders")
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

type transitionRequest struct {
	Status         domain.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number"`
	Reason         string             `json:"reason"`
}

func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.transition(w, r, req)
}

// Convenience endpoints wrap the generic transition with the implied target
// status; the marketplace front-end calls these directly.

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, transitionRequest{Status: domain.OrderStatusConfirmed})
}

func (h *Handler) HandleProcessing(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, transitionRequest{Status: domain.OrderStatusProcessing})
}

type shippedRequest struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

func (h *Handler) HandleShipped(w http.ResponseWriter, r *http.Request) {
	var req shippedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.transition(w, r, transitionRequest{
		Status:         domain.OrderStatusShipped,
		TrackingNumber: req.TrackingNumber,
	})
}

func (h *Handler) HandleDelivered(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, transitionRequest{Status: domain.OrderStatusDelivered})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	// body is optional for cancellation
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.transition(w, r, transitionRequest{Status: domain.OrderStatusCancelled, Reason: req.Reason})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, req transitionRequest) {
	orderID := r.PathValue("id")
	role, actorID, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "missing or invalid actor headers")
		return
	}

	outcome, err := h.store.Transition(r.Context(), orderID, lifecycle.Request{
		To:             req.Status,
		Role:           role,
		ActorID:        actorID,
		TrackingNumber: req.TrackingNumber,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}

	telemetry.RecordTransition(r.Context(), string(outcome.Event.FromStatus), string(outcome.Event.ToStatus))
	if outcome.Release != nil && outcome.Release.Released {
		telemetry.RecordEscrowRelease(r.Context(), string(outcome.Release.Destination), outcome.Release.Amount)
	}

	h.publishTransition(r.Context(), outcome)
	h.logger.Info("order transitioned",
		"order_id", orderID,
		"from", outcome.Event.FromStatus,
		"to", outcome.Event.ToStatus,
		"actor_role", role,
	)
	h.writeJSON(w, http.StatusOK, outcome.Order)
}

type trackingResponse struct {
	Order          *domain.Order       `json:"order"`
	TrackingEvents []domain.OrderEvent `json:"tracking_events"`
	CurrentStatus  domain.OrderStatus  `json:"current_status"`
}

func (h *Handler) HandleTracking(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeStoreError(w, err, "get order")
		return
	}
	events, err := h.store.History(r.Context(), orderID)
	if err != nil {
		h.writeStoreError(w, err, "load history")
		return
	}

	h.writeJSON(w, http.StatusOK, trackingResponse{
		Order:          order,
		TrackingEvents: events,
		CurrentStatus:  order.Status,
	})
}

// orderView decorates an order with the actions the transition table allows
// the viewing role, so dashboards never hardcode buttons.
type orderView struct {
	domain.Order
	AvailableActions []domain.OrderStatus `json:"available_actions"`
}

func viewsFor(orders []domain.Order, role domain.ActorRole) []orderView {
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		actions := lifecycle.ActionsFor(role, o.Status)
		if actions == nil {
			actions = []domain.OrderStatus{}
		}
		views = append(views, orderView{Order: o, AvailableActions: actions})
	}
	return views
}

func (h *Handler) HandleCustomerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.ListByCustomer(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err, "list customer orders")
		return
	}
	h.writeJSON(w, http.StatusOK, viewsFor(orders, domain.RoleCustomer))
}

func (h *Handler) HandleVendorOrders(w http.ResponseWriter, r *http.Request) {
	params := VendorListParams{
		Status: domain.OrderStatus(r.URL.Query().Get("status")),
		SortBy: r.URL.Query().Get("sort"),
	}
	orders, err := h.store.ListByVendor(r.Context(), r.PathValue("id"), params)
	if err != nil {
		h.writeStoreError(w, err, "list vendor orders")
		return
	}
	h.writeJSON(w, http.StatusOK, viewsFor(orders, domain.RoleVendor))
}

func (h *Handler) HandleShippingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.ListForShipping(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "list shipping orders")
		return
	}
	h.writeJSON(w, http.StatusOK, viewsFor(orders, domain.RoleShipping))
}

func (h *Handler) HandleEscrow(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetEscrow(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err, "get escrow")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleOpenDispute(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	role, actorID, ok := actorFrom(r)
	if !ok || (role != domain.RoleCustomer && role != domain.RoleVendor) {
		h.writeError(w, http.StatusBadRequest, "disputes may only be raised by customer or vendor")
		return
	}

	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		h.writeError(w, http.StatusBadRequest, "dispute reason is required")
		return
	}

	dispute, err := h.store.OpenDispute(r.Context(), orderID, role, actorID, req.Reason)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}

	if h.producer != nil {
		if order, err := h.store.GetOrder(r.Context(), orderID); err == nil {
			event := domain.OrderTransitionedEvent{
				OrderID:           order.ID,
				OrderNumber:       order.OrderNumber,
				CustomerID:        order.CustomerID,
				VendorID:          order.VendorID,
				ShippingPartnerID: order.ShippingPartnerID,
				FromStatus:        order.Status,
				ToStatus:          order.Status,
				ActorRole:         role,
				ActorID:           actorID,
				EscrowStatus:      order.EscrowStatus,
				Timestamp:         dispute.CreatedAt,
			}
			if err := h.producer.Publish(r.Context(), order.ID, event); err != nil {
				h.logger.Error("failed to publish dispute event", "error", err, "order_id", order.ID)
			}
		}
	}

	h.logger.Info("dispute opened", "order_id", orderID, "raised_by", role)
	h.writeJSON(w, http.StatusCreated, dispute)
}

type resolveDisputeRequest struct {
	Outcome domain.ReleaseDestination `json:"outcome"`
}

func (h *Handler) HandleResolveDispute(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	role, actorID, ok := actorFrom(r)
	if !ok || role != domain.RolePlatform {
		h.writeError(w, http.StatusForbidden, "dispute resolution is a platform action")
		return
	}

	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Outcome != domain.ReleaseToVendor && req.Outcome != domain.ReleaseToCustomer {
		h.writeError(w, http.StatusBadRequest, "outcome must be vendor or customer")
		return
	}

	outcome, err := h.store.ResolveDispute(r.Context(), orderID, req.Outcome, actorID)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}

	if outcome.Release != nil && outcome.Release.Released {
		telemetry.RecordEscrowRelease(r.Context(), string(outcome.Release.Destination), outcome.Release.Amount)
	}
	h.publishTransition(r.Context(), outcome)
	h.logger.Info("dispute resolved", "order_id", orderID, "outcome", req.Outcome)
	h.writeJSON(w, http.StatusOK, outcome.Order)
}

func (h *Handler) publishTransition(ctx context.Context, outcome *TransitionOutcome) {
	if h.producer == nil {
		return
	}
	o := outcome.Order
	event := domain.OrderTransitionedEvent{
		OrderID:           o.ID,
		OrderNumber:       o.OrderNumber,
		CustomerID:        o.CustomerID,
		VendorID:          o.VendorID,
		ShippingPartnerID: o.ShippingPartnerID,
		FromStatus:        outcome.Event.FromStatus,
		ToStatus:          outcome.Event.ToStatus,
		ActorRole:         outcome.Event.ActorRole,
		ActorID:           outcome.Event.ActorID,
		EscrowStatus:      o.EscrowStatus,
		TrackingNumber:    o.TrackingNumber,
		Timestamp:         outcome.Event.CreatedAt,
	}
	if err := h.producer.Publish(ctx, o.ID, event); err != nil {
		h.logger.Error("failed to publish transition event", "error", err, "order_id", o.ID)
	}
}

func actorFrom(r *http.Request) (domain.ActorRole, string, bool) {
	role := domain.ActorRole(r.Header.Get("X-Actor-Role"))
	actorID := r.Header.Get("X-Actor-Id")
	switch role {
	case domain.RoleCustomer, domain.RoleVendor, domain.RoleShipping, domain.RolePlatform:
	default:
		return "", "", false
	}
	if actorID == "" {
		return "", "", false
	}
	return role, actorID, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	h.logger.Error("failed to "+action, "error", err)
	h.writeError(w, http.StatusInternalServerError, "internal server error")
}

func (h *Handler) writeTransitionError(w http.ResponseWriter, err error) {
	var te *lifecycle.TransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.As(err, &te):
		h.writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "invalid_transition",
			"detail": te.Error(),
		})
	case errors.Is(err, lifecycle.ErrTrackingRequired),
		errors.Is(err, lifecycle.ErrDisputeRequired):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, lifecycle.ErrDisputeOpen),
		errors.Is(err, escrow.ErrDisputeOpen),
		errors.Is(err, ErrDisputeAlreadyOpen),
		errors.Is(err, escrow.ErrAlreadyReleased):
		h.writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "dispute_open",
			"detail": err.Error(),
		})
	case errors.Is(err, ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusServiceUnavailable, "order busy, retry with backoff")
	default:
		h.logger.Error("transition failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
