package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cambia-market/order-lifecycle/internal/domain"
)

// Store is implemented by *Repository; handler tests substitute an in-memory
// version.
type Store interface {
	Save(ctx context.Context, n *domain.Notification) (bool, error)
	ListByRecipient(ctx context.Context, role domain.ActorRole, recipientID string) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id string) (bool, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

type createRequest struct {
	RecipientRole domain.ActorRole `json:"recipient_role"`
	RecipientID   string           `json:"recipient_id"`
	OrderID       string           `json:"order_id"`
	Event         string           `json:"event"`
	Body          string           `json:"body"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecipientRole == "" || req.RecipientID == "" || req.OrderID == "" || req.Event == "" {
		h.writeError(w, http.StatusBadRequest, "recipient_role, recipient_id, order_id and event are required")
		return
	}

	n := &domain.Notification{
		RecipientRole: req.RecipientRole,
		RecipientID:   req.RecipientID,
		OrderID:       req.OrderID,
		Event:         req.Event,
		Body:          req.Body,
	}

	created, err := h.store.Save(r.Context(), n)
	if err != nil {
		h.logger.Error("failed to save notification", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !created {
		// duplicate delivery from the at-least-once worker; already stored
		h.writeJSON(w, http.StatusOK, n)
		return
	}

	h.logger.Info("notification stored",
		"order_id", n.OrderID, "event", n.Event,
		"recipient_role", n.RecipientRole, "recipient_id", n.RecipientID)
	h.writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	role := domain.ActorRole(r.URL.Query().Get("recipient_role"))
	recipientID := r.URL.Query().Get("recipient_id")
	if role == "" || recipientID == "" {
		h.writeError(w, http.StatusBadRequest, "recipient_role and recipient_id are required")
		return
	}

	list, err := h.store.ListByRecipient(r.Context(), role, recipientID)
	if err != nil {
		h.logger.Error("failed to list notifications", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.store.MarkRead(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to mark notification read", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
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
