package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// Handler is the dashboard edge. It maps the three role dashboards onto the
// orders and notifications services and injects the actor identity headers,
// so no dashboard talks to the lifecycle service without naming who acts.
type Handler struct {
	ordersProxy        *ServiceProxy
	notificationsProxy *ServiceProxy
	logger             *slog.Logger
}

func NewHandler(ordersProxy, notificationsProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy:        ordersProxy,
		notificationsProxy: notificationsProxy,
		logger:             logger,
	}
}

var dashboardRoles = map[string]bool{
	"customer": true,
	"vendor":   true,
	"shipping": true,
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (role, userID string, ok bool) {
	role = r.PathValue("role")
	userID = r.PathValue("userId")
	if !dashboardRoles[role] || userID == "" {
		h.writeError(w, http.StatusNotFound, "unknown dashboard")
		return "", "", false
	}
	r.Header.Set("X-Actor-Role", role)
	r.Header.Set("X-Actor-Id", userID)
	return role, userID, true
}

// HandleOrders serves the dashboard order lists. Each role sees its own view;
// the orders service decorates every order with the actions the transition
// table allows that role.
func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	role, userID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var path string
	switch role {
	case "customer":
		path = "/customers/" + userID + "/orders"
	case "vendor":
		path = "/vendors/" + userID + "/orders"
	case "shipping":
		path = "/shipping/orders"
	}
	h.proxyRequest(w, r, h.ordersProxy, path)
}

func (h *Handler) HandleTracking(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.actor(w, r); !ok {
		return
	}
	h.proxyRequest(w, r, h.ordersProxy, "/orders/"+r.PathValue("id")+"/tracking")
}

var orderActions = map[string]bool{
	"status":     true,
	"confirm":    true,
	"processing": true,
	"shipped":    true,
	"delivered":  true,
	"cancel":     true,
	"dispute":    true,
}

// HandleOrderAction forwards a transition or dispute request. Authorization
// is not decided here: the lifecycle service rejects illegal edges and actors.
func (h *Handler) HandleOrderAction(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.actor(w, r); !ok {
		return
	}
	action := r.PathValue("action")
	if !orderActions[action] {
		h.writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	h.proxyRequest(w, r, h.ordersProxy, "/orders/"+r.PathValue("id")+"/"+action)
}

func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	role, userID, ok := h.actor(w, r)
	if !ok {
		return
	}
	query := url.Values{
		"recipient_role": {role},
		"recipient_id":   {userID},
	}
	r.URL.RawQuery = query.Encode()
	h.proxyRequest(w, r, h.notificationsProxy, "/notifications")
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
