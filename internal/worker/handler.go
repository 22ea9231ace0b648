package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cambia-market/order-lifecycle/internal/domain"
)

// deliveryAttempts bounds retries per notification; delivery is at-least-once
// end to end (kafka redelivers uncommitted messages), so a transient outage
// is retried here and a crash is retried by the broker. The notifications
// service dedupes.
const deliveryAttempts = 3

type TransitionHandler struct {
	notificationsURL string
	httpClient       *http.Client
	logger           *slog.Logger
}

func NewTransitionHandler(notificationsURL string, client *http.Client, logger *slog.Logger) *TransitionHandler {
	return &TransitionHandler{
		notificationsURL: notificationsURL,
		httpClient:       client,
		logger:           logger,
	}
}

type notificationPayload struct {
	RecipientRole domain.ActorRole `json:"recipient_role"`
	RecipientID   string           `json:"recipient_id"`
	OrderID       string           `json:"order_id"`
	Event         string           `json:"event"`
	Body          string           `json:"body"`
}

// Handle fans one transition event out into a notification per affected
// party. It never fails the message for delivery errors: undeliverable
// notifications are logged and left to the next replay.
func (h *TransitionHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderTransitionedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("skipping malformed transition event", "error", err)
		return nil
	}

	h.logger.Info("processing transition event",
		"order_id", event.OrderID, "from", event.FromStatus, "to", event.ToStatus)

	for _, n := range buildNotifications(event) {
		if err := h.deliver(ctx, n); err != nil {
			h.logger.Error("failed to deliver notification", "error", err,
				"order_id", n.OrderID, "recipient_role", n.RecipientRole)
		}
	}

	return nil
}

func (h *TransitionHandler) deliver(ctx context.Context, n notificationPayload) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * 500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.notificationsURL+"/notifications", bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_ = resp.Body.Close()

		// 200 = duplicate already stored, 201 = created; both are success
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}
		lastErr = fmt.Errorf("notifications service returned status %d", resp.StatusCode)
	}

	return fmt.Errorf("after %d attempts: %w", deliveryAttempts, lastErr)
}

// buildNotifications names the event and addresses every party on the order.
func buildNotifications(event domain.OrderTransitionedEvent) []notificationPayload {
	name := eventName(event)

	recipients := []struct {
		role domain.ActorRole
		id   string
	}{
		{domain.RoleCustomer, event.CustomerID},
		{domain.RoleVendor, event.VendorID},
		{domain.RoleShipping, event.ShippingPartnerID},
	}

	var out []notificationPayload
	for _, rcpt := range recipients {
		if rcpt.id == "" {
			continue
		}
		out = append(out, notificationPayload{
			RecipientRole: rcpt.role,
			RecipientID:   rcpt.id,
			OrderID:       event.OrderID,
			Event:         name,
			Body:          bodyFor(rcpt.role, event),
		})
	}
	return out
}

func eventName(event domain.OrderTransitionedEvent) string {
	if event.FromStatus == event.ToStatus {
		if event.EscrowStatus == domain.EscrowStatusDisputed {
			return "dispute.opened"
		}
		return "dispute.resolved"
	}
	return "status." + string(event.ToStatus)
}

func bodyFor(role domain.ActorRole, event domain.OrderTransitionedEvent) string {
	switch eventName(event) {
	case "dispute.opened":
		return fmt.Sprintf("A dispute was opened on order %s. Escrow release is blocked until it is resolved.", event.OrderNumber)
	case "dispute.resolved":
		return fmt.Sprintf("The dispute on order %s has been resolved.", event.OrderNumber)
	case "status.shipped":
		return fmt.Sprintf("Order %s has shipped, tracking %s.", event.OrderNumber, event.TrackingNumber)
	case "status.delivered":
		if role == domain.RoleVendor {
			return fmt.Sprintf("Order %s was delivered; escrow has been released to you.", event.OrderNumber)
		}
		return fmt.Sprintf("Order %s was delivered.", event.OrderNumber)
	case "status.cancelled":
		return fmt.Sprintf("Order %s was cancelled; the escrowed payment is refunded to the customer.", event.OrderNumber)
	case "status.refunded":
		return fmt.Sprintf("Order %s was refunded after dispute resolution.", event.OrderNumber)
	}
	return fmt.Sprintf("Order %s is now %s.", event.OrderNumber, event.ToStatus)
}
