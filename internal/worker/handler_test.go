package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cambia-market/order-lifecycle/internal/domain"
)

func testEvent() domain.OrderTransitionedEvent {
	return domain.OrderTransitionedEvent{
		OrderID:           "ord-1",
		OrderNumber:       "CMB-20250901-AB12CD",
		CustomerID:        "cust-1",
		VendorID:          "vend-1",
		ShippingPartnerID: "ship-1",
		FromStatus:        domain.OrderStatusProcessing,
		ToStatus:          domain.OrderStatusShipped,
		ActorRole:         domain.RoleVendor,
		ActorID:           "vend-1",
		EscrowStatus:      domain.EscrowStatusLocked,
		TrackingNumber:    "TRK-42",
		Timestamp:         time.Now().UTC(),
	}
}

func newHandler(url string) *TransitionHandler {
	return NewTransitionHandler(url, &http.Client{Timeout: 5 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTransitionHandler_Handle(t *testing.T) {
	t.Run("fans out one notification per party", func(t *testing.T) {
		var mu sync.Mutex
		var received []notificationPayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var n notificationPayload
			_ = json.NewDecoder(r.Body).Decode(&n)
			mu.Lock()
			received = append(received, n)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		payload, _ := json.Marshal(testEvent())
		if err := newHandler(server.URL).Handle(context.Background(), payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(received) != 3 {
			t.Fatalf("expected 3 notifications, got %d", len(received))
		}
		roles := map[domain.ActorRole]bool{}
		for _, n := range received {
			roles[n.RecipientRole] = true
			if n.Event != "status.shipped" {
				t.Errorf("expected status.shipped, got %q", n.Event)
			}
			if n.OrderID != "ord-1" {
				t.Errorf("unexpected order id %q", n.OrderID)
			}
		}
		if !roles[domain.RoleCustomer] || !roles[domain.RoleVendor] || !roles[domain.RoleShipping] {
			t.Errorf("missing recipient roles: %v", roles)
		}
	})

	t.Run("skips parties not on the order", func(t *testing.T) {
		var mu sync.Mutex
		count := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			count++
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		event := testEvent()
		event.ShippingPartnerID = ""
		payload, _ := json.Marshal(event)
		_ = newHandler(server.URL).Handle(context.Background(), payload)

		if count != 2 {
			t.Errorf("expected 2 notifications, got %d", count)
		}
	})

	t.Run("duplicate responses count as delivered", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			// the notifications service reports an already-stored duplicate
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		event := testEvent()
		event.ShippingPartnerID = ""
		event.VendorID = ""
		payload, _ := json.Marshal(event)
		_ = newHandler(server.URL).Handle(context.Background(), payload)

		if attempts != 1 {
			t.Errorf("expected a single attempt, got %d", attempts)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts < 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		event := testEvent()
		event.ShippingPartnerID = ""
		event.VendorID = ""
		payload, _ := json.Marshal(event)
		if err := newHandler(server.URL).Handle(context.Background(), payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("never fails the message on delivery errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		payload, _ := json.Marshal(testEvent())
		if err := newHandler(server.URL).Handle(context.Background(), payload); err != nil {
			t.Errorf("delivery failure must not fail the message: %v", err)
		}
	})

	t.Run("malformed payloads are skipped", func(t *testing.T) {
		if err := newHandler("http://unused").Handle(context.Background(), []byte("not json")); err != nil {
			t.Errorf("malformed payload must not fail the message: %v", err)
		}
	})
}

func TestEventName(t *testing.T) {
	t.Run("plain transition", func(t *testing.T) {
		if got := eventName(testEvent()); got != "status.shipped" {
			t.Errorf("expected status.shipped, got %q", got)
		}
	})

	t.Run("dispute opened", func(t *testing.T) {
		event := testEvent()
		event.FromStatus = domain.OrderStatusShipped
		event.ToStatus = domain.OrderStatusShipped
		event.EscrowStatus = domain.EscrowStatusDisputed
		if got := eventName(event); got != "dispute.opened" {
			t.Errorf("expected dispute.opened, got %q", got)
		}
	})

	t.Run("dispute resolved", func(t *testing.T) {
		event := testEvent()
		event.FromStatus = domain.OrderStatusShipped
		event.ToStatus = domain.OrderStatusShipped
		event.EscrowStatus = domain.EscrowStatusLocked
		if got := eventName(event); got != "dispute.resolved" {
			t.Errorf("expected dispute.resolved, got %q", got)
		}
	})
}

func TestBodyFor(t *testing.T) {
	event := testEvent()
	event.FromStatus = domain.OrderStatusShipped
	event.ToStatus = domain.OrderStatusDelivered
	event.EscrowStatus = domain.EscrowStatusReleased

	vendor := bodyFor(domain.RoleVendor, event)
	customer := bodyFor(domain.RoleCustomer, event)
	if vendor == customer {
		t.Error("vendor delivery notice should mention the escrow release")
	}
}
