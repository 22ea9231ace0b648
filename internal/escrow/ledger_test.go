package escrow

import (
	"errors"
	"testing"
	"time"

	"github.com/cambia-market/order-lifecycle/internal/domain"
)

func TestLock(t *testing.T) {
	now := time.Now()

	rec, err := Lock(nil, "ord-1", 250000, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != domain.EscrowStatusLocked {
		t.Errorf("expected locked, got %s", rec.Status)
	}
	if rec.Amount != 250000 {
		t.Errorf("expected amount 250000, got %d", rec.Amount)
	}

	if _, err := Lock(rec, "ord-1", 250000, now); !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("expected ErrAlreadyLocked, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	t.Run("releases locked funds once", func(t *testing.T) {
		now := time.Now()
		rec, _ := Lock(nil, "ord-1", 100000, now)

		res, err := Release(rec, domain.ReleaseToVendor, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Released {
			t.Error("first release should report Released")
		}
		if res.Destination != domain.ReleaseToVendor || res.Amount != 100000 {
			t.Errorf("unexpected result: %+v", res)
		}
		if rec.Status != domain.EscrowStatusReleased {
			t.Errorf("expected released, got %s", rec.Status)
		}
	})

	t.Run("repeat release is an idempotent no-op", func(t *testing.T) {
		now := time.Now()
		rec, _ := Lock(nil, "ord-1", 100000, now)
		first, _ := Release(rec, domain.ReleaseToVendor, now)

		// a retry, even naming the other party, returns the original outcome
		again, err := Release(rec, domain.ReleaseToCustomer, now.Add(time.Minute))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.Released {
			t.Error("repeat release must not report Released")
		}
		if again.Destination != first.Destination {
			t.Errorf("destination changed on retry: %s", again.Destination)
		}
		if !again.ReleasedAt.Equal(first.ReleasedAt) {
			t.Errorf("timestamp changed on retry: %v", again.ReleasedAt)
		}
	})

	t.Run("blocked while disputed", func(t *testing.T) {
		rec, _ := Lock(nil, "ord-1", 100000, time.Now())
		if err := MarkDisputed(rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := Release(rec, domain.ReleaseToVendor, time.Now()); !errors.Is(err, ErrDisputeOpen) {
			t.Errorf("expected ErrDisputeOpen, got %v", err)
		}
	})

	t.Run("rejects missing record", func(t *testing.T) {
		if _, err := Release(nil, domain.ReleaseToVendor, time.Now()); !errors.Is(err, ErrNotLocked) {
			t.Errorf("expected ErrNotLocked, got %v", err)
		}
	})
}

func TestMarkDisputed(t *testing.T) {
	t.Run("raises on locked funds", func(t *testing.T) {
		rec, _ := Lock(nil, "ord-1", 100000, time.Now())
		if err := MarkDisputed(rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Status != domain.EscrowStatusDisputed {
			t.Errorf("expected disputed, got %s", rec.Status)
		}
		// raising again is a no-op
		if err := MarkDisputed(rec); err != nil {
			t.Errorf("unexpected error on repeat: %v", err)
		}
	})

	t.Run("rejected after release", func(t *testing.T) {
		rec, _ := Lock(nil, "ord-1", 100000, time.Now())
		_, _ = Release(rec, domain.ReleaseToVendor, time.Now())
		if err := MarkDisputed(rec); !errors.Is(err, ErrAlreadyReleased) {
			t.Errorf("expected ErrAlreadyReleased, got %v", err)
		}
	})
}

func TestResolveDispute(t *testing.T) {
	t.Run("clears dispute and releases to the outcome party", func(t *testing.T) {
		now := time.Now()
		rec, _ := Lock(nil, "ord-1", 300000, now)
		_ = MarkDisputed(rec)

		res, err := ResolveDispute(rec, domain.ReleaseToCustomer, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Released || res.Destination != domain.ReleaseToCustomer {
			t.Errorf("unexpected result: %+v", res)
		}
		if rec.Status != domain.EscrowStatusReleased {
			t.Errorf("expected released, got %s", rec.Status)
		}
	})

	t.Run("idempotent after funds moved", func(t *testing.T) {
		now := time.Now()
		rec, _ := Lock(nil, "ord-1", 300000, now)
		_ = MarkDisputed(rec)
		first, _ := ResolveDispute(rec, domain.ReleaseToVendor, now)

		again, err := ResolveDispute(rec, domain.ReleaseToVendor, now.Add(time.Hour))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.Released {
			t.Error("repeat resolution must not report Released")
		}
		if !again.ReleasedAt.Equal(first.ReleasedAt) {
			t.Errorf("timestamp changed on retry: %v", again.ReleasedAt)
		}
	})
}
