package security

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryAttemptStore(t *testing.T) {
	ctx := context.Background()

	t.Run("counts per key", func(t *testing.T) {
		s := NewInMemoryAttemptStore()
		for i := 1; i <= 3; i++ {
			att, err := s.Increment(ctx, "a@x.com|o1", time.Hour)
			if err != nil {
				t.Fatalf("Increment() error = %v", err)
			}
			if att.Count != i {
				t.Fatalf("Count = %d, want %d", att.Count, i)
			}
		}
		att, err := s.Increment(ctx, "a@x.com|o2", time.Hour)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if att.Count != 1 {
			t.Fatalf("other key Count = %d, want 1", att.Count)
		}
	})

	t.Run("get returns nil for a missing key", func(t *testing.T) {
		s := NewInMemoryAttemptStore()
		att, err := s.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if att != nil {
			t.Fatalf("Get() = %+v, want nil", att)
		}
	})

	t.Run("clear removes the record", func(t *testing.T) {
		s := NewInMemoryAttemptStore()
		s.Increment(ctx, "k", time.Hour)
		if err := s.Clear(ctx, "k"); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		att, _ := s.Get(ctx, "k")
		if att != nil {
			t.Fatalf("record survived Clear: %+v", att)
		}
	})

	t.Run("expired lock resets the count on next increment", func(t *testing.T) {
		s := NewInMemoryAttemptStore()
		base := time.Now()
		s.now = func() time.Time { return base }

		for i := 0; i < 5; i++ {
			s.Increment(ctx, "k", time.Hour)
		}
		until := base.Add(30 * time.Minute)
		if err := s.Lock(ctx, "k", until); err != nil {
			t.Fatalf("Lock() error = %v", err)
		}

		att, _ := s.Get(ctx, "k")
		if att.LockedUntil == nil || !att.LockedUntil.Equal(until) {
			t.Fatalf("LockedUntil = %v, want %v", att.LockedUntil, until)
		}

		s.now = func() time.Time { return base.Add(31 * time.Minute) }
		fresh, err := s.Increment(ctx, "k", time.Hour)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if fresh.Count != 1 || fresh.LockedUntil != nil {
			t.Fatalf("expected a reset record, got %+v", fresh)
		}
	})

	t.Run("get returns a copy", func(t *testing.T) {
		s := NewInMemoryAttemptStore()
		s.Increment(ctx, "k", time.Hour)
		att, _ := s.Get(ctx, "k")
		att.Count = 99
		again, _ := s.Get(ctx, "k")
		if again.Count != 1 {
			t.Fatalf("mutating the returned record leaked into the store: %d", again.Count)
		}
	})
}
