package dialer

import (
	"context"
	"testing"
	"time"

	"github.com/rupeeline/collectbot/internal/store"
)

type fakeInitiator struct {
	calls []string
	err   error
}

func (f *fakeInitiator) Initiate(_ context.Context, borrowerID string) (*store.CallSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, borrowerID)
	return &store.CallSession{ID: "s-" + borrowerID, BorrowerID: borrowerID}, nil
}

func seededStore(t *testing.T) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	st.SeedBorrower(
		store.Borrower{ID: "b1", Name: "Asha Rao", PhoneE164: "+919876543210"},
		&store.Loan{DueAmount: 5000, DaysPastDue: 12, Status: "OVERDUE"},
	)
	st.SeedBorrower(
		store.Borrower{ID: "b2", Name: "Opted Out", PhoneE164: "+911111111111", IsDNC: true},
		&store.Loan{DueAmount: 3000, DaysPastDue: 30, Status: "OVERDUE"},
	)
	return st
}

func TestRunBatchCallsEligibleBorrowers(t *testing.T) {
	st := seededStore(t)
	init := &fakeInitiator{}
	d := New(st, init, Options{BatchSize: 10, MaxCallAttempts: 3})

	if n := d.runBatch(context.Background()); n != 1 {
		t.Fatalf("started = %d, want 1", n)
	}
	if len(init.calls) != 1 || init.calls[0] != "b1" {
		t.Fatalf("calls = %v, want [b1]", init.calls)
	}
}

func TestTickSkipsOutsideCallingHours(t *testing.T) {
	st := seededStore(t)
	init := &fakeInitiator{}
	d := New(st, init, Options{CallingStart: 9, CallingEnd: 21})
	d.now = func() time.Time { return time.Date(2026, 8, 26, 23, 0, 0, 0, time.UTC) }

	d.tick(context.Background())
	if len(init.calls) != 0 {
		t.Fatalf("calls = %v, want none outside calling hours", init.calls)
	}
}

func TestTickRunsInsideCallingHours(t *testing.T) {
	st := seededStore(t)
	init := &fakeInitiator{}
	d := New(st, init, Options{CallingStart: 9, CallingEnd: 21})
	d.now = func() time.Time { return time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC) }

	d.tick(context.Background())
	if len(init.calls) != 1 {
		t.Fatalf("calls = %v, want one", init.calls)
	}
}

func TestCleanupRunsOncePerDay(t *testing.T) {
	st := seededStore(t)
	d := New(st, &fakeInitiator{}, Options{})
	now := time.Date(2026, 8, 26, 23, 30, 0, 0, time.UTC)

	d.maybeCleanup(context.Background(), now)
	if d.lastCleanupDay != "2026-08-26" {
		t.Fatalf("lastCleanupDay = %q", d.lastCleanupDay)
	}

	// Same day: no second pass recorded.
	d.maybeCleanup(context.Background(), now.Add(10*time.Minute))
	if d.lastCleanupDay != "2026-08-26" {
		t.Fatalf("lastCleanupDay = %q after same-day tick", d.lastCleanupDay)
	}

	d.maybeCleanup(context.Background(), now.Add(24*time.Hour))
	if d.lastCleanupDay != "2026-08-27" {
		t.Fatalf("lastCleanupDay = %q after next-day tick", d.lastCleanupDay)
	}
}

func TestWithinCallingHoursBounds(t *testing.T) {
	d := New(store.NewInMemoryStore(), &fakeInitiator{}, Options{CallingStart: 9, CallingEnd: 21})
	cases := []struct {
		hour int
		want bool
	}{
		{8, false},
		{9, true},
		{20, true},
		{21, false},
	}
	for _, tc := range cases {
		now := time.Date(2026, 8, 26, tc.hour, 0, 0, 0, time.UTC)
		if got := d.withinCallingHours(now); got != tc.want {
			t.Errorf("hour %d: got %v, want %v", tc.hour, got, tc.want)
		}
	}
}
