package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rupeeline/collectbot/internal/dialogue"
)

func seedSession(t *testing.T, s *InMemoryStore) *CallSession {
	t.Helper()
	s.SeedBorrower(Borrower{ID: "b1", Name: "Asha", PhoneE164: "+919876543210"}, &Loan{DueAmount: 5000, DaysPastDue: 10, Status: "OVERDUE"})
	sess, err := s.CreateSession(context.Background(), "CA-1", "b1", DirectionInbound)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return sess
}

func TestTurnNumbersAreGapFree(t *testing.T) {
	s := NewInMemoryStore()
	sess := seedSession(t, s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := RoleCaller
		if i%2 == 1 {
			role = RoleBot
		}
		got, err := s.AppendTurn(ctx, Turn{SessionID: sess.ID, Role: role, Text: "t"})
		if err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
		if got.TurnNo != i+1 {
			t.Fatalf("turn no = %d, want %d", got.TurnNo, i+1)
		}
	}
}

func TestTurnNumbersUnderConcurrentAppends(t *testing.T) {
	s := NewInMemoryStore()
	sess := seedSession(t, s)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AppendTurn(ctx, Turn{SessionID: sess.ID, Role: RoleCaller, Text: "hello"}); err != nil {
				t.Errorf("AppendTurn() error = %v", err)
			}
		}()
	}
	wg.Wait()

	turns, err := s.Turns(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Turns() error = %v", err)
	}
	if len(turns) != n {
		t.Fatalf("turn count = %d, want %d", len(turns), n)
	}
	seen := map[int]bool{}
	for _, tr := range turns {
		if tr.TurnNo < 1 || tr.TurnNo > n || seen[tr.TurnNo] {
			t.Fatalf("bad turn number %d (duplicate or out of range)", tr.TurnNo)
		}
		seen[tr.TurnNo] = true
	}
}

func TestAppendTurnUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.AppendTurn(context.Background(), Turn{SessionID: "nope", Role: RoleCaller, Text: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestEffectsAreIdempotentPerTurn(t *testing.T) {
	s := NewInMemoryStore()
	sess := seedSession(t, s)
	ctx := context.Background()

	effect := &SideEffect{Kind: EffectDNC, DNC: &DNCRequest{BorrowerID: "b1", SessionID: sess.ID, Reason: "Customer request"}}
	if _, err := s.AppendTurnWithEffect(ctx, Turn{SessionID: sess.ID, Role: RoleBot, Text: "noted"}, effect); err != nil {
		t.Fatalf("AppendTurnWithEffect() error = %v", err)
	}

	if got := len(s.DNCRequests()); got != 1 {
		t.Fatalf("dnc request count = %d, want 1", got)
	}
	bl, err := s.BorrowerByID(ctx, "b1")
	if err != nil {
		t.Fatalf("BorrowerByID() error = %v", err)
	}
	if !bl.IsDNC {
		t.Fatalf("borrower not flagged DNC")
	}
}

func TestTerminalSessionStateNeverRegresses(t *testing.T) {
	s := NewInMemoryStore()
	sess := seedSession(t, s)
	ctx := context.Background()

	if err := s.UpdateSessionState(ctx, sess.ID, dialogue.StateEndCall, "VERIFIED"); err != nil {
		t.Fatalf("UpdateSessionState() error = %v", err)
	}
	if err := s.UpdateSessionState(ctx, sess.ID, dialogue.StateMainMenu, ""); err != nil {
		t.Fatalf("UpdateSessionState() error = %v", err)
	}

	got, err := s.SessionByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("SessionByID() error = %v", err)
	}
	if got.CurrentState != dialogue.StateEndCall {
		t.Fatalf("state regressed to %q from terminal END_CALL", got.CurrentState)
	}
}

func TestOverdueBorrowersRespectsDNCAndAttemptCap(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	s.SeedBorrower(Borrower{ID: "due", Name: "A", PhoneE164: "+911"}, &Loan{DueAmount: 100, DaysPastDue: 5, Status: "OVERDUE"})
	s.SeedBorrower(Borrower{ID: "optout", Name: "B", PhoneE164: "+912", IsDNC: true}, &Loan{DueAmount: 100, DaysPastDue: 5, Status: "OVERDUE"})
	s.SeedBorrower(Borrower{ID: "current", Name: "C", PhoneE164: "+913"}, &Loan{DueAmount: 100, DaysPastDue: 0, Status: "CURRENT"})
	s.SeedBorrower(Borrower{ID: "capped", Name: "D", PhoneE164: "+914"}, &Loan{DueAmount: 100, DaysPastDue: 5, Status: "OVERDUE"})
	if _, err := s.CreateSession(ctx, "CA-capped", "capped", DirectionOutbound); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	out, err := s.OverdueBorrowers(ctx, 1, 10)
	if err != nil {
		t.Fatalf("OverdueBorrowers() error = %v", err)
	}
	if len(out) != 1 || out[0].ID != "due" {
		t.Fatalf("overdue list = %+v, want only %q", out, "due")
	}
}

func TestMarkExpiredPromisesBroken(t *testing.T) {
	s := NewInMemoryStore()
	sess := seedSession(t, s)
	ctx := context.Background()

	past := time.Now().UTC().AddDate(0, 0, -2)
	future := time.Now().UTC().AddDate(0, 0, 2)
	for _, d := range []time.Time{past, future} {
		_, err := s.AppendTurnWithEffect(ctx,
			Turn{SessionID: sess.ID, Role: RoleBot, Text: "noted"},
			&SideEffect{Kind: EffectPromise, Promise: &Promise{BorrowerID: "b1", SessionID: sess.ID, PromiseDate: d, Amount: 100}},
		)
		if err != nil {
			t.Fatalf("AppendTurnWithEffect() error = %v", err)
		}
	}

	n, err := s.MarkExpiredPromisesBroken(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkExpiredPromisesBroken() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("broken count = %d, want 1", n)
	}
	statuses := map[string]int{}
	for _, p := range s.Promises() {
		statuses[p.Status]++
	}
	if statuses[PromiseBroken] != 1 || statuses[PromiseActive] != 1 {
		t.Fatalf("promise statuses = %v", statuses)
	}
}
