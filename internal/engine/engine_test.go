package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rupeeline/collectbot/internal/dialogue"
	"github.com/rupeeline/collectbot/internal/nlu"
	"github.com/rupeeline/collectbot/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	st.SeedBorrower(
		store.Borrower{ID: "b1", Name: "Asha Rao", PhoneE164: "+919876543210", LanguagePref: "EN"},
		&store.Loan{DueAmount: 5000, DaysPastDue: 12, Status: "OVERDUE"},
	)
	// No remote classifier configured: every turn takes the fallback path.
	return New(st, nlu.NewAnalyzer(nil, nil), nil), st
}

func startCall(t *testing.T, e *Engine) CallStart {
	t.Helper()
	start, err := e.StartInbound(context.Background(), "+919876543210", "CA-1")
	if err != nil {
		t.Fatalf("StartInbound() error = %v", err)
	}
	if start.EndCall {
		t.Fatalf("unexpected terminal start: %+v", start)
	}
	return start
}

func TestStartInboundGreetsAndVerifies(t *testing.T) {
	e, st := newTestEngine(t)
	start := startCall(t, e)

	if start.NextState != dialogue.StateVerifyIdentity {
		t.Errorf("next state = %q, want VERIFY_IDENTITY", start.NextState)
	}
	turns, _ := st.Turns(context.Background(), start.SessionID)
	if len(turns) != 1 || turns[0].Role != store.RoleBot || turns[0].TurnNo != 1 {
		t.Fatalf("greeting turn not logged: %+v", turns)
	}
}

func TestStartInboundUnknownCaller(t *testing.T) {
	e, _ := newTestEngine(t)
	start, err := e.StartInbound(context.Background(), "+910000000000", "CA-2")
	if err != nil {
		t.Fatalf("StartInbound() error = %v", err)
	}
	if !start.EndCall || start.SessionID != "" {
		t.Fatalf("unknown caller should end without a session: %+v", start)
	}
}

func TestStartInboundDNCCaller(t *testing.T) {
	e, st := newTestEngine(t)
	st.SeedBorrower(store.Borrower{ID: "b2", Name: "Opted Out", PhoneE164: "+911111111111", IsDNC: true}, nil)
	start, err := e.StartInbound(context.Background(), "+911111111111", "CA-3")
	if err != nil {
		t.Fatalf("StartInbound() error = %v", err)
	}
	if !start.EndCall {
		t.Fatalf("DNC caller should get a terminal greeting: %+v", start)
	}
}

func TestHandleTurnPromiseScenario(t *testing.T) {
	e, st := newTestEngine(t)
	e.now = func() time.Time { return time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC) }
	start := startCall(t, e)

	reply, err := e.HandleTurn(context.Background(), start.SessionID, "b1", dialogue.StateMainMenu, "I will pay tomorrow")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if reply.Intent != dialogue.IntentPromiseToPay {
		t.Errorf("intent = %q, want PROMISE_TO_PAY", reply.Intent)
	}
	if reply.NextState != dialogue.StateCollectDetails {
		t.Errorf("next state = %q, want COLLECT_DETAILS", reply.NextState)
	}
	if !reply.FallbackUsed {
		t.Errorf("FallbackUsed = false without a remote classifier")
	}

	promises := st.Promises()
	if len(promises) != 1 {
		t.Fatalf("promise count = %d, want 1", len(promises))
	}
	p := promises[0]
	if !p.PromiseDate.Equal(time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("promise date = %v, want tomorrow", p.PromiseDate)
	}
	// No parseable amount in the utterance: falls back to the full due amount.
	if p.Amount != 5000 {
		t.Errorf("promise amount = %v, want 5000", p.Amount)
	}
}

func TestHandleTurnDoNotCallScenario(t *testing.T) {
	e, st := newTestEngine(t)
	start := startCall(t, e)
	ctx := context.Background()

	reply, err := e.HandleTurn(ctx, start.SessionID, "b1", dialogue.StateMainMenu, "stop calling me")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if reply.Intent != dialogue.IntentDoNotCall || reply.NextState != dialogue.StateEndCall {
		t.Fatalf("reply = %+v, want DO_NOT_CALL/END_CALL", reply)
	}

	if got := len(st.DNCRequests()); got != 1 {
		t.Fatalf("dnc request count = %d, want 1", got)
	}
	bl, _ := st.BorrowerByID(ctx, "b1")
	if !bl.IsDNC {
		t.Fatalf("borrower not flagged DNC")
	}

	// END_CALL is terminal: the ledger accepts no further turns.
	if _, err := e.HandleTurn(ctx, start.SessionID, "b1", dialogue.StateEndCall, "wait"); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("want ErrSessionTerminal, got %v", err)
	}
}

func TestHandleTurnCallbackScenario(t *testing.T) {
	e, st := newTestEngine(t)
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	start := startCall(t, e)

	if _, err := e.HandleTurn(context.Background(), start.SessionID, "b1", dialogue.StateMainMenu, "please call back"); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	cbs := st.Callbacks()
	if len(cbs) != 1 {
		t.Fatalf("callback count = %d, want 1", len(cbs))
	}
	if !cbs[0].ScheduledAt.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("scheduled at = %v, want now+24h", cbs[0].ScheduledAt)
	}
	if cbs[0].Reason != defaultCallbackReason {
		t.Errorf("reason = %q", cbs[0].Reason)
	}
}

func TestHandleTurnLedgerOrdering(t *testing.T) {
	e, st := newTestEngine(t)
	start := startCall(t, e)
	ctx := context.Background()

	state := dialogue.StateMainMenu
	for _, text := range []string{"hello", "what is this about", "I will pay tomorrow"} {
		reply, err := e.HandleTurn(ctx, start.SessionID, "b1", state, text)
		if err != nil {
			t.Fatalf("HandleTurn(%q) error = %v", text, err)
		}
		state = reply.NextState
	}

	turns, _ := st.Turns(ctx, start.SessionID)
	// Greeting plus three caller/bot pairs.
	if len(turns) != 7 {
		t.Fatalf("turn count = %d, want 7", len(turns))
	}
	for i, tr := range turns {
		if tr.TurnNo != i+1 {
			t.Fatalf("turn %d has number %d", i, tr.TurnNo)
		}
	}
}

func TestHandleTurnVerificationGate(t *testing.T) {
	e, _ := newTestEngine(t)
	start := startCall(t, e)

	reply, err := e.HandleTurn(context.Background(), start.SessionID, "b1", dialogue.StateVerifyIdentity, "I want to pay now")
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if reply.NextState != dialogue.StateVerifyIdentity {
		t.Fatalf("next state = %q, want VERIFY_IDENTITY until verified", reply.NextState)
	}
}

func TestInitiate(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	sess, err := e.Initiate(ctx, "b1")
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if sess.Direction != store.DirectionOutbound || sess.CurrentState != dialogue.StateStart {
		t.Fatalf("session = %+v", sess)
	}

	st.SeedBorrower(store.Borrower{ID: "b3", Name: "No Calls", PhoneE164: "+912222222222", IsDNC: true}, nil)
	if _, err := e.Initiate(ctx, "b3"); !errors.Is(err, ErrBorrowerDNC) {
		t.Fatalf("want ErrBorrowerDNC, got %v", err)
	}
	if _, err := e.Initiate(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestTurnHookReceivesTurns(t *testing.T) {
	e, _ := newTestEngine(t)
	var seen []store.Turn
	e.SetTurnHook(func(tr store.Turn) { seen = append(seen, tr) })
	start := startCall(t, e)

	if _, err := e.HandleTurn(context.Background(), start.SessionID, "b1", dialogue.StateMainMenu, "hello"); err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	// Greeting, caller turn, bot turn.
	if len(seen) != 3 {
		t.Fatalf("hook saw %d turns, want 3", len(seen))
	}
}
