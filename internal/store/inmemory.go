package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rupeeline/collectbot/internal/dialogue"
)

// InMemoryStore keeps everything in process memory. It backs tests and
// keyless local development, mirroring the semantics of the Postgres store
// including the per-session turn-number claim.
type InMemoryStore struct {
	mu        sync.Mutex
	borrowers map[string]*Borrower
	loans     map[string]*Loan // keyed by borrower id
	sessions  map[string]*CallSession
	turns     map[string][]Turn // keyed by session id
	promises  []Promise
	dnc       []DNCRequest
	callbacks []Callback
	audit     []AuditEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		borrowers: make(map[string]*Borrower),
		loans:     make(map[string]*Loan),
		sessions:  make(map[string]*CallSession),
		turns:     make(map[string][]Turn),
	}
}

// SeedBorrower registers a borrower and optional loan for tests and local runs.
func (s *InMemoryStore) SeedBorrower(b Borrower, loan *Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	cp := b
	s.borrowers[b.ID] = &cp
	if loan != nil {
		lc := *loan
		lc.BorrowerID = b.ID
		if lc.ID == "" {
			lc.ID = uuid.NewString()
		}
		s.loans[b.ID] = &lc
	}
}

func (s *InMemoryStore) borrowerLoanLocked(b *Borrower) *BorrowerLoan {
	bl := &BorrowerLoan{Borrower: *b}
	if l, ok := s.loans[b.ID]; ok {
		bl.Loan = *l
	}
	return bl
}

func (s *InMemoryStore) BorrowerByPhone(_ context.Context, phoneE164 string) (*BorrowerLoan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.borrowers {
		if b.PhoneE164 == phoneE164 {
			return s.borrowerLoanLocked(b), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) BorrowerByID(_ context.Context, id string) (*BorrowerLoan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.borrowers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.borrowerLoanLocked(b), nil
}

func (s *InMemoryStore) CreateSession(_ context.Context, callSID, borrowerID, direction string) (*CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.CallSID == callSID {
			return nil, fmt.Errorf("session for call %s already exists", callSID)
		}
	}
	sess := &CallSession{
		ID:                uuid.NewString(),
		CallSID:           callSID,
		BorrowerID:        borrowerID,
		Direction:         direction,
		CurrentState:      dialogue.StateStart,
		VerificationState: "PENDING",
		Status:            SessionInitiated,
		StartedAt:         time.Now().UTC(),
	}
	s.sessions[sess.ID] = sess
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) SessionByID(_ context.Context, id string) (*CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) UpdateSessionState(_ context.Context, id string, state dialogue.State, verificationState string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.CurrentState.IsTerminal() {
		return nil
	}
	sess.CurrentState = state
	if verificationState != "" {
		sess.VerificationState = verificationState
	}
	return nil
}

func (s *InMemoryStore) CloseSession(_ context.Context, callSID, status string, durationSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.CallSID == callSID {
			sess.Status = status
			sess.EndedAt = time.Now().UTC()
			sess.DurationSeconds = durationSeconds
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) AppendTurn(ctx context.Context, t Turn) (Turn, error) {
	return s.AppendTurnWithEffect(ctx, t, nil)
}

func (s *InMemoryStore) AppendTurnWithEffect(_ context.Context, t Turn, effect *SideEffect) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[t.SessionID]; !ok {
		return Turn{}, ErrNotFound
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Slots == nil {
		t.Slots = map[string]string{}
	}
	t.TurnNo = len(s.turns[t.SessionID]) + 1
	s.turns[t.SessionID] = append(s.turns[t.SessionID], t)

	if effect != nil {
		if err := s.applyEffectLocked(t, effect); err != nil {
			// Roll the turn back so the ledger and effects stay consistent.
			s.turns[t.SessionID] = s.turns[t.SessionID][:t.TurnNo-1]
			return Turn{}, err
		}
	}
	return t, nil
}

func (s *InMemoryStore) applyEffectLocked(t Turn, effect *SideEffect) error {
	now := time.Now().UTC()
	switch effect.Kind {
	case EffectPromise:
		for _, p := range s.promises {
			if p.SessionID == t.SessionID && p.TurnNo == t.TurnNo {
				return nil
			}
		}
		p := *effect.Promise
		p.ID = uuid.NewString()
		p.TurnNo = t.TurnNo
		p.Status = PromiseActive
		p.CreatedAt = now
		s.promises = append(s.promises, p)
	case EffectDNC:
		if b, ok := s.borrowers[effect.DNC.BorrowerID]; ok {
			b.IsDNC = true
		}
		for _, d := range s.dnc {
			if d.SessionID == t.SessionID && d.TurnNo == t.TurnNo {
				return nil
			}
		}
		d := *effect.DNC
		d.ID = uuid.NewString()
		d.TurnNo = t.TurnNo
		d.CreatedAt = now
		s.dnc = append(s.dnc, d)
	case EffectCallback:
		for _, c := range s.callbacks {
			if c.SessionID == t.SessionID && c.TurnNo == t.TurnNo {
				return nil
			}
		}
		c := *effect.Callback
		c.ID = uuid.NewString()
		c.TurnNo = t.TurnNo
		c.CreatedAt = now
		s.callbacks = append(s.callbacks, c)
	default:
		return fmt.Errorf("unknown effect kind %q", effect.Kind)
	}
	return nil
}

func (s *InMemoryStore) LastBotText(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[sessionID]
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleBot {
			return turns[i].Text, nil
		}
	}
	return "", nil
}

func (s *InMemoryStore) Turns(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns[sessionID]))
	copy(out, s.turns[sessionID])
	return out, nil
}

func (s *InMemoryStore) OverdueBorrowers(_ context.Context, maxAttempts, limit int) ([]BorrowerLoan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	var out []BorrowerLoan
	for id, b := range s.borrowers {
		l, ok := s.loans[id]
		if !ok || b.IsDNC || l.Status != "OVERDUE" || l.DaysPastDue <= 0 {
			continue
		}
		attempts := 0
		for _, sess := range s.sessions {
			if sess.BorrowerID == id && sess.StartedAt.After(cutoff) {
				attempts++
			}
		}
		if attempts >= maxAttempts {
			continue
		}
		out = append(out, BorrowerLoan{Borrower: *b, Loan: *l})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Loan.DaysPastDue != out[j].Loan.DaysPastDue {
			return out[i].Loan.DaysPastDue > out[j].Loan.DaysPastDue
		}
		return out[i].Loan.DueAmount > out[j].Loan.DueAmount
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkExpiredPromisesBroken(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.promises {
		if s.promises[i].Status == PromiseActive && s.promises[i].PromiseDate.Before(now) {
			s.promises[i].Status = PromiseBroken
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) LogAudit(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// Promises returns a copy of all recorded promises, for tests.
func (s *InMemoryStore) Promises() []Promise {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Promise, len(s.promises))
	copy(out, s.promises)
	return out
}

// DNCRequests returns a copy of all recorded opt-out requests, for tests.
func (s *InMemoryStore) DNCRequests() []DNCRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DNCRequest, len(s.dnc))
	copy(out, s.dnc)
	return out
}

// Callbacks returns a copy of all recorded callbacks, for tests.
func (s *InMemoryStore) Callbacks() []Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Callback, len(s.callbacks))
	copy(out, s.callbacks)
	return out
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
