package store

import (
	"context"
	"errors"
	"time"

	"github.com/rupeeline/collectbot/internal/dialogue"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrTurnConflict reports that another handler already claimed this turn
	// number, i.e. a redelivered webhook lost the append race.
	ErrTurnConflict = errors.New("turn already recorded")
)

// Turn roles.
const (
	RoleBot    = "BOT"
	RoleCaller = "CALLER"
)

// Call directions.
const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
)

// Session lifecycle statuses.
const (
	SessionInitiated = "INITIATED"
	SessionCompleted = "COMPLETED"
	SessionFailed    = "FAILED"
)

// Promise statuses.
const (
	PromiseActive = "ACTIVE"
	PromiseKept   = "KEPT"
	PromiseBroken = "BROKEN"
)

// Borrower is read-only input to the dialogue engine; an upstream loan
// management system owns it.
type Borrower struct {
	ID           string
	Name         string
	PhoneE164    string
	LanguagePref string
	IsDNC        bool
}

// Loan carries the collection context for one borrower.
type Loan struct {
	ID          string
	BorrowerID  string
	DueAmount   float64
	DaysPastDue int
	DueDate     time.Time
	Status      string
}

// BorrowerLoan is the joined read used by the engine and the dialer.
type BorrowerLoan struct {
	Borrower
	Loan Loan
}

// CallSession tracks one live call. Exactly one live session exists per
// telephony call SID, and CurrentState never regresses from a terminal state.
type CallSession struct {
	ID                string
	CallSID           string
	BorrowerID        string
	Direction         string
	CurrentState      dialogue.State
	VerificationState string
	Outcome           string
	Status            string
	StartedAt         time.Time
	EndedAt           time.Time
	DurationSeconds   int
}

// Turn is one immutable ledger entry. Turn numbers per session are gap-free
// and strictly increasing from 1. Intent and Sentiment are empty on raw
// caller turns written before classification.
type Turn struct {
	ID        string
	SessionID string
	TurnNo    int
	Role      string
	Text      string
	Intent    string
	Sentiment string
	Slots     map[string]string
	CreatedAt time.Time
}

// Promise records a promise-to-pay commitment.
type Promise struct {
	ID          string
	BorrowerID  string
	SessionID   string
	TurnNo      int
	PromiseDate time.Time
	Amount      float64
	Status      string
	CreatedAt   time.Time
}

// DNCRequest records a do-not-call opt-out.
type DNCRequest struct {
	ID         string
	BorrowerID string
	SessionID  string
	TurnNo     int
	Reason     string
	CreatedAt  time.Time
}

// Callback records a requested callback slot.
type Callback struct {
	ID          string
	BorrowerID  string
	SessionID   string
	TurnNo      int
	ScheduledAt time.Time
	Reason      string
	CreatedAt   time.Time
}

// EffectKind discriminates SideEffect variants.
type EffectKind string

const (
	EffectPromise  EffectKind = "PROMISE"
	EffectDNC      EffectKind = "DNC"
	EffectCallback EffectKind = "CALLBACK"
)

// SideEffect is the write a resolved intent triggers. Exactly one of the
// pointer fields matching Kind is set. Effects are keyed by
// (session, turn, kind) so a redelivered webhook cannot write the same
// effect twice.
type SideEffect struct {
	Kind     EffectKind
	Promise  *Promise
	DNC      *DNCRequest
	Callback *Callback
}

// AuditEntry is a best-effort trail row; writes must never abort the
// operation they describe.
type AuditEntry struct {
	Entity   string
	EntityID string
	Action   string
	Meta     map[string]any
}

// Store persists borrowers, sessions, the turn ledger and side effects.
type Store interface {
	BorrowerByPhone(ctx context.Context, phoneE164 string) (*BorrowerLoan, error)
	BorrowerByID(ctx context.Context, id string) (*BorrowerLoan, error)

	CreateSession(ctx context.Context, callSID, borrowerID, direction string) (*CallSession, error)
	SessionByID(ctx context.Context, id string) (*CallSession, error)
	UpdateSessionState(ctx context.Context, id string, state dialogue.State, verificationState string) error
	CloseSession(ctx context.Context, callSID, status string, durationSeconds int) error

	// AppendTurn claims the next turn number for the session and writes the
	// turn. The returned Turn carries the claimed number. Concurrent appends
	// for the same utterance resolve to one winner; losers get ErrTurnConflict.
	AppendTurn(ctx context.Context, t Turn) (Turn, error)
	// AppendTurnWithEffect writes the turn and its side effect atomically.
	// A nil effect degrades to AppendTurn.
	AppendTurnWithEffect(ctx context.Context, t Turn, effect *SideEffect) (Turn, error)
	LastBotText(ctx context.Context, sessionID string) (string, error)
	Turns(ctx context.Context, sessionID string) ([]Turn, error)

	OverdueBorrowers(ctx context.Context, maxAttempts, limit int) ([]BorrowerLoan, error)
	MarkExpiredPromisesBroken(ctx context.Context, now time.Time) (int, error)

	LogAudit(ctx context.Context, entry AuditEntry) error

	Ping(ctx context.Context) error
	Close() error
}
