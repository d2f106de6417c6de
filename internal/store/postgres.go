package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rupeeline/collectbot/internal/dialogue"
)

// PostgresStore persists the call ledger and side effects in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS borrowers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone_e164 TEXT NOT NULL UNIQUE,
			language_pref TEXT NOT NULL DEFAULT 'EN',
			is_dnc BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS loans (
			id TEXT PRIMARY KEY,
			borrower_id TEXT NOT NULL REFERENCES borrowers(id),
			due_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			days_past_due INTEGER NOT NULL DEFAULT 0,
			due_date DATE NULL,
			status TEXT NOT NULL DEFAULT 'CURRENT'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans (borrower_id);`,
		`CREATE TABLE IF NOT EXISTS call_sessions (
			id TEXT PRIMARY KEY,
			call_sid TEXT NOT NULL UNIQUE,
			borrower_id TEXT NOT NULL REFERENCES borrowers(id),
			direction TEXT NOT NULL,
			current_state TEXT NOT NULL,
			verification_state TEXT NOT NULL DEFAULT 'PENDING',
			outcome TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_sessions_borrower_started ON call_sessions (borrower_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS call_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES call_sessions(id),
			turn_no INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			intent TEXT NOT NULL DEFAULT '',
			sentiment TEXT NOT NULL DEFAULT '',
			slots JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, turn_no)
		);`,
		`CREATE TABLE IF NOT EXISTS ptp_promises (
			id TEXT PRIMARY KEY,
			borrower_id TEXT NOT NULL REFERENCES borrowers(id),
			session_id TEXT NOT NULL REFERENCES call_sessions(id),
			turn_no INTEGER NOT NULL DEFAULT 0,
			promise_date DATE NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, turn_no)
		);`,
		`CREATE TABLE IF NOT EXISTS dnc_requests (
			id TEXT PRIMARY KEY,
			borrower_id TEXT NOT NULL REFERENCES borrowers(id),
			session_id TEXT NOT NULL REFERENCES call_sessions(id),
			turn_no INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, turn_no)
		);`,
		`CREATE TABLE IF NOT EXISTS callbacks (
			id TEXT PRIMARY KEY,
			borrower_id TEXT NOT NULL REFERENCES borrowers(id),
			session_id TEXT NOT NULL REFERENCES call_sessions(id),
			turn_no INTEGER NOT NULL DEFAULT 0,
			scheduled_at TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, turn_no)
		);`,
		`CREATE TABLE IF NOT EXISTS audit (
			id TEXT PRIMARY KEY,
			entity TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			meta_json JSONB NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const borrowerLoanColumns = `b.id, b.name, b.phone_e164, b.language_pref, b.is_dnc,
	COALESCE(l.id, ''), COALESCE(l.due_amount, 0), COALESCE(l.days_past_due, 0),
	COALESCE(l.due_date, '1970-01-01'::date), COALESCE(l.status, '')`

func (s *PostgresStore) BorrowerByPhone(ctx context.Context, phoneE164 string) (*BorrowerLoan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+borrowerLoanColumns+`
		 FROM borrowers b LEFT JOIN loans l ON b.id = l.borrower_id
		 WHERE b.phone_e164 = $1
		 LIMIT 1`,
		phoneE164,
	)
	return scanBorrowerLoan(row)
}

func (s *PostgresStore) BorrowerByID(ctx context.Context, id string) (*BorrowerLoan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+borrowerLoanColumns+`
		 FROM borrowers b LEFT JOIN loans l ON b.id = l.borrower_id
		 WHERE b.id = $1
		 LIMIT 1`,
		id,
	)
	return scanBorrowerLoan(row)
}

func scanBorrowerLoan(row pgx.Row) (*BorrowerLoan, error) {
	var bl BorrowerLoan
	err := row.Scan(
		&bl.ID, &bl.Name, &bl.PhoneE164, &bl.LanguagePref, &bl.IsDNC,
		&bl.Loan.ID, &bl.Loan.DueAmount, &bl.Loan.DaysPastDue, &bl.Loan.DueDate, &bl.Loan.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan borrower: %w", err)
	}
	bl.Loan.BorrowerID = bl.ID
	return &bl, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, callSID, borrowerID, direction string) (*CallSession, error) {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_sessions (id, call_sid, borrower_id, direction, current_state, verification_state, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.CallSID, sess.BorrowerID, sess.Direction,
		string(sess.CurrentState), sess.VerificationState, sess.Status, sess.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) SessionByID(ctx context.Context, id string) (*CallSession, error) {
	var (
		sess    CallSession
		state   string
		endedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, call_sid, borrower_id, direction, current_state, verification_state, outcome, status, started_at, ended_at, duration_seconds
		 FROM call_sessions WHERE id = $1`,
		id,
	).Scan(
		&sess.ID, &sess.CallSID, &sess.BorrowerID, &sess.Direction, &state,
		&sess.VerificationState, &sess.Outcome, &sess.Status, &sess.StartedAt, &endedAt, &sess.DurationSeconds,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.CurrentState = dialogue.State(state)
	if endedAt != nil {
		sess.EndedAt = *endedAt
	}
	return &sess, nil
}

// UpdateSessionState moves the session to state. Sessions already in a
// terminal state are left untouched: state never regresses out of END_CALL
// or TRANSFER.
func (s *PostgresStore) UpdateSessionState(ctx context.Context, id string, state dialogue.State, verificationState string) error {
	cmd, err := s.pool.Exec(ctx,
		`UPDATE call_sessions
		 SET current_state = $2,
		     verification_state = COALESCE(NULLIF($3, ''), verification_state)
		 WHERE id = $1 AND current_state NOT IN ($4, $5)`,
		id, string(state), verificationState,
		string(dialogue.StateEndCall), string(dialogue.StateTransfer),
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		// Either unknown id or a terminal session; distinguish for callers.
		if _, err := s.SessionByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CloseSession(ctx context.Context, callSID, status string, durationSeconds int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE call_sessions
		 SET status = $2, ended_at = now(), duration_seconds = $3
		 WHERE call_sid = $1`,
		callSID, status, durationSeconds,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, t Turn) (Turn, error) {
	return s.AppendTurnWithEffect(ctx, t, nil)
}

// AppendTurnWithEffect claims the next turn number and writes the turn plus
// its side effect in one transaction. The turn-number claim rides on the
// (session_id, turn_no) unique key: of two concurrent appends for the same
// utterance, exactly one commits and the other observes ErrTurnConflict.
func (s *PostgresStore) AppendTurnWithEffect(ctx context.Context, t Turn, effect *SideEffect) (Turn, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	slots := t.Slots
	if slots == nil {
		slots = map[string]string{}
	}
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return Turn{}, fmt.Errorf("marshal slots: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Turn{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO call_turns (id, session_id, turn_no, role, text, intent, sentiment, slots, created_at)
		 SELECT $1, $2, COALESCE(MAX(turn_no), 0) + 1, $3, $4, $5, $6, $7::jsonb, $8
		 FROM call_turns WHERE session_id = $2
		 RETURNING turn_no`,
		t.ID, t.SessionID, t.Role, t.Text, t.Intent, t.Sentiment, string(slotsJSON), t.CreatedAt,
	).Scan(&t.TurnNo)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Turn{}, ErrTurnConflict
		}
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}

	if effect != nil {
		if err := applyEffect(ctx, tx, t, effect); err != nil {
			return Turn{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Turn{}, ErrTurnConflict
		}
		return Turn{}, fmt.Errorf("commit turn: %w", err)
	}
	return t, nil
}

func applyEffect(ctx context.Context, tx pgx.Tx, t Turn, effect *SideEffect) error {
	now := time.Now().UTC()
	switch effect.Kind {
	case EffectPromise:
		p := effect.Promise
		_, err := tx.Exec(ctx,
			`INSERT INTO ptp_promises (id, borrower_id, session_id, turn_no, promise_date, amount, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (session_id, turn_no) DO NOTHING`,
			uuid.NewString(), p.BorrowerID, p.SessionID, t.TurnNo, p.PromiseDate, p.Amount, PromiseActive, now,
		)
		if err != nil {
			return fmt.Errorf("save promise: %w", err)
		}
	case EffectDNC:
		d := effect.DNC
		if _, err := tx.Exec(ctx,
			`UPDATE borrowers SET is_dnc = TRUE WHERE id = $1`, d.BorrowerID,
		); err != nil {
			return fmt.Errorf("flag borrower dnc: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO dnc_requests (id, borrower_id, session_id, turn_no, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id, turn_no) DO NOTHING`,
			uuid.NewString(), d.BorrowerID, d.SessionID, t.TurnNo, d.Reason, now,
		)
		if err != nil {
			return fmt.Errorf("save dnc request: %w", err)
		}
	case EffectCallback:
		c := effect.Callback
		_, err := tx.Exec(ctx,
			`INSERT INTO callbacks (id, borrower_id, session_id, turn_no, scheduled_at, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (session_id, turn_no) DO NOTHING`,
			uuid.NewString(), c.BorrowerID, c.SessionID, t.TurnNo, c.ScheduledAt, c.Reason, now,
		)
		if err != nil {
			return fmt.Errorf("save callback: %w", err)
		}
	default:
		return fmt.Errorf("unknown effect kind %q", effect.Kind)
	}
	return nil
}

func (s *PostgresStore) LastBotText(ctx context.Context, sessionID string) (string, error) {
	var text string
	err := s.pool.QueryRow(ctx,
		`SELECT text FROM call_turns
		 WHERE session_id = $1 AND role = $2
		 ORDER BY turn_no DESC LIMIT 1`,
		sessionID, RoleBot,
	).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last bot text: %w", err)
	}
	return text, nil
}

func (s *PostgresStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, turn_no, role, text, intent, sentiment, slots, created_at
		 FROM call_turns WHERE session_id = $1 ORDER BY turn_no`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t         Turn
			slotsJSON []byte
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnNo, &t.Role, &t.Text, &t.Intent, &t.Sentiment, &slotsJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if len(slotsJSON) > 0 {
			if err := json.Unmarshal(slotsJSON, &t.Slots); err != nil {
				return nil, fmt.Errorf("decode slots: %w", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// OverdueBorrowers lists borrowers eligible for an outbound attempt: overdue,
// not opted out, and under the daily attempt cap, worst debt first.
func (s *PostgresStore) OverdueBorrowers(ctx context.Context, maxAttempts, limit int) ([]BorrowerLoan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+borrowerLoanColumns+`
		 FROM borrowers b
		 JOIN loans l ON b.id = l.borrower_id
		 WHERE l.status = 'OVERDUE'
		   AND b.is_dnc = FALSE
		   AND l.days_past_due > 0
		   AND (SELECT COUNT(*) FROM call_sessions cs
		        WHERE cs.borrower_id = b.id AND cs.started_at >= now() - INTERVAL '1 day') < $1
		 ORDER BY l.days_past_due DESC, l.due_amount DESC
		 LIMIT $2`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query overdue borrowers: %w", err)
	}
	defer rows.Close()

	var out []BorrowerLoan
	for rows.Next() {
		bl, err := scanBorrowerLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overdue borrowers: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkExpiredPromisesBroken(ctx context.Context, now time.Time) (int, error) {
	cmd, err := s.pool.Exec(ctx,
		`UPDATE ptp_promises SET status = $1 WHERE status = $2 AND promise_date < $3`,
		PromiseBroken, PromiseActive, now,
	)
	if err != nil {
		return 0, fmt.Errorf("mark broken promises: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (s *PostgresStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	var metaJSON []byte
	if entry.Meta != nil {
		b, err := json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("marshal audit meta: %w", err)
		}
		metaJSON = b
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit (id, entity, entity_id, action, meta_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), entry.Entity, entry.EntityID, entry.Action, metaJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("log audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
