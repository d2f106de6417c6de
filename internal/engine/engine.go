package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rupeeline/collectbot/internal/dialogue"
	"github.com/rupeeline/collectbot/internal/nlu"
	"github.com/rupeeline/collectbot/internal/observability"
	"github.com/rupeeline/collectbot/internal/store"
)

var (
	// ErrSessionTerminal reports a turn delivered for a session already in
	// END_CALL or TRANSFER; no further turns are logged or classified.
	ErrSessionTerminal = errors.New("session is in a terminal state")
	// ErrBorrowerDNC rejects outbound initiation toward an opted-out borrower.
	ErrBorrowerDNC = errors.New("borrower is on the do-not-call list")
)

// Caller-facing texts for the defined terminal paths.
const (
	unknownCallerReply = "Thank you for calling. I'm sorry, but I don't have your information in our system. Please contact our customer service team. Goodbye."
	dncCallerReply     = "I apologize, but you've requested not to receive calls. If you need assistance, please contact our customer service team. Goodbye."
)

// TurnReply is what the telephony layer needs to continue the call.
type TurnReply struct {
	ReplyText    string             `json:"reply_text"`
	NextState    dialogue.State     `json:"next_state"`
	Intent       dialogue.Intent    `json:"intent"`
	Sentiment    dialogue.Sentiment `json:"sentiment"`
	FallbackUsed bool               `json:"fallback_used"`
}

// CallStart describes how a freshly answered call should open.
type CallStart struct {
	SessionID  string         `json:"session_id,omitempty"`
	BorrowerID string         `json:"borrower_id,omitempty"`
	Greeting   string         `json:"greeting"`
	NextState  dialogue.State `json:"next_state"`
	EndCall    bool           `json:"end_call"`
}

// Analyzer resolves one utterance; satisfied by *nlu.Analyzer.
type Analyzer interface {
	Analyze(ctx context.Context, text string, turnCtx nlu.TurnContext) nlu.Result
}

// Engine runs the per-turn decision pipeline on top of the store and the
// two-tier classifier.
type Engine struct {
	store    store.Store
	analyzer Analyzer
	metrics  *observability.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	onTurn func(store.Turn)
	now    func() time.Time
}

func New(st store.Store, analyzer Analyzer, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:    st,
		analyzer: analyzer,
		metrics:  metrics,
		locks:    make(map[string]*sync.Mutex),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetTurnHook registers a fan-out callback invoked after every committed
// ledger turn, e.g. for the live transcript monitor.
func (e *Engine) SetTurnHook(hook func(store.Turn)) {
	e.onTurn = hook
}

// sessionLock serializes turn handling per session so a redelivered webhook
// cannot interleave with the handler already processing that call.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	return l
}

// StartInbound opens a session for an answered inbound call. Unknown and
// opted-out callers get a terminal greeting and no session.
func (e *Engine) StartInbound(ctx context.Context, phoneE164, callSID string) (CallStart, error) {
	borrower, err := e.store.BorrowerByPhone(ctx, phoneE164)
	if errors.Is(err, store.ErrNotFound) {
		return CallStart{Greeting: unknownCallerReply, NextState: dialogue.StateEndCall, EndCall: true}, nil
	}
	if err != nil {
		return CallStart{}, err
	}
	if borrower.IsDNC {
		return CallStart{Greeting: dncCallerReply, NextState: dialogue.StateEndCall, EndCall: true}, nil
	}

	sess, err := e.store.CreateSession(ctx, callSID, borrower.ID, store.DirectionInbound)
	if err != nil {
		return CallStart{}, err
	}
	greeting := fmt.Sprintf(
		"Hello, this call may be recorded for quality and training purposes. Am I speaking with %s?",
		borrower.Name,
	)
	return e.openCall(ctx, sess, borrower.ID, greeting, "inbound_started")
}

// OutboundGreeting opens the conversation once an outbound call is answered.
func (e *Engine) OutboundGreeting(ctx context.Context, sessionID string) (CallStart, error) {
	sess, err := e.store.SessionByID(ctx, sessionID)
	if err != nil {
		return CallStart{}, err
	}
	borrower, err := e.store.BorrowerByID(ctx, sess.BorrowerID)
	if err != nil {
		return CallStart{}, err
	}
	greeting := fmt.Sprintf(
		"Hello, this is a call from your loan service provider. This call may be recorded. Am I speaking with %s? I'm calling regarding your loan account.",
		borrower.Name,
	)
	return e.openCall(ctx, sess, borrower.ID, greeting, "outbound_answered")
}

func (e *Engine) openCall(ctx context.Context, sess *store.CallSession, borrowerID, greeting, event string) (CallStart, error) {
	turn, err := e.store.AppendTurn(ctx, store.Turn{
		SessionID: sess.ID,
		Role:      store.RoleBot,
		Text:      greeting,
	})
	if err != nil && !errors.Is(err, store.ErrTurnConflict) {
		return CallStart{}, err
	}
	if err == nil {
		e.publishTurn(turn)
	}
	if err := e.store.UpdateSessionState(ctx, sess.ID, dialogue.StateVerifyIdentity, ""); err != nil {
		return CallStart{}, err
	}
	if e.metrics != nil {
		e.metrics.SessionEvents.WithLabelValues(event).Inc()
		e.metrics.ActiveCalls.Inc()
	}
	e.audit(ctx, "call_sessions", sess.ID, "CREATED", map[string]any{
		"call_sid":    sess.CallSID,
		"borrower_id": borrowerID,
		"direction":   sess.Direction,
	})
	return CallStart{
		SessionID:  sess.ID,
		BorrowerID: borrowerID,
		Greeting:   greeting,
		NextState:  dialogue.StateVerifyIdentity,
	}, nil
}

// HandleTurn runs one full turn: log the caller utterance, classify it,
// execute any triggered side effect atomically with the bot turn, clamp the
// proposed state, persist, and return the reply. Persistence failures abort
// the turn; classifier failures never do.
func (e *Engine) HandleTurn(ctx context.Context, sessionID, borrowerID string, currentState dialogue.State, callerText string) (TurnReply, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.store.SessionByID(ctx, sessionID)
	if err != nil {
		return TurnReply{}, err
	}
	if sess.CurrentState.IsTerminal() {
		return TurnReply{}, ErrSessionTerminal
	}
	borrower, err := e.store.BorrowerByID(ctx, borrowerID)
	if err != nil {
		return TurnReply{}, err
	}

	state := dialogue.NormalizeState(string(currentState))
	lastBot, err := e.store.LastBotText(ctx, sessionID)
	if err != nil {
		return TurnReply{}, err
	}

	callerTurn, err := e.store.AppendTurn(ctx, store.Turn{
		SessionID: sessionID,
		Role:      store.RoleCaller,
		Text:      callerText,
	})
	if err != nil {
		return TurnReply{}, err
	}
	e.publishTurn(callerTurn)
	if e.metrics != nil {
		e.metrics.Turns.WithLabelValues(store.RoleCaller).Inc()
	}

	analysis := e.analyzer.Analyze(ctx, callerText, nlu.TurnContext{
		CurrentState:   state,
		LastBotMessage: lastBot,
		LanguagePref:   borrower.LanguagePref,
		DueAmount:      borrower.Loan.DueAmount,
		DaysPastDue:    borrower.Loan.DaysPastDue,
	})
	if e.metrics != nil {
		source := "remote"
		if analysis.FallbackUsed {
			source = "fallback"
		}
		e.metrics.ClassifierResults.WithLabelValues(source, string(analysis.Intent)).Inc()
	}

	nextState := dialogue.NormalizeState(string(analysis.NextState))
	effect := BuildEffect(analysis, sess, borrower, e.now())

	botTurn, err := e.store.AppendTurnWithEffect(ctx, store.Turn{
		SessionID: sessionID,
		Role:      store.RoleBot,
		Text:      analysis.ReplyText,
		Intent:    string(analysis.Intent),
		Sentiment: string(analysis.Sentiment),
		Slots:     analysis.Slots,
	}, effect)
	if err != nil {
		if e.metrics != nil && effect != nil {
			e.metrics.DispatchResults.WithLabelValues(string(analysis.Intent), "error").Inc()
		}
		return TurnReply{}, err
	}
	e.publishTurn(botTurn)
	if e.metrics != nil {
		e.metrics.Turns.WithLabelValues(store.RoleBot).Inc()
		if effect != nil {
			e.metrics.DispatchResults.WithLabelValues(string(analysis.Intent), "ok").Inc()
		}
	}

	verification := ""
	if state == dialogue.StateVerifyIdentity && nextState != dialogue.StateVerifyIdentity {
		verification = "VERIFIED"
	}
	if err := e.store.UpdateSessionState(ctx, sessionID, nextState, verification); err != nil {
		return TurnReply{}, err
	}

	if effect != nil {
		e.audit(ctx, "call_turns", botTurn.ID, "EFFECT_"+string(effect.Kind), map[string]any{
			"session_id": sessionID,
			"turn_no":    botTurn.TurnNo,
			"intent":     string(analysis.Intent),
		})
	}

	return TurnReply{
		ReplyText:    analysis.ReplyText,
		NextState:    nextState,
		Intent:       analysis.Intent,
		Sentiment:    analysis.Sentiment,
		FallbackUsed: analysis.FallbackUsed,
	}, nil
}

// Initiate creates an OUTBOUND session for the campaign driver. The telephony
// layer owns the actual dialing; it answers back through the outbound
// greeting webhook with the returned session id.
func (e *Engine) Initiate(ctx context.Context, borrowerID string) (*store.CallSession, error) {
	borrower, err := e.store.BorrowerByID(ctx, borrowerID)
	if err != nil {
		return nil, err
	}
	if borrower.IsDNC {
		return nil, ErrBorrowerDNC
	}
	sess, err := e.store.CreateSession(ctx, "OUT-"+uuid.NewString(), borrowerID, store.DirectionOutbound)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.SessionEvents.WithLabelValues("outbound_initiated").Inc()
	}
	return sess, nil
}

// CloseCall finalizes a session when the provider reports the call ended.
// Provider status strings are stored uppercased, e.g. "completed" becomes
// COMPLETED.
func (e *Engine) CloseCall(ctx context.Context, callSID, status string, durationSeconds int) error {
	if err := e.store.CloseSession(ctx, callSID, strings.ToUpper(status), durationSeconds); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.SessionEvents.WithLabelValues("closed").Inc()
		e.metrics.ActiveCalls.Dec()
	}
	return nil
}

func (e *Engine) publishTurn(t store.Turn) {
	if e.onTurn != nil {
		e.onTurn(t)
	}
}

// audit writes a trail row; failures are logged, never propagated.
func (e *Engine) audit(ctx context.Context, entity, entityID, action string, meta map[string]any) {
	if err := e.store.LogAudit(ctx, store.AuditEntry{
		Entity:   entity,
		EntityID: entityID,
		Action:   action,
		Meta:     meta,
	}); err != nil {
		log.Printf("[engine] audit write failed (ignored): %v", err)
	}
}
