package engine

import (
	"time"

	"github.com/rupeeline/collectbot/internal/dialogue"
	"github.com/rupeeline/collectbot/internal/nlu"
	"github.com/rupeeline/collectbot/internal/store"
)

// Default values applied when the transcript did not yield a usable slot.
const (
	defaultPromiseDate    = "tomorrow"
	defaultDNCReason      = "Customer request"
	defaultCallbackReason = "Customer requested callback"
	callbackOffset        = 24 * time.Hour
)

// BuildEffect maps a resolved analysis to the side effect it triggers, or nil
// for intents that write nothing. Exactly three intents write: a payment
// promise, a do-not-call opt-out, or a scheduled callback.
func BuildEffect(res nlu.Result, sess *store.CallSession, borrower *store.BorrowerLoan, now time.Time) *store.SideEffect {
	switch res.Intent {
	case dialogue.IntentPromiseToPay:
		dateText := res.Slots[nlu.SlotDate]
		if dateText == "" {
			dateText = defaultPromiseDate
		}
		amount := borrower.Loan.DueAmount
		if v, ok := nlu.ParseSlotAmount(res.Slots[nlu.SlotAmount]); ok {
			amount = v
		}
		return &store.SideEffect{
			Kind: store.EffectPromise,
			Promise: &store.Promise{
				BorrowerID:  borrower.ID,
				SessionID:   sess.ID,
				PromiseDate: nlu.ResolveRelativeDate(dateText, now),
				Amount:      amount,
			},
		}
	case dialogue.IntentDoNotCall:
		reason := res.Slots[nlu.SlotReason]
		if reason == "" {
			reason = defaultDNCReason
		}
		return &store.SideEffect{
			Kind: store.EffectDNC,
			DNC: &store.DNCRequest{
				BorrowerID: borrower.ID,
				SessionID:  sess.ID,
				Reason:     reason,
			},
		}
	case dialogue.IntentCallbackLater:
		reason := res.Slots[nlu.SlotReason]
		if reason == "" {
			reason = defaultCallbackReason
		}
		// Fixed offset: a transcript-derived date, if any, is ignored here.
		return &store.SideEffect{
			Kind: store.EffectCallback,
			Callback: &store.Callback{
				BorrowerID:  borrower.ID,
				SessionID:   sess.ID,
				ScheduledAt: now.Add(callbackOffset),
				Reason:      reason,
			},
		}
	default:
		return nil
	}
}
