package engine

import (
	"testing"
	"time"

	"github.com/rupeeline/collectbot/internal/dialogue"
	"github.com/rupeeline/collectbot/internal/nlu"
	"github.com/rupeeline/collectbot/internal/store"
)

var (
	testNow      = time.Date(2026, 8, 26, 9, 30, 0, 0, time.UTC)
	testSession  = &store.CallSession{ID: "s1", BorrowerID: "b1"}
	testBorrower = &store.BorrowerLoan{
		Borrower: store.Borrower{ID: "b1", Name: "Asha Rao"},
		Loan:     store.Loan{DueAmount: 5000, DaysPastDue: 12},
	}
)

func TestBuildEffectPromise(t *testing.T) {
	res := nlu.Result{
		Intent: dialogue.IntentPromiseToPay,
		Slots:  map[string]string{nlu.SlotAmount: "2500", nlu.SlotDate: "friday"},
	}
	eff := BuildEffect(res, testSession, testBorrower, testNow)
	if eff == nil || eff.Kind != store.EffectPromise {
		t.Fatalf("effect = %+v, want PROMISE", eff)
	}
	if eff.Promise.Amount != 2500 {
		t.Errorf("amount = %v, want 2500", eff.Promise.Amount)
	}
	// testNow is a Wednesday; friday resolves two days out.
	want := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	if !eff.Promise.PromiseDate.Equal(want) {
		t.Errorf("date = %v, want %v", eff.Promise.PromiseDate, want)
	}
}

func TestBuildEffectPromiseDefaults(t *testing.T) {
	res := nlu.Result{Intent: dialogue.IntentPromiseToPay, Slots: map[string]string{}}
	eff := BuildEffect(res, testSession, testBorrower, testNow)
	if eff == nil || eff.Promise == nil {
		t.Fatal("nil promise effect")
	}
	if eff.Promise.Amount != testBorrower.Loan.DueAmount {
		t.Errorf("amount = %v, want full due amount", eff.Promise.Amount)
	}
	if !eff.Promise.PromiseDate.Equal(testNow.Truncate(24 * time.Hour).Add(24 * time.Hour)) {
		t.Errorf("date = %v, want tomorrow", eff.Promise.PromiseDate)
	}
}

func TestBuildEffectPromiseBadAmount(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-50"} {
		res := nlu.Result{Intent: dialogue.IntentPromiseToPay, Slots: map[string]string{nlu.SlotAmount: raw}}
		eff := BuildEffect(res, testSession, testBorrower, testNow)
		if eff.Promise.Amount != testBorrower.Loan.DueAmount {
			t.Errorf("amount slot %q: got %v, want due amount", raw, eff.Promise.Amount)
		}
	}
}

func TestBuildEffectDNC(t *testing.T) {
	res := nlu.Result{Intent: dialogue.IntentDoNotCall, Slots: map[string]string{}}
	eff := BuildEffect(res, testSession, testBorrower, testNow)
	if eff == nil || eff.Kind != store.EffectDNC {
		t.Fatalf("effect = %+v, want DNC", eff)
	}
	if eff.DNC.Reason != defaultDNCReason {
		t.Errorf("reason = %q", eff.DNC.Reason)
	}

	res.Slots[nlu.SlotReason] = "too many calls"
	eff = BuildEffect(res, testSession, testBorrower, testNow)
	if eff.DNC.Reason != "too many calls" {
		t.Errorf("reason = %q, want slot value", eff.DNC.Reason)
	}
}

func TestBuildEffectCallback(t *testing.T) {
	res := nlu.Result{Intent: dialogue.IntentCallbackLater, Slots: map[string]string{}}
	eff := BuildEffect(res, testSession, testBorrower, testNow)
	if eff == nil || eff.Kind != store.EffectCallback {
		t.Fatalf("effect = %+v, want CALLBACK", eff)
	}
	if !eff.Callback.ScheduledAt.Equal(testNow.Add(24 * time.Hour)) {
		t.Errorf("scheduled at = %v, want now+24h", eff.Callback.ScheduledAt)
	}
}

func TestBuildEffectNonWritingIntents(t *testing.T) {
	for _, intent := range []dialogue.Intent{
		dialogue.IntentGreeting,
		dialogue.IntentVerification,
		dialogue.IntentMakePayment,
		dialogue.IntentDispute,
		dialogue.IntentWrongNumber,
		dialogue.IntentHardship,
		dialogue.IntentTransferAgent,
		dialogue.IntentUnclear,
	} {
		if eff := BuildEffect(nlu.Result{Intent: intent}, testSession, testBorrower, testNow); eff != nil {
			t.Errorf("intent %s produced effect %+v, want nil", intent, eff)
		}
	}
}
