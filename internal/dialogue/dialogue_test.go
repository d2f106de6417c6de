package dialogue

import "testing"

func TestNormalizeStateClampsUnknown(t *testing.T) {
	cases := []struct {
		raw  string
		want State
	}{
		{"VERIFY_IDENTITY", StateVerifyIdentity},
		{"verify_identity", StateVerifyIdentity},
		{"  end_call ", StateEndCall},
		{"PAYMENT_PORTAL", StateMainMenu},
		{"", StateMainMenu},
	}
	for _, tc := range cases {
		if got := NormalizeState(tc.raw); got != tc.want {
			t.Errorf("NormalizeState(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeStateIsTotal(t *testing.T) {
	for _, s := range States {
		if got := NormalizeState(string(s)); got != s {
			t.Errorf("NormalizeState(%q) = %q, want identity", s, got)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range States {
		want := s == StateEndCall || s == StateTransfer
		if got := s.IsTerminal(); got != want {
			t.Errorf("%q.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

func TestNormalizeIntent(t *testing.T) {
	cases := []struct {
		raw  string
		want Intent
	}{
		{"PROMISE_TO_PAY", IntentPromiseToPay},
		{"promise_to_pay", IntentPromiseToPay},
		{"PAY_LATER", IntentUnclear},
		{"", IntentUnclear},
	}
	for _, tc := range cases {
		if got := NormalizeIntent(tc.raw); got != tc.want {
			t.Errorf("NormalizeIntent(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeSentiment(t *testing.T) {
	if got := NormalizeSentiment("positive"); got != SentimentPositive {
		t.Errorf("NormalizeSentiment(positive) = %q", got)
	}
	if got := NormalizeSentiment("furious"); got != SentimentNeutral {
		t.Errorf("NormalizeSentiment(furious) = %q, want NEUTRAL", got)
	}
}
