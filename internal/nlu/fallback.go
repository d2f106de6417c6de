package nlu

import (
	"strings"

	"github.com/rupeeline/collectbot/internal/dialogue"
)

// Fallback confidence levels: a rule match is a weak but deterministic
// signal, no match at all is weaker still.
const (
	confidenceMatched = 0.7
	confidenceUnclear = 0.5
)

// ClassifyFallback is the deterministic rule-based classifier used when the
// remote tier is unavailable or returns garbage. It is total: every input
// yields a fully populated Result.
func ClassifyFallback(text string, turnCtx TurnContext) Result {
	lower := strings.ToLower(text)

	intent := dialogue.IntentUnclear
	confidence := confidenceUnclear
	for _, rule := range intentRules {
		for _, p := range rule.patterns {
			if p.MatchString(lower) {
				intent = rule.intent
				confidence = confidenceMatched
				break
			}
		}
		if intent != dialogue.IntentUnclear {
			break
		}
	}

	sentiment := dialogue.SentimentNeutral
	if containsAny(lower, positiveKeywords) {
		sentiment = dialogue.SentimentPositive
	} else if containsAny(lower, negativeKeywords) {
		sentiment = dialogue.SentimentNegative
	}

	slots := map[string]string{}
	if m := amountBarePattern.FindStringSubmatch(lower); m != nil {
		slots[SlotAmount] = strings.ReplaceAll(m[1], ",", "")
	}
	if m := relativeDatePattern.FindString(lower); m != "" {
		slots[SlotDate] = m
	} else if m := nextPeriodPattern.FindString(lower); m != "" {
		slots[SlotDate] = m
	} else if m := explicitDatePattern.FindString(lower); m != "" {
		slots[SlotDate] = m
	}

	reply, next := fallbackDecision(turnCtx.CurrentState, intent)

	return Result{
		Intent:       intent,
		Sentiment:    sentiment,
		Slots:        slots,
		ReplyText:    reply,
		NextState:    next,
		Confidence:   confidence,
		FallbackUsed: true,
	}
}

// fallbackDecision is the (current state, intent) reply table. The
// verification gate is checked before any intent branch: no forward progress
// until the caller verifies.
func fallbackDecision(current dialogue.State, intent dialogue.Intent) (string, dialogue.State) {
	if current == dialogue.StateVerifyIdentity {
		next := dialogue.StateVerifyIdentity
		if intent == dialogue.IntentVerification {
			next = dialogue.StateMainMenu
		}
		return "Thank you. Now, how can I help you with your loan today?", next
	}

	switch intent {
	case dialogue.IntentMakePayment:
		return "Great! I'll help you make a payment. What amount would you like to pay?", dialogue.StateCollectDetails
	case dialogue.IntentPromiseToPay:
		return "I understand. When would you be able to make the payment?", dialogue.StateCollectDetails
	case dialogue.IntentTransferAgent:
		return "I'll transfer you to an agent. Please hold.", dialogue.StateTransfer
	case dialogue.IntentDoNotCall:
		return "I understand. I'll add you to our do-not-call list. Have a good day.", dialogue.StateEndCall
	default:
		return "I understand. Is there anything else I can help you with today?", dialogue.StateMainMenu
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
