package dialogue

import "strings"

// Intent is the caller's inferred conversational purpose for one utterance.
type Intent string

const (
	IntentGreeting      Intent = "GREETING"
	IntentVerification  Intent = "VERIFICATION"
	IntentMakePayment   Intent = "MAKE_PAYMENT"
	IntentPromiseToPay  Intent = "PROMISE_TO_PAY"
	IntentDispute       Intent = "DISPUTE"
	IntentWrongNumber   Intent = "WRONG_NUMBER"
	IntentCallbackLater Intent = "CALLBACK_LATER"
	IntentHardship      Intent = "HARDSHIP"
	IntentTransferAgent Intent = "TRANSFER_AGENT"
	IntentDoNotCall     Intent = "DO_NOT_CALL"
	IntentUnclear       Intent = "UNCLEAR"
)

// Intents lists every valid intent.
var Intents = []Intent{
	IntentGreeting,
	IntentVerification,
	IntentMakePayment,
	IntentPromiseToPay,
	IntentDispute,
	IntentWrongNumber,
	IntentCallbackLater,
	IntentHardship,
	IntentTransferAgent,
	IntentDoNotCall,
	IntentUnclear,
}

var intentSet = func() map[Intent]struct{} {
	m := make(map[Intent]struct{}, len(Intents))
	for _, in := range Intents {
		m[in] = struct{}{}
	}
	return m
}()

// NormalizeIntent coerces a raw classifier value to a valid intent,
// defaulting to UNCLEAR.
func NormalizeIntent(raw string) Intent {
	in := Intent(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := intentSet[in]; ok {
		return in
	}
	return IntentUnclear
}

// Sentiment is the caller's detected emotional tone.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentNegative Sentiment = "NEGATIVE"
)

// NormalizeSentiment coerces a raw classifier value to a valid sentiment,
// defaulting to NEUTRAL.
func NormalizeSentiment(raw string) Sentiment {
	switch Sentiment(strings.ToUpper(strings.TrimSpace(raw))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
