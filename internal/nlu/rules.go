package nlu

import (
	"regexp"

	"github.com/rupeeline/collectbot/internal/dialogue"
)

// intentRule binds one intent to the phrase patterns that detect it.
type intentRule struct {
	intent   dialogue.Intent
	patterns []*regexp.Regexp
}

// intentRules is the fallback classifier's grammar. Order matters: the first
// intent with any matching pattern wins, so ties between intents are broken
// by table position, not pattern specificity.
var intentRules = []intentRule{
	{
		intent: dialogue.IntentMakePayment,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(pay|payment|paying)\b.*\b(now|today|immediately)\b`),
			regexp.MustCompile(`\bupi\b.*\blink\b`),
			regexp.MustCompile(`\bpaid?\b.*\bnow\b`),
		},
	},
	{
		intent: dialogue.IntentPromiseToPay,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(pay|payment)\b.*\b(tomorrow|friday|monday|next week|soon)\b`),
			regexp.MustCompile(`\bpromise\b.*\bpay\b`),
			regexp.MustCompile(`\bwill pay\b.*\b(on|by)\b`),
		},
	},
	{
		intent: dialogue.IntentDispute,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bnot\s+(mine|my)\b`),
			regexp.MustCompile(`\bdispute\b`),
			regexp.MustCompile(`\bwrong\s+amount\b`),
			regexp.MustCompile(`\bneed\s+(statement|proof|details)\b`),
		},
	},
	{
		intent: dialogue.IntentWrongNumber,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bwrong\s+number\b`),
			regexp.MustCompile(`\bnot\s+(me|the|a)\s+(borrower|person)\b`),
			regexp.MustCompile(`\bdon'?t\s+know\b.*\bloan\b`),
		},
	},
	{
		intent: dialogue.IntentCallbackLater,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bcall\s+back\b`),
			regexp.MustCompile(`\blater\b`),
			regexp.MustCompile(`\bnot\s+good\s+time\b`),
			regexp.MustCompile(`\bbusy\b.*\bnow\b`),
		},
	},
	{
		intent: dialogue.IntentHardship,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bhardship\b`),
			regexp.MustCompile(`\bfinancial\s+(difficulty|problem)\b`),
			regexp.MustCompile(`\bjob\s+loss\b`),
			regexp.MustCompile(`\bcan'?t\s+afford\b`),
		},
	},
	{
		intent: dialogue.IntentTransferAgent,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bagent\b`),
			regexp.MustCompile(`\bmanager\b`),
			regexp.MustCompile(`\bhuman\b`),
			regexp.MustCompile(`\btalk\s+to\s+someone\b`),
		},
	},
	{
		intent: dialogue.IntentDoNotCall,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bdo\s+not\s+call\b`),
			regexp.MustCompile(`\bstop\s+calling\b`),
			regexp.MustCompile(`\bdon'?t\s+call\b`),
			regexp.MustCompile(`\bopt\s+out\b`),
		},
	},
}

// Sentiment keyword lists. The positive list is checked before the negative
// one, so an utterance containing both reads as POSITIVE.
var (
	positiveKeywords = []string{"yes", "okay", "sure", "definitely", "will pay", "can pay"}
	negativeKeywords = []string{"no", "can't", "unable", "won't", "refuse", "angry"}
)
