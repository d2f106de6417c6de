package nlu

import (
	"github.com/rupeeline/collectbot/internal/dialogue"
)

// Result is the structured outcome of analyzing one caller utterance. Intent,
// Sentiment, Slots, ReplyText and NextState are always populated; that is the
// analyzer's hard guarantee regardless of which classifier tier produced it.
type Result struct {
	Intent       dialogue.Intent    `json:"intent"`
	Sentiment    dialogue.Sentiment `json:"sentiment"`
	Slots        map[string]string  `json:"slots"`
	ReplyText    string             `json:"reply_text"`
	NextState    dialogue.State     `json:"next_state"`
	Confidence   float64            `json:"confidence"`
	FallbackUsed bool               `json:"fallback_used"`
}

// Slot keys produced by both classifier tiers.
const (
	SlotAmount = "amount"
	SlotDate   = "date"
	SlotReason = "reason"
)

// TurnContext carries the session context a classifier needs to interpret
// one utterance.
type TurnContext struct {
	CurrentState   dialogue.State
	LastBotMessage string
	LanguagePref   string
	DueAmount      float64
	DaysPastDue    int
}
