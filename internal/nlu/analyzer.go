package nlu

import (
	"context"
	"errors"
	"log"
	"time"
)

// Analyzer is the sole classification entry point for the rest of the
// service. It tries the remote tier first and falls back to the rule engine
// on any failure; every path returns a structurally valid Result.
type Analyzer struct {
	remote    RemoteClassifier
	onOutcome func(source, reason string)
	onLatency func(time.Duration)
}

// NewAnalyzer builds the two-tier facade. remote may be nil, in which case
// every utterance takes the fallback path. onOutcome, if set, receives
// ("remote","") on remote success or ("fallback", reason) otherwise, for
// metrics.
func NewAnalyzer(remote RemoteClassifier, onOutcome func(source, reason string)) *Analyzer {
	return &Analyzer{remote: remote, onOutcome: onOutcome}
}

// SetLatencyObserver registers a hook receiving the remote round-trip time
// for every attempted remote classification.
func (a *Analyzer) SetLatencyObserver(obs func(time.Duration)) {
	a.onLatency = obs
}

// Analyze never fails: remote classifier errors are logged, counted, and
// resolved by the deterministic fallback.
func (a *Analyzer) Analyze(ctx context.Context, text string, turnCtx TurnContext) Result {
	if a.remote != nil {
		started := time.Now()
		res, err := a.remote.Classify(ctx, text, turnCtx)
		if a.onLatency != nil && !errors.Is(err, ErrNotConfigured) {
			a.onLatency(time.Since(started))
		}
		if err == nil {
			res.FallbackUsed = false
			a.observe("remote", "")
			return res
		}
		if !errors.Is(err, ErrNotConfigured) {
			log.Printf("[nlu] remote classification failed, using fallback: %v", err)
		}
		a.observe("fallback", failureReason(err))
	} else {
		a.observe("fallback", "not_configured")
	}
	return ClassifyFallback(text, turnCtx)
}

func (a *Analyzer) observe(source, reason string) {
	if a.onOutcome != nil {
		a.onOutcome(source, reason)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrNoJSONObject):
		return "no_json"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrRequestFailed):
		return "request_failed"
	default:
		return "other"
	}
}
