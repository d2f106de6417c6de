package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/xeipuuv/gojsonschema"

	"github.com/rupeeline/collectbot/internal/dialogue"
)

// Remote classifier failure reasons, surfaced for metrics and absorbed by
// the analyzer. None of them ever reach the caller.
var (
	ErrNotConfigured     = errors.New("remote classifier not configured")
	ErrRequestFailed     = errors.New("remote classifier request failed")
	ErrNoJSONObject      = errors.New("remote classifier response contains no JSON object")
	ErrMalformedResponse = errors.New("remote classifier response missing required keys")
)

// RemoteClassifier resolves an utterance into a Result, or fails.
type RemoteClassifier interface {
	Classify(ctx context.Context, text string, turnCtx TurnContext) (Result, error)
}

// chatCompleter is the slice of the OpenAI client the classifier needs;
// tests substitute a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClassifier asks a chat-completion model to analyze one utterance and
// return the structured five-key object described by the system prompt.
type OpenAIClassifier struct {
	client       chatCompleter
	model        string
	systemPrompt string
	timeout      time.Duration
}

// OpenAIConfig controls remote classifier construction.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	PromptPath string
	Timeout    time.Duration
}

// NewOpenAIClassifier builds the remote tier. A missing API key or prompt
// asset is not fatal here: the classifier reports ErrNotConfigured on use and
// the analyzer falls back, mirroring how the service must keep answering
// calls when the model is unreachable.
func NewOpenAIClassifier(cfg OpenAIConfig) *OpenAIClassifier {
	c := &OpenAIClassifier{
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
	if c.model == "" {
		c.model = openai.GPT4oMini
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return c
	}
	prompt, err := os.ReadFile(cfg.PromptPath)
	if err != nil {
		return c
	}
	c.systemPrompt = strings.TrimSpace(string(prompt))
	c.client = openai.NewClient(cfg.APIKey)
	return c
}

// resultSchema validates that the model reply carries every required key
// with a usable shape before any value is trusted.
var resultSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["intent", "sentiment", "slots", "reply_text", "next_state"],
	"properties": {
		"intent": {"type": "string"},
		"sentiment": {"type": "string"},
		"slots": {"type": "object"},
		"reply_text": {"type": "string"},
		"next_state": {"type": "string"}
	}
}`)

// rawResult is the model's reply before enum coercion.
type rawResult struct {
	Intent     string            `json:"intent"`
	Sentiment  string            `json:"sentiment"`
	Slots      map[string]string `json:"slots"`
	ReplyText  string            `json:"reply_text"`
	NextState  string            `json:"next_state"`
	Confidence *float64          `json:"confidence"`
}

func (c *OpenAIClassifier) Classify(ctx context.Context, text string, turnCtx TurnContext) (Result, error) {
	if c == nil || c.client == nil || c.systemPrompt == "" {
		return Result{}, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		MaxTokens:   500,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildContextBlock(text, turnCtx)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty choices", ErrRequestFailed)
	}

	return parseModelReply(resp.Choices[0].Message.Content)
}

// buildContextBlock formats the session context the model needs to ground its
// analysis of the utterance.
func buildContextBlock(text string, turnCtx TurnContext) string {
	lang := turnCtx.LanguagePref
	if lang == "" {
		lang = "EN"
	}
	state := turnCtx.CurrentState
	if state == "" {
		state = dialogue.StateStart
	}
	return fmt.Sprintf(
		"Current State: %s\nLast Bot Message: %s\nBorrower Language Preference: %s\nDue Amount: %s\nDays Past Due: %d\nCaller Said: %q\n",
		state,
		turnCtx.LastBotMessage,
		lang,
		FormatCurrency(turnCtx.DueAmount),
		turnCtx.DaysPastDue,
		text,
	)
}

// parseModelReply extracts the first JSON object embedded in the raw model
// text, validates it, and coerces enum fields to safe defaults.
func parseModelReply(raw string) (Result, error) {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return Result{}, ErrNoJSONObject
	}

	check, err := gojsonschema.Validate(resultSchema, gojsonschema.NewStringLoader(obj))
	if err != nil || !check.Valid() {
		return Result{}, ErrMalformedResponse
	}

	var rr rawResult
	if err := json.Unmarshal([]byte(obj), &rr); err != nil {
		return Result{}, ErrMalformedResponse
	}

	confidence := 1.0
	if rr.Confidence != nil && *rr.Confidence >= 0 && *rr.Confidence <= 1 {
		confidence = *rr.Confidence
	}
	slots := rr.Slots
	if slots == nil {
		slots = map[string]string{}
	}

	return Result{
		Intent:     dialogue.NormalizeIntent(rr.Intent),
		Sentiment:  dialogue.NormalizeSentiment(rr.Sentiment),
		Slots:      slots,
		ReplyText:  rr.ReplyText,
		NextState:  dialogue.NormalizeState(rr.NextState),
		Confidence: confidence,
	}, nil
}

// firstJSONObject scans raw for the first opening brace and returns the text
// through its matching closing brace, brace-counting with string awareness.
func firstJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// FormatCurrency renders an amount with grouped thousands and two decimals,
// e.g. 125000 -> "₹125,000.00".
func FormatCurrency(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	dot := strings.IndexByte(s, '.')
	intPart, fracPart := s[:dot], s[dot:]
	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}
	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	out := "₹" + b.String() + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
