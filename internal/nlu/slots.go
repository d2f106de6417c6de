package nlu

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	amountSymbolPattern = regexp.MustCompile(`(?i)₹\s*(\d+(?:,\d+)*(?:\.\d{2})?)`)
	amountWordPattern   = regexp.MustCompile(`(?i)(\d+(?:,\d+)*(?:\.\d{2})?)\s*(?:rupees?|rs\.?)`)
	amountBarePattern   = regexp.MustCompile(`\b(\d+(?:,\d+)*(?:\.\d{2})?)\b`)

	relativeDatePattern = regexp.MustCompile(`(?i)\b(tomorrow|today|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	nextPeriodPattern   = regexp.MustCompile(`(?i)\bnext\s+(week|month)\b`)
	explicitDatePattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(january|february|march|april|may|june|july|august|september|october|november|december)\b`)
)

// ExtractAmount pulls a monetary amount out of free text. Patterns are tried
// in fixed priority order: currency symbol prefix, currency word suffix, then
// any bare numeral. Returns 0 when nothing matches.
func ExtractAmount(text string) float64 {
	for _, p := range []*regexp.Regexp{amountSymbolPattern, amountWordPattern, amountBarePattern} {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		return v
	}
	return 0
}

// ExtractDate pulls a spoken date reference out of free text, returning the
// literal matched text. Relative keywords take priority over "next week/month"
// which take priority over explicit day-plus-month forms.
func ExtractDate(text string) (string, bool) {
	for _, p := range []*regexp.Regexp{relativeDatePattern, nextPeriodPattern, explicitDatePattern} {
		if m := p.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}

// ParseSlotAmount parses an amount slot value, reporting whether it was a
// usable positive number.
func ParseSlotAmount(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ResolveRelativeDate converts a spoken date reference to a concrete date
// relative to now. A named weekday always resolves forward: asking for
// "Friday" on a Friday means the Friday seven days out, never today.
// Anything unrecognized defaults to tomorrow.
func ResolveRelativeDate(text string, now time.Time) time.Time {
	today := now.Truncate(24 * time.Hour)
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "today"):
		return today
	case strings.Contains(lower, "tomorrow"):
		return today.AddDate(0, 0, 1)
	case strings.Contains(lower, "next week"):
		return today.AddDate(0, 0, 7)
	case strings.Contains(lower, "next month"):
		return today.AddDate(0, 0, 30)
	}

	for name, wd := range weekdays {
		if !strings.Contains(lower, name) {
			continue
		}
		ahead := int(wd - now.Weekday())
		if ahead <= 0 {
			ahead += 7
		}
		return today.AddDate(0, 0, ahead)
	}

	return today.AddDate(0, 0, 1)
}
