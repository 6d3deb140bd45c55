// Package query turns free-text questions into structured backend requests.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// Intent is the classified category of a user's question.
type Intent string

const (
	// IntentGrades covers grade questions and is the fallback intent.
	IntentGrades Intent = "grades"
	// IntentUpcomingEvents covers calendar questions about future events.
	IntentUpcomingEvents Intent = "upcomingEvents"
	// IntentPastEvents covers calendar questions about events that already happened.
	IntentPastEvents Intent = "pastEvents"
)

// ErrInvalidIntent is returned when a wire value is not a known intent.
var ErrInvalidIntent = errors.New("invalid query type")

var (
	eventKeywords   = []string{"event", "dismissal", "when", "date", "calendar"}
	recencyKeywords = []string{"past", "last"}
)

// Classify maps raw input text to an intent.
// Event keywords are checked first, then recency; grades is the only fallback.
func Classify(text string) Intent {
	lower := strings.ToLower(text)
	if !containsAny(lower, eventKeywords) {
		return IntentGrades
	}
	if containsAny(lower, recencyKeywords) {
		return IntentPastEvents
	}
	return IntentUpcomingEvents
}

// ParseIntent validates a wire value such as "pastEvents".
func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case IntentGrades, IntentUpcomingEvents, IntentPastEvents:
		return Intent(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIntent, s)
	}
}

// Intents lists every known intent in menu order.
func Intents() []Intent {
	return []Intent{IntentPastEvents, IntentGrades, IntentUpcomingEvents}
}

func (i Intent) String() string {
	return string(i)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
