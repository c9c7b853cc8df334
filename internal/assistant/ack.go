package assistant

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// Acknowledgment fillers, one per intent family. Spoken immediately so
// the user hears something while the oracle works.
const (
	ackTask     = "Adding that to your list."
	ackReminder = "Setting up your reminder."
	ackSchedule = "Checking your calendar."
	ackSearch   = "Looking that up."
	ackCheck    = "Let me check on that."
	ackHelp     = "Happy to help with that."
)

var genericAcks = []string{
	"One moment.",
	"Let me see.",
	"Working on it.",
	"Give me a second.",
}

var genericNext atomic.Uint64

var greetings = map[string]bool{
	"hi":             true,
	"hello":          true,
	"hey":            true,
	"hiya":           true,
	"yo":             true,
	"good morning":   true,
	"good afternoon": true,
	"good evening":   true,
	"hi there":       true,
	"hello there":    true,
	"hey there":      true,
}

var identityPhrases = []string{
	"who are you",
	"what are you",
	"your name",
	"what can you do",
	"what do you do",
	"can you do",
}

var (
	questionWordPattern = regexp.MustCompile(`\b(what|how|when)\b`)
	modalPattern        = regexp.MustCompile(`\b(should|could|would)\b`)
)

// ClassifyAck decides whether an utterance deserves an immediate spoken
// filler before the oracle answers. It returns "" when the eventual
// answer is expected quickly and a filler would sound robotic. Rules are
// evaluated in order; the first match wins.
func ClassifyAck(utterance string) string {
	trimmed := strings.TrimSpace(utterance)
	lower := strings.ToLower(trimmed)

	// 1. Greetings and identity/capability questions are answered directly.
	if greetings[strings.Trim(lower, ".,!? ")] || containsAny(lower, identityPhrases) {
		return ""
	}

	// 2. Task creation.
	if (strings.Contains(lower, "create") || strings.Contains(lower, "add")) &&
		(strings.Contains(lower, "task") || strings.Contains(lower, "todo")) {
		return ackTask
	}

	// 3. Reminders.
	if strings.Contains(lower, "remind") {
		return ackReminder
	}

	// 4. Scheduling.
	if containsAny(lower, []string{"schedul", "meeting", "calendar", "appointment"}) {
		return ackSchedule
	}

	// 5. Search.
	if containsAny(lower, []string{"find", "search", "show me"}) {
		return ackSearch
	}

	// 6. Open questions: filler only when long or deliberative, short
	// plain questions get a direct answer.
	if questionWordPattern.MatchString(lower) {
		if len(trimmed) > 20 || modalPattern.MatchString(lower) {
			return ackCheck
		}
		return ""
	}

	// 7. Help requests.
	if containsAny(lower, []string{"help", "assist", "tell me", "explain"}) {
		return ackHelp
	}

	// 8. Short utterances get a snappy direct answer.
	if len(trimmed) < 15 {
		return ""
	}

	// 9. Everything else gets a rotating generic filler.
	return genericAcks[genericNext.Add(1)%uint64(len(genericAcks))]
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
