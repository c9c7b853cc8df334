package assistant

import (
	"strings"
	"unicode"
)

// Decision is the outcome of classifying a free-text confirmation reply.
type Decision int

const (
	// DecisionAmbiguous means the reply committed to neither side; the
	// caller must re-ask rather than guess.
	DecisionAmbiguous Decision = iota
	DecisionConfirmed
	DecisionDeclined
)

// Canonical recovery choices.
const (
	RecoveryUseAlternatives = "use_alternatives"
	RecoveryRetry           = "retry"
	RecoverySkip            = "skip"
)

var affirmWords = map[string]bool{
	"yes":         true,
	"yeah":        true,
	"yep":         true,
	"yup":         true,
	"sure":        true,
	"confirm":     true,
	"confirmed":   true,
	"correct":     true,
	"ok":          true,
	"okay":        true,
	"affirmative": true,
	"absolutely":  true,
}

var affirmPhrases = []string{
	"do it",
	"go ahead",
	"sounds good",
	"why not",
}

var declineWords = map[string]bool{
	"no":       true,
	"nope":     true,
	"nah":      true,
	"cancel":   true,
	"don't":    true,
	"dont":     true,
	"stop":     true,
	"negative": true,
}

var declinePhrases = []string{
	"never mind",
	"nevermind",
	"hold off",
	"forget it",
}

// ClassifyConfirmation maps a free-text reply to a decision. A reply
// matching both sides ("yes, actually no") or neither stays ambiguous.
func ClassifyConfirmation(text string) Decision {
	lower := strings.ToLower(strings.TrimSpace(text))

	affirm := hasWordIn(lower, affirmWords) || containsAny(lower, affirmPhrases)
	decline := hasWordIn(lower, declineWords) || containsAny(lower, declinePhrases)

	switch {
	case affirm && !decline:
		return DecisionConfirmed
	case decline && !affirm:
		return DecisionDeclined
	default:
		return DecisionAmbiguous
	}
}

// NormalizeRecoveryChoice canonicalizes a recovery choice: trimmed,
// lowered, internal whitespace collapsed to underscores, so
// "Use Alternatives" and "use_alternatives" compare equal.
func NormalizeRecoveryChoice(choice string) string {
	lower := strings.ToLower(strings.TrimSpace(choice))
	return strings.Join(strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || r == '_' || r == '-'
	}), "_")
}

func hasWordIn(s string, words map[string]bool) bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	for _, f := range fields {
		if words[strings.Trim(f, "'")] {
			return true
		}
	}
	return false
}
