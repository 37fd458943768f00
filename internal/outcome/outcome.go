package outcome

import "strings"

// Outcome is the classification of one agent response.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeContinue Outcome = "continue"
	OutcomeBlocked  Outcome = "blocked"
)

// Marker lines an agent must end its response with.
const (
	MarkerComplete = "[task-complete]"
	MarkerContinue = "[task-continue]"
	MarkerBlocked  = "[task-blocked]"
)

// scopeGapPhrases are admissions that upstream work is missing. For
// verification tasks they count as blocked even without a marker: a verifier
// that cannot find the thing it should verify must not loop forever.
var scopeGapPhrases = []string{
	"out of scope",
	"not in scope",
	"scope gap",
	"missing upstream",
	"not yet implemented",
	"has not been implemented",
	"hasn't been implemented",
	"nothing to verify",
	"does not exist yet",
}

// Classify decides the outcome of a response. Pure: no side effects, fully
// unit-testable without a gateway. Marker precedence when several appear is
// blocked > complete > continue; a response with no marker never drops the
// task — it defaults to continue.
func Classify(text string, isVerification bool) Outcome {
	var hasComplete, hasContinue, hasBlocked bool
	for _, line := range strings.Split(text, "\n") {
		switch strings.ToLower(strings.TrimSpace(line)) {
		case MarkerBlocked:
			hasBlocked = true
		case MarkerComplete:
			hasComplete = true
		case MarkerContinue:
			hasContinue = true
		}
	}
	switch {
	case hasBlocked:
		return OutcomeBlocked
	case hasComplete:
		return OutcomeComplete
	case hasContinue:
		return OutcomeContinue
	}

	if isVerification {
		lower := strings.ToLower(text)
		for _, phrase := range scopeGapPhrases {
			if strings.Contains(lower, phrase) {
				return OutcomeBlocked
			}
		}
	}
	return OutcomeContinue
}
