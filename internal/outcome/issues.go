package outcome

import "strings"

const (
	minIssueLength   = 12
	fallbackIssueCap = 200
)

var problemWords = []string{
	"issue",
	"bug",
	"error",
	"fail",
	"broken",
	"missing",
	"crash",
	"regression",
	"vulnerab",
	"incorrect",
	"wrong",
}

var negationPhrases = []string{
	"no issues",
	"no issue",
	"no bugs",
	"no errors",
	"no problems",
	"without issues",
	"without errors",
	"zero issues",
	"no known issues",
}

var bulletPrefixes = []string{"- ", "* ", "• ", "+ "}

// ExtractIssues scans a response for lines that report problems. It runs on
// every response regardless of the outcome marker, so an agent that declares
// a task complete while describing a bug still gets that bug routed.
func ExtractIssues(text string) []string {
	var issues []string
	for _, line := range strings.Split(text, "\n") {
		candidate := stripListPrefix(strings.TrimSpace(line))
		if len(candidate) < minIssueLength {
			continue
		}
		lower := strings.ToLower(candidate)
		if !containsProblemWord(lower) || containsNegation(lower) {
			continue
		}
		issues = append(issues, candidate)
	}

	if len(issues) == 0 {
		whole := strings.TrimSpace(text)
		lower := strings.ToLower(whole)
		if containsProblemWord(lower) && !containsNegation(lower) && len(whole) >= minIssueLength {
			if len(whole) > fallbackIssueCap {
				whole = whole[:fallbackIssueCap]
			}
			issues = append(issues, whole)
		}
	}

	return dedupe(issues)
}

func stripListPrefix(line string) string {
	for _, prefix := range bulletPrefixes {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	// Numbered lists: "1. text" or "2) text".
	for i, r := range line {
		if r >= '0' && r <= '9' {
			continue
		}
		if i > 0 && (r == '.' || r == ')') {
			return strings.TrimSpace(line[i+1:])
		}
		break
	}
	return line
}

func containsProblemWord(lower string) bool {
	for _, word := range problemWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func containsNegation(lower string) bool {
	for _, phrase := range negationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func dedupe(issues []string) []string {
	seen := make(map[string]struct{}, len(issues))
	var out []string
	for _, issue := range issues {
		key := Normalize(issue)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, issue)
	}
	return out
}

// Normalize reduces issue text to lowercase alphanumerics for fingerprinting
// and duplicate detection.
func Normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Fingerprint identifies one issue within one project.
func Fingerprint(projectID, issue string) string {
	return projectID + ":" + Normalize(issue)
}
