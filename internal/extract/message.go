package extract

import (
	"regexp"
	"strings"
)

// Issue reference patterns in priority order; the first to match wins.
var issuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)#(\d+)`),
	regexp.MustCompile(`(?i)GH-(\d+)`),
	regexp.MustCompile(`(?i)(?:fix|fixes|fixed|close|closes|closed|resolve|resolves|resolved)\s+#(\d+)`),
}

var bugfixKeywords = []string{
	"fix", "bug", "issue", "problem", "error",
	"crash", "failure", "incorrect", "wrong",
}

// IssueID extracts the first issue reference from a commit message and
// returns its digits, or nil when the message references no issue.
func IssueID(message string) *string {
	for _, p := range issuePatterns {
		if m := p.FindStringSubmatch(message); m != nil {
			id := m[1]
			return &id
		}
	}
	return nil
}

// IsBugfix reports whether the message mentions a bug-related keyword.
func IsBugfix(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range bugfixKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
