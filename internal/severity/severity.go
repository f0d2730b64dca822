// Package severity fuses message, path and change-size heuristics into a
// single severity label per commit-file record.
package severity

import (
	"strings"

	"github.com/Yates-Labs/sevmine/internal/record"
)

// Fixed per-signal confidences.
const (
	keywordHighConfidence   = 0.85
	keywordMediumConfidence = 0.70
	keywordLowConfidence    = 0.60

	pathHighConfidence    = 0.60
	pathMediumConfidence  = 0.50
	pathLowConfidence     = 0.70
	pathDefaultConfidence = 0.30

	sizeHighConfidence   = 0.40
	sizeMediumConfidence = 0.35
	sizeLowConfidence    = 0.50
)

// Change-size thresholds on insertions plus deletions.
const (
	veryLargeChange = 500
	largeChange     = 200
	tinyChange      = 5
)

// Signal is one heuristic's vote.
type Signal struct {
	Severity   record.Severity
	Confidence float64
	Reason     string
}

// Keywords are message keyword lists per severity, matched as lower-case
// substrings.
type Keywords struct {
	High   []string `yaml:"high" mapstructure:"high"`
	Medium []string `yaml:"medium" mapstructure:"medium"`
	Low    []string `yaml:"low" mapstructure:"low"`
}

// PathPatterns are path substrings per severity.
type PathPatterns struct {
	High   []string `yaml:"high" mapstructure:"high"`
	Medium []string `yaml:"medium" mapstructure:"medium"`
	Low    []string `yaml:"low" mapstructure:"low"`
}

// DefaultKeywords returns the built-in keyword lists.
func DefaultKeywords() Keywords {
	return Keywords{
		High: []string{
			"security", "vulnerability", "cve", "crash", "segfault", "data loss",
			"corruption", "exploit", "injection", "privilege", "deadlock", "critical",
		},
		Medium: []string{
			"error", "exception", "fail", "incorrect", "wrong", "broken",
			"regression", "leak", "timeout", "race",
		},
		Low: []string{
			"typo", "doc", "docs", "comment", "cleanup", "style",
			"lint", "refactor", "cosmetic", "whitespace",
		},
	}
}

// DefaultPathPatterns returns the built-in path families.
func DefaultPathPatterns() PathPatterns {
	return PathPatterns{
		High: []string{
			"auth", "security", "crypt", "password", "token", "session", "permission",
			"transport/tcp", "transport/zeromq", "database", "sql", "query",
		},
		Medium: []string{"modules/", "states/", "grains/", "utils/", "transport/", "client/"},
		Low:    []string{"test", "doc", "example", "template", "readme", "changelog", "license"},
	}
}

// Classifier is a deterministic weighted vote over three signals.
type Classifier struct {
	Keywords Keywords
	Paths    PathPatterns
}

// New returns a classifier using the given lists. Empty path families fall
// back to the defaults; empty keyword lists simply never match.
func New(keywords Keywords, paths PathPatterns) *Classifier {
	if len(paths.High) == 0 && len(paths.Medium) == 0 && len(paths.Low) == 0 {
		paths = DefaultPathPatterns()
	}
	return &Classifier{Keywords: keywords, Paths: paths}
}

// Default returns a classifier with the built-in lists.
func Default() *Classifier {
	return New(DefaultKeywords(), DefaultPathPatterns())
}

// KeywordSignal scans the lower-cased message high, then medium, then low.
func (c *Classifier) KeywordSignal(message string) (Signal, bool) {
	lower := strings.ToLower(message)
	families := []struct {
		sev        record.Severity
		confidence float64
		words      []string
	}{
		{record.SeverityHigh, keywordHighConfidence, c.Keywords.High},
		{record.SeverityMedium, keywordMediumConfidence, c.Keywords.Medium},
		{record.SeverityLow, keywordLowConfidence, c.Keywords.Low},
	}
	for _, f := range families {
		for _, kw := range f.words {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return Signal{Severity: f.sev, Confidence: f.confidence, Reason: "keyword:" + kw}, true
			}
		}
	}
	return Signal{}, false
}

// PathSignal classifies a file path. It always yields a signal.
func (c *Classifier) PathSignal(path string) Signal {
	lower := strings.ToLower(path)
	families := []struct {
		sev        record.Severity
		confidence float64
		prefix     string
		patterns   []string
	}{
		{record.SeverityHigh, pathHighConfidence, "critical_file:", c.Paths.High},
		{record.SeverityMedium, pathMediumConfidence, "core_file:", c.Paths.Medium},
		{record.SeverityLow, pathLowConfidence, "non_critical:", c.Paths.Low},
	}
	for _, f := range families {
		for _, p := range f.patterns {
			if p != "" && strings.Contains(lower, strings.ToLower(p)) {
				return Signal{Severity: f.sev, Confidence: f.confidence, Reason: f.prefix + p}
			}
		}
	}
	return Signal{Severity: record.SeverityMedium, Confidence: pathDefaultConfidence, Reason: "unknown_file"}
}

// SizeSignal votes on the total lines changed by the commit.
func SizeSignal(lines int) (Signal, bool) {
	switch {
	case lines > veryLargeChange:
		return Signal{Severity: record.SeverityHigh, Confidence: sizeHighConfidence, Reason: "very_large_change"}, true
	case lines > largeChange:
		return Signal{Severity: record.SeverityMedium, Confidence: sizeMediumConfidence, Reason: "large_change"}, true
	case lines < tinyChange:
		return Signal{Severity: record.SeverityLow, Confidence: sizeLowConfidence, Reason: "tiny_change"}, true
	}
	return Signal{}, false
}

// Signals returns the present signals in evaluation order.
func (c *Classifier) Signals(rec *record.CommitFileRecord) []Signal {
	signals := make([]Signal, 0, 3)
	if s, ok := c.KeywordSignal(rec.Message); ok {
		signals = append(signals, s)
	}
	signals = append(signals, c.PathSignal(rec.FilePath))
	if s, ok := SizeSignal(rec.LinesChanged()); ok {
		signals = append(signals, s)
	}
	return signals
}

// Fuse sums confidences per severity and picks the highest score. Ties go to
// the severity listed first in record.Severities. The confidence is the
// winning score divided by the number of signals.
func Fuse(signals []Signal) record.SeverityAssignment {
	if len(signals) == 0 {
		return record.SeverityAssignment{Label: record.SeverityMedium, Reasons: []string{}}
	}

	scores := make(map[record.Severity]float64, len(record.Severities))
	reasons := make([]string, 0, len(signals))
	for _, s := range signals {
		scores[s.Severity] += s.Confidence
		reasons = append(reasons, s.Reason)
	}

	best := record.Severities[0]
	for _, sev := range record.Severities[1:] {
		if scores[sev] > scores[best] {
			best = sev
		}
	}

	return record.SeverityAssignment{
		Label:      best,
		Confidence: scores[best] / float64(len(signals)),
		Reasons:    reasons,
	}
}

// Classify labels one record without modifying it.
func (c *Classifier) Classify(rec *record.CommitFileRecord) record.SeverityAssignment {
	return Fuse(c.Signals(rec))
}

// ClassifyAll labels every record in place and returns the per-label counts.
func (c *Classifier) ClassifyAll(records []record.CommitFileRecord) map[record.Severity]int {
	counts := make(map[record.Severity]int, len(record.Severities))
	for i := range records {
		records[i].SeverityAssignment = c.Classify(&records[i])
		counts[records[i].Label]++
	}
	return counts
}
