package router

import (
	"regexp"
	"strings"

	"github.com/easydata-inc/easydata-engine/pkg/ownership"
)

// SwitchDetector extracts an explicit database switch from free text.
// The regex implementation is the default; the interface exists so an
// ML-backed matcher can replace it without touching callers.
type SwitchDetector interface {
	// Detect returns the owned database the task explicitly names, or
	// (nil, false) when the task carries no switch phrasing.
	Detect(taskText string, owned []ownership.Database) (*ownership.Database, bool)
}

// switchPatterns match phrasing like "switch to the sales database",
// "use InventoryDB", "connect to mongodb". The first capture group is the
// candidate database reference.
var switchPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:use|switch\s+to|connect\s+to|change\s+to|go\s+to)\s+(?:the\s+)?([\w][\w\s.-]*?)\s+(?:database|db)\b`),
	regexp.MustCompile(`(?i)\b(?:use|switch\s+to|connect\s+to|change\s+to)\s+(?:the\s+)?([\w][\w.-]*)\s*[.!?]?\s*$`),
}

// RegexSwitchDetector is the pattern-matching implementation.
type RegexSwitchDetector struct{}

// NewRegexSwitchDetector returns the default detector.
func NewRegexSwitchDetector() *RegexSwitchDetector {
	return &RegexSwitchDetector{}
}

// Detect matches the switch patterns and resolves the captured reference
// against the owned databases by connection name, database name, or engine
// type, case-insensitively.
func (d *RegexSwitchDetector) Detect(taskText string, owned []ownership.Database) (*ownership.Database, bool) {
	for _, pattern := range switchPatterns {
		match := pattern.FindStringSubmatch(taskText)
		if match == nil {
			continue
		}

		candidate := strings.TrimSpace(match[1])
		if candidate == "" {
			continue
		}

		if db := resolveReference(candidate, owned); db != nil {
			return db, true
		}
	}
	return nil, false
}

// resolveReference maps a free-text database reference onto an owned
// database. Exact (case-insensitive) matches win over containment.
func resolveReference(candidate string, owned []ownership.Database) *ownership.Database {
	for i := range owned {
		db := &owned[i]
		if strings.EqualFold(candidate, db.Name) ||
			strings.EqualFold(candidate, db.ConnectionName) ||
			strings.EqualFold(candidate, db.DBType) {
			return db
		}
	}

	lowered := strings.ToLower(candidate)
	for i := range owned {
		db := &owned[i]
		if containsFold(lowered, db.Name) ||
			containsFold(lowered, db.ConnectionName) {
			return db
		}
	}
	return nil
}

// containsFold reports whether haystack (already lowered) contains needle
// case-insensitively. Empty needles never match.
func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(haystack, strings.ToLower(needle))
}

// Ensure RegexSwitchDetector implements SwitchDetector at compile time.
var _ SwitchDetector = (*RegexSwitchDetector)(nil)
