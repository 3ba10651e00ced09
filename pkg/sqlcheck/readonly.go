// Package sqlcheck validates queries before they reach a user's database.
// Routed queries — anything produced by the planner or the query path — are
// restricted to single read-only statements.
package sqlcheck

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrNotReadOnly indicates the statement is outside the read-only allow list.
	ErrNotReadOnly = errors.New("only SELECT statements are permitted")
	// ErrEmptyQuery indicates an empty or whitespace-only query.
	ErrEmptyQuery = errors.New("empty query")
)

// readOnlyPrefixes is the allow list of statement-leading keywords.
var readOnlyPrefixes = []string{"SELECT", "WITH", "SHOW", "EXPLAIN"}

// ValidationResult contains the normalized SQL and any validation error.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateReadOnly checks that sqlQuery is a single read-only statement and
// strips the trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolon and whitespace (normalize)
// 2. Check for multiple statements (any remaining semicolons outside string literals)
// 3. Check the leading keyword against the read-only allow list
func ValidateReadOnly(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)

	if sqlQuery == "" {
		return ValidationResult{Error: ErrEmptyQuery}
	}

	normalized := stripTrailingSemicolon(sqlQuery)

	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	if err := checkReadOnlyPrefix(normalized); err != nil {
		return ValidationResult{Error: err}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// checkReadOnlyPrefix rejects statements whose first keyword is outside the
// allow list. CTEs (WITH ... SELECT) are allowed as long as the body does not
// contain data-modifying keywords at statement level.
func checkReadOnlyPrefix(sqlQuery string) error {
	upper := strings.ToUpper(sqlQuery)
	first := firstKeyword(upper)

	allowed := false
	for _, prefix := range readOnlyPrefixes {
		if first == prefix {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: statement starts with %q", ErrNotReadOnly, first)
	}

	// WITH can front data-modifying CTEs (WITH x AS (...) DELETE ...).
	if first == "WITH" {
		for _, verb := range []string{"INSERT", "UPDATE", "DELETE", "MERGE"} {
			if containsKeywordOutsideStrings(upper, verb) {
				return fmt.Errorf("%w: %s inside WITH statement", ErrNotReadOnly, verb)
			}
		}
	}

	return nil
}

// firstKeyword returns the first whitespace- or paren-delimited token.
func firstKeyword(upper string) string {
	upper = strings.TrimLeft(upper, " \t\n\r(")
	end := strings.IndexFunc(upper, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if end == -1 {
		return upper
	}
	return upper[:end]
}

// containsKeywordOutsideStrings reports whether keyword appears as a word
// outside string literals.
func containsKeywordOutsideStrings(upper, keyword string) bool {
	stripped := blankStringLiterals(upper)
	idx := 0
	for {
		pos := strings.Index(stripped[idx:], keyword)
		if pos == -1 {
			return false
		}
		pos += idx
		beforeOK := pos == 0 || !isWordChar(stripped[pos-1])
		afterIdx := pos + len(keyword)
		afterOK := afterIdx >= len(stripped) || !isWordChar(stripped[afterIdx])
		if beforeOK && afterOK {
			return true
		}
		idx = pos + len(keyword)
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// blankStringLiterals replaces the contents of string literals with spaces so
// keyword scans cannot match inside quoted text.
func blankStringLiterals(sqlQuery string) string {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	out := []byte(sqlQuery)
	state := stateNormal
	prevChar := byte(0)

	for i := 0; i < len(out); i++ {
		ch := out[i]
		switch state {
		case stateNormal:
			switch ch {
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if ch == '\'' && prevChar != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateDoubleQuote:
			if ch == '"' && prevChar != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		}
		prevChar = ch
	}
	return string(out)
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	return strings.Contains(blankStringLiterals(sqlQuery), ";")
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
