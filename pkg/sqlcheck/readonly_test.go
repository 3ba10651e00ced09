package sqlcheck

import (
	"errors"
	"testing"
)

func TestValidateReadOnly_ValidQueries(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple select without semicolon",
			input:    "SELECT 1",
			expected: "SELECT 1",
		},
		{
			name:     "simple select with trailing semicolon",
			input:    "SELECT 1;",
			expected: "SELECT 1",
		},
		{
			name:     "select with trailing semicolon and whitespace",
			input:    "SELECT * FROM users;  ",
			expected: "SELECT * FROM users",
		},
		{
			name:     "semicolon inside single quoted string",
			input:    "SELECT * FROM users WHERE name = 'test;test'",
			expected: "SELECT * FROM users WHERE name = 'test;test'",
		},
		{
			name:     "semicolon inside double quoted identifier",
			input:    `SELECT * FROM "table;name"`,
			expected: `SELECT * FROM "table;name"`,
		},
		{
			name:     "with clause",
			input:    "WITH t AS (SELECT id FROM orders) SELECT * FROM t",
			expected: "WITH t AS (SELECT id FROM orders) SELECT * FROM t",
		},
		{
			name:     "show statement",
			input:    "SHOW TABLES",
			expected: "SHOW TABLES",
		},
		{
			name:     "explain statement",
			input:    "EXPLAIN SELECT * FROM users",
			expected: "EXPLAIN SELECT * FROM users",
		},
		{
			name:     "select containing the word delete in a string",
			input:    "SELECT * FROM logs WHERE action = 'delete'",
			expected: "SELECT * FROM logs WHERE action = 'delete'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateReadOnly(tt.input)
			if result.Error != nil {
				t.Fatalf("unexpected error: %v", result.Error)
			}
			if result.NormalizedSQL != tt.expected {
				t.Errorf("got %q, want %q", result.NormalizedSQL, tt.expected)
			}
		})
	}
}

func TestValidateReadOnly_RejectedQueries(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "empty query",
			input:   "   ",
			wantErr: ErrEmptyQuery,
		},
		{
			name:    "insert statement",
			input:   "INSERT INTO users (name) VALUES ('x')",
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "update statement",
			input:   "UPDATE users SET name = 'x'",
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "delete statement",
			input:   "DELETE FROM users",
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "drop statement",
			input:   "DROP TABLE users",
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "multiple statements",
			input:   "SELECT 1; SELECT 2",
			wantErr: ErrMultipleStatements,
		},
		{
			name:    "stacked write after select",
			input:   "SELECT 1; DROP TABLE users",
			wantErr: ErrMultipleStatements,
		},
		{
			name:    "delete hidden in a CTE",
			input:   "WITH gone AS (DELETE FROM users RETURNING id) SELECT * FROM gone",
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "update hidden in a CTE",
			input:   "WITH u AS (UPDATE users SET name = 'x' RETURNING id) SELECT * FROM u",
			wantErr: ErrNotReadOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateReadOnly(tt.input)
			if result.Error == nil {
				t.Fatalf("expected error, got normalized %q", result.NormalizedSQL)
			}
			if !errors.Is(result.Error, tt.wantErr) {
				t.Errorf("got error %v, want %v", result.Error, tt.wantErr)
			}
		})
	}
}

func TestValidateReadOnly_WithSelectMentioningDeleteInString(t *testing.T) {
	result := ValidateReadOnly("WITH t AS (SELECT * FROM logs WHERE action = 'DELETE') SELECT * FROM t")
	if result.Error != nil {
		t.Fatalf("keyword inside string literal should not trip the CTE check: %v", result.Error)
	}
}
