package sqlcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckParameterForInjection_CleanValues(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{name: "plain string", value: "alice"},
		{name: "email address", value: "alice@example.com"},
		{name: "integer", value: 42},
		{name: "float", value: 3.14},
		{name: "boolean", value: true},
		{name: "nil value", value: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, CheckParameterForInjection("param", tt.value))
		})
	}
}

func TestCheckParameterForInjection_DetectsClassicPatterns(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "tautology", value: "' OR '1'='1"},
		{name: "stacked drop", value: "'; DROP TABLE users--"},
		{name: "union probe", value: "1 UNION SELECT username, password FROM users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckParameterForInjection("search", tt.value)
			require.NotNil(t, result)
			assert.True(t, result.IsSQLi)
			assert.Equal(t, "search", result.ParamName)
			assert.NotEmpty(t, result.Fingerprint)
		})
	}
}

func TestCheckAllParameters(t *testing.T) {
	results := CheckAllParameters(map[string]any{
		"name":   "alice",
		"search": "' OR '1'='1",
		"limit":  10,
	})

	require.Len(t, results, 1)
	assert.Equal(t, "search", results[0].ParamName)
}
