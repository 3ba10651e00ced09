package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
	"github.com/easydata-inc/easydata-engine/pkg/sqlcheck"
)

// validatePlan checks a model-produced query before it is handed to an
// engine: it must be read-only and reference at least one table from the
// snapshot. Model output is untrusted input.
func validatePlan(query string, schema *schemacache.Snapshot) (string, error) {
	query = stripCodeFence(query)
	if query == "" {
		return "", fmt.Errorf("planner returned an empty query")
	}

	result := sqlcheck.ValidateReadOnly(query)
	if result.Error != nil {
		return "", fmt.Errorf("planned query rejected: %w", result.Error)
	}
	query = result.NormalizedSQL

	if len(schema.Tables) > 0 && !referencesKnownTable(query, schema) {
		return "", fmt.Errorf("planned query references no known table")
	}

	return query, nil
}

// referencesKnownTable reports whether the query mentions any table from
// the snapshot. A coarse containment check; the engine itself is the final
// authority on unknown relations.
func referencesKnownTable(query string, schema *schemacache.Snapshot) bool {
	lowered := strings.ToLower(query)
	for _, table := range schema.Tables {
		if strings.Contains(lowered, strings.ToLower(table.Name)) {
			return true
		}
	}
	return false
}

// parseDecomposition parses the model's JSON map strictly: every key must
// be a UUID from the candidate set and every value a non-empty sub-task.
func parseDecomposition(raw string, databases []DatabaseMeta) (map[uuid.UUID]string, error) {
	raw = stripCodeFence(raw)

	var parsed map[string]string
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decomposition is not a JSON object of strings: %w", err)
	}

	known := make(map[uuid.UUID]struct{}, len(databases))
	for _, db := range databases {
		known[db.ID] = struct{}{}
	}

	result := make(map[uuid.UUID]string, len(parsed))
	for key, subTask := range parsed {
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("decomposition key %q is not a database id", key)
		}
		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("decomposition references unknown database %s", id)
		}
		subTask = strings.TrimSpace(subTask)
		if subTask == "" {
			return nil, fmt.Errorf("decomposition for database %s is empty", id)
		}
		result[id] = subTask
	}
	return result, nil
}
