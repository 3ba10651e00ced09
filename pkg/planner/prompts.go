package planner

import (
	"fmt"
	"strings"

	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
)

const planSystemPrompt = `You translate analytical questions into a single read-only SQL query.
Rules:
- Output ONLY the SQL statement, no markdown fences, no commentary.
- The query must be a SELECT (WITH clauses are allowed).
- Reference only tables and columns that appear in the provided schema.
- Never modify data.`

const decomposeSystemPrompt = `You split an analytical question into per-database sub-questions.
Rules:
- Output ONLY a JSON object mapping database id to sub-question text.
- Only include databases that are actually needed to answer the question.
- Every key must be one of the provided database ids, verbatim.
- Do not invent databases, tables, or ids.`

// buildPlanPrompt renders the task plus the schema snapshot as the user
// message for single-database planning.
func buildPlanPrompt(task string, schema *schemacache.Snapshot) string {
	var b strings.Builder
	b.WriteString("Schema (")
	b.WriteString(schema.DBType)
	b.WriteString("):\n")
	for _, table := range schema.Tables {
		b.WriteString("- ")
		b.WriteString(table.Name)
		b.WriteString(" (")
		for i, col := range table.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col.Name)
			b.WriteString(" ")
			b.WriteString(col.DataType)
		}
		b.WriteString(")\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(task)
	return b.String()
}

// buildDecomposePrompt renders the task plus database metadata for the
// cross-database decomposition call.
func buildDecomposePrompt(task string, databases []DatabaseMeta) string {
	var b strings.Builder
	b.WriteString("Databases:\n")
	for _, db := range databases {
		fmt.Fprintf(&b, "- id=%s name=%s type=%s tables=[%s]\n",
			db.ID, db.Name, db.DBType, strings.Join(db.Tables, ", "))
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(task)
	return b.String()
}

// stripCodeFence removes a surrounding markdown code fence if the model
// added one despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag like "sql" or "json" on the fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, " \t") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
