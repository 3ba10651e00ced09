// Package planner turns natural-language tasks into database queries. It
// wraps the LLM providers behind a single interface so the rest of the
// engine never touches a provider SDK directly.
package planner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/config"
	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
)

// DatabaseMeta is the slice of database metadata a decomposition prompt
// carries: enough for the model to assign sub-tasks, nothing more.
type DatabaseMeta struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	DBType string    `json:"db_type"`
	Tables []string  `json:"tables"`
}

// Planner plans query execution from natural-language tasks.
type Planner interface {
	// Plan produces a single read-only query for the task against the
	// given schema snapshot. The returned query is already validated.
	Plan(ctx context.Context, task string, schema *schemacache.Snapshot) (string, error)

	// Decompose splits a cross-database task into per-database sub-tasks.
	// Databases absent from the result are intentionally skipped by the
	// model; an empty map means the task needs no database at all.
	Decompose(ctx context.Context, task string, databases []DatabaseMeta) (map[uuid.UUID]string, error)
}

// New selects the provider implementation from configuration.
func New(cfg config.PlannerConfig, logger *zap.Logger) (Planner, error) {
	switch cfg.Provider {
	case "anthropic", "":
		return NewAnthropicPlanner(cfg, logger)
	case "openai":
		return NewOpenAIPlanner(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown planner provider %q", cfg.Provider)
	}
}
