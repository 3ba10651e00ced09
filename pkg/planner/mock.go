package planner

import (
	"context"

	"github.com/google/uuid"

	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
)

// MockPlanner is a configurable mock for testing planning flows.
// Set the function fields to control behavior in tests.
type MockPlanner struct {
	// PlanFunc is called when Plan is invoked.
	// If nil, returns "SELECT 1" and nil error.
	PlanFunc func(ctx context.Context, task string, schema *schemacache.Snapshot) (string, error)

	// DecomposeFunc is called when Decompose is invoked.
	// If nil, assigns the whole task to every database.
	DecomposeFunc func(ctx context.Context, task string, databases []DatabaseMeta) (map[uuid.UUID]string, error)

	// Call tracking for verification
	PlanCalls      int
	DecomposeCalls int
}

// NewMockPlanner creates a new mock with passthrough defaults.
func NewMockPlanner() *MockPlanner {
	return &MockPlanner{}
}

// Plan implements Planner.
func (m *MockPlanner) Plan(ctx context.Context, task string, schema *schemacache.Snapshot) (string, error) {
	m.PlanCalls++
	if m.PlanFunc != nil {
		return m.PlanFunc(ctx, task, schema)
	}
	return "SELECT 1", nil
}

// Decompose implements Planner.
func (m *MockPlanner) Decompose(ctx context.Context, task string, databases []DatabaseMeta) (map[uuid.UUID]string, error) {
	m.DecomposeCalls++
	if m.DecomposeFunc != nil {
		return m.DecomposeFunc(ctx, task, databases)
	}
	result := make(map[uuid.UUID]string, len(databases))
	for _, db := range databases {
		result[db.ID] = task
	}
	return result, nil
}

// Reset clears call tracking counters.
func (m *MockPlanner) Reset() {
	m.PlanCalls = 0
	m.DecomposeCalls = 0
}

// Ensure MockPlanner implements Planner at compile time.
var _ Planner = (*MockPlanner)(nil)
