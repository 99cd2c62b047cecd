package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/geosql-gateway/pkg/apperrors"
	"github.com/ekaya-inc/geosql-gateway/pkg/models"
)

func floatPtr(v float64) *float64 { return &v }

type mockPlanner struct {
	plan *models.PlanSummary
	err  error
	sql  []string
}

func (m *mockPlanner) Explain(_ context.Context, sqlQuery string) (*models.PlanSummary, error) {
	m.sql = append(m.sql, sqlQuery)
	return m.plan, m.err
}

func TestCostGate_Estimate(t *testing.T) {
	t.Run("returns planner summary", func(t *testing.T) {
		planner := &mockPlanner{plan: &models.PlanSummary{NodeType: "Seq Scan", TotalCost: floatPtr(12.5)}}
		plan := NewCostGate(planner, 0, nil).Estimate(context.Background(), "SELECT 1")

		assert.False(t, plan.Failed())
		assert.Equal(t, "Seq Scan", plan.NodeType)
		assert.Equal(t, []string{"SELECT 1"}, planner.sql)
	})

	t.Run("statement errors are tagged", func(t *testing.T) {
		planner := &mockPlanner{err: fmt.Errorf("%w: column \"nope\" does not exist", apperrors.ErrQueryFailed)}
		plan := NewCostGate(planner, 0, nil).Estimate(context.Background(), "SELECT nope FROM t")

		require.True(t, plan.Failed())
		assert.Contains(t, plan.Error, "does not exist")
		assert.False(t, plan.Infrastructure)
		assert.False(t, plan.Timeout)
		assert.Nil(t, plan.TotalCost)
	})

	t.Run("infrastructure errors are marked", func(t *testing.T) {
		planner := &mockPlanner{err: fmt.Errorf("%w: dial tcp 10.0.0.1:5432", apperrors.ErrInfrastructure)}
		plan := NewCostGate(planner, 0, nil).Estimate(context.Background(), "SELECT 1")

		assert.True(t, plan.Failed())
		assert.True(t, plan.Infrastructure)
	})

	t.Run("timeouts are marked", func(t *testing.T) {
		planner := &mockPlanner{err: fmt.Errorf("%w: canceling statement due to statement timeout", apperrors.ErrTimeout)}
		plan := NewCostGate(planner, 0, nil).Estimate(context.Background(), "SELECT 1")

		assert.True(t, plan.Failed())
		assert.True(t, plan.Timeout)
		assert.False(t, plan.Infrastructure)
	})

	t.Run("credentials are not leaked", func(t *testing.T) {
		planner := &mockPlanner{err: errors.New("connect postgres://gis:s3cret@db:5432/gis failed")}
		plan := NewCostGate(planner, 0, nil).Estimate(context.Background(), "SELECT 1")

		assert.NotContains(t, plan.Error, "s3cret")
	})

	t.Run("nil plan without error", func(t *testing.T) {
		plan := NewCostGate(&mockPlanner{}, 0, nil).Estimate(context.Background(), "SELECT 1")
		assert.True(t, plan.Failed())
	})
}

func TestCostGate_IsTooExpensive(t *testing.T) {
	gate := NewCostGate(&mockPlanner{}, DefaultCostCeiling, nil)

	tests := []struct {
		name       string
		plan       models.PlanSummary
		blocked    bool
		reasonPart string
	}{
		{"over ceiling", models.PlanSummary{TotalCost: floatPtr(6000000)}, true, "6000000"},
		{"fractional cost", models.PlanSummary{TotalCost: floatPtr(5000000.25)}, true, "5000000.25"},
		{"at ceiling", models.PlanSummary{TotalCost: floatPtr(5000000)}, false, ""},
		{"cheap", models.PlanSummary{TotalCost: floatPtr(42)}, false, ""},
		{"no cost", models.PlanSummary{NodeType: "Result"}, false, ""},
		{"error summary", models.PlanSummary{Error: "boom"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, reason := gate.IsTooExpensive(tt.plan)
			assert.Equal(t, tt.blocked, blocked)
			if tt.blocked {
				assert.Contains(t, reason, tt.reasonPart)
				assert.Contains(t, reason, "5000000")
			} else {
				assert.Empty(t, reason)
			}
		})
	}
}

func TestCostGate_CustomCeiling(t *testing.T) {
	gate := NewCostGate(&mockPlanner{}, 100, nil)
	blocked, reason := gate.IsTooExpensive(models.PlanSummary{TotalCost: floatPtr(150)})
	assert.True(t, blocked)
	assert.Equal(t, "total_cost=150 exceeds ceiling 100", reason)
}
