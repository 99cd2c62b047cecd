package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/geosql-gateway/pkg/apperrors"
	"github.com/ekaya-inc/geosql-gateway/pkg/logging"
	"github.com/ekaya-inc/geosql-gateway/pkg/models"
)

// DefaultCostCeiling is the planner total cost above which a statement is
// refused.
const DefaultCostCeiling = 5_000_000

// CostGate consults the planner before a statement is allowed to run.
type CostGate interface {
	// Estimate returns the planner's summary for sqlQuery. Planner or
	// session failures come back as an error-tagged summary, never as an
	// error.
	Estimate(ctx context.Context, sqlQuery string) models.PlanSummary

	// IsTooExpensive reports whether plan exceeds the cost ceiling, with a
	// reason naming the cost. A plan without a total cost is never blocked.
	IsTooExpensive(plan models.PlanSummary) (bool, string)
}

type costGate struct {
	planner datasource.Planner
	ceiling float64
	logger  *zap.Logger
}

// NewCostGate creates a gate over planner. A ceiling <= 0 uses
// DefaultCostCeiling.
func NewCostGate(planner datasource.Planner, ceiling float64, logger *zap.Logger) CostGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ceiling <= 0 {
		ceiling = DefaultCostCeiling
	}
	return &costGate{
		planner: planner,
		ceiling: ceiling,
		logger:  logger.Named("cost-gate"),
	}
}

func (g *costGate) Estimate(ctx context.Context, sqlQuery string) models.PlanSummary {
	plan, err := g.planner.Explain(ctx, sqlQuery)
	if err == nil && plan == nil {
		err = fmt.Errorf("%w: planner returned no plan", apperrors.ErrQueryFailed)
	}
	if err != nil {
		g.logger.Info("Planner estimate failed",
			zap.String("sql", logging.SanitizeQuery(sqlQuery)),
			zap.String("kind", apperrors.KindOf(err)),
			zap.String("error", logging.SanitizeError(err)))
		return models.PlanSummary{
			Error:          logging.SanitizeError(err),
			Infrastructure: errors.Is(err, apperrors.ErrInfrastructure),
			Timeout:        errors.Is(err, apperrors.ErrTimeout),
		}
	}
	return *plan
}

func (g *costGate) IsTooExpensive(plan models.PlanSummary) (bool, string) {
	if plan.TotalCost == nil {
		return false, ""
	}
	cost := *plan.TotalCost
	if cost > g.ceiling {
		return true, fmt.Sprintf("total_cost=%s exceeds ceiling %s",
			strconv.FormatFloat(cost, 'f', -1, 64),
			strconv.FormatFloat(g.ceiling, 'f', -1, 64))
	}
	return false, ""
}

var _ CostGate = (*costGate)(nil)
