package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/geosql-gateway/pkg/apperrors"
	"github.com/ekaya-inc/geosql-gateway/pkg/logging"
	"github.com/ekaya-inc/geosql-gateway/pkg/models"
	"github.com/ekaya-inc/geosql-gateway/pkg/sql"
)

// SQLGenerator turns a question plus schema context into a candidate
// statement. Its output is untrusted.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, question, schemaContext string) (string, error)
}

// StatementRewriter repairs column guesses and spatial reference mismatches.
type StatementRewriter interface {
	Rewrite(sqlQuery, question string) (string, []models.Fix)
}

// QueryRequest is one pass through the gateway. When SQL is empty the
// statement is generated from Question.
type QueryRequest struct {
	Question string
	SQL      string
	Execute  bool
	RowCap   int
}

// QueryResult describes what the gateway did with a request. It is returned
// alongside rejection errors so callers can show the plan and fixes.
type QueryResult struct {
	RequestID uuid.UUID               `json:"request_id"`
	Question  string                  `json:"question,omitempty"`
	Refs      []models.TableReference `json:"refs"`
	SQL       string                  `json:"sql"`
	Fixes     []models.Fix            `json:"fixes"`
	Plan      *models.PlanSummary     `json:"plan,omitempty"`
	Executed  bool                    `json:"executed"`
	Rows      []map[string]any        `json:"rows,omitempty"`
}

// QueryGateway runs untrusted statements through validation, rewriting and
// cost admission before they reach the database.
type QueryGateway interface {
	// Run processes req. Rejections return a non-nil result together with
	// an error wrapping one of the apperrors sentinels.
	Run(ctx context.Context, req QueryRequest) (*QueryResult, error)

	// PrepareContext returns the schema context for question, including the
	// tables it mentions by name.
	PrepareContext(question string) string
}

type queryGateway struct {
	contextBuilder SchemaContextBuilder
	rewriter       StatementRewriter
	costGate       CostGate
	executor       datasource.SessionExecutor
	generator      SQLGenerator
	overrides      map[string]models.TableOverride
	logger         *zap.Logger
}

// NewQueryGateway wires the pipeline. generator may be nil, in which case
// requests must carry SQL.
func NewQueryGateway(
	contextBuilder SchemaContextBuilder,
	rewriter StatementRewriter,
	costGate CostGate,
	executor datasource.SessionExecutor,
	generator SQLGenerator,
	overrides map[string]models.TableOverride,
	logger *zap.Logger,
) QueryGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &queryGateway{
		contextBuilder: contextBuilder,
		rewriter:       rewriter,
		costGate:       costGate,
		executor:       executor,
		generator:      generator,
		overrides:      overrides,
		logger:         logger.Named("query-gateway"),
	}
}

func (g *queryGateway) PrepareContext(question string) string {
	text := question
	if refs := sql.FindReferences(question); len(refs) > 0 {
		names := make([]string, len(refs))
		for i, ref := range refs {
			names[i] = ref.String()
		}
		text += "\n\nMENTIONED TABLES:\n" + strings.Join(names, "\n")
	}
	return g.contextBuilder.Build(text, g.overrides)
}

func (g *queryGateway) Run(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	result := &QueryResult{
		RequestID: uuid.New(),
		Question:  req.Question,
		Fixes:     []models.Fix{},
	}
	logger := g.logger.With(zap.String("request_id", result.RequestID.String()))

	userText := req.Question
	if strings.TrimSpace(userText) == "" {
		userText = req.SQL
	}
	result.Refs = sql.FindReferences(userText)

	stmt, err := g.statement(ctx, req)
	if err != nil {
		logger.Info("No statement to run", zap.Error(err))
		return result, err
	}
	result.SQL = stmt

	verdict := sql.Check(stmt)
	if !verdict.Allowed {
		sentinel := apperrors.ErrPolicyViolation
		if verdict.ParseFailed {
			sentinel = apperrors.ErrParse
		}
		logger.Info("Statement rejected",
			zap.String("sql", logging.SanitizeQuery(stmt)),
			zap.String("reason", verdict.Reason))
		return result, fmt.Errorf("%w: blocked: %s", sentinel, verdict.Reason)
	}

	rewritten, fixes := g.rewriter.Rewrite(stmt, req.Question)
	if len(fixes) > 0 {
		stmt = rewritten
		result.SQL = stmt
		result.Fixes = fixes
		logger.Debug("Statement rewritten", zap.Int("fixes", len(fixes)))
	}

	plan := g.costGate.Estimate(ctx, planTarget(stmt))
	result.Plan = &plan
	if plan.Failed() {
		if plan.Timeout {
			return result, fmt.Errorf("%w: planner timed out: %s", apperrors.ErrTimeout, plan.Error)
		}
		if plan.Infrastructure {
			return result, fmt.Errorf("%w: planner unavailable: %s", apperrors.ErrInfrastructure, plan.Error)
		}
		return result, fmt.Errorf("%w: plan failed; check columns/joins or schema context: %s",
			apperrors.ErrQueryFailed, plan.Error)
	}

	if blocked, reason := g.costGate.IsTooExpensive(plan); blocked {
		logger.Info("Statement over cost ceiling", zap.String("reason", reason))
		return result, fmt.Errorf("%w: %s", apperrors.ErrCostRejected, reason)
	}

	if !req.Execute {
		return result, nil
	}

	rows, err := g.executor.Execute(ctx, stmt, req.RowCap)
	if err != nil {
		logger.Warn("Execution failed",
			zap.String("kind", apperrors.KindOf(err)),
			zap.String("error", logging.SanitizeError(err)))
		return result, err
	}
	result.Executed = true
	result.Rows = rows

	logger.Info("Statement executed", zap.Int("rows", len(rows)))
	return result, nil
}

// statement returns the SQL to check, generating it from the question when
// the request carries none.
func (g *queryGateway) statement(ctx context.Context, req QueryRequest) (string, error) {
	if stmt := strings.TrimSpace(req.SQL); stmt != "" {
		return stmt, nil
	}
	if strings.TrimSpace(req.Question) == "" {
		return "", fmt.Errorf("%w: provide sql or a question", apperrors.ErrNoStatement)
	}
	if g.generator == nil {
		return "", fmt.Errorf("%w: no sql generator configured", apperrors.ErrNoStatement)
	}

	generated, err := g.generator.GenerateSQL(ctx, req.Question, g.PrepareContext(req.Question))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: generate sql: %w", apperrors.ErrTimeout, err)
		}
		return "", fmt.Errorf("generate sql: %w", err)
	}
	stmt := StripCodeFence(generated)
	if stmt == "" {
		return "", fmt.Errorf("%w: could not generate sql; try being more specific", apperrors.ErrNoStatement)
	}
	return stmt, nil
}

// planTarget returns the statement the planner should see: an explicit
// EXPLAIN is planned over its inner statement.
func planTarget(stmt string) string {
	if v := sql.Check(stmt); v.Explained && v.Inner != "" {
		return v.Inner
	}
	return sql.TrimStatement(stmt)
}

var codeFencePattern = regexp.MustCompile("(?is)^```(?:sql|pgsql|postgres(?:ql)?)?\\s*(.*?)\\s*```$")

// StripCodeFence removes a surrounding Markdown code fence, with or without
// a language tag.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

var _ QueryGateway = (*queryGateway)(nil)
