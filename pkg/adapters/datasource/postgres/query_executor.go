package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/geosql-gateway/pkg/apperrors"
	"github.com/ekaya-inc/geosql-gateway/pkg/logging"
	"github.com/ekaya-inc/geosql-gateway/pkg/models"
	"github.com/ekaya-inc/geosql-gateway/pkg/sql"
)

const (
	// DefaultExplainTimeout bounds planner calls.
	DefaultExplainTimeout = 5 * time.Second
	// DefaultRowCap is used when neither the caller nor the config sets one.
	DefaultRowCap = 500
)

// txBeginner is satisfied by *pgxpool.Pool.
type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// ExecutorConfig bounds what an approved statement may consume.
type ExecutorConfig struct {
	Session        datasource.SessionSettings
	ExplainTimeout time.Duration
	DefaultRowCap  int
}

// QueryExecutor runs approved statements and planner estimates inside
// read-only transactions whose session constraints are set with SET LOCAL,
// so nothing leaks back into the pool.
type QueryExecutor struct {
	db     txBeginner
	cfg    ExecutorConfig
	logger *zap.Logger
}

// NewQueryExecutor creates an executor over db (usually the adapter's pool).
// If logger is nil, a no-op logger is used.
func NewQueryExecutor(db txBeginner, cfg ExecutorConfig, logger *zap.Logger) *QueryExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExplainTimeout <= 0 {
		cfg.ExplainTimeout = DefaultExplainTimeout
	}
	if cfg.DefaultRowCap <= 0 {
		cfg.DefaultRowCap = DefaultRowCap
	}
	return &QueryExecutor{db: db, cfg: cfg, logger: logger.Named("query-executor")}
}

// Execute runs sqlQuery under the configured session constraints and returns
// at most rowCap rows in result order. A statement without a LIMIT gets one
// appended. rowCap <= 0 uses the configured default.
func (e *QueryExecutor) Execute(ctx context.Context, sqlQuery string, rowCap int) ([]map[string]any, error) {
	if rowCap <= 0 {
		rowCap = e.cfg.DefaultRowCap
	}
	stmt := EnsureRowLimit(sqlQuery, rowCap)

	var result []map[string]any
	start := time.Now()
	err := e.inReadOnlyTx(ctx, e.cfg.Session, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, stmt)
		if err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		result = make([]map[string]any, 0)
		for len(result) < rowCap && rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return fmt.Errorf("failed to read row values: %w", err)
			}
			row := make(map[string]any, len(fields))
			for i, fd := range fields {
				row[fd.Name] = values[i]
			}
			result = append(result, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating rows: %w", err)
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("Statement failed",
			zap.String("sql", logging.SanitizeQuery(stmt)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	e.logger.Debug("Statement executed",
		zap.Int("rows", len(result)),
		zap.Int("row_cap", rowCap),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Explain returns the planner's estimate for sqlQuery's root node without
// running the statement.
func (e *QueryExecutor) Explain(ctx context.Context, sqlQuery string) (*models.PlanSummary, error) {
	session := e.cfg.Session
	session.StatementTimeout = e.cfg.ExplainTimeout

	var raw []byte
	err := e.inReadOnlyTx(ctx, session, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+sql.TrimStatement(sqlQuery)).Scan(&raw); err != nil {
			return fmt.Errorf("explain failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQueryFailed, err)
	}
	return plan, nil
}

// inReadOnlyTx opens a read-only transaction, applies session settings and
// runs fn. The transaction is always rolled back. Failures while applying
// the settings are infrastructure failures; failures inside fn are
// classified from the driver error.
func (e *QueryExecutor) inReadOnlyTx(ctx context.Context, s datasource.SessionSettings, fn func(pgx.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return classifyError(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			e.logger.Debug("Rollback failed", zap.String("error", logging.SanitizeError(rbErr)))
		}
	}()

	for _, stmt := range SessionStatements(s) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			if classified := classifyError(err); apperrors.IsFatalInfrastructure(classified) {
				return fmt.Errorf("apply session settings: %w", classified)
			}
			return fmt.Errorf("%w: apply session settings: %w", apperrors.ErrInfrastructure, err)
		}
	}

	return classifyError(fn(tx))
}

// SessionStatements renders the SET LOCAL statements for s. Zero durations
// and an empty search path are left at the server's defaults.
func SessionStatements(s datasource.SessionSettings) []string {
	var stmts []string
	if s.StatementTimeout > 0 {
		stmts = append(stmts, "SET LOCAL statement_timeout = "+strconv.FormatInt(s.StatementTimeout.Milliseconds(), 10))
	}
	if s.IdleInTransactionTimeout > 0 {
		stmts = append(stmts, "SET LOCAL idle_in_transaction_session_timeout = "+
			strconv.FormatInt(s.IdleInTransactionTimeout.Milliseconds(), 10))
	}
	if len(s.SearchPath) > 0 {
		quoted := make([]string, len(s.SearchPath))
		for i, schema := range s.SearchPath {
			quoted[i] = pgx.Identifier{schema}.Sanitize()
		}
		stmts = append(stmts, "SET LOCAL search_path = "+strings.Join(quoted, ", "))
	}
	return stmts
}

// EnsureRowLimit appends "LIMIT rowCap" when the statement text contains no
// "limit" anywhere (case-insensitive). A trailing semicolon is dropped first.
// The clause goes on its own line so a trailing "--" comment cannot swallow it.
func EnsureRowLimit(sqlQuery string, rowCap int) string {
	stmt := sql.TrimStatement(sqlQuery)
	if strings.Contains(strings.ToLower(stmt), "limit") {
		return stmt
	}
	return stmt + "\nLIMIT " + strconv.Itoa(rowCap)
}

// explainNode is the root plan node of EXPLAIN (FORMAT JSON) output.
type explainNode struct {
	NodeType    string   `json:"Node Type"`
	StartupCost *float64 `json:"Startup Cost"`
	TotalCost   *float64 `json:"Total Cost"`
	PlanRows    *float64 `json:"Plan Rows"`
	PlanWidth   *int     `json:"Plan Width"`
}

// ParsePlan extracts the root node summary from EXPLAIN (FORMAT JSON)
// output, which is a one-element array of {"Plan": {...}}.
func ParsePlan(raw []byte) (*models.PlanSummary, error) {
	var doc []struct {
		Plan *explainNode `json:"Plan"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(doc) == 0 || doc[0].Plan == nil {
		return nil, fmt.Errorf("parse plan: no root plan node")
	}

	root := doc[0].Plan
	return &models.PlanSummary{
		NodeType:      root.NodeType,
		StartupCost:   root.StartupCost,
		TotalCost:     root.TotalCost,
		EstimatedRows: root.PlanRows,
		RowWidth:      root.PlanWidth,
	}, nil
}

// Ensure QueryExecutor implements the planner and session capabilities at
// compile time.
var (
	_ datasource.Planner         = (*QueryExecutor)(nil)
	_ datasource.SessionExecutor = (*QueryExecutor)(nil)
)
