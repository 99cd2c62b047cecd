package models

// Fix is a human-readable description of one rewrite applied to a statement.
type Fix string

// PlanSummary condenses the root node of a planner's structured explain output.
// When the planner could not be consulted, Error is set and the cost fields
// are nil.
type PlanSummary struct {
	NodeType      string   `json:"node_type,omitempty"`
	StartupCost   *float64 `json:"startup_cost,omitempty"`
	TotalCost     *float64 `json:"total_cost,omitempty"`
	EstimatedRows *float64 `json:"estimated_rows,omitempty"`
	RowWidth      *int     `json:"estimated_row_width,omitempty"`

	Error string `json:"error,omitempty"`
	// Infrastructure marks an Error caused by connectivity or session setup
	// rather than by the statement itself.
	Infrastructure bool `json:"-"`
	// Timeout marks an Error caused by the planner call running out of time.
	Timeout bool `json:"-"`
}

// Failed reports whether the summary is an error marker.
func (p PlanSummary) Failed() bool {
	return p.Error != ""
}
