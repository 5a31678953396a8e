package coordinator

import (
	"github.com/graphlite/graphlite/pkg/executor"
	"github.com/graphlite/graphlite/pkg/types"
)

// QueryResult is the boundary result of one processed statement:
// column names in order, rows as name-to-value maps, timing, the count of
// affected records, and any non-fatal warnings.
type QueryResult struct {
	Variables       []string                 `json:"variables"`
	Rows            []map[string]types.Value `json:"rows"`
	ExecutionTimeMS int64                    `json:"execution_time_ms"`
	RowsAffected    int64                    `json:"rows_affected"`
	Warnings        []executor.Warning       `json:"warnings,omitempty"`
}

// StatementKind classifies a statement for Analyze.
type StatementKind string

const (
	KindDDL    StatementKind = "DDL"
	KindDML    StatementKind = "DML"
	KindSelect StatementKind = "Select"
	KindAdmin  StatementKind = "Admin"
)

// Analysis is Analyze's non-executing verdict.
type Analysis struct {
	Kind     StatementKind `json:"kind"`
	ReadOnly bool          `json:"read_only"`
}

func resultFromRows(rows []*executor.Row, variables []string) *QueryResult {
	res := &QueryResult{Variables: variables}
	for _, row := range rows {
		if res.Variables == nil {
			res.Variables = append([]string{}, row.Names...)
		}
		m := make(map[string]types.Value, len(row.Names))
		for _, name := range row.Names {
			b := row.Bindings[name]
			m[name] = b.Value()
		}
		res.Rows = append(res.Rows, m)
	}
	if res.Variables == nil {
		res.Variables = []string{}
	}
	if res.Rows == nil {
		res.Rows = []map[string]types.Value{}
	}
	return res
}
