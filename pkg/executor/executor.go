// Package executor turns a physical plan into pull-based streaming
// iterators: Next() yields one row at a time, Reset restarts a finite
// operator, Close releases resources. Operators form a closed
// variant set dispatched by a type switch in Build, with no open-ended
// polymorphism.
package executor

import (
	"context"

	"github.com/graphlite/graphlite/pkg/catalog"
	"github.com/graphlite/graphlite/pkg/config"
	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/planner"
	"github.com/graphlite/graphlite/pkg/session"
	"github.com/graphlite/graphlite/pkg/storage"
	"github.com/graphlite/graphlite/pkg/types"
)

// Warning is a non-fatal notice embedded in a query result;
// duplicate-edge notices are warnings, not errors.
type Warning struct {
	Code    string
	Message string
}

// Context carries everything one statement's operators share: the snapshot
// view (overlaying the transaction's write set), the transaction to stage
// DML into, catalog access for procedures, and the knob set.
type Context struct {
	Ctx     context.Context
	Engine  *storage.Engine
	View    *storage.View
	GraphID types.GraphID
	Graph   string
	Txn     *session.Transaction
	Catalog *catalog.Catalog
	Knobs   config.Knobs
	TempDir string

	// Env holds statement-level bindings (LET, leading WITH) and query
	// parameters, consulted when an identifier is not bound by a row.
	Env map[string]types.Value

	Warnings     []Warning
	RowsAffected int64
}

// Cancelled checks the cancellation flag at an operator boundary; every
// Next call passes through here.
func (ec *Context) Cancelled() error {
	if ec.Ctx != nil {
		select {
		case <-ec.Ctx.Done():
			return errors.New(errors.Cancelled, "query cancelled")
		default:
		}
	}
	if ec.Txn != nil && ec.Txn.Cancelled() {
		return errors.New(errors.Cancelled, "query cancelled")
	}
	return nil
}

func (ec *Context) warn(code, message string) {
	ec.Warnings = append(ec.Warnings, Warning{Code: code, Message: message})
}

// Operator is the uniform capability every physical operator implements
//: Next yields (row, nil) per row, (nil, nil) on Done, (nil, err) on
// Err; Reset restarts from the beginning; Close releases resources.
type Operator interface {
	Next() (*Row, error)
	Reset() error
	Close() error
}

// Build instantiates the operator tree for a physical plan.
func Build(ec *Context, n *planner.PhysicalNode) (Operator, error) {
	var ins []Operator
	for _, in := range n.Inputs {
		op, err := Build(ec, in)
		if err != nil {
			return nil, err
		}
		ins = append(ins, op)
	}

	switch n.Kind {
	case planner.PhysLabelScan:
		return &labelScan{ec: ec, variable: n.Variable, label: n.Label, limit: n.ScanLimit}, nil
	case planner.PhysAllScan:
		return &allScan{ec: ec, variable: n.Variable, limit: n.ScanLimit}, nil
	case planner.PhysExpand:
		return &expand{ec: ec, input: ins[0], plan: n}, nil
	case planner.PhysFilter:
		return &filter{ec: ec, input: ins[0], pred: n.Predicate}, nil
	case planner.PhysProject:
		return &project{ec: ec, input: ins[0], items: n.Projections, pred: n.Predicate}, nil
	case planner.PhysAggregate:
		return &aggregate{ec: ec, input: ins[0], plan: n}, nil
	case planner.PhysOrder:
		return &order{ec: ec, input: ins[0], by: n.OrderBy}, nil
	case planner.PhysSkip:
		return &skip{ec: ec, input: ins[0], count: n.Count}, nil
	case planner.PhysLimit:
		return &limit{ec: ec, input: ins[0], count: n.Count}, nil
	case planner.PhysDistinct:
		return &distinct{ec: ec, input: ins[0]}, nil
	case planner.PhysSetOp:
		names := make([]string, len(n.Schema))
		for i, v := range n.Schema {
			names[i] = v.Name
		}
		return &setOp{ec: ec, left: ins[0], right: ins[1], kind: n.SetOpKind, all: n.SetOpAll, names: names}, nil
	case planner.PhysCartesian:
		return &cartesian{ec: ec, left: ins[0], right: ins[1]}, nil
	case planner.PhysInsert:
		op := &insert{ec: ec, plan: n}
		if len(ins) > 0 {
			op.input = ins[0]
		}
		return op, nil
	case planner.PhysDelete:
		return &deleteOp{ec: ec, input: ins[0], targets: n.DeleteTargets}, nil
	case planner.PhysUpdate:
		return &update{ec: ec, input: ins[0], items: n.SetItems}, nil
	case planner.PhysCall:
		return &call{ec: ec, procedure: n.Procedure, args: n.CallArgs}, nil
	default:
		return nil, errors.Newf(errors.Internal, "physical kind %v has no operator", n.Kind)
	}
}

// EvalBindings evaluates statement-level LET/WITH bindings into the
// context's environment before the plan runs. Bindings may reference
// earlier bindings but not pattern variables.
func EvalBindings(ec *Context, items []planner.BindItem) error {
	if ec.Env == nil {
		ec.Env = map[string]types.Value{}
	}
	for _, item := range items {
		v, err := evalExpr(ec, nil, item.Value)
		if err != nil {
			return err
		}
		ec.Env[item.Name] = v
	}
	return nil
}

// Drain pulls an operator to completion, collecting every row.
func Drain(op Operator) ([]*Row, error) {
	defer op.Close()
	var rows []*Row
	for {
		row, err := op.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return rows, nil
		}
		rows = append(rows, row)
	}
}
