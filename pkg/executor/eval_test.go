package executor

import (
	"testing"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/planner"
	"github.com/graphlite/graphlite/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalSrc(t *testing.T, src string, row *Row) (types.Value, error) {
	t.Helper()
	stmt, err := lang.Parse("LET x = " + src + " MATCH (n) RETURN n")
	require.NoError(t, err)
	let := stmt.(*lang.LetStmt)
	return evalExpr(&Context{Env: map[string]types.Value{}}, row, let.Value)
}

func TestEvalArithmetic(t *testing.T) {
	v, err := evalSrc(t, `1 + 2 * 3`, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.AsInt())

	v, err = evalSrc(t, `10 / 4.0`, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v.AsFloat())

	v, err = evalSrc(t, `'a' + 'b'`, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", v.AsString())
}

func TestEvalDivisionByZero(t *testing.T) {
	_, err := evalSrc(t, `1 / 0`, nil)
	require.Error(t, err)
	assert.Equal(t, errors.Runtime, errors.KindOf(err))
}

func TestEvalComparisonAndLogic(t *testing.T) {
	v, err := evalSrc(t, `1 < 2 AND NOT FALSE`, nil)
	require.NoError(t, err)
	assert.True(t, v.AsBool())

	v, err = evalSrc(t, `2 IN [1, 2, 3]`, nil)
	require.NoError(t, err)
	assert.True(t, v.AsBool())
}

func TestEvalCoalesceAndLength(t *testing.T) {
	v, err := evalSrc(t, `coalesce(NULL, 'fallback')`, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", v.AsString())

	v, err = evalSrc(t, `length('héllo')`, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.AsInt(), "length counts runes, not bytes")
}

func TestEvalPropertyAccessOnNode(t *testing.T) {
	row := NewRow()
	row.Bind("p", Binding{Node: &types.Node{
		ID:         types.NewNodeID(),
		Properties: map[string]types.Value{"age": types.Int(30)},
	}})
	v, err := evalSrc(t, `p.age + 1`, row)
	require.NoError(t, err)
	assert.Equal(t, int64(31), v.AsInt())

	// An undeclared property reads as null, never an error.
	v, err = evalSrc(t, `p.missing`, row)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestAggregateOperatorComputesCountAndAvg(t *testing.T) {
	rows := []*Row{
		valueRow("age", types.Int(28)),
		valueRow("age", types.Int(32)),
	}
	plan := &planner.PhysicalNode{
		Kind: planner.PhysAggregate,
		Aggregates: []planner.AggregateItem{
			{Func: "count", Arg: &lang.Identifier{Name: "age"}, Alias: "count(age)"},
			{Func: "avg", Arg: &lang.Identifier{Name: "age"}, Alias: "avg(age)"},
		},
		Schema: []planner.BoundVar{{Name: "count(age)"}, {Name: "avg(age)"}},
	}
	agg := &aggregate{ec: &Context{}, input: &sliceOp{rows: rows}, plan: plan}
	out, err := Drain(agg)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].Bindings["count(age)"].Value().AsInt())
	assert.Equal(t, 30.0, out[0].Bindings["avg(age)"].Value().AsFloat())
}

func TestAggregateEmptyInputYieldsZeroCount(t *testing.T) {
	plan := &planner.PhysicalNode{
		Kind:       planner.PhysAggregate,
		Aggregates: []planner.AggregateItem{{Func: "count", Arg: &lang.Identifier{Name: "n"}, Alias: "count(n)"}},
		Schema:     []planner.BoundVar{{Name: "count(n)"}},
	}
	agg := &aggregate{ec: &Context{}, input: &sliceOp{}, plan: plan}
	out, err := Drain(agg)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(0), out[0].Bindings["count(n)"].Value().AsInt())
}

func TestOrderOperatorSpillsAndMerges(t *testing.T) {
	var rows []*Row
	for i := 100; i > 0; i-- {
		rows = append(rows, valueRow("n", types.Int(int64(i))))
	}
	ec := &Context{TempDir: t.TempDir()}
	ec.Knobs.SortSpillThreshold = 16 // force several spill runs

	ord := &order{
		ec:    ec,
		input: &sliceOp{rows: rows},
		by:    []planner.OrderItem{{Expr: &lang.Identifier{Name: "n"}}},
	}
	out, err := Drain(ord)
	require.NoError(t, err)
	require.Len(t, out, 100)
	for i, r := range out {
		assert.Equal(t, int64(i+1), r.Bindings["n"].Value().AsInt())
	}
}
