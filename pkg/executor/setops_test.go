package executor

import (
	"testing"

	"github.com/graphlite/graphlite/pkg/planner"
	"github.com/graphlite/graphlite/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceOp feeds canned rows into an operator under test.
type sliceOp struct {
	rows []*Row
	pos  int
}

func (s *sliceOp) Next() (*Row, error) {
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sliceOp) Reset() error { s.pos = 0; return nil }
func (s *sliceOp) Close() error { return nil }

func valueRow(name string, v types.Value) *Row {
	row := NewRow()
	row.Bind(name, Binding{Val: v})
	return row
}

func stringRows(name string, vals ...string) []*Row {
	var out []*Row
	for _, v := range vals {
		out = append(out, valueRow(name, types.String(v)))
	}
	return out
}

func names(t *testing.T, rows []*Row, col string) []string {
	t.Helper()
	var out []string
	for _, r := range rows {
		b, ok := r.Get(col)
		require.True(t, ok)
		out = append(out, b.Value().AsString())
	}
	return out
}

func TestUnionDistinctEmitsEachRowOnce(t *testing.T) {
	ec := &Context{}
	op := &setOp{
		ec:    ec,
		left:  &sliceOp{rows: stringRows("n", "a", "b")},
		right: &sliceOp{rows: stringRows("n", "b", "c")},
		kind:  planner.SetOpUnion,
	}
	rows, err := Drain(op)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names(t, rows, "n"))
}

func TestUnionAllPreservesMultiplicity(t *testing.T) {
	ec := &Context{}
	op := &setOp{
		ec:    ec,
		left:  &sliceOp{rows: stringRows("n", "a", "a")},
		right: &sliceOp{rows: stringRows("n", "a")},
		kind:  planner.SetOpUnion,
		all:   true,
	}
	rows, err := Drain(op)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a", "a"}, names(t, rows, "n"))
}

func TestIntersectOfIdenticalSetsIsIdentity(t *testing.T) {
	ec := &Context{}
	op := &setOp{
		ec:    ec,
		left:  &sliceOp{rows: stringRows("n", "a", "b", "c")},
		right: &sliceOp{rows: stringRows("n", "a", "b", "c")},
		kind:  planner.SetOpIntersect,
	}
	rows, err := Drain(op)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names(t, rows, "n"))
}

func TestExceptRemovesRightRows(t *testing.T) {
	ec := &Context{}
	op := &setOp{
		ec:    ec,
		left:  &sliceOp{rows: stringRows("n", "a", "b", "c", "b")},
		right: &sliceOp{rows: stringRows("n", "b")},
		kind:  planner.SetOpExcept,
	}
	rows, err := Drain(op)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, names(t, rows, "n"))
}

func TestEntityRowsCompareByIdentityNotReference(t *testing.T) {
	node := &types.Node{ID: types.NewNodeID(), Properties: map[string]types.Value{"name": types.String("x")}}
	// A distinct materialization of the same stored node: same id, new
	// pointer. Identity equality must treat the rows as equal.
	clone := &types.Node{ID: node.ID, Properties: map[string]types.Value{"name": types.String("x")}}

	left := NewRow()
	left.Bind("p", Binding{Node: node})
	right := NewRow()
	right.Bind("p", Binding{Node: clone})

	assert.Equal(t, left.Key(), right.Key())

	ec := &Context{}
	op := &setOp{
		ec:    ec,
		left:  &sliceOp{rows: []*Row{left}},
		right: &sliceOp{rows: []*Row{right}},
		kind:  planner.SetOpUnion,
	}
	rows, err := Drain(op)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDistinctOperator(t *testing.T) {
	ec := &Context{}
	op := &distinct{ec: ec, input: &sliceOp{rows: stringRows("n", "a", "b", "a")}}
	rows, err := Drain(op)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(t, rows, "n"))
}
