package planner

import (
	"testing"

	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBuild(t *testing.T, src string) *Plan {
	t.Helper()
	stmt, err := lang.Parse(src)
	require.NoError(t, err)
	plan, err := Build(stmt)
	require.NoError(t, err)
	return plan
}

func TestBuildMatchReturnShape(t *testing.T) {
	plan := mustBuild(t, `MATCH (p:Person) RETURN p.name, p.age`)
	root := plan.Root
	require.Equal(t, KindProject, root.Kind)
	assert.Equal(t, []BoundVar{{Name: "p.name"}, {Name: "p.age"}}, root.Schema)

	scan := root.Inputs[0]
	require.Equal(t, KindScan, scan.Kind)
	assert.Equal(t, "Person", scan.Label)
	assert.Equal(t, "p", scan.Variable)
}

func TestBuildPropertyShorthandBecomesFilter(t *testing.T) {
	plan := mustBuild(t, `MATCH (p:Person {name:'Alice'}) RETURN p`)
	filter := plan.Root.Inputs[0]
	require.Equal(t, KindFilter, filter.Kind)
	bin, ok := filter.Predicate.(*lang.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "=", bin.Op)
}

func TestBuildAggregateSplitsKeysAndAggs(t *testing.T) {
	plan := mustBuild(t, `MATCH (p:Person) RETURN p.city, count(p), avg(p.age)`)
	root := plan.Root
	require.Equal(t, KindAggregate, root.Kind)
	assert.Len(t, root.GroupKeys, 1)
	require.Len(t, root.Aggregates, 2)
	assert.Equal(t, "count", root.Aggregates[0].Func)
	assert.Equal(t, "avg", root.Aggregates[1].Func)
}

func TestBuildOrderByPatternVariableSitsBelowProjection(t *testing.T) {
	plan := mustBuild(t, `MATCH (p:Person) RETURN p.name ORDER BY p.age`)
	require.Equal(t, KindProject, plan.Root.Kind)
	assert.Equal(t, KindOrder, plan.Root.Inputs[0].Kind,
		"ordering on a non-projected property must happen before the projection drops p")
}

func TestBuildOrderByAliasSitsAboveProjection(t *testing.T) {
	plan := mustBuild(t, `MATCH (p:Person) RETURN p.age AS age ORDER BY age`)
	require.Equal(t, KindOrder, plan.Root.Kind)
	assert.Equal(t, KindProject, plan.Root.Inputs[0].Kind)
}

func TestBuildAnonymousHopGetsSyntheticVariable(t *testing.T) {
	plan := mustBuild(t, `MATCH (a:Person)-[:KNOWS]->()-[:KNOWS]->(c) RETURN c`)
	var expands []*LogicalNode
	var walk func(n *LogicalNode)
	walk = func(n *LogicalNode) {
		if n.Kind == KindExpand {
			expands = append(expands, n)
		}
		for _, in := range n.Inputs {
			walk(in)
		}
	}
	walk(plan.Root)
	require.Len(t, expands, 2)
	// The deeper expand binds the anonymous middle node; the outer expand
	// drives from it.
	assert.NotEmpty(t, expands[1].ToVar)
	assert.Equal(t, expands[1].ToVar, expands[0].FromVar)
}

func TestBuildRejectsUnknownVariable(t *testing.T) {
	stmt, err := lang.Parse(`MATCH (p:Person) RETURN q.name`)
	require.NoError(t, err)
	_, err = Build(stmt)
	require.Error(t, err)
}

func TestBuildSetOpWidthMismatchRejected(t *testing.T) {
	stmt, err := lang.Parse(`MATCH (a:Person) RETURN a.name UNION MATCH (b:Company) RETURN b.name, b.city`)
	require.NoError(t, err)
	_, err = Build(stmt)
	require.Error(t, err)
}

func TestBuildLetBinding(t *testing.T) {
	plan := mustBuild(t, `LET min_age = 21 MATCH (p:Person) WHERE p.age > min_age RETURN p.name`)
	require.Len(t, plan.Bindings, 1)
	assert.Equal(t, "min_age", plan.Bindings[0].Name)
}

func TestBuildMatchInsertReferencesBoundVariables(t *testing.T) {
	plan := mustBuild(t, `MATCH (a:Person {name:'Alice'}), (b:Person {name:'Bob'}) INSERT (a)-[:KNOWS]->(b)`)
	root := plan.Root
	require.Equal(t, KindInsert, root.Kind)
	require.Len(t, root.Inputs, 1)
	require.Len(t, root.InsertPatterns, 1)
	assert.Equal(t, "a", root.InsertPatterns[0].Nodes[0].Variable)
	assert.Empty(t, root.InsertPatterns[0].Nodes[0].Labels)
}
