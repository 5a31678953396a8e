package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreateSchema(t *testing.T) {
	stmt, err := Parse(`CREATE SCHEMA /demo`)
	require.NoError(t, err)
	cs, ok := stmt.(*CreateSchemaStmt)
	require.True(t, ok)
	assert.Equal(t, "/demo", cs.Path)
}

func TestParseSessionSetGraph(t *testing.T) {
	stmt, err := Parse(`SESSION SET GRAPH /demo/g`)
	require.NoError(t, err)
	s, ok := stmt.(*SessionSetGraphStmt)
	require.True(t, ok)
	assert.Equal(t, "/demo", s.Schema)
	assert.Equal(t, "g", s.Name)
}

func TestParseInsertNode(t *testing.T) {
	stmt, err := Parse(`INSERT (:Person {name:'Alice', age:30})`)
	require.NoError(t, err)
	ins, ok := stmt.(*InsertStmt)
	require.True(t, ok)
	require.Len(t, ins.Patterns, 1)
	node := ins.Patterns[0].Elements[0].Node
	assert.Equal(t, []string{"Person"}, node.Labels)
	assert.Len(t, node.Properties, 2)
}

func TestParseMatchReturnOrderByLimit(t *testing.T) {
	stmt, err := Parse(`MATCH (p:Person) RETURN p.name, p.age ORDER BY p.age LIMIT 10`)
	require.NoError(t, err)
	m, ok := stmt.(*MatchStmt)
	require.True(t, ok)
	require.NotNil(t, m.Return)
	assert.Len(t, m.Return.Items, 2)
	require.Len(t, m.OrderBy, 1)
	require.NotNil(t, m.Limit)
}

func TestParseMultiHopPattern(t *testing.T) {
	stmt, err := Parse(`MATCH (a:Person {name:'Alice'})-[:KNOWS]->()-[:KNOWS]->(c) RETURN c.name`)
	require.NoError(t, err)
	m := stmt.(*MatchStmt)
	require.Len(t, m.Patterns, 1)
	require.Len(t, m.Patterns[0].Elements, 3)
	assert.Equal(t, "KNOWS", m.Patterns[0].Elements[0].Edge.Type)
}

func TestParseAggregate(t *testing.T) {
	stmt, err := Parse(`MATCH (p:Person WHERE p.city='NYC') RETURN count(p), avg(p.age)`)
	require.NoError(t, err)
	m := stmt.(*MatchStmt)
	require.Len(t, m.Return.Items, 2)
	call, ok := m.Return.Items[0].Expr.(*FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "count", call.Name)
}

func TestParseUnion(t *testing.T) {
	stmt, err := Parse(`MATCH (a:Person) RETURN a.name UNION ALL MATCH (b:Company) RETURN b.name`)
	require.NoError(t, err)
	m := stmt.(*MatchStmt)
	require.NotNil(t, m.Combinator)
	assert.Equal(t, SetOpUnion, m.Combinator.Kind)
	assert.True(t, m.Combinator.All)
}

func TestParseDelete(t *testing.T) {
	stmt, err := Parse(`MATCH (p:Person {name:'X'}) DELETE p`)
	require.NoError(t, err)
	m := stmt.(*MatchStmt)
	require.Len(t, m.Delete, 1)
}

func TestParseSet(t *testing.T) {
	stmt, err := Parse(`MATCH (p:Person {name:'Alice'}) SET p.age = 32`)
	require.NoError(t, err)
	m := stmt.(*MatchStmt)
	require.Len(t, m.SetOps, 1)
}

func TestAmbiguousPredicatePlacementRejected(t *testing.T) {
	_, err := Parse(`MATCH (p:Person WHERE p.age > 30) WHERE p.age < 40 RETURN p`)
	require.Error(t, err)
	_, ok := err.(*AmbiguousPredicateError)
	assert.True(t, ok)
}

func TestLabelPatternAndUnrelatedTrailingWhereBothAccepted(t *testing.T) {
	_, err := Parse(`MATCH (p:Person WHERE p.age > 30), (c:Company) WHERE c.name = 'Acme' RETURN p`)
	require.NoError(t, err)
}

func TestParseBeginRollback(t *testing.T) {
	stmt, err := Parse(`BEGIN`)
	require.NoError(t, err)
	_, ok := stmt.(*BeginStmt)
	assert.True(t, ok)

	stmt, err = Parse(`ROLLBACK`)
	require.NoError(t, err)
	_, ok = stmt.(*RollbackStmt)
	assert.True(t, ok)
}

func TestParseErrorReportsOffset(t *testing.T) {
	_, err := Parse(`MATCH (p:Person RETURN p`)
	require.Error(t, err)
	se, ok := err.(*SyntaxError)
	require.True(t, ok)
	assert.Greater(t, se.Offset, 0)
}

func TestDelimitedIdentifierAsPropertyKey(t *testing.T) {
	stmt, err := Parse("INSERT (:Person {`full name`:'Alice'})")
	require.NoError(t, err)
	ins := stmt.(*InsertStmt)
	_, ok := ins.Patterns[0].Elements[0].Node.Properties["full name"]
	assert.True(t, ok)
}
