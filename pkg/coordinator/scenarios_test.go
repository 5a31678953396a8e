package coordinator

import (
	"testing"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*Coordinator, string) {
	t.Helper()
	coord, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	sid, err := coord.CreateSession("admin", "")
	require.NoError(t, err)
	return coord, sid
}

func run(t *testing.T, c *Coordinator, sid, query string) *QueryResult {
	t.Helper()
	res, err := c.Process(query, sid)
	require.NoError(t, err, "query failed: %s", query)
	return res
}

func runAll(t *testing.T, c *Coordinator, sid string, queries ...string) {
	t.Helper()
	for _, q := range queries {
		run(t, c, sid, q)
	}
}

func seedDemoGraph(t *testing.T, c *Coordinator, sid string) {
	t.Helper()
	runAll(t, c, sid,
		`CREATE SCHEMA /demo`,
		`SESSION SET SCHEMA /demo`,
		`CREATE GRAPH /demo/g`,
		`SESSION SET GRAPH /demo/g`,
		`INSERT (:Person {name:'Alice', age:30})`,
		`INSERT (:Person {name:'Bob', age:25})`,
	)
}

func TestScenarioBasicRoundTrip(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)

	res := run(t, c, sid, `MATCH (p:Person) RETURN p.name, p.age ORDER BY p.age`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Bob", res.Rows[0]["p.name"].AsString())
	assert.Equal(t, int64(25), res.Rows[0]["p.age"].AsInt())
	assert.Equal(t, "Alice", res.Rows[1]["p.name"].AsString())
	assert.Equal(t, int64(30), res.Rows[1]["p.age"].AsInt())
}

func TestScenarioPredicateAndAggregate(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)
	runAll(t, c, sid,
		`INSERT (:Person {name:'Carol', age:28, city:'NYC'})`,
		`INSERT (:Person {name:'Dave', age:32, city:'NYC'})`,
	)

	res := run(t, c, sid, `MATCH (p:Person WHERE p.city='NYC') RETURN count(p), avg(p.age)`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(2), res.Rows[0]["count(p)"].AsInt())
	assert.Equal(t, 30.0, res.Rows[0]["avg(p.age)"].AsFloat())
}

func TestScenarioTransactionRollback(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)

	runAll(t, c, sid,
		`BEGIN`,
		`INSERT (:Person {name:'X'})`,
		`ROLLBACK`,
	)
	res := run(t, c, sid, `MATCH (p:Person {name:'X'}) RETURN p`)
	assert.Empty(t, res.Rows)
}

func TestScenarioMVCCConflict(t *testing.T) {
	c, sidA := openTestDB(t)
	seedDemoGraph(t, c, sidA)

	sidB, err := c.CreateSession("admin", "")
	require.NoError(t, err)

	// Session A begins and reads Alice under its snapshot.
	run(t, c, sidA, `BEGIN`)
	resA := run(t, c, sidA, `MATCH (p:Person {name:'Alice'}) RETURN p.age`)
	require.Len(t, resA.Rows, 1)
	assert.Equal(t, int64(30), resA.Rows[0]["p.age"].AsInt())

	// Session B updates Alice and commits (implicit transaction).
	run(t, c, sidB, `SESSION SET GRAPH /demo/g`)
	run(t, c, sidB, `MATCH (p:Person {name:'Alice'}) SET p.age = 31`)

	// A's later write commits against a stale snapshot and must conflict.
	run(t, c, sidA, `MATCH (p:Person {name:'Alice'}) SET p.age = 32`)
	_, err = c.Process(`COMMIT`, sidA)
	require.Error(t, err)
	assert.Equal(t, errors.Conflict, errors.KindOf(err))

	res := run(t, c, sidB, `MATCH (p:Person {name:'Alice'}) RETURN p.age`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(31), res.Rows[0]["p.age"].AsInt())
}

func TestScenarioMultiHopPattern(t *testing.T) {
	c, sid := openTestDB(t)
	runAll(t, c, sid,
		`CREATE SCHEMA /demo`,
		`CREATE GRAPH /demo/g`,
		`SESSION SET GRAPH /demo/g`,
		`INSERT (:Person {name:'Alice'})-[:KNOWS]->(:Person {name:'Bob'})-[:KNOWS]->(:Person {name:'Carol'})`,
	)

	res := run(t, c, sid, `MATCH (a:Person {name:'Alice'})-[:KNOWS]->()-[:KNOWS]->(c) RETURN c.name`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Carol", res.Rows[0]["c.name"].AsString())
}

func TestScenarioDuplicateInsertNotice(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)

	insertEdge := `MATCH (a:Person {name:'Alice'}), (b:Person {name:'Bob'}) INSERT (a)-[:KNOWS {since:2020}]->(b)`
	first := run(t, c, sid, insertEdge)
	assert.Empty(t, first.Warnings)

	second := run(t, c, sid, insertEdge)
	require.Len(t, second.Warnings, 1)
	assert.Equal(t, "DuplicateEdge", second.Warnings[0].Code)

	// Edges are a multiset: both copies are stored.
	res := run(t, c, sid, `MATCH (a:Person {name:'Alice'})-[k:KNOWS]->(b) RETURN b.name`)
	assert.Len(t, res.Rows, 2)
}

func TestScenarioWALDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	coord, err := Open(dir)
	require.NoError(t, err)
	sid, err := coord.CreateSession("admin", "")
	require.NoError(t, err)
	runAll(t, coord, sid,
		`CREATE SCHEMA /demo`,
		`CREATE GRAPH /demo/g`,
		`SESSION SET GRAPH /demo/g`,
		`INSERT (:Person {name:'Alice', age:30})`,
	)
	require.NoError(t, coord.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	sid2, err := reopened.CreateSession("admin", "")
	require.NoError(t, err)
	run(t, reopened, sid2, `SESSION SET GRAPH /demo/g`)
	res := run(t, reopened, sid2, `MATCH (p:Person) RETURN p.name`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Alice", res.Rows[0]["p.name"].AsString())
}

func TestScenarioDeleteCascadesEdges(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)
	run(t, c, sid, `MATCH (a:Person {name:'Alice'}), (b:Person {name:'Bob'}) INSERT (a)-[:KNOWS]->(b)`)

	run(t, c, sid, `MATCH (p:Person {name:'Bob'}) DELETE p`)

	res := run(t, c, sid, `MATCH (a:Person {name:'Alice'})-[:KNOWS]->(x) RETURN x`)
	assert.Empty(t, res.Rows, "edges to a deleted node must not survive")
}
