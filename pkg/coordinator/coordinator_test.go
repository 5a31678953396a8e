package coordinator

import (
	"strings"
	"testing"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMatchesProcessParseVerdict(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)

	queries := []string{
		`MATCH (p:Person) RETURN p.name`,
		`INSERT (:Person {name:'Eve'})`,
		`MATCH (p:Person RETURN p`, // malformed
		`CREATE SCHEMA`,            // malformed
		`MATCH (p:Person) RETURN`,  // malformed
	}
	for _, q := range queries {
		validateErr := c.Validate(q)
		_, processErr := c.Process(q, sid)
		if validateErr == nil {
			assert.NotEqual(t, errors.Parse, errors.KindOf(processErr), "process must not raise a parse error where validate passed: %s", q)
		} else {
			require.Error(t, processErr, "process must fail where validate failed: %s", q)
			assert.Equal(t, errors.Parse, errors.KindOf(processErr), q)
		}
	}
}

func TestAnalyzeClassification(t *testing.T) {
	c, _ := openTestDB(t)

	cases := []struct {
		query    string
		kind     StatementKind
		readOnly bool
	}{
		{`CREATE SCHEMA /x`, KindDDL, false},
		{`DROP GRAPH /x/g`, KindDDL, false},
		{`CREATE USER bob PASSWORD 'pw'`, KindAdmin, false},
		{`INSERT (:Person {name:'A'})`, KindDML, false},
		{`MATCH (p:Person) SET p.age = 1`, KindDML, false},
		{`MATCH (p:Person) DELETE p`, KindDML, false},
		{`MATCH (p:Person) RETURN p`, KindSelect, true},
		{`CALL schemas`, KindSelect, true},
	}
	for _, tc := range cases {
		a, err := c.Analyze(tc.query)
		require.NoError(t, err, tc.query)
		assert.Equal(t, tc.kind, a.Kind, tc.query)
		assert.Equal(t, tc.readOnly, a.ReadOnly, tc.query)
	}
}

func TestExplainReturnsPlanText(t *testing.T) {
	c, _ := openTestDB(t)
	text, err := c.Explain(`MATCH (p:Person) WHERE p.age > 21 RETURN p.name LIMIT 3`)
	require.NoError(t, err)
	assert.Contains(t, text, "LabelScan")
	assert.Contains(t, text, "Limit")
}

func TestNoCurrentGraphRejected(t *testing.T) {
	c, sid := openTestDB(t)
	_, err := c.Process(`INSERT (:Person {name:'A'})`, sid)
	require.Error(t, err)
	assert.Equal(t, errors.NoCurrentGraph, errors.KindOf(err))
}

func TestDDLInsideTransactionRejected(t *testing.T) {
	c, sid := openTestDB(t)
	run(t, c, sid, `BEGIN`)
	_, err := c.Process(`CREATE SCHEMA /x`, sid)
	require.Error(t, err)
	assert.Equal(t, errors.DDLInTransaction, errors.KindOf(err))
	run(t, c, sid, `ROLLBACK`)
}

func TestAuthenticationFailures(t *testing.T) {
	c, sid := openTestDB(t)
	run(t, c, sid, `CREATE USER eve PASSWORD 'secret'`)

	_, err := c.CreateSession("eve", "wrong")
	require.Error(t, err)
	assert.Equal(t, errors.AuthFailed, errors.KindOf(err))

	_, err = c.CreateSession("nobody", "x")
	require.Error(t, err)
	assert.Equal(t, errors.AuthFailed, errors.KindOf(err))
}

func TestPermissionDeniedWithoutGrant(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)
	run(t, c, sid, `CREATE USER eve PASSWORD 'secret'`)

	eveSID, err := c.CreateSession("eve", "secret")
	require.NoError(t, err)
	run(t, c, eveSID, `SESSION SET GRAPH /demo/g`)

	_, err = c.Process(`MATCH (p:Person) RETURN p`, eveSID)
	require.Error(t, err)
	assert.Equal(t, errors.Permission, errors.KindOf(err))

	// Granting READ through a role makes the same query pass.
	run(t, c, sid, `GRANT READ ON graph TO reader`)
	require.NoError(t, c.catalog.AssignRole("eve", "reader"))

	// Re-authenticate so the session user reflects the new role set.
	eveSID2, err := c.CreateSession("eve", "secret")
	require.NoError(t, err)
	run(t, c, eveSID2, `SESSION SET GRAPH /demo/g`)
	_, err = c.Process(`MATCH (p:Person) RETURN p`, eveSID2)
	assert.NoError(t, err)
}

func TestCloseSessionRollsBackTransaction(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)

	other, err := c.CreateSession("admin", "")
	require.NoError(t, err)
	run(t, c, other, `SESSION SET GRAPH /demo/g`)
	runAll(t, c, other, `BEGIN`, `INSERT (:Person {name:'Ghost'})`)
	require.NoError(t, c.CloseSession(other))

	res := run(t, c, sid, `MATCH (p:Person {name:'Ghost'}) RETURN p`)
	assert.Empty(t, res.Rows)
}

func TestVersionString(t *testing.T) {
	c, _ := openTestDB(t)
	assert.True(t, strings.HasPrefix(c.Version(), "GraphLite "))
}

func TestCallProcedures(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)

	res := run(t, c, sid, `CALL schemas`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "/demo", res.Rows[0]["schema"].AsString())

	res = run(t, c, sid, `CALL labels`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Person", res.Rows[0]["label"].AsString())
}

func TestUnionDistinctAndAll(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)

	res := run(t, c, sid, `MATCH (p:Person {name:'Alice'}) RETURN p.name UNION MATCH (q:Person {name:'Alice'}) RETURN q.name`)
	assert.Len(t, res.Rows, 1, "UNION must deduplicate structurally equal projected rows")

	res = run(t, c, sid, `MATCH (p:Person {name:'Alice'}) RETURN p.name UNION ALL MATCH (q:Person {name:'Alice'}) RETURN q.name`)
	assert.Len(t, res.Rows, 2, "UNION ALL must preserve multiplicity")
}

func TestWithBindingFeedsNextStatement(t *testing.T) {
	c, sid := openTestDB(t)
	seedDemoGraph(t, c, sid)

	res := run(t, c, sid, `WITH 26 AS cutoff MATCH (p:Person) WHERE p.age > cutoff RETURN p.name`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Alice", res.Rows[0]["p.name"].AsString())
}
