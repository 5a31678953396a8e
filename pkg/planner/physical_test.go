package planner

import (
	"strings"
	"testing"

	"github.com/graphlite/graphlite/pkg/catalog"
	"github.com/graphlite/graphlite/pkg/config"
	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLower(t *testing.T, src string, stats *catalog.GraphStats) *PhysicalNode {
	t.Helper()
	plan := mustBuild(t, src)
	plan.Root = Optimize(plan.Root)
	phys, err := Lower(plan, stats, config.Default())
	require.NoError(t, err)
	return phys
}

func TestLowerPicksLabelScan(t *testing.T) {
	stats := &catalog.GraphStats{NodeCount: 1000, LabelCounts: map[string]int64{"Person": 50}}
	phys := mustLower(t, `MATCH (p:Person) RETURN p.name`, stats)

	scan := phys
	for len(scan.Inputs) > 0 {
		scan = scan.Inputs[0]
	}
	require.Equal(t, PhysLabelScan, scan.Kind)
	assert.Equal(t, int64(50), scan.EstRows, "label scan estimate must come from catalog hints")
}

func TestLowerCartesianCeiling(t *testing.T) {
	plan := mustBuild(t, `MATCH (a:Person), (b:Person) RETURN a.name, b.name`)
	plan.Root = Optimize(plan.Root)

	stats := &catalog.GraphStats{LabelCounts: map[string]int64{"Person": 2000}}
	knobs := config.Default()
	knobs.CartesianCeiling = 1_000_000 // 2000*2000 = 4M exceeds it

	_, err := Lower(plan, stats, knobs)
	require.Error(t, err)
	assert.Equal(t, errors.Unplanned, errors.KindOf(err))
}

func TestFilterFusesIntoProject(t *testing.T) {
	phys := mustLower(t, `MATCH (p:Person) WHERE p.age > 21 RETURN p.name`, nil)
	require.Equal(t, PhysProject, phys.Kind)
	assert.NotNil(t, phys.Predicate, "the trailing filter should fuse into the projection")
	require.Len(t, phys.Inputs, 1)
	assert.Equal(t, PhysLabelScan, phys.Inputs[0].Kind)
}

func TestLimitPushdownIntoScan(t *testing.T) {
	phys := mustLower(t, `MATCH (p:Person) RETURN p LIMIT 5`, nil)
	scan := phys
	for len(scan.Inputs) > 0 {
		scan = scan.Inputs[0]
	}
	assert.Equal(t, int64(5), scan.ScanLimit)
}

func TestLimitNotPushedPastFilter(t *testing.T) {
	phys := mustLower(t, `MATCH (p:Person) WHERE p.age > 21 RETURN p LIMIT 5`, nil)
	scan := phys
	for len(scan.Inputs) > 0 {
		scan = scan.Inputs[0]
	}
	assert.Zero(t, scan.ScanLimit, "a limit must not skip rows the filter would have dropped")
}

func TestConstantFoldingRemovesTrueFilter(t *testing.T) {
	phys := mustLower(t, `MATCH (p:Person) WHERE TRUE RETURN p.name`, nil)
	require.Equal(t, PhysProject, phys.Kind)
	assert.Nil(t, phys.Predicate)
	assert.Equal(t, PhysLabelScan, phys.Inputs[0].Kind)
}

func TestConstantFoldingSimplifiesAndTrue(t *testing.T) {
	plan := mustBuild(t, `MATCH (p:Person) WHERE p.age > 21 AND TRUE RETURN p.name`)
	plan.Root = Optimize(plan.Root)

	filter := plan.Root.Inputs[0]
	require.Equal(t, KindFilter, filter.Kind)
	bin, ok := filter.Predicate.(*lang.BinaryExpr)
	require.True(t, ok, "x AND TRUE must fold to x")
	assert.Equal(t, ">", bin.Op)
}

func TestDuplicateFilterEliminated(t *testing.T) {
	plan := mustBuild(t, `MATCH (p:Person {name:'Alice'}) WHERE p.name = 'Alice' RETURN p`)
	plan.Root = Optimize(plan.Root)

	count := 0
	var walk func(n *LogicalNode)
	walk = func(n *LogicalNode) {
		if n.Kind == KindFilter {
			count++
		}
		for _, in := range n.Inputs {
			walk(in)
		}
	}
	walk(plan.Root)
	assert.Equal(t, 1, count, "the shorthand filter and the identical WHERE must collapse")
}

func TestReverseChainDrivesFromCheapLabel(t *testing.T) {
	stats := &catalog.GraphStats{NodeCount: 10_000, LabelCounts: map[string]int64{"Company": 10}}
	phys := mustLower(t, `MATCH (p)-[:WORKS_AT]->(c:Company) RETURN p`, stats)

	scan := phys
	for len(scan.Inputs) > 0 {
		scan = scan.Inputs[0]
	}
	require.Equal(t, PhysLabelScan, scan.Kind, "expansion should be reversed to drive off the selective label")
	assert.Equal(t, "Company", scan.Label)
}

func TestExplainRendersOperatorTree(t *testing.T) {
	phys := mustLower(t, `MATCH (p:Person) WHERE p.age > 21 RETURN p.name ORDER BY p.name LIMIT 3`, nil)
	text := Explain(phys)
	assert.True(t, strings.Contains(text, "LabelScan"))
	assert.True(t, strings.Contains(text, "Order"))
	assert.True(t, strings.Contains(text, "Limit"))
	assert.True(t, strings.Contains(text, "rows~"))
}
