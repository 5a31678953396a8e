package planner

import (
	"sort"

	"github.com/graphlite/graphlite/pkg/catalog"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/types"
)

// reorderExpansion minimizes intermediate row count over the expansion
// graph. Two rewrites, both Selinger-style left-deep:
//
//  1. Cartesian trees over comma-separated patterns are re-ordered so the
//     cheapest pattern drives (left-deep, ascending estimated cardinality).
//  2. A single-hop chain driving off an unlabeled full scan is reversed when
//     its far end is label-constrained, turning AllNodesScan -> Expand ->
//     Filter(hasLabel) into LabelScan -> reverse Expand.
func reorderExpansion(n *PhysicalNode, stats *catalog.GraphStats) *PhysicalNode {
	for i, in := range n.Inputs {
		n.Inputs[i] = reorderExpansion(in, stats)
	}
	if n.Kind == PhysCartesian {
		reorderCartesian(n)
	}
	if reversed := reverseChain(n, stats); reversed != nil {
		return reversed
	}
	return n
}

// reorderCartesian flattens a left-deep cartesian tree and rebuilds it with
// inputs sorted by ascending estimate, cheapest driving.
func reorderCartesian(n *PhysicalNode) {
	var leaves []*PhysicalNode
	var flatten func(x *PhysicalNode)
	flatten = func(x *PhysicalNode) {
		if x.Kind == PhysCartesian {
			flatten(x.Inputs[0])
			flatten(x.Inputs[1])
			return
		}
		leaves = append(leaves, x)
	}
	flatten(n)
	if len(leaves) < 2 {
		return
	}
	sort.SliceStable(leaves, func(i, j int) bool { return leaves[i].EstRows < leaves[j].EstRows })

	cur := leaves[0]
	for i := 1; i < len(leaves)-1; i++ {
		cur = &PhysicalNode{
			Kind:    PhysCartesian,
			Inputs:  []*PhysicalNode{cur, leaves[i]},
			Schema:  append(append([]BoundVar{}, cur.Schema...), leaves[i].Schema...),
			EstRows: cur.EstRows * leaves[i].EstRows,
		}
	}
	last := leaves[len(leaves)-1]
	n.Inputs = []*PhysicalNode{cur, last}
	n.EstRows = cur.EstRows * last.EstRows
}

// reverseChain rewrites Filter(hasLabel(to, L)) over Expand over AllNodesScan
// into the reverse expansion driven by a LabelScan on L, when that scan is
// estimated cheaper than the full scan.
func reverseChain(n *PhysicalNode, stats *catalog.GraphStats) *PhysicalNode {
	if n.Kind != PhysFilter || len(n.Inputs) != 1 {
		return nil
	}
	expand := n.Inputs[0]
	if expand.Kind != PhysExpand || len(expand.Inputs) != 1 || expand.Inputs[0].Kind != PhysAllScan {
		return nil
	}
	scan := expand.Inputs[0]
	label, ok := hasLabelPredicate(n.Predicate, expand.ToVar)
	if !ok {
		return nil
	}
	labelEst := labelCard(stats, label)
	if labelEst >= scan.EstRows {
		return nil
	}

	newScan := &PhysicalNode{
		Kind:     PhysLabelScan,
		Variable: expand.ToVar,
		Label:    label,
		Schema:   []BoundVar{{Name: expand.ToVar}},
		EstRows:  labelEst,
	}
	return &PhysicalNode{
		Kind:      PhysExpand,
		FromVar:   expand.ToVar,
		EdgeVar:   expand.EdgeVar,
		EdgeType:  expand.EdgeType,
		Direction: flipDirection(expand.Direction),
		ToVar:     expand.FromVar,
		Inputs:    []*PhysicalNode{newScan},
		Schema:    n.Schema,
		EstRows:   labelEst * defaultFanout,
	}
}

func flipDirection(d types.Direction) types.Direction {
	switch d {
	case types.DirOutgoing:
		return types.DirIncoming
	case types.DirIncoming:
		return types.DirOutgoing
	default:
		return types.DirBoth
	}
}

// hasLabelPredicate matches the hasLabel(variable, 'Label') shape the
// builder emits for label constraints on expanded-to nodes.
func hasLabelPredicate(e Expr, variable string) (string, bool) {
	fc, ok := e.(*lang.FunctionCall)
	if !ok || fc.Name != "hasLabel" || len(fc.Args) != 2 {
		return "", false
	}
	id, ok := fc.Args[0].(*lang.Identifier)
	if !ok || id.Name != variable {
		return "", false
	}
	lit, ok := fc.Args[1].(*lang.Literal)
	if !ok || lit.Value.Kind() != types.KindString {
		return "", false
	}
	return lit.Value.AsString(), true
}
