package planner

import (
	"fmt"
	"strings"

	"github.com/graphlite/graphlite/pkg/types"
)

// Explain renders a physical plan as the indented operator tree returned by
// coordinator.Explain.
func Explain(root *PhysicalNode) string {
	var sb strings.Builder
	explainNode(&sb, root, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func explainNode(sb *strings.Builder, n *PhysicalNode, depth int) {
	indent := strings.Repeat("  ", depth)
	sb.WriteString(indent)
	sb.WriteString(n.Kind.String())
	if detail := nodeDetail(n); detail != "" {
		sb.WriteString("(" + detail + ")")
	}
	fmt.Fprintf(sb, " [rows~%d]\n", n.EstRows)
	for _, in := range n.Inputs {
		explainNode(sb, in, depth+1)
	}
}

func nodeDetail(n *PhysicalNode) string {
	switch n.Kind {
	case PhysLabelScan:
		s := n.Variable + ":" + n.Label
		if n.ScanLimit > 0 {
			s += fmt.Sprintf(", limit %d", n.ScanLimit)
		}
		return s
	case PhysAllScan:
		s := n.Variable
		if n.ScanLimit > 0 {
			s += fmt.Sprintf(", limit %d", n.ScanLimit)
		}
		return s
	case PhysExpand:
		arrow := "-[" + n.EdgeType + "]->"
		if n.Direction == types.DirIncoming {
			arrow = "<-[" + n.EdgeType + "]-"
		}
		return n.FromVar + arrow + n.ToVar
	case PhysFilter:
		return exprName(n.Predicate)
	case PhysProject:
		names := make([]string, len(n.Projections))
		for i, p := range n.Projections {
			names[i] = p.Alias
		}
		s := strings.Join(names, ", ")
		if n.Predicate != nil {
			s += " where " + exprName(n.Predicate)
		}
		return s
	case PhysAggregate:
		names := make([]string, 0, len(n.Aggregates))
		for _, a := range n.Aggregates {
			names = append(names, a.Alias)
		}
		return strings.Join(names, ", ")
	case PhysOrder:
		names := make([]string, len(n.OrderBy))
		for i, o := range n.OrderBy {
			names[i] = exprName(o.Expr)
			if o.Descending {
				names[i] += " DESC"
			}
		}
		return strings.Join(names, ", ")
	case PhysSetOp:
		kinds := map[SetOpKind]string{SetOpUnion: "UNION", SetOpIntersect: "INTERSECT", SetOpExcept: "EXCEPT"}
		s := kinds[n.SetOpKind]
		if n.SetOpAll {
			s += " ALL"
		}
		return s
	case PhysCall:
		return n.Procedure
	case PhysSkip, PhysLimit:
		return exprName(n.Count)
	default:
		return ""
	}
}
