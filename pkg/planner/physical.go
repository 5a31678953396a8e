package planner

import (
	"github.com/graphlite/graphlite/pkg/catalog"
	"github.com/graphlite/graphlite/pkg/config"
	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/types"
)

// PhysKind tags the closed physical operator set. Every logical operator
// maps to exactly one physical kind except Scan (label scan vs. full scan)
// and Join (cartesian product, ceiling-guarded).
type PhysKind int

const (
	PhysLabelScan PhysKind = iota
	PhysAllScan
	PhysExpand
	PhysFilter
	PhysProject
	PhysAggregate
	PhysOrder
	PhysSkip
	PhysLimit
	PhysDistinct
	PhysSetOp
	PhysCartesian
	PhysInsert
	PhysDelete
	PhysUpdate
	PhysCall
)

func (k PhysKind) String() string {
	switch k {
	case PhysLabelScan:
		return "LabelScan"
	case PhysAllScan:
		return "AllNodesScan"
	case PhysExpand:
		return "Expand"
	case PhysFilter:
		return "Filter"
	case PhysProject:
		return "Project"
	case PhysAggregate:
		return "Aggregate"
	case PhysOrder:
		return "Order"
	case PhysSkip:
		return "Skip"
	case PhysLimit:
		return "Limit"
	case PhysDistinct:
		return "Distinct"
	case PhysSetOp:
		return "SetOp"
	case PhysCartesian:
		return "CartesianProduct"
	case PhysInsert:
		return "Insert"
	case PhysDelete:
		return "Delete"
	case PhysUpdate:
		return "SetProperties"
	case PhysCall:
		return "Call"
	default:
		return "Unknown"
	}
}

// PhysicalNode is one node of the executable plan tree. It carries the union
// of operator parameters, the same closed-variant shape as LogicalNode.
type PhysicalNode struct {
	Kind   PhysKind
	Schema []BoundVar
	Inputs []*PhysicalNode

	Variable  string
	Label     string
	FromVar   string
	EdgeVar   string
	EdgeType  string
	Direction types.Direction
	ToVar     string

	Predicate   Expr
	Projections []ProjectItem
	GroupKeys   []Expr
	Aggregates  []AggregateItem
	SetOpKind   SetOpKind
	SetOpAll    bool
	OrderBy     []OrderItem
	Count       Expr

	InsertPatterns []InsertPattern
	DeleteTargets  []Expr
	SetItems       []SetAssignment

	Procedure string
	CallArgs  []Expr

	// EstRows is the planner's cardinality estimate, shown by EXPLAIN and
	// used for join ordering and the cartesian ceiling.
	EstRows int64

	// ScanLimit caps a scan when a LIMIT was pushed down (0 = unlimited).
	ScanLimit int64
}

const (
	defaultLabelCard = 100
	defaultGraphCard = 1000
	defaultFanout    = 3
)

// Lower turns an optimized logical plan into a physical plan: operator
// selection with cardinality estimates from catalog hints, Selinger-style
// left-deep join ordering, operator fusion, and limit pushdown.
func Lower(plan *Plan, stats *catalog.GraphStats, knobs config.Knobs) (*PhysicalNode, error) {
	root, err := lowerNode(plan.Root, stats, knobs)
	if err != nil {
		return nil, err
	}
	root = reorderExpansion(root, stats)
	root = fuseOperators(root)
	pushLimits(root)
	return root, nil
}

func lowerNode(n *LogicalNode, stats *catalog.GraphStats, knobs config.Knobs) (*PhysicalNode, error) {
	ins := make([]*PhysicalNode, len(n.Inputs))
	for i, in := range n.Inputs {
		p, err := lowerNode(in, stats, knobs)
		if err != nil {
			return nil, err
		}
		ins[i] = p
	}

	p := &PhysicalNode{
		Schema:         n.Schema,
		Inputs:         ins,
		Variable:       n.Variable,
		Label:          n.Label,
		FromVar:        n.FromVar,
		EdgeVar:        n.EdgeVar,
		EdgeType:       n.EdgeType,
		Direction:      n.Direction,
		ToVar:          n.ToVar,
		Predicate:      n.Predicate,
		Projections:    n.Projections,
		GroupKeys:      n.GroupKeys,
		Aggregates:     n.Aggregates,
		SetOpKind:      n.SetOpKind,
		SetOpAll:       n.SetOpAll,
		OrderBy:        n.OrderBy,
		Count:          n.Count,
		InsertPatterns: n.InsertPatterns,
		DeleteTargets:  n.DeleteTargets,
		SetItems:       n.SetItems,
		Procedure:      n.Procedure,
		CallArgs:       n.CallArgs,
	}

	switch n.Kind {
	case KindScan:
		if n.Label != "" {
			p.Kind = PhysLabelScan
			p.EstRows = labelCard(stats, n.Label)
		} else {
			p.Kind = PhysAllScan
			p.EstRows = graphCard(stats)
		}
	case KindExpand:
		p.Kind = PhysExpand
		p.EstRows = childEst(ins) * defaultFanout
	case KindFilter:
		p.Kind = PhysFilter
		p.EstRows = childEst(ins)/3 + 1
	case KindProject:
		p.Kind = PhysProject
		p.EstRows = childEst(ins)
	case KindAggregate:
		p.Kind = PhysAggregate
		p.EstRows = 1
		if len(n.GroupKeys) > 0 {
			p.EstRows = childEst(ins)/defaultFanout + 1
		}
	case KindJoin:
		p.Kind = PhysCartesian
		p.EstRows = ins[0].EstRows * ins[1].EstRows
		if p.EstRows > knobs.CartesianCeiling {
			return nil, errors.Newf(errors.Unplanned,
				"cartesian product of estimated %d rows exceeds the configured ceiling of %d", p.EstRows, knobs.CartesianCeiling)
		}
	case KindSetOp:
		p.Kind = PhysSetOp
		p.EstRows = ins[0].EstRows + ins[1].EstRows
	case KindOrder:
		p.Kind = PhysOrder
		p.EstRows = childEst(ins)
	case KindSkip:
		p.Kind = PhysSkip
		p.EstRows = childEst(ins)
	case KindLimit:
		p.Kind = PhysLimit
		p.EstRows = childEst(ins)
	case KindDistinct:
		p.Kind = PhysDistinct
		p.EstRows = childEst(ins)
	case KindInsert:
		p.Kind = PhysInsert
		p.EstRows = 1
	case KindDelete:
		p.Kind = PhysDelete
		p.EstRows = childEst(ins)
	case KindSet:
		p.Kind = PhysUpdate
		p.EstRows = childEst(ins)
	case KindCall:
		p.Kind = PhysCall
		p.EstRows = defaultLabelCard
	default:
		return nil, errors.Newf(errors.Internal, "logical kind %d has no physical lowering", n.Kind)
	}
	return p, nil
}

func childEst(ins []*PhysicalNode) int64 {
	if len(ins) == 0 {
		return 1
	}
	return ins[0].EstRows
}

func labelCard(stats *catalog.GraphStats, label string) int64 {
	if stats != nil {
		if n, ok := stats.LabelCounts[label]; ok && n > 0 {
			return n
		}
	}
	return defaultLabelCard
}

func graphCard(stats *catalog.GraphStats) int64 {
	if stats != nil && stats.NodeCount > 0 {
		return stats.NodeCount
	}
	return defaultGraphCard
}

// fuseOperators collapses adjacent filter/filter and filter-into-project
// pairs into single operators.
func fuseOperators(n *PhysicalNode) *PhysicalNode {
	for i, in := range n.Inputs {
		n.Inputs[i] = fuseOperators(in)
	}
	if len(n.Inputs) != 1 {
		return n
	}
	child := n.Inputs[0]
	switch {
	case n.Kind == PhysFilter && child.Kind == PhysFilter:
		child.Predicate = &lang.BinaryExpr{Op: "AND", Left: child.Predicate, Right: n.Predicate}
		return child
	case n.Kind == PhysProject && n.Predicate == nil && child.Kind == PhysFilter:
		n.Predicate = child.Predicate
		n.Inputs[0] = child.Inputs[0]
		return n
	}
	return n
}

// pushLimits pushes a LIMIT with a literal count into an order-compatible
// scan below it (nothing between the Limit and the scan may reorder, filter,
// or multiply rows).
func pushLimits(n *PhysicalNode) {
	for _, in := range n.Inputs {
		pushLimits(in)
	}
	if n.Kind != PhysLimit {
		return
	}
	lit, ok := n.Count.(*lang.Literal)
	if !ok || lit.Value.Kind() != types.KindInt {
		return
	}
	limit := lit.Value.AsInt()
	cur := n.Inputs[0]
	for {
		switch cur.Kind {
		case PhysProject:
			if cur.Predicate != nil {
				return
			}
			cur = cur.Inputs[0]
		case PhysLabelScan, PhysAllScan:
			if cur.ScanLimit == 0 || limit < cur.ScanLimit {
				cur.ScanLimit = limit
			}
			return
		default:
			return
		}
	}
}
