package planner

import (
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/types"
)

// Rule is one logical rewrite. Apply returns the (possibly replaced) node and
// whether anything changed. Rules run in fixed order to a fixed point.
type Rule interface {
	Name() string
	Apply(n *LogicalNode) (*LogicalNode, bool)
}

// logicalRules is the fixed rule order.
var logicalRules = []Rule{
	constantFolding{},
	predicatePushdown{},
	projectionPruning{},
	duplicateElimination{},
}

const maxOptimizePasses = 16

// Optimize rewrites the plan to a fixed point.
func Optimize(root *LogicalNode) *LogicalNode {
	for pass := 0; pass < maxOptimizePasses; pass++ {
		changed := false
		for _, rule := range logicalRules {
			var c bool
			root, c = applyEverywhere(root, rule)
			changed = changed || c
		}
		if !changed {
			break
		}
	}
	return root
}

// applyEverywhere applies rule bottom-up across the whole tree.
func applyEverywhere(n *LogicalNode, rule Rule) (*LogicalNode, bool) {
	changed := false
	for i, in := range n.Inputs {
		rewritten, c := applyEverywhere(in, rule)
		n.Inputs[i] = rewritten
		changed = changed || c
	}
	out, c := rule.Apply(n)
	return out, changed || c
}

// --- constant folding and predicate simplification ---

type constantFolding struct{}

func (constantFolding) Name() string { return "constant-folding" }

func (constantFolding) Apply(n *LogicalNode) (*LogicalNode, bool) {
	if n.Kind != KindFilter || n.Predicate == nil {
		return n, false
	}
	folded, changed := foldExpr(n.Predicate)
	n.Predicate = folded
	// Filter(TRUE) disappears entirely.
	if lit, ok := folded.(*lang.Literal); ok && lit.Value.Kind() == types.KindBool && lit.Value.AsBool() {
		return n.Inputs[0], true
	}
	return n, changed
}

func foldExpr(e Expr) (Expr, bool) {
	switch x := e.(type) {
	case *lang.BinaryExpr:
		left, lc := foldExpr(x.Left)
		right, rc := foldExpr(x.Right)
		x.Left, x.Right = left, right
		changed := lc || rc
		switch x.Op {
		case "AND":
			if b, ok := boolLiteral(left); ok {
				if b {
					return right, true // TRUE AND y -> y
				}
				return falseLit(), true
			}
			if b, ok := boolLiteral(right); ok {
				if b {
					return left, true // x AND TRUE -> x
				}
				return falseLit(), true
			}
		case "OR":
			if b, ok := boolLiteral(left); ok {
				if b {
					return trueLit(), true
				}
				return right, true
			}
			if b, ok := boolLiteral(right); ok {
				if b {
					return trueLit(), true
				}
				return left, true
			}
		}
		return x, changed
	case *lang.UnaryExpr:
		operand, c := foldExpr(x.Operand)
		x.Operand = operand
		if x.Op == "NOT" {
			if b, ok := boolLiteral(operand); ok {
				if b {
					return falseLit(), true
				}
				return trueLit(), true
			}
		}
		return x, c
	default:
		return e, false
	}
}

func boolLiteral(e Expr) (bool, bool) {
	lit, ok := e.(*lang.Literal)
	if !ok || lit.Value.Kind() != types.KindBool {
		return false, false
	}
	return lit.Value.AsBool(), true
}

func trueLit() Expr  { return &lang.Literal{Value: types.Bool(true)} }
func falseLit() Expr { return &lang.Literal{Value: types.Bool(false)} }

// --- predicate pushdown ---

type predicatePushdown struct{}

func (predicatePushdown) Name() string { return "predicate-pushdown" }

// Apply pushes a Filter below its child when every variable the predicate
// references is already bound below, preserving correlation safety.
func (predicatePushdown) Apply(n *LogicalNode) (*LogicalNode, bool) {
	if n.Kind != KindFilter || len(n.Inputs) != 1 {
		return n, false
	}
	child := n.Inputs[0]
	refs := map[string]bool{}
	walkExpr(n.Predicate, func(e Expr) {
		if id, ok := e.(*lang.Identifier); ok {
			refs[id.Name] = true
		}
	})

	switch child.Kind {
	case KindExpand:
		// Safe when the predicate does not touch what the Expand binds.
		if refs[child.ToVar] || (child.EdgeVar != "" && refs[child.EdgeVar]) {
			return n, false
		}
		grand := child.Inputs[0]
		n.Inputs[0] = grand
		n.Schema = grand.Schema
		child.Inputs[0] = n
		return child, true
	case KindJoin:
		left, right := child.Inputs[0], child.Inputs[1]
		if schemaCovers(left.Schema, refs) {
			n.Inputs[0] = left
			n.Schema = left.Schema
			child.Inputs[0] = n
			return child, true
		}
		if schemaCovers(right.Schema, refs) {
			n.Inputs[0] = right
			n.Schema = right.Schema
			child.Inputs[1] = n
			return child, true
		}
	case KindProject:
		// Only through pass-through projections: every referenced name must
		// be a plain identifier projected under its own name.
		for _, p := range child.Projections {
			id, ok := p.Expr.(*lang.Identifier)
			if !ok || (p.Alias != "" && p.Alias != id.Name) {
				return n, false
			}
		}
		if !schemaCovers(child.Inputs[0].Schema, refs) {
			return n, false
		}
		grand := child.Inputs[0]
		n.Inputs[0] = grand
		n.Schema = grand.Schema
		child.Inputs[0] = n
		return child, true
	}
	return n, false
}

func schemaCovers(schema []BoundVar, refs map[string]bool) bool {
	have := map[string]bool{}
	for _, v := range schema {
		have[v.Name] = true
	}
	for r := range refs {
		if !have[r] {
			return false
		}
	}
	return true
}

// --- projection pruning ---

type projectionPruning struct{}

func (projectionPruning) Name() string { return "projection-pruning" }

// Apply drops variables nothing references downstream: an Expand's unused
// edge binding is cleared, and a Project stacked directly on another Project
// collapses to the outer one.
func (projectionPruning) Apply(n *LogicalNode) (*LogicalNode, bool) {
	changed := false
	if n.Kind == KindProject || n.Kind == KindAggregate {
		used := map[string]bool{}
		for _, p := range n.Projections {
			walkExpr(p.Expr, func(e Expr) {
				if id, ok := e.(*lang.Identifier); ok {
					used[id.Name] = true
				}
			})
		}
		for _, a := range n.Aggregates {
			walkExpr(a.Arg, func(e Expr) {
				if id, ok := e.(*lang.Identifier); ok {
					used[id.Name] = true
				}
			})
		}
		for _, g := range n.GroupKeys {
			walkExpr(g, func(e Expr) {
				if id, ok := e.(*lang.Identifier); ok {
					used[id.Name] = true
				}
			})
		}
		changed = pruneUnusedBindings(n.Inputs[0], used) || changed
	}
	if n.Kind == KindProject && len(n.Inputs) == 1 && n.Inputs[0].Kind == KindProject {
		inner := n.Inputs[0]
		// Collapse only when the outer references inner pass-throughs.
		passThrough := true
		for _, p := range inner.Projections {
			if _, ok := p.Expr.(*lang.Identifier); !ok {
				passThrough = false
				break
			}
		}
		if passThrough {
			n.Inputs[0] = inner.Inputs[0]
			changed = true
		}
	}
	return n, changed
}

// pruneUnusedBindings walks below a projection boundary clearing Expand edge
// variables nothing upstream referenced. It stops at the next projection-like
// boundary, which re-roots the used set.
func pruneUnusedBindings(n *LogicalNode, used map[string]bool) bool {
	changed := false
	switch n.Kind {
	case KindProject, KindAggregate, KindSetOp:
		return false
	case KindExpand:
		if n.EdgeVar != "" && !used[n.EdgeVar] && !referencedInTree(n, n.EdgeVar) {
			n.EdgeVar = ""
			changed = true
		}
	case KindFilter:
		walkExpr(n.Predicate, func(e Expr) {
			if id, ok := e.(*lang.Identifier); ok {
				used[id.Name] = true
			}
		})
	case KindOrder:
		for _, o := range n.OrderBy {
			walkExpr(o.Expr, func(e Expr) {
				if id, ok := e.(*lang.Identifier); ok {
					used[id.Name] = true
				}
			})
		}
	case KindDelete:
		for _, d := range n.DeleteTargets {
			walkExpr(d, func(e Expr) {
				if id, ok := e.(*lang.Identifier); ok {
					used[id.Name] = true
				}
			})
		}
	case KindSet:
		for _, s := range n.SetItems {
			used[s.TargetVar] = true
			walkExpr(s.Value, func(e Expr) {
				if id, ok := e.(*lang.Identifier); ok {
					used[id.Name] = true
				}
			})
		}
	}
	for _, in := range n.Inputs {
		changed = pruneUnusedBindings(in, used) || changed
	}
	return changed
}

// referencedInTree reports whether name appears in any predicate below n
// (filters that have not yet been pushed may still need the binding).
func referencedInTree(n *LogicalNode, name string) bool {
	found := false
	var visit func(*LogicalNode)
	visit = func(x *LogicalNode) {
		if found {
			return
		}
		check := func(e Expr) {
			walkExpr(e, func(sub Expr) {
				if id, ok := sub.(*lang.Identifier); ok && id.Name == name {
					found = true
				}
			})
		}
		if x.Predicate != nil {
			check(x.Predicate)
		}
		for _, p := range x.Projections {
			check(p.Expr)
		}
		for _, o := range x.OrderBy {
			check(o.Expr)
		}
		for _, in := range x.Inputs {
			visit(in)
		}
	}
	for _, in := range n.Inputs {
		visit(in)
	}
	return found
}

// --- duplicate-subtree elimination ---

type duplicateElimination struct{}

func (duplicateElimination) Name() string { return "duplicate-elimination" }

// Apply removes a Filter whose predicate is identical to its immediate
// child Filter's (the common artifact of pattern-predicate lowering plus a
// user-written WHERE repeating the same condition).
func (duplicateElimination) Apply(n *LogicalNode) (*LogicalNode, bool) {
	if n.Kind != KindFilter || len(n.Inputs) != 1 {
		return n, false
	}
	child := n.Inputs[0]
	if child.Kind == KindFilter && exprName(n.Predicate) == exprName(child.Predicate) {
		return child, true
	}
	return n, false
}
