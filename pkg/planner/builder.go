package planner

import (
	"fmt"
	"strings"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/types"
)

// BindItem is a statement-level constant binding introduced by LET or a
// leading WITH; the executor injects these into its evaluation environment
// before the plan runs.
type BindItem struct {
	Name  string
	Value Expr
}

// Plan is the builder's output: a logical operator tree plus any
// statement-level bindings.
type Plan struct {
	Root     *LogicalNode
	Bindings []BindItem
}

// aggregateFuncs is the closed set recognized in RETURN items.
var aggregateFuncs = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true, "collect": true,
}

// Build lowers a parsed statement to a logical plan, validating variable
// references along the way. DDL and session statements do not reach here;
// the coordinator dispatches them directly against the catalog.
func Build(stmt lang.Statement) (*Plan, error) {
	b := &builder{}
	root, err := b.buildStatement(stmt)
	if err != nil {
		return nil, err
	}
	return &Plan{Root: root, Bindings: b.bindings}, nil
}

type builder struct {
	bindings []BindItem
	anonSeq  int
}

// anonVar names an anonymous pattern node so Expand operators can chain
// through it; the name is unreferencable from user expressions by
// convention.
func (b *builder) anonVar() string {
	b.anonSeq++
	return fmt.Sprintf("_anon%d", b.anonSeq)
}

// nameAnonymousNodes gives every variable-less pattern node a synthetic
// variable; multi-hop expansion needs each intermediate node bound. Edges
// only need one when a property filter will reference them.
func (b *builder) nameAnonymousNodes(patterns []*lang.Pattern) {
	for _, pat := range patterns {
		for _, el := range pat.Elements {
			if el.Node != nil && el.Node.Variable == "" {
				el.Node.Variable = b.anonVar()
			}
			if el.Edge != nil && el.Edge.Variable == "" && len(el.Edge.Properties) > 0 {
				el.Edge.Variable = b.anonVar()
			}
		}
	}
}

func (b *builder) buildStatement(stmt lang.Statement) (*LogicalNode, error) {
	switch s := stmt.(type) {
	case *lang.MatchStmt:
		return b.buildMatchChain(s)
	case *lang.InsertStmt:
		return b.buildInsert(s)
	case *lang.CallStmt:
		return &LogicalNode{Kind: KindCall, Procedure: s.Procedure, CallArgs: s.Args}, nil
	case *lang.LetStmt:
		b.bindings = append(b.bindings, BindItem{Name: s.Variable, Value: s.Value})
		return b.buildStatement(s.Next)
	case *lang.WithStmt:
		for _, item := range s.Items {
			if item.Alias == "" {
				return nil, errors.New(errors.Validation, "WITH items at statement start must carry an AS alias")
			}
			b.bindings = append(b.bindings, BindItem{Name: item.Alias, Value: item.Expr})
		}
		return b.buildStatement(s.Next)
	default:
		return nil, errors.Newf(errors.Internal, "statement %T does not lower to a plan", stmt)
	}
}

// buildMatchChain builds the plan for a MATCH statement and any
// UNION/INTERSECT/EXCEPT chain hanging off it. Set operands combine at the
// projected-row level, so each side must end in a RETURN of the same width.
func (b *builder) buildMatchChain(stmt *lang.MatchStmt) (*LogicalNode, error) {
	left, err := b.buildMatch(stmt)
	if err != nil {
		return nil, err
	}
	if stmt.Combinator == nil {
		return left, nil
	}
	right, err := b.buildMatchChain(stmt.Combinator.Right)
	if err != nil {
		return nil, err
	}
	if len(left.Schema) != len(right.Schema) {
		return nil, errors.Newf(errors.Validation,
			"set operands return %d and %d columns; widths must match", len(left.Schema), len(right.Schema))
	}
	return &LogicalNode{
		Kind:      KindSetOp,
		SetOpKind: SetOpKind(stmt.Combinator.Kind),
		SetOpAll:  stmt.Combinator.All,
		Inputs:    []*LogicalNode{left, right},
		Schema:    left.Schema,
	}, nil
}

func (b *builder) buildMatch(stmt *lang.MatchStmt) (*LogicalNode, error) {
	b.nameAnonymousNodes(stmt.Patterns)
	plan, bound, err := b.buildPatterns(stmt.Patterns)
	if err != nil {
		return nil, err
	}

	if stmt.Where != nil {
		if err := checkReferences(stmt.Where, bound); err != nil {
			return nil, err
		}
		plan = &LogicalNode{Kind: KindFilter, Predicate: stmt.Where, Inputs: []*LogicalNode{plan}, Schema: plan.Schema}
	}

	orderedBelow := false
	switch {
	case stmt.Return != nil:
		// ORDER BY expressions referencing pattern variables must be
		// evaluated before projection drops those bindings; ORDER BY over
		// output aliases (and everything aggregate) sorts the projected rows.
		if len(stmt.OrderBy) > 0 && !orderUsesOutputs(stmt.Return, stmt.OrderBy) && !returnAggregates(stmt.Return) {
			plan = orderNode(plan, stmt.OrderBy)
			orderedBelow = true
		}
		plan, err = b.buildReturn(plan, stmt.Return, bound)
		if err != nil {
			return nil, err
		}
	case len(stmt.Delete) > 0:
		for _, d := range stmt.Delete {
			if err := checkReferences(d, bound); err != nil {
				return nil, err
			}
		}
		plan = &LogicalNode{Kind: KindDelete, DeleteTargets: stmt.Delete, Inputs: []*LogicalNode{plan}}
	case len(stmt.SetOps) > 0:
		items, err := lowerSetItems(stmt.SetOps, bound)
		if err != nil {
			return nil, err
		}
		plan = &LogicalNode{Kind: KindSet, SetItems: items, Inputs: []*LogicalNode{plan}}
	case len(stmt.Insert) > 0:
		patterns, err := b.lowerInsertPatterns(stmt.Insert, bound)
		if err != nil {
			return nil, err
		}
		plan = &LogicalNode{Kind: KindInsert, InsertPatterns: patterns, Inputs: []*LogicalNode{plan}}
	default:
		return nil, errors.New(errors.Validation, "MATCH must end in RETURN, DELETE, SET, or INSERT")
	}

	if len(stmt.OrderBy) > 0 && !orderedBelow {
		plan = orderNode(plan, stmt.OrderBy)
	}
	if stmt.Skip != nil {
		plan = &LogicalNode{Kind: KindSkip, Count: stmt.Skip, Inputs: []*LogicalNode{plan}, Schema: plan.Schema}
	}
	if stmt.Limit != nil {
		plan = &LogicalNode{Kind: KindLimit, Count: stmt.Limit, Inputs: []*LogicalNode{plan}, Schema: plan.Schema}
	}
	return plan, nil
}

// buildPatterns lowers each comma-separated pattern to a Scan+Expand chain
// and joins multiple patterns with a cross join (filtered later by WHERE).
func (b *builder) buildPatterns(patterns []*lang.Pattern) (*LogicalNode, map[string]bool, error) {
	bound := map[string]bool{}
	for _, n := range b.bindings {
		bound[n.Name] = true
	}
	var plan *LogicalNode
	for _, pat := range patterns {
		sub, err := b.buildPattern(pat, bound)
		if err != nil {
			return nil, nil, err
		}
		if plan == nil {
			plan = sub
			continue
		}
		schema := append(append([]BoundVar{}, plan.Schema...), sub.Schema...)
		plan = &LogicalNode{Kind: KindJoin, Inputs: []*LogicalNode{plan, sub}, Schema: schema}
	}
	return plan, bound, nil
}

func (b *builder) buildPattern(pat *lang.Pattern, bound map[string]bool) (*LogicalNode, error) {
	first := pat.Elements[0].Node
	plan := scanFor(first)
	addVar(plan, first.Variable, bound)
	if err := b.addNodePredicates(&plan, first, bound); err != nil {
		return nil, err
	}

	for i := 0; i+1 < len(pat.Elements); i++ {
		edge := pat.Elements[i].Edge
		to := pat.Elements[i+1].Node
		expand := &LogicalNode{
			Kind:      KindExpand,
			FromVar:   pat.Elements[i].Node.Variable,
			EdgeVar:   edge.Variable,
			EdgeType:  edge.Type,
			Direction: edge.Direction,
			ToVar:     to.Variable,
			Inputs:    []*LogicalNode{plan},
		}
		expand.Schema = append(append([]BoundVar{}, plan.Schema...), schemaVars(edge.Variable, to.Variable)...)
		plan = expand
		addVar(plan, edge.Variable, bound)
		addVar(plan, to.Variable, bound)

		// Edge properties filter on the expanded edge.
		for key, val := range edge.Properties {
			pred := propEquals(edge.Variable, key, val)
			plan = &LogicalNode{Kind: KindFilter, Predicate: pred, Inputs: []*LogicalNode{plan}, Schema: plan.Schema}
		}
		if err := b.addNodePredicates(&plan, to, bound); err != nil {
			return nil, err
		}
		// Intermediate nodes must carry their labels too.
		for _, l := range to.Labels {
			pred := &lang.FunctionCall{Name: "hasLabel", Args: []Expr{&lang.Identifier{Name: to.Variable}, literalString(l)}}
			plan = &LogicalNode{Kind: KindFilter, Predicate: pred, Inputs: []*LogicalNode{plan}, Schema: plan.Schema}
		}
	}
	return plan, nil
}

// scanFor picks the driving scan for a pattern's first node.
func scanFor(np *lang.NodePattern) *LogicalNode {
	label := ""
	if len(np.Labels) > 0 {
		label = np.Labels[0]
	}
	n := &LogicalNode{Kind: KindScan, Variable: np.Variable, Label: label}
	if np.Variable != "" {
		n.Schema = []BoundVar{{Name: np.Variable}}
	}
	// Secondary labels become filters; the scan drives off the first.
	return n
}

func (b *builder) addNodePredicates(plan **LogicalNode, np *lang.NodePattern, bound map[string]bool) error {
	p := *plan
	if np != nil && len(np.Labels) > 1 && p.Kind == KindScan {
		for _, l := range np.Labels[1:] {
			pred := &lang.FunctionCall{Name: "hasLabel", Args: []Expr{&lang.Identifier{Name: np.Variable}, literalString(l)}}
			p = &LogicalNode{Kind: KindFilter, Predicate: pred, Inputs: []*LogicalNode{p}, Schema: p.Schema}
		}
	}
	for key, val := range np.Properties {
		if np.Variable == "" {
			return errors.New(errors.Validation, "a property-constrained pattern node needs a variable")
		}
		pred := propEquals(np.Variable, key, val)
		p = &LogicalNode{Kind: KindFilter, Predicate: pred, Inputs: []*LogicalNode{p}, Schema: p.Schema}
	}
	if np.Where != nil {
		if err := checkReferences(np.Where, bound); err != nil {
			return err
		}
		p = &LogicalNode{Kind: KindFilter, Predicate: np.Where, Inputs: []*LogicalNode{p}, Schema: p.Schema}
	}
	*plan = p
	return nil
}

func (b *builder) buildReturn(input *LogicalNode, ret *lang.ReturnClause, bound map[string]bool) (*LogicalNode, error) {
	hasAgg := false
	for _, item := range ret.Items {
		if err := checkReferences(item.Expr, bound); err != nil {
			return nil, err
		}
		if containsAggregate(item.Expr) {
			hasAgg = true
		}
	}

	if hasAgg {
		node := &LogicalNode{Kind: KindAggregate, Inputs: []*LogicalNode{input}}
		for _, item := range ret.Items {
			name := item.Alias
			if name == "" {
				name = exprName(item.Expr)
			}
			if fc, ok := item.Expr.(*lang.FunctionCall); ok && aggregateFuncs[strings.ToLower(fc.Name)] {
				var arg Expr
				if len(fc.Args) > 0 {
					arg = fc.Args[0]
				}
				node.Aggregates = append(node.Aggregates, AggregateItem{Func: strings.ToLower(fc.Name), Arg: arg, Alias: name})
			} else {
				node.GroupKeys = append(node.GroupKeys, item.Expr)
				node.Projections = append(node.Projections, ProjectItem{Expr: item.Expr, Alias: name})
			}
			node.Schema = append(node.Schema, BoundVar{Name: name})
		}
		return node, nil
	}

	node := &LogicalNode{Kind: KindProject, Inputs: []*LogicalNode{input}}
	for _, item := range ret.Items {
		name := item.Alias
		if name == "" {
			name = exprName(item.Expr)
		}
		node.Projections = append(node.Projections, ProjectItem{Expr: item.Expr, Alias: name})
		node.Schema = append(node.Schema, BoundVar{Name: name})
	}
	if ret.Distinct {
		return &LogicalNode{Kind: KindDistinct, Inputs: []*LogicalNode{node}, Schema: node.Schema}, nil
	}
	return node, nil
}

// lowerInsertPatterns shapes INSERT patterns into planner form. A node
// carrying only an already-bound variable references an existing entity
// (MATCH ... INSERT); everything else is created fresh.
func (b *builder) lowerInsertPatterns(patterns []*lang.Pattern, bound map[string]bool) ([]InsertPattern, error) {
	var out []InsertPattern
	for _, pat := range patterns {
		ip := InsertPattern{}
		for i, el := range pat.Elements {
			n := el.Node
			if n.Where != nil {
				return nil, errors.New(errors.Validation, "INSERT patterns cannot carry WHERE")
			}
			if bound[n.Variable] && (len(n.Labels) > 0 || len(n.Properties) > 0) {
				return nil, errors.Newf(errors.Validation,
					"variable %q is already bound; an INSERT reference cannot redeclare labels or properties", n.Variable)
			}
			ip.Nodes = append(ip.Nodes, InsertNode{Variable: n.Variable, Labels: n.Labels, Properties: n.Properties})
			if el.Edge != nil {
				if i+1 >= len(pat.Elements) {
					return nil, errors.New(errors.Internal, "dangling edge in insert pattern")
				}
				ip.Edges = append(ip.Edges, InsertEdge{
					Variable:   el.Edge.Variable,
					Type:       el.Edge.Type,
					Direction:  el.Edge.Direction,
					Properties: el.Edge.Properties,
				})
			}
		}
		out = append(out, ip)
	}
	return out, nil
}

func (b *builder) buildInsert(stmt *lang.InsertStmt) (*LogicalNode, error) {
	patterns, err := b.lowerInsertPatterns(stmt.Patterns, map[string]bool{})
	if err != nil {
		return nil, err
	}
	node := &LogicalNode{Kind: KindInsert, InsertPatterns: patterns}
	if stmt.Return != nil {
		for _, ip := range node.InsertPatterns {
			for _, n := range ip.Nodes {
				if n.Variable != "" {
					node.Schema = append(node.Schema, BoundVar{Name: n.Variable})
				}
			}
		}
		proj := &LogicalNode{Kind: KindProject, Inputs: []*LogicalNode{node}}
		for _, item := range stmt.Return.Items {
			name := item.Alias
			if name == "" {
				name = exprName(item.Expr)
			}
			proj.Projections = append(proj.Projections, ProjectItem{Expr: item.Expr, Alias: name})
			proj.Schema = append(proj.Schema, BoundVar{Name: name})
		}
		return proj, nil
	}
	return node, nil
}

func orderNode(input *LogicalNode, by []lang.OrderItem) *LogicalNode {
	items := make([]OrderItem, len(by))
	for i, o := range by {
		items[i] = OrderItem{Expr: o.Expr, Descending: o.Descending}
	}
	return &LogicalNode{Kind: KindOrder, OrderBy: items, Inputs: []*LogicalNode{input}, Schema: input.Schema}
}

// orderUsesOutputs reports whether every identifier in the ORDER BY items
// names a RETURN output column (an alias or a bare projected variable).
func orderUsesOutputs(ret *lang.ReturnClause, by []lang.OrderItem) bool {
	outputs := map[string]bool{}
	for _, item := range ret.Items {
		name := item.Alias
		if name == "" {
			name = exprName(item.Expr)
		}
		outputs[name] = true
	}
	for _, o := range by {
		ids := map[string]bool{}
		walkExpr(o.Expr, func(e Expr) {
			if id, ok := e.(*lang.Identifier); ok {
				ids[id.Name] = true
			}
		})
		for id := range ids {
			if !outputs[id] {
				return false
			}
		}
	}
	return true
}

func returnAggregates(ret *lang.ReturnClause) bool {
	for _, item := range ret.Items {
		if containsAggregate(item.Expr) {
			return true
		}
	}
	return false
}

// --- helpers ---

func addVar(n *LogicalNode, name string, bound map[string]bool) {
	if name != "" {
		bound[name] = true
	}
}

func schemaVars(names ...string) []BoundVar {
	var out []BoundVar
	for _, n := range names {
		if n != "" {
			out = append(out, BoundVar{Name: n})
		}
	}
	return out
}

func propEquals(variable, key string, value Expr) Expr {
	return &lang.BinaryExpr{
		Op:    "=",
		Left:  &lang.PropertyAccess{Target: &lang.Identifier{Name: variable}, Key: key},
		Right: value,
	}
}

func literalString(s string) Expr {
	return &lang.Literal{Value: types.String(s)}
}

func containsAggregate(e Expr) bool {
	found := false
	walkExpr(e, func(x Expr) {
		if fc, ok := x.(*lang.FunctionCall); ok && aggregateFuncs[strings.ToLower(fc.Name)] {
			found = true
		}
	})
	return found
}

func walkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *lang.PropertyAccess:
		walkExpr(n.Target, fn)
	case *lang.BinaryExpr:
		walkExpr(n.Left, fn)
		walkExpr(n.Right, fn)
	case *lang.UnaryExpr:
		walkExpr(n.Operand, fn)
	case *lang.FunctionCall:
		for _, a := range n.Args {
			walkExpr(a, fn)
		}
	case *lang.ListExpr:
		for _, it := range n.Items {
			walkExpr(it, fn)
		}
	case *lang.MapExpr:
		for _, v := range n.Entries {
			walkExpr(v, fn)
		}
	}
}

// checkReferences validates that every free identifier in e is a bound
// pattern variable or statement binding.
func checkReferences(e Expr, bound map[string]bool) error {
	var bad string
	walkExpr(e, func(x Expr) {
		if bad != "" {
			return
		}
		if id, ok := x.(*lang.Identifier); ok && !bound[id.Name] {
			bad = id.Name
		}
	})
	if bad != "" {
		return errors.Newf(errors.Validation, "unknown variable %q", bad)
	}
	return nil
}

// exprName renders a stable output-column name for an unaliased RETURN item,
// e.g. "p.name" or "count(p)".
func exprName(e Expr) string {
	switch n := e.(type) {
	case *lang.Identifier:
		return n.Name
	case *lang.PropertyAccess:
		return exprName(n.Target) + "." + n.Key
	case *lang.FunctionCall:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = exprName(a)
		}
		return n.Name + "(" + strings.Join(args, ", ") + ")"
	case *lang.Literal:
		return n.Value.String()
	case *lang.BinaryExpr:
		return exprName(n.Left) + " " + n.Op + " " + exprName(n.Right)
	case *lang.UnaryExpr:
		return n.Op + exprName(n.Operand)
	case *lang.ParameterExpr:
		return "$" + n.Name
	default:
		return "expr"
	}
}

// lowerSetItems turns parsed SET assignments into planner form, insisting on
// the var.prop = expr shape.
func lowerSetItems(items []*lang.SetItem, bound map[string]bool) ([]SetAssignment, error) {
	var out []SetAssignment
	for _, item := range items {
		pa, ok := item.Target.(*lang.PropertyAccess)
		if !ok {
			return nil, errors.New(errors.Validation, "SET target must be of the form variable.property")
		}
		id, ok := pa.Target.(*lang.Identifier)
		if !ok {
			return nil, errors.New(errors.Validation, "SET target must be of the form variable.property")
		}
		if !bound[id.Name] {
			return nil, errors.Newf(errors.Validation, "unknown variable %q", id.Name)
		}
		if err := checkReferences(item.Value, bound); err != nil {
			return nil, err
		}
		out = append(out, SetAssignment{TargetVar: id.Name, Key: pa.Key, Value: item.Value})
	}
	return out, nil
}
