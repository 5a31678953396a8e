package executor

import (
	stderrors "errors"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/planner"
	"github.com/graphlite/graphlite/pkg/types"
)

// errStopScan terminates a prefix scan early once a pushed-down limit is
// reached; the storage layer may wrap it, so callers match with errors.Is.
var errStopScan = stderrors.New("stop scan")

// labelScan yields nodes carrying a label in storage order; restartable
// and finite. The underlying prefix scan is
// callback-driven, so the operator buffers matching nodes on first Next and
// streams from the buffer.
type labelScan struct {
	ec       *Context
	variable string
	label    string
	limit    int64

	loaded bool
	nodes  []*types.Node
	pos    int
}

func (s *labelScan) load() error {
	if s.loaded {
		return nil
	}
	err := s.ec.View.ScanLabel(s.ec.GraphID, s.label, func(n *types.Node) error {
		if s.limit > 0 && int64(len(s.nodes)) >= s.limit {
			return errStopScan
		}
		s.nodes = append(s.nodes, n)
		return nil
	})
	if err != nil && !stderrors.Is(err, errStopScan) {
		return err
	}
	s.loaded = true
	return nil
}

func (s *labelScan) Next() (*Row, error) {
	if err := s.ec.Cancelled(); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.nodes) {
		return nil, nil
	}
	node := s.nodes[s.pos]
	s.pos++
	row := NewRow()
	if s.variable != "" {
		row.Bind(s.variable, Binding{Node: node})
	}
	return row, nil
}

func (s *labelScan) Reset() error { s.pos = 0; return nil }
func (s *labelScan) Close() error { s.nodes = nil; return nil }

// allScan yields every node in the graph; the planner's fallback when a
// pattern has no label.
type allScan struct {
	ec       *Context
	variable string
	limit    int64

	loaded bool
	nodes  []*types.Node
	pos    int
}

func (s *allScan) load() error {
	if s.loaded {
		return nil
	}
	err := s.ec.View.ScanAllNodes(s.ec.GraphID, func(n *types.Node) error {
		if s.limit > 0 && int64(len(s.nodes)) >= s.limit {
			return errStopScan
		}
		s.nodes = append(s.nodes, n)
		return nil
	})
	if err != nil && !stderrors.Is(err, errStopScan) {
		return err
	}
	s.loaded = true
	return nil
}

func (s *allScan) Next() (*Row, error) {
	if err := s.ec.Cancelled(); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.nodes) {
		return nil, nil
	}
	node := s.nodes[s.pos]
	s.pos++
	row := NewRow()
	if s.variable != "" {
		row.Bind(s.variable, Binding{Node: node})
	}
	return row, nil
}

func (s *allScan) Reset() error { s.pos = 0; return nil }
func (s *allScan) Close() error { s.nodes = nil; return nil }

// expand iterates the adjacency index of each input row's from-node,
// producing one output row per incident edge, preserving input order.
type expand struct {
	ec    *Context
	input Operator
	plan  *planner.PhysicalNode

	pending []*Row
}

func (e *expand) Next() (*Row, error) {
	for {
		if err := e.ec.Cancelled(); err != nil {
			return nil, err
		}
		if len(e.pending) > 0 {
			row := e.pending[0]
			e.pending = e.pending[1:]
			return row, nil
		}
		in, err := e.input.Next()
		if err != nil {
			return nil, err
		}
		if in == nil {
			return nil, nil
		}
		if err := e.expandRow(in); err != nil {
			return nil, err
		}
	}
}

func (e *expand) expandRow(in *Row) error {
	b, ok := in.Get(e.plan.FromVar)
	if !ok || b.Node == nil {
		return errors.Newf(errors.Runtime, "variable %q is not a node", e.plan.FromVar)
	}
	from := b.Node

	emit := func(edge *types.Edge, dir types.Direction) error {
		if e.plan.EdgeType != "" && edge.Type != types.EdgeTypes.Intern(e.plan.EdgeType) {
			return nil
		}
		otherID := edge.Dst
		if dir == types.DirIncoming {
			otherID = edge.Src
		}
		other, found, err := e.ec.View.GetNode(e.ec.GraphID, otherID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		// A pattern may reuse an already-bound variable for the target,
		// closing a cycle; the expansion then filters to matching identity.
		if existing, bound := in.Get(e.plan.ToVar); bound && existing.Node != nil {
			if existing.Node.ID != other.ID {
				return nil
			}
		}
		out := in.Clone()
		if e.plan.EdgeVar != "" {
			out.Bind(e.plan.EdgeVar, Binding{Edge: edge})
		}
		if e.plan.ToVar != "" {
			out.Bind(e.plan.ToVar, Binding{Node: other})
		}
		e.pending = append(e.pending, out)
		return nil
	}

	walk := func(dir types.Direction) error {
		return e.ec.View.Adjacent(e.ec.GraphID, from.ID, dir, func(edge *types.Edge) error {
			return emit(edge, dir)
		})
	}

	switch e.plan.Direction {
	case types.DirOutgoing:
		return walk(types.DirOutgoing)
	case types.DirIncoming:
		return walk(types.DirIncoming)
	default:
		if err := walk(types.DirOutgoing); err != nil {
			return err
		}
		return walk(types.DirIncoming)
	}
}

func (e *expand) Reset() error { e.pending = nil; return e.input.Reset() }
func (e *expand) Close() error { e.pending = nil; return e.input.Close() }

// filter drops rows whose predicate does not evaluate to true, with
// short-circuit evaluation inside evalExpr.
type filter struct {
	ec    *Context
	input Operator
	pred  lang.Expr
}

func (f *filter) Next() (*Row, error) {
	for {
		if err := f.ec.Cancelled(); err != nil {
			return nil, err
		}
		row, err := f.input.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, nil
		}
		v, err := evalExpr(f.ec, row, f.pred)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return row, nil
		}
	}
}

func (f *filter) Reset() error { return f.input.Reset() }
func (f *filter) Close() error { return f.input.Close() }

// project evaluates each projection item to a fresh row; pure and
// stateless. A fused filter predicate is applied first.
type project struct {
	ec    *Context
	input Operator
	items []planner.ProjectItem
	pred  lang.Expr
}

func (p *project) Next() (*Row, error) {
	for {
		if err := p.ec.Cancelled(); err != nil {
			return nil, err
		}
		in, err := p.input.Next()
		if err != nil {
			return nil, err
		}
		if in == nil {
			return nil, nil
		}
		if p.pred != nil {
			v, err := evalExpr(p.ec, in, p.pred)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				continue
			}
		}
		out := NewRow()
		for _, item := range p.items {
			// Projecting a bare variable keeps its entity binding so
			// set operators downstream can compare by identity.
			if id, ok := item.Expr.(*lang.Identifier); ok {
				if b, bound := in.Get(id.Name); bound {
					out.Bind(item.Alias, b)
					continue
				}
			}
			v, err := evalExpr(p.ec, in, item.Expr)
			if err != nil {
				return nil, err
			}
			out.Bind(item.Alias, Binding{Val: v})
		}
		return out, nil
	}
}

func (p *project) Reset() error { return p.input.Reset() }
func (p *project) Close() error { return p.input.Close() }

// distinct deduplicates by row identity key.
type distinct struct {
	ec    *Context
	input Operator
	seen  map[string]bool
}

func (d *distinct) Next() (*Row, error) {
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	for {
		if err := d.ec.Cancelled(); err != nil {
			return nil, err
		}
		row, err := d.input.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, nil
		}
		key := row.Key()
		if d.seen[key] {
			continue
		}
		d.seen[key] = true
		return row, nil
	}
}

func (d *distinct) Reset() error { d.seen = nil; return d.input.Reset() }
func (d *distinct) Close() error { d.seen = nil; return d.input.Close() }

// skip discards the first N rows.
type skip struct {
	ec      *Context
	input   Operator
	count   lang.Expr
	skipped int64
	n       int64
	init    bool
}

func (s *skip) Next() (*Row, error) {
	if !s.init {
		n, err := evalCount(s.ec, s.count)
		if err != nil {
			return nil, err
		}
		s.n = n
		s.init = true
	}
	for {
		if err := s.ec.Cancelled(); err != nil {
			return nil, err
		}
		row, err := s.input.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, nil
		}
		if s.skipped < s.n {
			s.skipped++
			continue
		}
		return row, nil
	}
}

func (s *skip) Reset() error { s.skipped = 0; return s.input.Reset() }
func (s *skip) Close() error { return s.input.Close() }

// limit passes through at most N rows.
type limit struct {
	ec      *Context
	input   Operator
	count   lang.Expr
	emitted int64
	n       int64
	init    bool
}

func (l *limit) Next() (*Row, error) {
	if err := l.ec.Cancelled(); err != nil {
		return nil, err
	}
	if !l.init {
		n, err := evalCount(l.ec, l.count)
		if err != nil {
			return nil, err
		}
		l.n = n
		l.init = true
	}
	if l.emitted >= l.n {
		return nil, nil
	}
	row, err := l.input.Next()
	if err != nil || row == nil {
		return nil, err
	}
	l.emitted++
	return row, nil
}

func (l *limit) Reset() error { l.emitted = 0; return l.input.Reset() }
func (l *limit) Close() error { return l.input.Close() }

func evalCount(ec *Context, e lang.Expr) (int64, error) {
	v, err := evalExpr(ec, nil, e)
	if err != nil {
		return 0, err
	}
	if v.Kind() != types.KindInt || v.AsInt() < 0 {
		return 0, errors.New(errors.Validation, "SKIP/LIMIT requires a non-negative integer")
	}
	return v.AsInt(), nil
}

// setOp implements UNION [ALL], INTERSECT, EXCEPT over projected rows with
// identity equality. INTERSECT and EXCEPT use
// distinct semantics; the right side is materialized into a key set.
type setOp struct {
	ec    *Context
	left  Operator
	right Operator
	kind  planner.SetOpKind
	all   bool
	names []string // output schema; right-side rows are renamed to it

	prepared  bool
	rightKeys map[string]bool
	emitted   map[string]bool
	leftDone  bool
}

func (s *setOp) prepare() error {
	if s.prepared {
		return nil
	}
	s.emitted = map[string]bool{}
	if s.kind != planner.SetOpUnion {
		s.rightKeys = map[string]bool{}
		rows, err := Drain(s.right)
		if err != nil {
			return err
		}
		for _, r := range rows {
			s.rightKeys[r.Key()] = true
		}
	}
	s.prepared = true
	return nil
}

func (s *setOp) Next() (*Row, error) {
	if err := s.prepare(); err != nil {
		return nil, err
	}
	for {
		if err := s.ec.Cancelled(); err != nil {
			return nil, err
		}
		var row *Row
		var err error
		if !s.leftDone {
			row, err = s.left.Next()
			if err != nil {
				return nil, err
			}
			if row == nil {
				s.leftDone = true
				continue
			}
		} else {
			if s.kind != planner.SetOpUnion {
				return nil, nil
			}
			row, err = s.right.Next()
			if err != nil {
				return nil, err
			}
			if row == nil {
				return nil, nil
			}
			if len(s.names) > 0 {
				row = row.Rename(s.names)
			}
		}

		key := row.Key()
		switch s.kind {
		case planner.SetOpUnion:
			if s.all {
				return row, nil
			}
			if s.emitted[key] {
				continue
			}
			s.emitted[key] = true
			return row, nil
		case planner.SetOpIntersect:
			if !s.rightKeys[key] || s.emitted[key] {
				continue
			}
			s.emitted[key] = true
			return row, nil
		default: // EXCEPT
			if s.rightKeys[key] || s.emitted[key] {
				continue
			}
			s.emitted[key] = true
			return row, nil
		}
	}
}

func (s *setOp) Reset() error {
	s.prepared = false
	s.leftDone = false
	s.rightKeys = nil
	s.emitted = nil
	if err := s.left.Reset(); err != nil {
		return err
	}
	return s.right.Reset()
}

func (s *setOp) Close() error {
	_ = s.left.Close()
	return s.right.Close()
}

// cartesian is the guarded last-resort product of two independent patterns;
// the planner has already enforced the cardinality ceiling.
type cartesian struct {
	ec    *Context
	left  Operator
	right Operator

	leftRow *Row
}

func (c *cartesian) Next() (*Row, error) {
	for {
		if err := c.ec.Cancelled(); err != nil {
			return nil, err
		}
		if c.leftRow == nil {
			l, err := c.left.Next()
			if err != nil {
				return nil, err
			}
			if l == nil {
				return nil, nil
			}
			c.leftRow = l
			if err := c.right.Reset(); err != nil {
				return nil, err
			}
		}
		r, err := c.right.Next()
		if err != nil {
			return nil, err
		}
		if r == nil {
			c.leftRow = nil
			continue
		}
		return merge(c.leftRow, r), nil
	}
}

func (c *cartesian) Reset() error {
	c.leftRow = nil
	if err := c.left.Reset(); err != nil {
		return err
	}
	return c.right.Reset()
}

func (c *cartesian) Close() error {
	_ = c.left.Close()
	return c.right.Close()
}
