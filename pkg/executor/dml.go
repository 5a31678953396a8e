package executor

import (
	"fmt"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/planner"
	"github.com/graphlite/graphlite/pkg/storage"
	"github.com/graphlite/graphlite/pkg/types"
)

// insert creates the nodes and edges of its patterns, staging mutations into
// the transaction's write set; writes never reach storage.Apply directly. A standalone INSERT runs once; a MATCH ... INSERT runs once per
// input row, resolving already-bound variables to their existing entities.
// It emits a row binding the created variables only when a RETURN projection
// sits above it.
type insert struct {
	ec    *Context
	plan  *planner.PhysicalNode
	input Operator

	done bool
}

func (i *insert) Next() (*Row, error) {
	for {
		if err := i.ec.Cancelled(); err != nil {
			return nil, err
		}
		var in *Row
		if i.input == nil {
			if i.done {
				return nil, nil
			}
			i.done = true
		} else {
			var err error
			in, err = i.input.Next()
			if err != nil {
				return nil, err
			}
			if in == nil {
				return nil, nil
			}
		}

		row, err := i.insertPatterns(in)
		if err != nil {
			return nil, err
		}
		if len(i.plan.Schema) == 0 {
			if i.input == nil {
				return nil, nil
			}
			continue
		}
		return row, nil
	}
}

func (i *insert) insertPatterns(in *Row) (*Row, error) {
	row := NewRow()
	for _, pat := range i.plan.InsertPatterns {
		nodes := make([]*types.Node, len(pat.Nodes))
		for idx, pn := range pat.Nodes {
			node, err := i.resolveNode(pn, in)
			if err != nil {
				return nil, err
			}
			nodes[idx] = node
			if pn.Variable != "" {
				row.Bind(pn.Variable, Binding{Node: node})
			}
		}
		for idx, ie := range pat.Edges {
			src, dst := nodes[idx], nodes[idx+1]
			if ie.Direction == types.DirIncoming {
				src, dst = dst, src
			}
			edge, err := i.createEdge(ie, src, dst, in)
			if err != nil {
				return nil, err
			}
			if ie.Variable != "" {
				row.Bind(ie.Variable, Binding{Edge: edge})
			}
		}
	}
	return row, nil
}

// resolveNode reuses an entity already bound by the surrounding MATCH, or
// creates a fresh node.
func (i *insert) resolveNode(pn planner.InsertNode, in *Row) (*types.Node, error) {
	if in != nil && pn.Variable != "" {
		if b, ok := in.Get(pn.Variable); ok {
			if b.Node == nil {
				return nil, errors.Newf(errors.Validation, "variable %q is not a node", pn.Variable)
			}
			return b.Node, nil
		}
	}
	return i.createNode(pn, in)
}

func (i *insert) createNode(in planner.InsertNode, row *Row) (*types.Node, error) {
	props, err := i.evalProperties(in.Properties, row)
	if err != nil {
		return nil, err
	}
	node := &types.Node{
		ID:         types.NewNodeID(),
		Labels:     types.InternLabels(in.Labels),
		Properties: props,
	}
	muts, err := storage.BuildInsertNode(i.ec.GraphID, node)
	if err != nil {
		return nil, errors.Wrap(errors.Internal, "build node insert", err)
	}
	i.ec.Txn.Stage(muts...)
	i.ec.RowsAffected++
	return node, nil
}

func (i *insert) createEdge(ie planner.InsertEdge, src, dst *types.Node, row *Row) (*types.Edge, error) {
	props, err := i.evalProperties(ie.Properties, row)
	if err != nil {
		return nil, err
	}
	edge := &types.Edge{
		ID:         types.NewEdgeID(),
		Type:       types.EdgeTypes.Intern(ie.Type),
		Src:        src.ID,
		Dst:        dst.ID,
		Properties: props,
	}

	// Edges are a multiset: a structural duplicate is still inserted, but
	// the result carries a DuplicateEdge warning.
	dup, err := i.isDuplicate(edge)
	if err != nil {
		return nil, err
	}
	if dup {
		i.ec.warn("DuplicateEdge", fmt.Sprintf("an identical %s edge between these endpoints already exists", edge.Type))
	}

	muts, err := storage.BuildInsertEdge(i.ec.GraphID, edge)
	if err != nil {
		return nil, errors.Wrap(errors.Internal, "build edge insert", err)
	}
	i.ec.Txn.Stage(muts...)
	i.ec.RowsAffected++
	return edge, nil
}

func (i *insert) isDuplicate(edge *types.Edge) (bool, error) {
	dup := false
	err := i.ec.View.Adjacent(i.ec.GraphID, edge.Src, types.DirOutgoing, func(existing *types.Edge) error {
		if dup || existing.Type != edge.Type || existing.Dst != edge.Dst {
			return nil
		}
		if propertiesEqual(existing.Properties, edge.Properties) {
			dup = true
		}
		return nil
	})
	return dup, err
}

func (i *insert) evalProperties(exprs map[string]lang.Expr, row *Row) (map[string]types.Value, error) {
	props := make(map[string]types.Value, len(exprs))
	for k, e := range exprs {
		v, err := evalExpr(i.ec, row, e)
		if err != nil {
			return nil, err
		}
		props[types.PropertyKeys.Intern(k)] = v
	}
	return props, nil
}

func propertiesEqual(a, b map[string]types.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}

func (i *insert) Reset() error {
	i.done = false
	if i.input != nil {
		return i.input.Reset()
	}
	return nil
}

func (i *insert) Close() error {
	if i.input != nil {
		return i.input.Close()
	}
	return nil
}

// deleteOp tombstones every node or edge its target expressions bind,
// cascading a node delete to its incident edges so no dangling edge
// survives.
type deleteOp struct {
	ec      *Context
	input   Operator
	targets []lang.Expr

	deletedNodes map[types.NodeID]bool
	deletedEdges map[types.EdgeID]bool
}

func (d *deleteOp) Next() (*Row, error) {
	if d.deletedNodes == nil {
		d.deletedNodes = map[types.NodeID]bool{}
		d.deletedEdges = map[types.EdgeID]bool{}
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
		for _, target := range d.targets {
			id, ok := target.(*lang.Identifier)
			if !ok {
				return nil, errors.New(errors.Validation, "DELETE targets must be pattern variables")
			}
			b, found := row.Get(id.Name)
			if !found {
				return nil, errors.Newf(errors.Runtime, "unbound variable %q", id.Name)
			}
			switch {
			case b.Node != nil:
				if err := d.deleteNode(b.Node); err != nil {
					return nil, err
				}
			case b.Edge != nil:
				d.deleteEdge(b.Edge)
			default:
				return nil, errors.Newf(errors.Validation, "cannot DELETE computed value %q", id.Name)
			}
		}
	}
}

func (d *deleteOp) deleteNode(node *types.Node) error {
	if d.deletedNodes[node.ID] {
		return nil
	}
	d.deletedNodes[node.ID] = true

	// Incident edges go first, in both directions.
	for _, dir := range []types.Direction{types.DirOutgoing, types.DirIncoming} {
		err := d.ec.View.Adjacent(d.ec.GraphID, node.ID, dir, func(edge *types.Edge) error {
			d.deleteEdge(edge)
			return nil
		})
		if err != nil {
			return err
		}
	}
	d.ec.Txn.Stage(storage.BuildDeleteNode(d.ec.GraphID, node)...)
	d.ec.RowsAffected++
	return nil
}

func (d *deleteOp) deleteEdge(edge *types.Edge) {
	if d.deletedEdges[edge.ID] {
		return
	}
	d.deletedEdges[edge.ID] = true
	d.ec.Txn.Stage(storage.BuildDeleteEdge(d.ec.GraphID, edge)...)
	d.ec.RowsAffected++
}

func (d *deleteOp) Reset() error {
	d.deletedNodes = nil
	d.deletedEdges = nil
	return d.input.Reset()
}

func (d *deleteOp) Close() error { return d.input.Close() }

// update rewrites entity properties per SET assignment, staging the
// post-image.
type update struct {
	ec    *Context
	input Operator
	items []planner.SetAssignment

	touched map[types.NodeID]bool
}

func (u *update) Next() (*Row, error) {
	if u.touched == nil {
		u.touched = map[types.NodeID]bool{}
	}
	for {
		if err := u.ec.Cancelled(); err != nil {
			return nil, err
		}
		row, err := u.input.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, nil
		}
		for _, item := range u.items {
			b, found := row.Get(item.TargetVar)
			if !found {
				return nil, errors.Newf(errors.Runtime, "unbound variable %q", item.TargetVar)
			}
			value, err := evalExpr(u.ec, row, item.Value)
			if err != nil {
				return nil, err
			}
			key := types.PropertyKeys.Intern(item.Key)
			switch {
			case b.Node != nil:
				b.Node.Properties[key] = value
				muts, err := storage.BuildSetNodeProperty(u.ec.GraphID, b.Node)
				if err != nil {
					return nil, errors.Wrap(errors.Internal, "build node update", err)
				}
				u.ec.Txn.Stage(muts...)
				if !u.touched[b.Node.ID] {
					u.touched[b.Node.ID] = true
					u.ec.RowsAffected++
				}
			case b.Edge != nil:
				b.Edge.Properties[key] = value
				muts, err := storage.BuildSetEdgeProperty(u.ec.GraphID, b.Edge)
				if err != nil {
					return nil, errors.Wrap(errors.Internal, "build edge update", err)
				}
				u.ec.Txn.Stage(muts...)
				u.ec.RowsAffected++
			default:
				return nil, errors.Newf(errors.Validation, "cannot SET a property on computed value %q", item.TargetVar)
			}
		}
	}
}

func (u *update) Reset() error { u.touched = nil; return u.input.Reset() }
func (u *update) Close() error { return u.input.Close() }
