package executor

import (
	"bytes"

	"github.com/graphlite/graphlite/pkg/types"
)

// Binding is one bound variable in a row: a graph entity (node or edge) or a
// computed scalar value. Entity bindings keep identity for set-operator and
// DML purposes; Value() flattens to the boundary representation.
type Binding struct {
	Node *types.Node
	Edge *types.Edge
	Val  types.Value
}

// Value flattens the binding to a boundary value: entities render as their
// property map.
func (b Binding) Value() types.Value {
	switch {
	case b.Node != nil:
		return types.Map(b.Node.Properties)
	case b.Edge != nil:
		return types.Map(b.Edge.Properties)
	default:
		return b.Val
	}
}

// identityKey writes a comparison key: entity bindings compare by id,
// computed values by structural sort key: identity for computed
// projections falls back to structural equality.
func (b Binding) identityKey(buf *bytes.Buffer) {
	switch {
	case b.Node != nil:
		buf.WriteByte('N')
		buf.Write(b.Node.ID[:])
	case b.Edge != nil:
		buf.WriteByte('E')
		buf.Write(b.Edge.ID[:])
	default:
		buf.WriteByte('V')
		buf.Write(b.Val.SortKey())
	}
}

// Row is an ordered map from bound variable name to binding. Names
// preserves binding order so result columns are stable.
type Row struct {
	Names    []string
	Bindings map[string]Binding
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{Bindings: map[string]Binding{}}
}

// Bind sets name, preserving first-bind order.
func (r *Row) Bind(name string, b Binding) {
	if _, exists := r.Bindings[name]; !exists {
		r.Names = append(r.Names, name)
	}
	r.Bindings[name] = b
}

// Get looks up a binding by name.
func (r *Row) Get(name string) (Binding, bool) {
	b, ok := r.Bindings[name]
	return b, ok
}

// Clone copies the row so a downstream operator can extend it without
// aliasing its upstream's buffers.
func (r *Row) Clone() *Row {
	out := &Row{
		Names:    append([]string{}, r.Names...),
		Bindings: make(map[string]Binding, len(r.Bindings)),
	}
	for k, v := range r.Bindings {
		out.Bindings[k] = v
	}
	return out
}

// Key renders the row's identity-equality key over its bindings in column
// order, used by the set operators and DISTINCT. Column names are
// deliberately excluded: set operands combine positionally, the way the left
// side's output names win in `RETURN a.name UNION RETURN b.name`.
func (r *Row) Key() string {
	var buf bytes.Buffer
	for _, name := range r.Names {
		r.Bindings[name].identityKey(&buf)
		buf.WriteByte(0)
	}
	return buf.String()
}

// Rename rebinds the row's columns positionally to names, used by set
// operators to unify both operands under the left side's output schema.
func (r *Row) Rename(names []string) *Row {
	if len(names) != len(r.Names) {
		return r
	}
	same := true
	for i, n := range r.Names {
		if n != names[i] {
			same = false
			break
		}
	}
	if same {
		return r
	}
	out := NewRow()
	for i, old := range r.Names {
		out.Bind(names[i], r.Bindings[old])
	}
	return out
}

// merge combines two rows for a cartesian product; right bindings join the
// left's.
func merge(left, right *Row) *Row {
	out := left.Clone()
	for _, name := range right.Names {
		out.Bind(name, right.Bindings[name])
	}
	return out
}
