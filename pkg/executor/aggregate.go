package executor

import (
	"bytes"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/planner"
	"github.com/graphlite/graphlite/pkg/types"
)

// aggregate buffers rows into a hash table keyed by the encoded group tuple
// and emits one row per group on upstream Done. With no group keys a
// single global group is emitted even for empty input (count() over nothing
// is 0).
type aggregate struct {
	ec    *Context
	input Operator
	plan  *planner.PhysicalNode

	prepared bool
	groups   []*aggGroup
	pos      int
}

type aggGroup struct {
	keyVals []types.Value
	states  []*aggState
}

type aggState struct {
	fn      string
	count   int64
	sumInt  int64
	sumF    float64
	isFloat bool
	min     types.Value
	max     types.Value
	collect []types.Value
}

func newAggState(fn string) *aggState {
	return &aggState{fn: fn, min: types.Null(), max: types.Null()}
}

func (s *aggState) observe(v types.Value) error {
	// Aggregators skip nulls except count(*), which has no argument at all.
	if v.IsNull() && s.fn != "count" {
		return nil
	}
	switch s.fn {
	case "count":
		if !v.IsNull() {
			s.count++
		}
	case "sum", "avg":
		switch v.Kind() {
		case types.KindInt:
			s.sumInt += v.AsInt()
			s.sumF += float64(v.AsInt())
		case types.KindFloat:
			s.isFloat = true
			s.sumF += v.AsFloat()
		default:
			return errors.Newf(errors.Runtime, "%s over a %s value", s.fn, v.Kind())
		}
		s.count++
	case "min":
		if s.min.IsNull() || types.Less(v, s.min) {
			s.min = v
		}
	case "max":
		if s.max.IsNull() || types.Less(s.max, v) {
			s.max = v
		}
	case "collect":
		s.collect = append(s.collect, v)
	default:
		return errors.Newf(errors.Internal, "unknown aggregator %q", s.fn)
	}
	return nil
}

func (s *aggState) observeStar() {
	s.count++
}

func (s *aggState) result() types.Value {
	switch s.fn {
	case "count":
		return types.Int(s.count)
	case "sum":
		if s.isFloat {
			return types.Float(s.sumF)
		}
		return types.Int(s.sumInt)
	case "avg":
		if s.count == 0 {
			return types.Null()
		}
		return types.Float(s.sumF / float64(s.count))
	case "min":
		return s.min
	case "max":
		return s.max
	case "collect":
		return types.List(s.collect)
	default:
		return types.Null()
	}
}

func (a *aggregate) prepare() error {
	if a.prepared {
		return nil
	}
	index := map[string]*aggGroup{}
	var ordered []*aggGroup

	for {
		if err := a.ec.Cancelled(); err != nil {
			return err
		}
		row, err := a.input.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}

		keyVals := make([]types.Value, len(a.plan.GroupKeys))
		var keyBuf bytes.Buffer
		for i, k := range a.plan.GroupKeys {
			v, err := evalExpr(a.ec, row, k)
			if err != nil {
				return err
			}
			keyVals[i] = v
			keyBuf.Write(v.SortKey())
			keyBuf.WriteByte(0)
		}
		key := keyBuf.String()

		group, ok := index[key]
		if !ok {
			group = &aggGroup{keyVals: keyVals}
			for _, item := range a.plan.Aggregates {
				group.states = append(group.states, newAggState(item.Func))
			}
			index[key] = group
			ordered = append(ordered, group)
		}

		for i, item := range a.plan.Aggregates {
			if item.Arg == nil {
				group.states[i].observeStar()
				continue
			}
			v, err := evalExpr(a.ec, row, item.Arg)
			if err != nil {
				return err
			}
			if err := group.states[i].observe(v); err != nil {
				return err
			}
		}
	}

	// A global aggregate (no group keys) over empty input still yields one
	// row of zero-values.
	if len(ordered) == 0 && len(a.plan.GroupKeys) == 0 {
		g := &aggGroup{}
		for _, item := range a.plan.Aggregates {
			g.states = append(g.states, newAggState(item.Func))
		}
		ordered = append(ordered, g)
	}

	a.groups = ordered
	a.prepared = true
	return nil
}

func (a *aggregate) Next() (*Row, error) {
	if err := a.ec.Cancelled(); err != nil {
		return nil, err
	}
	if err := a.prepare(); err != nil {
		return nil, err
	}
	if a.pos >= len(a.groups) {
		return nil, nil
	}
	group := a.groups[a.pos]
	a.pos++

	row := NewRow()
	// The output schema interleaves group keys and aggregates in the
	// original RETURN order; rebuild it from the plan's schema names.
	keyIdx, aggIdx := 0, 0
	for _, v := range a.plan.Schema {
		if aggIdx < len(a.plan.Aggregates) && a.plan.Aggregates[aggIdx].Alias == v.Name {
			row.Bind(v.Name, Binding{Val: group.states[aggIdx].result()})
			aggIdx++
			continue
		}
		if keyIdx < len(group.keyVals) {
			row.Bind(v.Name, Binding{Val: group.keyVals[keyIdx]})
			keyIdx++
		}
	}
	return row, nil
}

func (a *aggregate) Reset() error {
	a.prepared = false
	a.groups = nil
	a.pos = 0
	return a.input.Reset()
}

func (a *aggregate) Close() error {
	a.groups = nil
	return a.input.Close()
}
