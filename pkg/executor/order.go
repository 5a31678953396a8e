package executor

import (
	"container/heap"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/planner"
	"github.com/graphlite/graphlite/pkg/types"
)

// order fully materializes its input and sorts it.
// Runs exceeding the configured spill threshold are sorted in memory,
// gob-spilled to temp files, and merged with a heap on read, the same
// segment-file idiom the WAL uses applied to sort runs.
type order struct {
	ec    *Context
	input Operator
	by    []planner.OrderItem

	prepared bool
	rows     []*keyedRow // in-memory path
	pos      int

	runs  []*spillRun // spill path
	merge *runHeap
}

type keyedRow struct {
	Keys []types.Value
	Row  *Row
}

func (o *order) prepare() error {
	if o.prepared {
		return nil
	}
	threshold := o.ec.Knobs.SortSpillThreshold
	if threshold <= 0 {
		threshold = 100_000
	}

	var buffer []*keyedRow
	for {
		if err := o.ec.Cancelled(); err != nil {
			return err
		}
		row, err := o.input.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		keys := make([]types.Value, len(o.by))
		for i, item := range o.by {
			v, err := evalExpr(o.ec, row, item.Expr)
			if err != nil {
				return err
			}
			keys[i] = v
		}
		buffer = append(buffer, &keyedRow{Keys: keys, Row: row})
		if len(buffer) >= threshold {
			if err := o.spill(buffer); err != nil {
				return err
			}
			buffer = nil
		}
	}

	if len(o.runs) == 0 {
		o.sortRun(buffer)
		o.rows = buffer
		o.prepared = true
		return nil
	}
	// The final partial buffer joins the merge as one more run.
	if len(buffer) > 0 {
		if err := o.spill(buffer); err != nil {
			return err
		}
	}
	o.merge = &runHeap{less: o.lessKeys}
	for _, run := range o.runs {
		kr, err := run.next()
		if err != nil {
			return err
		}
		if kr != nil {
			heap.Push(o.merge, runHead{row: kr, run: run})
		}
	}
	o.prepared = true
	return nil
}

func (o *order) sortRun(rows []*keyedRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return o.lessKeys(rows[i].Keys, rows[j].Keys)
	})
}

func (o *order) lessKeys(a, b []types.Value) bool {
	for i := range o.by {
		av, bv := a[i], b[i]
		if av.Equal(bv) {
			continue
		}
		less := types.Less(av, bv)
		if o.by[i].Descending {
			return !less
		}
		return less
	}
	return false
}

func (o *order) spill(rows []*keyedRow) error {
	o.sortRun(rows)
	dir := o.ec.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "sort-run-*.gob")
	if err != nil {
		return errors.Wrap(errors.Storage, "create sort spill file", err)
	}
	enc := gob.NewEncoder(f)
	for _, kr := range rows {
		if err := enc.Encode(kr); err != nil {
			f.Close()
			return errors.Wrap(errors.Storage, "encode sort run", err)
		}
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return errors.Wrap(errors.Storage, "rewind sort run", err)
	}
	o.runs = append(o.runs, &spillRun{file: f, dec: gob.NewDecoder(f)})
	return nil
}

func (o *order) Next() (*Row, error) {
	if err := o.ec.Cancelled(); err != nil {
		return nil, err
	}
	if err := o.prepare(); err != nil {
		return nil, err
	}
	if o.merge != nil {
		if o.merge.Len() == 0 {
			return nil, nil
		}
		head := heap.Pop(o.merge).(runHead)
		next, err := head.run.next()
		if err != nil {
			return nil, err
		}
		if next != nil {
			heap.Push(o.merge, runHead{row: next, run: head.run})
		}
		return head.row.Row, nil
	}
	if o.pos >= len(o.rows) {
		return nil, nil
	}
	row := o.rows[o.pos].Row
	o.pos++
	return row, nil
}

func (o *order) Reset() error {
	o.dropRuns()
	o.prepared = false
	o.rows = nil
	o.pos = 0
	o.merge = nil
	return o.input.Reset()
}

func (o *order) Close() error {
	o.dropRuns()
	o.rows = nil
	return o.input.Close()
}

func (o *order) dropRuns() {
	for _, run := range o.runs {
		run.close()
	}
	o.runs = nil
}

type spillRun struct {
	file *os.File
	dec  *gob.Decoder
}

func (r *spillRun) next() (*keyedRow, error) {
	var kr keyedRow
	if err := r.dec.Decode(&kr); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.Wrap(errors.Storage, "decode sort run", err)
	}
	return &kr, nil
}

func (r *spillRun) close() {
	name := r.file.Name()
	r.file.Close()
	_ = os.Remove(filepath.Clean(name))
}

type runHead struct {
	row *keyedRow
	run *spillRun
}

type runHeap struct {
	heads []runHead
	less  func(a, b []types.Value) bool
}

func (h *runHeap) Len() int            { return len(h.heads) }
func (h *runHeap) Less(i, j int) bool  { return h.less(h.heads[i].row.Keys, h.heads[j].row.Keys) }
func (h *runHeap) Swap(i, j int)       { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }
func (h *runHeap) Push(x any)          { h.heads = append(h.heads, x.(runHead)) }
func (h *runHeap) Pop() any {
	last := h.heads[len(h.heads)-1]
	h.heads = h.heads[:len(h.heads)-1]
	return last
}
