package executor

import (
	"strings"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/types"
)

// call runs a built-in procedure. The procedure set is
// closed: runtime-loaded user-defined procedures are a spec non-goal.
type call struct {
	ec        *Context
	procedure string
	args      []lang.Expr

	prepared bool
	rows     []*Row
	pos      int
}

func (c *call) prepare() error {
	if c.prepared {
		return nil
	}
	switch strings.ToLower(c.procedure) {
	case "labels":
		if c.ec.Graph == "" {
			return errors.New(errors.NoCurrentGraph, "CALL labels requires a current graph")
		}
		for _, label := range c.ec.Engine.Labels(c.ec.GraphID) {
			row := NewRow()
			row.Bind("label", Binding{Val: types.String(label)})
			c.rows = append(c.rows, row)
		}
	case "schemas":
		schemas, err := c.ec.Catalog.ListSchemas()
		if err != nil {
			return err
		}
		for _, s := range schemas {
			row := NewRow()
			row.Bind("schema", Binding{Val: types.String(s.Path)})
			c.rows = append(c.rows, row)
		}
	case "graphs":
		graphs, err := c.ec.Catalog.ListGraphs("")
		if err != nil {
			return err
		}
		for _, g := range graphs {
			row := NewRow()
			row.Bind("graph", Binding{Val: types.String(g.Path())})
			c.rows = append(c.rows, row)
		}
	case "version":
		row := NewRow()
		row.Bind("version", Binding{Val: types.String(c.ec.Catalog.Version())})
		c.rows = append(c.rows, row)
	default:
		return errors.Newf(errors.Validation, "unknown procedure %q", c.procedure)
	}
	c.prepared = true
	return nil
}

func (c *call) Next() (*Row, error) {
	if err := c.ec.Cancelled(); err != nil {
		return nil, err
	}
	if err := c.prepare(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	row := c.rows[c.pos]
	c.pos++
	return row, nil
}

func (c *call) Reset() error { c.pos = 0; return nil }
func (c *call) Close() error { c.rows = nil; return nil }
