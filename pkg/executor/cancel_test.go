package executor

import (
	"context"
	"testing"

	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/lang"
	"github.com/graphlite/graphlite/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingOp counts Next invocations so the bounded-cancellation property
// can be checked: cancellation terminates within K operator boundaries.
type countingOp struct {
	inner Operator
	calls int
}

func (c *countingOp) Next() (*Row, error) { c.calls++; return c.inner.Next() }
func (c *countingOp) Reset() error        { return c.inner.Reset() }
func (c *countingOp) Close() error        { return c.inner.Close() }

func TestCancelledContextStopsPipelineAtNextBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ec := &Context{Ctx: ctx}

	input := &countingOp{inner: &sliceOp{rows: stringRows("n", "a", "b", "c", "d")}}
	f := &filter{ec: ec, input: input, pred: &lang.Literal{Value: types.Bool(true)}}

	row, err := f.Next()
	require.NoError(t, err)
	require.NotNil(t, row)

	cancel()

	_, err = f.Next()
	require.Error(t, err)
	assert.Equal(t, errors.Cancelled, errors.KindOf(err))
	assert.Equal(t, 1, input.calls, "cancellation must stop before another upstream pull")
}

func TestCancellationPropagatesThroughStackedOperators(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the first pull
	ec := &Context{Ctx: ctx}

	input := &sliceOp{rows: stringRows("n", "a")}
	f := &filter{ec: ec, input: input, pred: &lang.Literal{Value: types.Bool(true)}}
	d := &distinct{ec: ec, input: f}
	l := &limit{ec: ec, input: d, count: &lang.Literal{Value: types.Int(10)}}

	_, err := l.Next()
	require.Error(t, err)
	assert.Equal(t, errors.Cancelled, errors.KindOf(err))
}
