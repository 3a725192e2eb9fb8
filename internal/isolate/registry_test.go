package isolate

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Label string
}

func (w *widget) Name() string    { return w.Label }
func (w *widget) Rename(s string) { w.Label = s }

type widgetHost struct {
	w *widget
}

func (h *widgetHost) Make() *widget              { return h.w }
func (h *widgetHost) Echo(w *widget) *widget     { return w }
func (h *widgetHost) Fresh(label string) *widget { return &widget{Label: label} }

func TestWrapperIdentityStable(t *testing.T) {
	c, err := New(Options{HostObject: &widgetHost{w: &widget{Label: "w1"}}})
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Run("host.Make() === host.Make()", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	// Bound methods of the same instance keep identity too.
	v, err = c.Run("var o = host.Make(); o.Name === o.Name", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestIdentityStableAcrossExecutions(t *testing.T) {
	c, err := New(Options{HostObject: &widgetHost{w: &widget{Label: "w1"}}})
	require.NoError(t, err)
	defer c.Close()

	// Identity observed in one execution must hold in a later one.
	_, err = c.Run("global.makeRef = host.Make; global.wrapperRef = host.Make()", "", ExecOptions{})
	require.NoError(t, err)

	v, err := c.Run("global.makeRef === host.Make", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = c.Run("global.wrapperRef === host.Make()", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestWrapperRoundTripUnwraps(t *testing.T) {
	w := &widget{Label: "w1"}
	c, err := New(Options{HostObject: &widgetHost{w: w}})
	require.NoError(t, err)
	defer c.Close()

	// Passing the wrapper back to the host recovers the original value,
	// and re-projecting it yields the same wrapper.
	v, err := c.Run("host.Echo(host.Make()) === host.Make()", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	out, err := c.Run("host.Make()", "", ExecOptions{})
	require.NoError(t, err)
	assert.Same(t, w, out)
}

func TestWrapperForwardsMutation(t *testing.T) {
	w := &widget{Label: "before"}
	c, err := New(Options{HostObject: &widgetHost{w: w}})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run("host.Make().Rename('after')", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "after", w.Label)

	// Field writes on the wrapper land on the host value.
	_, err = c.Run("host.Make().Label = 'direct'", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "direct", w.Label)

	v, err := c.Run("host.Make().Label", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "direct", v)
}

func TestHeapPressureChargedPerWrapper(t *testing.T) {
	c, err := New(Options{
		HostObject:        &widgetHost{w: &widget{}},
		AverageObjectSize: 2048,
	})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, int64(0), c.HeapPressure())

	_, err = c.Run("global.held = host.Make(); null", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2048), c.HeapPressure())

	// The same identity never charges twice.
	_, err = c.Run("global.held2 = host.Make(); null", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2048), c.HeapPressure())

	_, err = c.Run("global.other = host.Fresh('x'); null", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(4096), c.HeapPressure())
}

func TestHeapPressureRefundedOnCollection(t *testing.T) {
	c, err := New(Options{
		HostObject:        &widgetHost{w: &widget{}},
		AverageObjectSize: 2048,
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run("global.held = host.Fresh('gone'); null", "", ExecOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(2048), c.HeapPressure())

	_, err = c.Run("global.held = null", "", ExecOptions{})
	require.NoError(t, err)

	// The refund arrives once the collector notices the wrapper is gone;
	// finalizers need an extra cycle.
	require.Eventually(t, func() bool {
		runtime.GC()
		return c.HeapPressure() == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, c.HeapPressure(), int64(0))
}

func TestHeapPressureRefundedOnClose(t *testing.T) {
	c, err := New(Options{
		HostObject:        &widgetHost{w: &widget{}},
		AverageObjectSize: 2048,
	})
	require.NoError(t, err)

	_, err = c.Run("global.held = host.Make(); null", "", ExecOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(2048), c.HeapPressure())

	require.NoError(t, c.Close())
	assert.Equal(t, int64(0), c.HeapPressure())
}

func TestAverageObjectSizeTunable(t *testing.T) {
	c, err := New(Options{HostObject: &widgetHost{w: &widget{}}})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetAverageObjectSize(100))
	_, err = c.Run("global.held = host.Fresh('a'); null", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(100), c.HeapPressure())
}
