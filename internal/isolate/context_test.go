package isolate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Run("typeof host", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "object", v)

	v, err = c.Run("typeof console.log === 'function' && typeof print === 'function'", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestNewCustomNamespaceName(t *testing.T) {
	c, err := New(Options{Name: "php", Variables: map[string]interface{}{"x": 1}})
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Run("php.x", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestNewRejectsNegativeMemoryLimit(t *testing.T) {
	_, err := New(Options{MemoryLimit: -1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidArgument}))
}

func TestVariablesProjectedReadOnly(t *testing.T) {
	c, err := New(Options{Variables: map[string]interface{}{"answer": 42}})
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Run("host.answer", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	// Sloppy-mode writes to a non-writable property are silently ignored.
	v, err = c.Run("host.answer = 7; host.answer", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestWriteAndUnsetProperty(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteProperty("x", 5))
	v, err := c.Run("host.x", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	// Writes overwrite.
	require.NoError(t, c.WriteProperty("x", "five"))
	v, err = c.Run("host.x", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "five", v)

	require.NoError(t, c.UnsetProperty("x"))
	v, err = c.Run("typeof host.x", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "undefined", v)
}

func TestProjectionResistsGuestDeletion(t *testing.T) {
	c, err := New(Options{
		HostObject: failingHost{},
		Variables:  map[string]interface{}{"answer": 42},
	})
	require.NoError(t, err)
	defer c.Close()

	// Projected members survive guest-side delete.
	v, err := c.Run("delete host.Fail; typeof host.Fail", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "function", v)

	v, err = c.Run("delete host.answer; host.answer", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	// The namespace binding itself cannot be deleted either.
	v, err = c.Run("delete global.host; typeof host", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "object", v)
}

func TestProjectionResistsGuestRedefinition(t *testing.T) {
	c, err := New(Options{Variables: map[string]interface{}{"answer": 42}})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run("Object.defineProperty(host, 'answer', {value: 7})", "", ExecOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: KindGuestException}))

	v, err := c.Run("host.answer", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestCloseIdempotent(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	_, err = c.Run("1", "", ExecOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: KindContextClosed}))

	err = c.SetTimeLimit(0)
	assert.True(t, errors.Is(err, &Error{Kind: KindContextClosed}))
}

func TestCloseSeversProxies(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	v, err := c.Run("({a: 1})", "", ExecOptions{})
	require.NoError(t, err)
	obj, ok := v.(*GuestObject)
	require.True(t, ok)

	require.NoError(t, c.Close())

	_, err = obj.Get("a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: KindContextClosed}))
}

func TestCloseReleasesScripts(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	s, err := c.Compile("1+1", "unit")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Execute(s, ExecOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: KindCrossContext}))
}

func TestSetLimitValidation(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	defer c.Close()

	err = c.SetMemoryLimit(-1)
	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidArgument}))

	err = c.SetAverageObjectSize(0)
	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidArgument}))

	assert.NoError(t, c.SetMemoryLimit(0))
	assert.NoError(t, c.SetTimeLimit(0))
	assert.NoError(t, c.SetAverageObjectSize(512))
}

type failingHost struct{}

var errHostBoom = errors.New("host boom")

func (failingHost) Fail() error { return errHostBoom }

func TestHostErrorWrappedByDefault(t *testing.T) {
	c, err := New(Options{HostObject: failingHost{}})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run("host.Fail()", "", ExecOptions{})
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindGuestException, e.Kind)
	assert.Contains(t, e.Detail, "host boom")
	assert.True(t, errors.Is(err, errHostBoom))
}

func TestHostErrorPropagatedWhenEnabled(t *testing.T) {
	c, err := New(Options{HostObject: failingHost{}, PropagateHostExceptions: true})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run("host.Fail()", "", ExecOptions{})
	assert.Equal(t, errHostBoom, err)
}

func TestHostErrorPropagatedPerExecution(t *testing.T) {
	c, err := New(Options{HostObject: failingHost{}})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run("host.Fail()", "", ExecOptions{PropagateHostExceptions: true})
	assert.Equal(t, errHostBoom, err)

	// The per-execution flag does not stick.
	_, err = c.Run("host.Fail()", "", ExecOptions{})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindGuestException, e.Kind)
}

func TestGuestCanCatchHostError(t *testing.T) {
	c, err := New(Options{HostObject: failingHost{}})
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Run("try { host.Fail() } catch (e) { 'caught' }", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "caught", v)
}
