package jsbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter struct {
	Prefix string
}

func (g *greeter) Greet(who string) string { return g.Prefix + who }

func TestVMExecuteString(t *testing.T) {
	vm, err := New(Options{HostObject: &greeter{Prefix: "hi "}})
	require.NoError(t, err)
	defer vm.Close()

	v, err := vm.ExecuteString("host.Greet('there')", "greet.js", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hi there", v)
}

func TestVMCompileAndExecuteScript(t *testing.T) {
	vm, err := New(Options{})
	require.NoError(t, err)
	defer vm.Close()

	s, err := vm.CompileString("2 ** 10", "pow.js")
	require.NoError(t, err)
	defer s.Release()

	v, err := vm.ExecuteScript(s, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1024), v)
}

func TestVMPropertyMirroring(t *testing.T) {
	vm, err := New(Options{})
	require.NoError(t, err)
	defer vm.Close()

	require.NoError(t, vm.WriteProperty("flag", true))
	v, err := vm.ExecuteString("host.flag", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	require.NoError(t, vm.UnsetProperty("flag"))
	v, err = vm.ExecuteString("typeof host.flag", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "undefined", v)
}

func TestVMModuleHooks(t *testing.T) {
	vm, err := New(Options{})
	require.NoError(t, err)
	defer vm.Close()

	vm.SetModuleLoader(func(id string) (string, error) {
		return "exports.id = '" + id + "'", nil
	})
	vm.SetModuleNormaliser(func(base, id string) (string, error) {
		return "resolved/" + id, nil
	})

	v, err := vm.ExecuteString("require('mod').id", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "resolved/mod", v)
}

func TestVMSnapshot(t *testing.T) {
	blob, err := CreateSnapshot("var base = 40")
	require.NoError(t, err)

	vm, err := New(Options{Snapshot: blob})
	require.NoError(t, err)
	defer vm.Close()

	v, err := vm.ExecuteString("base + 2", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestErrorPredicates(t *testing.T) {
	vm, err := New(Options{})
	require.NoError(t, err)

	_, err = vm.CompileString("function {", "")
	assert.True(t, IsCompileError(err))
	assert.False(t, IsGuestException(err))

	_, err = vm.ExecuteString("throw 'plain'", "", ExecOptions{})
	assert.True(t, IsGuestException(err))

	_, err = vm.ExecuteString("for (;;) {}", "", ExecOptions{TimeLimit: 50 * time.Millisecond})
	assert.True(t, IsResourceTermination(err))

	_, err = vm.ExecuteString("1", "", ExecOptions{MemoryLimit: -1})
	assert.True(t, IsInvalidArgument(err))

	err = vm.SetMemoryLimit(-5)
	assert.True(t, IsInvalidArgument(err))

	other, err := New(Options{})
	require.NoError(t, err)
	s, err := other.CompileString("1", "")
	require.NoError(t, err)
	_, err = vm.ExecuteScript(s, ExecOptions{})
	assert.True(t, IsCrossContextError(err))
	require.NoError(t, other.Close())

	require.NoError(t, vm.Close())
	_, err = vm.ExecuteString("1", "", ExecOptions{})
	assert.True(t, IsContextClosed(err))
}

func TestVMLimitsAdjustable(t *testing.T) {
	vm, err := New(Options{})
	require.NoError(t, err)
	defer vm.Close()

	require.NoError(t, vm.SetTimeLimit(50*time.Millisecond))
	_, err = vm.ExecuteString("for (;;) {}", "", ExecOptions{})
	assert.True(t, IsResourceTermination(err))

	require.NoError(t, vm.SetTimeLimit(0))
	v, err := vm.ExecuteString("'unbounded'", "", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "unbounded", v)
}
