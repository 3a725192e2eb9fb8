package jsbox

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/jsbox/internal/isolate"
)

// Aliases for the core types, so embedders only import this package.
type (
	Options       = isolate.Options
	ExecOptions   = isolate.ExecOptions
	Script        = isolate.Script
	GuestFunction = isolate.GuestFunction
	GuestObject   = isolate.GuestObject
	Error         = isolate.Error
	Kind          = isolate.Kind
	NormaliseFunc = isolate.NormaliseFunc
	LoadFunc      = isolate.LoadFunc
)

// VM is one guest environment with its host facade. The zero value is not
// usable; create instances with New.
type VM struct {
	ctx *isolate.Context
}

// New creates a guest environment and projects opts.HostObject into it.
func New(opts Options) (*VM, error) {
	ctx, err := isolate.New(opts)
	if err != nil {
		return nil, err
	}
	return &VM{ctx: ctx}, nil
}

// ExecuteString compiles and runs source in one step.
func (vm *VM) ExecuteString(source, identifier string, opts ExecOptions) (interface{}, error) {
	return vm.ctx.Run(source, identifier, opts)
}

// CompileString compiles source into a reusable Script bound to this VM.
func (vm *VM) CompileString(source, identifier string) (*Script, error) {
	return vm.ctx.Compile(source, identifier)
}

// ExecuteScript runs a previously compiled Script.
func (vm *VM) ExecuteScript(s *Script, opts ExecOptions) (interface{}, error) {
	return vm.ctx.Execute(s, opts)
}

// SetTimeLimit sets the default wall-clock budget for executions, applying
// immediately to any execution already in flight.
func (vm *VM) SetTimeLimit(limit time.Duration) error {
	return vm.ctx.SetTimeLimit(limit)
}

// SetMemoryLimit sets the default heap budget in bytes, applying
// immediately to any execution already in flight.
func (vm *VM) SetMemoryLimit(limit int64) error {
	return vm.ctx.SetMemoryLimit(limit)
}

// SetAverageObjectSize tunes the heap-pressure charge per exposed host
// object.
func (vm *VM) SetAverageObjectSize(size int64) error {
	return vm.ctx.SetAverageObjectSize(size)
}

// SetModuleNormaliser installs the module id resolution hook used by the
// guest require builtin.
func (vm *VM) SetModuleNormaliser(fn NormaliseFunc) {
	vm.ctx.SetModuleNormaliser(fn)
}

// SetModuleLoader installs the module source loader used by the guest
// require builtin.
func (vm *VM) SetModuleLoader(fn LoadFunc) {
	vm.ctx.SetModuleLoader(fn)
}

// WriteProperty mirrors a host property write into the guest projection.
func (vm *VM) WriteProperty(name string, value interface{}) error {
	return vm.ctx.WriteProperty(name, value)
}

// UnsetProperty mirrors a host property delete into the guest projection.
func (vm *VM) UnsetProperty(name string) error {
	return vm.ctx.UnsetProperty(name)
}

// HeapPressure reports the outstanding external heap charge for exposed
// host objects.
func (vm *VM) HeapPressure() int64 {
	return vm.ctx.HeapPressure()
}

// Close tears the guest environment down in guaranteed order. Safe to call
// more than once.
func (vm *VM) Close() error {
	return vm.ctx.Close()
}

// CreateSnapshot packages an embed script as an opaque blob that
// Options.Snapshot accepts when creating a VM.
func CreateSnapshot(source string) ([]byte, error) {
	return isolate.CreateSnapshot(source)
}

// ShutdownWatchdog stops the shared watchdog goroutine; the next governed
// execution restarts it. Only needed for clean process teardown.
func ShutdownWatchdog() {
	isolate.ShutdownWatchdog()
}

// SetWatchdogPollInterval tunes how often the shared watchdog samples running
// executions. Takes effect on the next poll.
func SetWatchdogPollInterval(d time.Duration) {
	isolate.SetWatchdogPollInterval(d)
}

// Error kind predicates.

func kindIs(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsInvalidArgument reports an argument rejected before any guest
// interaction.
func IsInvalidArgument(err error) bool { return kindIs(err, isolate.KindInvalidArgument) }

// IsLimitExceeded reports input beyond the engine's representable length.
func IsLimitExceeded(err error) bool { return kindIs(err, isolate.KindLimitExceeded) }

// IsCompileError reports a guest compile diagnostic.
func IsCompileError(err error) bool { return kindIs(err, isolate.KindCompile) }

// IsCrossContextError reports a script executed against the wrong VM.
func IsCrossContextError(err error) bool { return kindIs(err, isolate.KindCrossContext) }

// IsResourceTermination reports a watchdog-forced abort.
func IsResourceTermination(err error) bool { return kindIs(err, isolate.KindResourceTermination) }

// IsGuestException reports an error thrown by guest script code.
func IsGuestException(err error) bool { return kindIs(err, isolate.KindGuestException) }

// IsContextClosed reports use of a VM or proxy after Close.
func IsContextClosed(err error) bool { return kindIs(err, isolate.KindContextClosed) }
