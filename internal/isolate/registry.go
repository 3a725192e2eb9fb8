package isolate

import (
	"runtime"
	"sync"
	"weak"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/jsbox/internal/metrics"
)

// weakEntry tracks one guest wrapper exposed for a host value. The registry
// is the sole strong host-side owner of the value while the wrapper may
// still be reachable from guest state; the guest collector reporting the
// wrapper unreachable is the only trigger that releases that hold.
type weakEntry struct {
	id       hostID
	host     interface{}
	wrapper  weak.Pointer[goja.Object]
	charge   int64
	released bool
}

// weakRegistry maps host identities to live guest wrappers and accounts an
// external heap-pressure charge per wrapper. Guest wrappers live on the Go
// heap, so the Go collector is the guest engine's collector; a finalizer on
// the wrapper is the unreachability notification.
type weakRegistry struct {
	mu      sync.Mutex
	entries map[hostID]*weakEntry
	charges int64
	metrics *metrics.Metrics
}

func newWeakRegistry(m *metrics.Metrics) *weakRegistry {
	return &weakRegistry{
		entries: make(map[hostID]*weakEntry),
		metrics: m,
	}
}

// lookup returns the live wrapper for id, or nil when none exists or the
// previous one has already become unreachable.
func (r *weakRegistry) lookup(id hostID) *goja.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.released {
		return nil
	}
	return e.wrapper.Value()
}

// put records a freshly created wrapper for id, replacing any stale entry.
func (r *weakRegistry) put(id hostID, host interface{}, wrapper *goja.Object, charge int64) {
	r.mu.Lock()
	if old, ok := r.entries[id]; ok {
		r.releaseLocked(old)
	}
	e := &weakEntry{
		id:      id,
		host:    host,
		wrapper: weak.Make(wrapper),
		charge:  charge,
	}
	r.entries[id] = e
	r.charges += charge
	r.metrics.SetHeapPressure(float64(r.charges))
	r.mu.Unlock()

	// Unreachability notification from the guest heap. Runs on the
	// collector's goroutine, so release must not touch the vm.
	runtime.SetFinalizer(wrapper, func(*goja.Object) {
		r.release(e)
	})
}

// release refunds the entry's charge and drops the strong host reference.
// Idempotent: the finalizer and context teardown may both get here.
func (r *weakRegistry) release(e *weakEntry) {
	r.mu.Lock()
	r.releaseLocked(e)
	r.mu.Unlock()
}

func (r *weakRegistry) releaseLocked(e *weakEntry) {
	if e.released {
		return
	}
	e.released = true
	e.host = nil
	r.charges -= e.charge
	if cur, ok := r.entries[e.id]; ok && cur == e {
		delete(r.entries, e.id)
	}
	r.metrics.SetHeapPressure(float64(r.charges))
}

// releaseAll releases every entry, returning the pressure accounting to zero.
func (r *weakRegistry) releaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.released {
			continue
		}
		e.released = true
		e.host = nil
		r.charges -= e.charge
	}
	r.entries = make(map[hostID]*weakEntry)
	r.metrics.SetHeapPressure(float64(r.charges))
}

// pressure reports the sum of outstanding charges.
func (r *weakRegistry) pressure() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.charges
}
