package isolate

import (
	"reflect"

	"github.com/dop251/goja"
)

// templateKey identifies a bound host method within a context's handle
// cache. The instance pointer is part of the key because the cached guest
// function closes over a bound receiver.
type templateKey struct {
	typ    reflect.Type
	ptr    uintptr
	method string
}

// handleCache maps stable host identities to guest function objects, so the
// same host method or closure projects to the same guest function every time
// it is exposed. Entries live until the owning context is torn down and are
// only touched by the goroutine holding the context lock.
type handleCache struct {
	methods  map[templateKey]*goja.Object
	closures map[uintptr]*goja.Object
}

func newHandleCache() *handleCache {
	return &handleCache{
		methods:  make(map[templateKey]*goja.Object),
		closures: make(map[uintptr]*goja.Object),
	}
}

func (h *handleCache) method(key templateKey) (*goja.Object, bool) {
	fn, ok := h.methods[key]
	return fn, ok
}

func (h *handleCache) putMethod(key templateKey, fn *goja.Object) {
	h.methods[key] = fn
}

func (h *handleCache) closure(id uintptr) (*goja.Object, bool) {
	fn, ok := h.closures[id]
	return fn, ok
}

func (h *handleCache) putClosure(id uintptr, fn *goja.Object) {
	h.closures[id] = fn
}

func (h *handleCache) release() {
	h.methods = make(map[templateKey]*goja.Object)
	h.closures = make(map[uintptr]*goja.Object)
}
