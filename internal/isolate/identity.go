package isolate

import (
	"reflect"
	"unsafe"
)

// hostID is the stable identity of a host value exposed to the guest.
// The type guards against address reuse across unrelated allocations.
type hostID struct {
	ptr uintptr
	typ reflect.Type
}

// funcID returns the identity of a host function value. Two distinct
// closures over the same code have distinct data words, so captured state
// is part of the identity.
func funcID(fn interface{}) uintptr {
	type iface struct {
		typ, data unsafe.Pointer
	}
	return uintptr((*iface)(unsafe.Pointer(&fn)).data)
}

// instancePtr returns the address component of a host value's identity, or
// zero when the value is not pointer-like.
func instancePtr(rv reflect.Value) uintptr {
	if id, ok := objectID(rv); ok {
		return id.ptr
	}
	return 0
}

// objectID returns the identity of a pointer-like host value, or ok=false
// when the value has no stable address (plain structs, scalars).
func objectID(rv reflect.Value) (hostID, bool) {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Chan, reflect.UnsafePointer:
		return hostID{ptr: rv.Pointer(), typ: rv.Type()}, true
	default:
		return hostID{}, false
	}
}
