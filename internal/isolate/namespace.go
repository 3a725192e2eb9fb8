package isolate

import (
	"github.com/dop251/goja"
)

// namespace backs the guest-visible host projection. Guest script sees its
// entries as frozen: writes, deletes, and redefinition all fail regardless
// of JS-level property attributes, because the property set lives host-side
// and only the define/remove hooks mutate it.
type namespace struct {
	props map[string]goja.Value
	order []string
}

func newNamespace() *namespace {
	return &namespace{props: make(map[string]goja.Value)}
}

// define adds or overwrites an entry. Host-side only.
func (n *namespace) define(key string, v goja.Value) {
	if _, ok := n.props[key]; !ok {
		n.order = append(n.order, key)
	}
	n.props[key] = v
}

// remove drops an entry. Host-side only.
func (n *namespace) remove(key string) {
	if _, ok := n.props[key]; !ok {
		return
	}
	delete(n.props, key)
	for i, k := range n.order {
		if k == key {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// clear releases every persistent guest reference the projection holds.
func (n *namespace) clear() {
	n.props = make(map[string]goja.Value)
	n.order = nil
}

// Get implements goja.DynamicObject.
func (n *namespace) Get(key string) goja.Value { return n.props[key] }

// Set rejects guest-side writes.
func (n *namespace) Set(string, goja.Value) bool { return false }

// Has implements goja.DynamicObject.
func (n *namespace) Has(key string) bool {
	_, ok := n.props[key]
	return ok
}

// Delete rejects guest-side deletes.
func (n *namespace) Delete(string) bool { return false }

// Keys lists entries in definition order.
func (n *namespace) Keys() []string {
	keys := make([]string, len(n.order))
	copy(keys, n.order)
	return keys
}
