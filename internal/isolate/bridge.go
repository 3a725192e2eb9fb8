package isolate

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/dop251/goja"
)

// hostThrown carries a host error across the guest call stack. Guest code
// may catch and inspect it; if it resurfaces uncaught, the bridge restores
// the original error when propagation is enabled.
type hostThrown struct {
	Message string
	err     error
}

func (h *hostThrown) Error() string { return h.Message }

// toGuest converts a host value to its guest representation. Scalars copy
// by value, containers convert structurally, functions and pointers project
// as identity-stable callable wrappers.
func (c *Context) toGuest(v interface{}) (goja.Value, error) {
	switch x := v.(type) {
	case nil:
		return goja.Null(), nil
	case goja.Value:
		return x, nil
	case *GuestFunction:
		// A guest value round-tripping through the host keeps its identity.
		if obj := x.object(c); obj != nil {
			return obj, nil
		}
		return nil, errorf(KindCrossContext, "guest function belongs to another context")
	case *GuestObject:
		if obj := x.object(c); obj != nil {
			return obj, nil
		}
		return nil, errorf(KindCrossContext, "guest object belongs to another context")
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		if s, ok := x.(string); ok && len(s) > MaxStringLen {
			return nil, errorf(KindLimitExceeded, "string exceeds maximum supported length")
		}
		return c.vm.ToValue(x), nil
	case time.Time:
		return c.vm.ToValue(x), nil
	case []interface{}:
		items := make([]interface{}, len(x))
		for i, el := range x {
			gv, err := c.toGuest(el)
			if err != nil {
				return nil, err
			}
			items[i] = gv
		}
		return c.vm.NewArray(items...), nil
	case map[string]interface{}:
		obj := c.vm.NewObject()
		for k, el := range x {
			gv, err := c.toGuest(el)
			if err != nil {
				return nil, err
			}
			if err := obj.Set(k, gv); err != nil {
				return nil, wrapErr(KindResource, err, "failed to set guest property")
			}
		}
		return obj, nil
	case error:
		return c.vm.ToValue(&hostThrown{Message: x.Error(), err: x}), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return c.closureFunc(v, rv), nil
	case reflect.Ptr:
		if rv.IsNil() {
			return goja.Null(), nil
		}
		return c.wrapHostObject(v, rv), nil
	case reflect.Slice, reflect.Array:
		items := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			gv, err := c.toGuest(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			items[i] = gv
		}
		return c.vm.NewArray(items...), nil
	case reflect.Map:
		obj := c.vm.NewObject()
		iter := rv.MapRange()
		for iter.Next() {
			gv, err := c.toGuest(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			if err := obj.Set(fmt.Sprint(iter.Key().Interface()), gv); err != nil {
				return nil, wrapErr(KindResource, err, "failed to set guest property")
			}
		}
		return obj, nil
	default:
		// Value structs have no stable identity; they convert structurally.
		return c.vm.ToValue(v), nil
	}
}

// closureFunc projects a host function as a guest function, reusing the
// cached function object so repeated exposure of the same closure keeps
// guest-side identity.
func (c *Context) closureFunc(v interface{}, rv reflect.Value) goja.Value {
	id := funcID(v)
	if fn, ok := c.handles.closure(id); ok {
		return fn
	}
	fn := c.nativeFunc("<closure>", rv)
	c.handles.putClosure(id, fn)
	return fn
}

// wrapHostObject projects a pointer-like host value as a guest wrapper that
// forwards property access and method calls back into host code. The same
// live host identity always yields the same wrapper.
func (c *Context) wrapHostObject(v interface{}, rv reflect.Value) goja.Value {
	id, ok := objectID(rv)
	if !ok {
		return c.vm.ToValue(v)
	}
	if w := c.registry.lookup(id); w != nil {
		return w
	}
	handler := &hostObjectWrapper{ctx: c, host: v, rv: rv}
	w := c.vm.NewDynamicObject(handler)
	c.registry.put(id, v, w, c.avgObjSize.Load())
	return w
}

// toHost converts a guest value back to a host value. Wrappers unwrap to
// the original host identity; guest functions and (unless forceArray)
// objects become live proxies that re-enter the owning context.
func (c *Context) toHost(v goja.Value, forceArray bool) (interface{}, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	obj, isObj := v.(*goja.Object)
	if !isObj {
		return v.Export(), nil
	}

	switch h := obj.Export().(type) {
	case *hostObjectWrapper:
		return h.host, nil
	case *hostThrown:
		return h.err, nil
	case time.Time:
		return h, nil
	}

	if _, ok := goja.AssertFunction(obj); ok {
		return c.newGuestFunction(obj), nil
	}

	if obj.ClassName() == "Array" {
		length := int(obj.Get("length").ToInteger())
		out := make([]interface{}, 0, length)
		for i := 0; i < length; i++ {
			hv, err := c.toHost(obj.Get(strconv.Itoa(i)), forceArray)
			if err != nil {
				return nil, err
			}
			out = append(out, hv)
		}
		return out, nil
	}

	if forceArray {
		out := make(map[string]interface{})
		for _, k := range obj.Keys() {
			hv, err := c.toHost(obj.Get(k), forceArray)
			if err != nil {
				return nil, err
			}
			out[k] = hv
		}
		return out, nil
	}
	return c.newGuestObject(obj), nil
}

// guestError classifies a failed guest operation: watchdog termination,
// a host error resurfacing through guest frames, or a guest script error.
func (c *Context) guestError(err error, timeHit, memHit bool) error {
	var already *Error
	if errors.As(err, &already) {
		return already
	}

	var intErr *goja.InterruptedError
	if errors.As(err, &intErr) {
		reason := TerminationReason("")
		if sig, ok := intErr.Value().(*terminationSignal); ok {
			reason = sig.reason
		} else if timeHit {
			reason = ReasonTime
		} else if memHit {
			reason = ReasonMemory
		}
		return &Error{
			Kind:   KindResourceTermination,
			Reason: reason,
			Detail: "execution terminated by resource watchdog",
		}
	}

	var soErr *goja.StackOverflowError
	if errors.As(err, &soErr) {
		return &Error{Kind: KindGuestException, Detail: "guest call stack exhausted", Cause: err}
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		if val := ex.Value(); val != nil {
			if ht, ok := val.Export().(*hostThrown); ok {
				if c.curPropagate {
					return ht.err
				}
				return &Error{
					Kind:   KindGuestException,
					Detail: ht.Message,
					Cause:  ht.err,
					Stack:  ex.String(),
				}
			}
			return &Error{Kind: KindGuestException, Detail: val.String(), Stack: ex.String()}
		}
		return &Error{Kind: KindGuestException, Detail: ex.String(), Stack: ex.String()}
	}

	return wrapErr(KindGuestException, err, "guest execution failed")
}

// nativeFunc wraps a bound host function as a guest function object.
func (c *Context) nativeFunc(name string, fn reflect.Value) *goja.Object {
	wrapped := func(call goja.FunctionCall) goja.Value {
		return c.callHost(name, fn, call)
	}
	return c.vm.ToValue(wrapped).ToObject(c.vm)
}

// callHost invokes a host function on behalf of guest code. Host errors are
// thrown into the guest as hostThrown values so they can resurface intact.
func (c *Context) callHost(name string, fn reflect.Value, call goja.FunctionCall) goja.Value {
	c.callbackDepth++
	defer func() { c.callbackDepth-- }()

	t := fn.Type()
	numIn := t.NumIn()
	in := make([]reflect.Value, 0, numIn)
	for i := 0; i < numIn; i++ {
		if t.IsVariadic() && i == numIn-1 {
			elem := t.In(i).Elem()
			for j := i; j < len(call.Arguments); j++ {
				av, err := c.adaptArg(call.Argument(j), elem)
				if err != nil {
					c.throwHost(fmt.Errorf("%s: argument %d: %w", name, j, err))
				}
				in = append(in, av)
			}
			break
		}
		av, err := c.adaptArg(call.Argument(i), t.In(i))
		if err != nil {
			c.throwHost(fmt.Errorf("%s: argument %d: %w", name, i, err))
		}
		in = append(in, av)
	}

	out := fn.Call(in)

	// A trailing error return throws into the guest.
	if n := len(out); n > 0 && t.Out(n-1) == reflect.TypeOf((*error)(nil)).Elem() {
		if errVal := out[n-1]; !errVal.IsNil() {
			c.throwHost(errVal.Interface().(error))
		}
		out = out[:n-1]
	}

	switch len(out) {
	case 0:
		return goja.Undefined()
	case 1:
		gv, err := c.toGuest(out[0].Interface())
		if err != nil {
			c.throwHost(err)
		}
		return gv
	default:
		items := make([]interface{}, len(out))
		for i, o := range out {
			gv, err := c.toGuest(o.Interface())
			if err != nil {
				c.throwHost(err)
			}
			items[i] = gv
		}
		return c.vm.NewArray(items...)
	}
}

// throwHost throws a host error into the guest.
func (c *Context) throwHost(err error) {
	panic(c.vm.ToValue(&hostThrown{Message: err.Error(), err: err}))
}

// rethrow propagates an error from a nested guest call through the current
// guest frame, preserving guest exceptions as-is.
func (c *Context) rethrow(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	c.throwHost(err)
}

// adaptArg converts a guest argument to the host parameter type.
func (c *Context) adaptArg(v goja.Value, t reflect.Type) (reflect.Value, error) {
	if t == reflect.TypeOf((*goja.Value)(nil)).Elem() {
		return reflect.ValueOf(v), nil
	}
	hv, err := c.toHost(v, false)
	if err != nil {
		return reflect.Value{}, err
	}
	if hv == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(hv)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(t) && t.Kind() != reflect.String {
		return rv.Convert(t), nil
	}
	if t.Kind() == reflect.String && rv.Kind() == reflect.String {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", rv.Type(), t)
}

// hostObjectWrapper projects a host object into the guest: property access
// and method calls forward to host code through the owning context.
type hostObjectWrapper struct {
	ctx  *Context
	host interface{}
	rv   reflect.Value
}

func (h *hostObjectWrapper) elem() reflect.Value {
	rv := h.rv
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	return rv
}

func (h *hostObjectWrapper) Get(key string) goja.Value {
	if m := h.rv.MethodByName(key); m.IsValid() {
		keyT := templateKey{typ: h.rv.Type(), ptr: instancePtr(h.rv), method: key}
		if fn, ok := h.ctx.handles.method(keyT); ok {
			return fn
		}
		fn := h.ctx.nativeFunc(key, m)
		h.ctx.handles.putMethod(keyT, fn)
		return fn
	}
	if elem := h.elem(); elem.Kind() == reflect.Struct {
		if f := elem.FieldByName(key); f.IsValid() && f.CanInterface() {
			gv, err := h.ctx.toGuest(f.Interface())
			if err != nil {
				return goja.Undefined()
			}
			return gv
		}
	}
	return goja.Undefined()
}

func (h *hostObjectWrapper) Set(key string, val goja.Value) bool {
	elem := h.elem()
	if elem.Kind() != reflect.Struct {
		return false
	}
	f := elem.FieldByName(key)
	if !f.IsValid() || !f.CanSet() {
		return false
	}
	av, err := h.ctx.adaptArg(val, f.Type())
	if err != nil {
		return false
	}
	f.Set(av)
	return true
}

func (h *hostObjectWrapper) Has(key string) bool {
	if m := h.rv.MethodByName(key); m.IsValid() {
		return true
	}
	elem := h.elem()
	return elem.Kind() == reflect.Struct && elem.FieldByName(key).IsValid()
}

func (h *hostObjectWrapper) Delete(string) bool { return false }

func (h *hostObjectWrapper) Keys() []string {
	var keys []string
	t := h.rv.Type()
	for i := 0; i < t.NumMethod(); i++ {
		if m := t.Method(i); m.IsExported() {
			keys = append(keys, m.Name)
		}
	}
	if elem := h.elem(); elem.Kind() == reflect.Struct {
		et := elem.Type()
		for i := 0; i < et.NumField(); i++ {
			if f := et.Field(i); f.IsExported() {
				keys = append(keys, f.Name)
			}
		}
	}
	return keys
}

// projectHostObject defines the host object's exported methods and fields
// in the namespace, with method function objects drawn from the handle
// cache for guest-side identity stability.
func (c *Context) projectHostObject(ns *namespace) error {
	rv := reflect.ValueOf(c.hostObj)
	t := rv.Type()

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		if len(m.Name) > MaxStringLen {
			return errorf(KindLimitExceeded, "method name exceeds maximum supported length")
		}
		key := templateKey{typ: t, ptr: instancePtr(rv), method: m.Name}
		fn, ok := c.handles.method(key)
		if !ok {
			fn = c.nativeFunc(m.Name, rv.Method(i))
			c.handles.putMethod(key, fn)
		}
		ns.define(m.Name, fn)
	}

	elem := rv
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Struct {
		et := elem.Type()
		for i := 0; i < et.NumField(); i++ {
			f := et.Field(i)
			if !f.IsExported() {
				continue
			}
			if len(f.Name) > MaxStringLen {
				return errorf(KindLimitExceeded, "property name exceeds maximum supported length")
			}
			gv, err := c.toGuest(elem.Field(i).Interface())
			if err != nil {
				return err
			}
			ns.define(f.Name, gv)
		}
	}
	return nil
}
