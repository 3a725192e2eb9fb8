package isolate

import (
	"github.com/dop251/goja"
)

// guestRef ties a host-side proxy to a guest value in its owning context.
// Teardown severs the tie; afterwards every operation reports the context
// as closed.
type guestRef struct {
	ctx *Context
	obj *goja.Object
}

func (r *guestRef) sever() {
	r.ctx = nil
	r.obj = nil
}

// object returns the underlying guest value when the proxy belongs to c.
func (r *guestRef) object(c *Context) *goja.Object {
	if r.ctx != c {
		return nil
	}
	return r.obj
}

func (r *guestRef) context() (*Context, error) {
	if r.ctx == nil {
		return nil, errorf(KindContextClosed, "owning context has been destroyed")
	}
	return r.ctx, nil
}

// GuestFunction is an invocable host proxy for a guest function. Call
// re-enters the owning context under its default resource governance.
type GuestFunction struct {
	guestRef
}

func (c *Context) newGuestFunction(obj *goja.Object) *GuestFunction {
	f := &GuestFunction{guestRef{ctx: c, obj: obj}}
	c.proxies[&f.guestRef] = struct{}{}
	return f
}

// Call invokes the guest function with the given host arguments.
func (f *GuestFunction) Call(args ...interface{}) (interface{}, error) {
	c, err := f.context()
	if err != nil {
		return nil, err
	}
	return c.runGoverned(ExecOptions{}, func() (goja.Value, error) {
		fn, ok := goja.AssertFunction(f.obj)
		if !ok {
			return nil, errorf(KindInvalidArgument, "guest value is not callable")
		}
		gargs := make([]goja.Value, len(args))
		for i, a := range args {
			gv, err := c.toGuest(a)
			if err != nil {
				return nil, err
			}
			gargs[i] = gv
		}
		return fn(goja.Undefined(), gargs...)
	})
}

// GuestObject is a live host proxy for a guest object: property access and
// method calls re-enter the owning context.
type GuestObject struct {
	guestRef
}

func (c *Context) newGuestObject(obj *goja.Object) *GuestObject {
	o := &GuestObject{guestRef{ctx: c, obj: obj}}
	c.proxies[&o.guestRef] = struct{}{}
	return o
}

// Get reads a property of the guest object.
func (o *GuestObject) Get(name string) (interface{}, error) {
	c, err := o.context()
	if err != nil {
		return nil, err
	}
	return c.runGoverned(ExecOptions{}, func() (goja.Value, error) {
		return o.obj.Get(name), nil
	})
}

// Set writes a property of the guest object.
func (o *GuestObject) Set(name string, value interface{}) error {
	c, err := o.context()
	if err != nil {
		return err
	}
	_, err = c.runGoverned(ExecOptions{}, func() (goja.Value, error) {
		gv, err := c.toGuest(value)
		if err != nil {
			return nil, err
		}
		return goja.Undefined(), o.obj.Set(name, gv)
	})
	return err
}

// Keys lists the enumerable property names of the guest object.
func (o *GuestObject) Keys() ([]string, error) {
	c, err := o.context()
	if err != nil {
		return nil, err
	}
	var keys []string
	_, err = c.runGoverned(ExecOptions{}, func() (goja.Value, error) {
		keys = o.obj.Keys()
		return goja.Undefined(), nil
	})
	return keys, err
}

// CallMethod invokes a method of the guest object with the object as the
// receiver.
func (o *GuestObject) CallMethod(name string, args ...interface{}) (interface{}, error) {
	c, err := o.context()
	if err != nil {
		return nil, err
	}
	return c.runGoverned(ExecOptions{}, func() (goja.Value, error) {
		fn, ok := goja.AssertFunction(o.obj.Get(name))
		if !ok {
			return nil, errorf(KindInvalidArgument, "guest property %q is not callable", name)
		}
		gargs := make([]goja.Value, len(args))
		for i, a := range args {
			gv, err := c.toGuest(a)
			if err != nil {
				return nil, err
			}
			gargs[i] = gv
		}
		return fn(o.obj, gargs...)
	})
}
