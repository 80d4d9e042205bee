package foreign

import (
	"fmt"
	"runtime"

	"go.starlark.net/starlark"
)

// Invoker runs the host function registered under token. It is called with
// the runtime lock held.
type Invoker func(thread *starlark.Thread, token int64, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// Callback is a runtime callable standing in for a host function. The
// function itself never enters the runtime; only its token does.
type Callback struct {
	name   string
	token  int64
	invoke Invoker
}

var _ starlark.Callable = (*Callback)(nil)

// NewCallback returns a callable forwarding to invoke. When the callback is
// collected, done is called with the token so the host side can forget it.
func NewCallback(name string, token int64, invoke Invoker, done func(int64)) *Callback {
	cb := &Callback{name: name, token: token, invoke: invoke}
	if done != nil {
		runtime.AddCleanup(cb, done, token)
	}
	return cb
}

// Token returns the host-side registration token.
func (c *Callback) Token() int64 { return c.token }

func (c *Callback) Name() string          { return c.name }
func (c *Callback) String() string        { return fmt.Sprintf("<host function %s>", c.name) }
func (c *Callback) Type() string          { return "host_function" }
func (c *Callback) Freeze()               {}
func (c *Callback) Truth() starlark.Bool  { return true }
func (c *Callback) Hash() (uint32, error) { return uint32(c.token), nil }

func (c *Callback) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return c.invoke(thread, c.token, args, kwargs)
}
