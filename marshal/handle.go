package marshal

import (
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"

	"github.com/caffeineduck/starbridge/foreign"
	"go.starlark.net/starlark"
)

// Handle is a Go-side proxy for a runtime object. It owns one reference,
// released by Close or, failing that, when the Handle is collected.
//
// Handle methods take the runtime lock themselves and must not be called
// while it is held.
type Handle struct {
	m       *Marshaller
	ref     *foreign.Ref
	tag     TypeTag
	cleanup runtime.Cleanup
	closed  atomic.Bool
}

// NewHandle wraps ref, taking ownership of it.
func (m *Marshaller) NewHandle(ref *foreign.Ref, tag TypeTag) *Handle {
	h := &Handle{m: m, ref: ref, tag: tag}
	h.cleanup = runtime.AddCleanup(h, (*foreign.Ref).Release, ref)
	return h
}

// CallOption adjusts how a result is returned.
type CallOption func(*callConfig)

type callConfig struct {
	raw bool
}

// RawReference returns results as a *Handle instead of converting them.
func RawReference() CallOption {
	return func(c *callConfig) { c.raw = true }
}

func newCallConfig(opts []CallOption) callConfig {
	var c callConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (m *Marshaller) result(v starlark.Value, cfg callConfig) (any, error) {
	if cfg.raw {
		return m.NewHandle(m.rt.Heap().NewRef(v), Classify(v)), nil
	}
	return m.ToHost(v)
}

func (h *Handle) lock() (*foreign.Guard, error) {
	if h.closed.Load() {
		return nil, ErrClosedHandle
	}
	return h.m.rt.Lock(), nil
}

// Type returns the tag recorded when the handle was created.
func (h *Handle) Type() TypeTag { return h.tag }

// Value returns the underlying runtime value. Only use it with the runtime
// lock held.
func (h *Handle) Value() starlark.Value { return h.ref.Value() }

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool { return h.closed.Load() }

// ForeignType returns the object's class.
func (h *Handle) ForeignType() (*Handle, error) {
	g, err := h.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()
	t := h.m.rt.TypeOf(h.ref.Value())
	return h.m.NewHandle(h.m.rt.Heap().NewRef(t), TagType), nil
}

// TypeName returns the name of the object's class.
func (h *Handle) TypeName() string {
	g, err := h.lock()
	if err != nil {
		return ""
	}
	defer g.Unlock()
	return h.m.rt.TypeOf(h.ref.Value()).Name()
}

// Attributes lists the object's attribute names in sorted order.
func (h *Handle) Attributes() ([]string, error) {
	g, err := h.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()
	thread := h.m.rt.NewThread("dir", foreign.OriginHost)
	names, err := h.m.rt.Dir(thread, h.ref.Value())
	if err != nil {
		return nil, h.m.Translate(err)
	}
	return slices.Clone(names), nil
}

// Attr reads attribute name and converts it.
func (h *Handle) Attr(name string, opts ...CallOption) (any, error) {
	g, err := h.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()
	v, err := h.m.rt.GetAttr(h.ref.Value(), name)
	if err != nil {
		return nil, h.m.Translate(err)
	}
	return h.m.result(v, newCallConfig(opts))
}

// SetAttr converts value and stores it as attribute name.
func (h *Handle) SetAttr(name string, value any) error {
	g, err := h.lock()
	if err != nil {
		return err
	}
	defer g.Unlock()
	ref, _, err := h.m.ToForeign(value)
	if err != nil {
		return err
	}
	defer ref.Release()
	if err := h.m.rt.SetAttr(h.ref.Value(), name, ref.Value()); err != nil {
		return h.m.Translate(err)
	}
	return nil
}

// IsCallable reports whether the object can be called.
func (h *Handle) IsCallable() bool {
	if h.closed.Load() {
		return false
	}
	return foreign.IsCallable(h.ref.Value())
}

// Call invokes the object synchronously on the calling goroutine.
func (h *Handle) Call(args []any, kwargs map[string]any, opts ...CallOption) (any, error) {
	g, err := h.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()
	argRef, kwRef, err := h.m.packArgs(args, kwargs)
	if err != nil {
		return nil, err
	}
	defer argRef.Release()
	defer kwRef.Release()

	thread := h.m.rt.NewThread("call", foreign.OriginHost)
	res, err := h.m.rt.Call(thread, h.ref.Value(), argRef.Value().(starlark.Tuple), kwRef.Value().(*starlark.Dict))
	if err != nil {
		return nil, h.m.Translate(err)
	}
	return h.m.result(res, newCallConfig(opts))
}

// CallAsync queues a call on the foreign loop. callback, if not nil, later
// runs on the host loop with the converted result.
func (h *Handle) CallAsync(args []any, kwargs map[string]any, callback func(any, error)) error {
	d := h.m.currentDispatcher()
	if d == nil {
		return ErrNoDispatcher
	}
	g, err := h.lock()
	if err != nil {
		return err
	}
	argRef, kwRef, err := h.m.packArgs(args, kwargs)
	if err != nil {
		g.Unlock()
		return err
	}
	msg := AsyncMessage{
		Kind:     MessageInvoke,
		Callee:   h.ref.Clone(),
		Args:     argRef,
		Kwargs:   kwRef,
		Callback: callback,
	}
	g.Unlock()
	if err := d.Dispatch(msg); err != nil {
		msg.Release()
		return err
	}
	return nil
}

// Clone returns a second handle on the same object.
func (h *Handle) Clone() (*Handle, error) {
	if h.closed.Load() {
		return nil, ErrClosedHandle
	}
	return h.m.NewHandle(h.ref.Clone(), h.tag), nil
}

// Close releases the handle's reference. Further calls do nothing.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.cleanup.Stop()
	h.ref.Release()
	return nil
}

// Repr returns the runtime's repr of the object.
func (h *Handle) Repr() string {
	g, err := h.lock()
	if err != nil {
		return "<closed handle>"
	}
	defer g.Unlock()
	return h.ref.Value().String()
}

func (h *Handle) String() string {
	g, err := h.lock()
	if err != nil {
		return "<closed handle>"
	}
	defer g.Unlock()
	if s, ok := starlark.AsString(h.ref.Value()); ok {
		return s
	}
	return h.ref.Value().String()
}

func (h *Handle) GoString() string {
	return fmt.Sprintf("marshal.Handle{%s}", h.tag)
}

// packArgs converts call arguments into an owned tuple and keyword dict.
// The runtime lock must be held.
func (m *Marshaller) packArgs(args []any, kwargs map[string]any) (*foreign.Ref, *foreign.Ref, error) {
	heap := m.rt.Heap()
	release := func(refs []*foreign.Ref) {
		for _, r := range refs {
			r.Release()
		}
	}

	elems := make([]*foreign.Ref, 0, len(args))
	tuple := make(starlark.Tuple, len(args))
	for i, a := range args {
		ref, _, err := m.ToForeign(a)
		if err != nil {
			release(elems)
			return nil, nil, fmt.Errorf("argument %d: %w", i, err)
		}
		elems = append(elems, ref)
		tuple[i] = ref.Value()
	}
	argRef := heap.Adopt(tuple, elems)

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	dict := starlark.NewDict(len(kwargs))
	kwElems := make([]*foreign.Ref, 0, len(kwargs))
	for _, k := range keys {
		ref, _, err := m.ToForeign(kwargs[k])
		if err != nil {
			release(kwElems)
			argRef.Release()
			return nil, nil, fmt.Errorf("argument %s: %w", k, err)
		}
		kwElems = append(kwElems, ref)
		if err := dict.SetKey(starlark.String(k), ref.Value()); err != nil {
			release(kwElems)
			argRef.Release()
			return nil, nil, err
		}
	}
	return argRef, heap.Adopt(dict, kwElems), nil
}
