package foreign

import (
	"sync"
	"sync/atomic"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Heap counts the references the host holds on runtime values.
type Heap struct {
	mu     sync.Mutex
	counts map[any]int
	live   int
	allocs int
}

func newHeap() *Heap {
	return &Heap{counts: make(map[any]int)}
}

// Ref is one owned reference to a runtime value.
type Ref struct {
	heap     *Heap
	value    starlark.Value
	children []*Ref
	released atomic.Bool
}

// NewRef returns a new owned reference to v.
func (h *Heap) NewRef(v starlark.Value) *Ref {
	h.acquire(v)
	return &Ref{heap: h, value: v}
}

// Adopt returns a new owned reference to v that also owns children.
// Releasing the returned Ref releases each child once.
func (h *Heap) Adopt(v starlark.Value, children []*Ref) *Ref {
	r := h.NewRef(v)
	r.children = children
	return r
}

// NoteAllocation records that a converter allocated a fresh container.
func (h *Heap) NoteAllocation() {
	h.mu.Lock()
	h.allocs++
	h.mu.Unlock()
}

// Allocations returns the number of containers allocated by converters.
func (h *Heap) Allocations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocs
}

// Live returns the number of outstanding references.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// RefCount returns the outstanding references on v. Values without
// identity (numbers, strings, None) always report zero.
func (h *Heap) RefCount(v starlark.Value) int {
	key, ok := Identity(v)
	if !ok {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[key]
}

func (h *Heap) acquire(v starlark.Value) {
	h.mu.Lock()
	h.live++
	if key, ok := Identity(v); ok {
		h.counts[key]++
	}
	h.mu.Unlock()
}

func (h *Heap) release(v starlark.Value) {
	h.mu.Lock()
	h.live--
	if key, ok := Identity(v); ok {
		if n := h.counts[key] - 1; n > 0 {
			h.counts[key] = n
		} else {
			delete(h.counts, key)
		}
	}
	h.mu.Unlock()
}

// Value returns the referenced value.
func (r *Ref) Value() starlark.Value { return r.value }

// Clone returns an independent owned reference to the same value.
func (r *Ref) Clone() *Ref {
	return r.heap.NewRef(r.value)
}

// Release gives up the reference. Releasing twice panics.
func (r *Ref) Release() {
	if !r.released.CompareAndSwap(false, true) {
		panic("foreign: reference released twice")
	}
	r.heap.release(r.value)
	for _, c := range r.children {
		c.Release()
	}
	r.children = nil
}

// Released reports whether Release has been called.
func (r *Ref) Released() bool { return r.released.Load() }

type tupleKey struct {
	first *starlark.Value
	n     int
}

// Identity returns a comparable key that is equal for two values exactly
// when they are the same runtime object.
func Identity(v starlark.Value) (any, bool) {
	switch v := v.(type) {
	case starlark.Tuple:
		if len(v) == 0 {
			return nil, false
		}
		return tupleKey{&v[0], len(v)}, true
	case *starlark.List, *starlark.Dict, *starlark.Set,
		*starlark.Function, *starlark.Builtin,
		*starlarkstruct.Module, *starlarkstruct.Struct,
		*Type, *Instance, *Exception, *Module, *ByteArray,
		*Callback, *BoundMethod, *InstanceMethod, *Code:
		return v, true
	}
	return nil, false
}
