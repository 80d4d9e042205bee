package marshal

import "reflect"

type hostKey struct {
	kind reflect.Kind
	ptr  uintptr
	n    int
}

// hostIdentity keys slices by backing array and length, maps and pointers
// by address.
func hostIdentity(v any) (hostKey, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Len() == 0 {
			return hostKey{}, false
		}
		return hostKey{kind: reflect.Slice, ptr: rv.Pointer(), n: rv.Len()}, true
	case reflect.Map, reflect.Pointer:
		if rv.IsNil() {
			return hostKey{}, false
		}
		return hostKey{kind: rv.Kind(), ptr: rv.Pointer()}, true
	}
	return hostKey{}, false
}

type identityFilter struct {
	seen map[hostKey]*Handle
}

// NewIdentityFilter returns a Filter that converts every Go container at
// most once per top-level conversion, so shared and cyclic Go structures
// stay shared in the runtime.
func NewIdentityFilter() Filter {
	return &identityFilter{seen: make(map[hostKey]*Handle)}
}

func (f *identityFilter) Test(v any) *Handle {
	if k, ok := hostIdentity(v); ok {
		return f.seen[k]
	}
	return nil
}

func (f *identityFilter) Register(v any, container *Handle) {
	k, ok := hostIdentity(v)
	if !ok {
		container.Close()
		return
	}
	if prev, ok := f.seen[k]; ok {
		prev.Close()
	}
	f.seen[k] = container
}

func (f *identityFilter) Finalize() {
	for k, h := range f.seen {
		h.Close()
		delete(f.seen, k)
	}
}
