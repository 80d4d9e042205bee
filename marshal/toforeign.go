package marshal

import (
	"cmp"
	"fmt"
	"math/big"
	"reflect"
	"slices"
	"time"

	"github.com/caffeineduck/starbridge/foreign"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ToForeign converts v into a new runtime value and returns an owned
// reference to it with its tag. The runtime lock must be held.
func (m *Marshaller) ToForeign(v any) (*foreign.Ref, TypeTag, error) {
	hs := m.hooks()
	e := &encoder{m: m, hooks: hs, heap: m.rt.Heap()}
	if hs.filters != nil {
		e.filter = hs.filters()
	}
	ref, tag, err := e.encode(v)
	if e.filter != nil {
		e.filter.Finalize()
	}
	return ref, tag, err
}

type encoder struct {
	m      *Marshaller
	hooks  hookSet
	heap   *foreign.Heap
	filter Filter
}

func (e *encoder) encode(v any) (*foreign.Ref, TypeTag, error) {
	if e.hooks.unmarshal != nil {
		if h := e.hooks.unmarshal(v); h != nil {
			return e.handle(h)
		}
	}

	switch x := v.(type) {
	case nil:
		return e.scalar(starlark.None, TagNone)
	case *Handle:
		if x == nil {
			return e.scalar(starlark.None, TagNone)
		}
		return e.handle(x)
	case bool:
		return e.scalar(starlark.Bool(x), TagBool)
	case int:
		return e.scalar(starlark.MakeInt(x), TagInteger)
	case int8:
		return e.scalar(starlark.MakeInt64(int64(x)), TagInteger)
	case int16:
		return e.scalar(starlark.MakeInt64(int64(x)), TagInteger)
	case int32:
		return e.scalar(starlark.MakeInt64(int64(x)), TagInteger)
	case int64:
		return e.scalar(starlark.MakeInt64(x), TagInteger)
	case uint:
		return e.scalar(starlark.MakeUint(x), TagInteger)
	case uint8:
		return e.scalar(starlark.MakeUint64(uint64(x)), TagInteger)
	case uint16:
		return e.scalar(starlark.MakeUint64(uint64(x)), TagInteger)
	case uint32:
		return e.scalar(starlark.MakeUint64(uint64(x)), TagInteger)
	case uint64:
		return e.scalar(starlark.MakeUint64(x), TagInteger)
	case *big.Int:
		if x == nil {
			return e.scalar(starlark.None, TagNone)
		}
		return e.scalar(starlark.MakeBigInt(x), TagInteger)
	case float32:
		return e.scalar(starlark.Float(x), TagFloat)
	case float64:
		return e.scalar(starlark.Float(x), TagFloat)
	case complex64:
		return e.scalar(foreign.Complex{Real: float64(real(x)), Imag: float64(imag(x))}, TagComplex)
	case complex128:
		return e.scalar(foreign.Complex{Real: real(x), Imag: imag(x)}, TagComplex)
	case string:
		return e.scalar(starlark.String(x), TagUnicode)
	case []byte:
		return e.scalar(starlark.Bytes(x), TagBytes)
	case HostFunc:
		return e.function(x)
	case func(args []any, kwargs map[string]any) (any, error):
		return e.function(x)
	case Tuple:
		return e.container(v)
	case *Set:
		if x == nil {
			return e.scalar(starlark.None, TagNone)
		}
		return e.container(v)
	case *Dict:
		if x == nil {
			return e.scalar(starlark.None, TagNone)
		}
		return e.container(v)
	}

	if e.hooks.classifier != nil && e.hooks.classifier(v) == SpecialDateTime {
		return e.dateTime(v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		if rv.IsNil() {
			return e.scalar(starlark.None, TagNone)
		}
		fn, ok := adaptFunc(rv)
		if !ok {
			return nil, TagUnsupported, unsupportedHost(v)
		}
		return e.function(fn)
	case reflect.Slice:
		if rv.IsNil() {
			return e.scalar(starlark.None, TagNone)
		}
		return e.container(v)
	case reflect.Map:
		if rv.IsNil() {
			return e.scalar(starlark.None, TagNone)
		}
		return e.container(v)
	case reflect.Array:
		return e.container(v)
	case reflect.Pointer:
		if rv.IsNil() {
			return e.scalar(starlark.None, TagNone)
		}
	}
	return nil, TagUnsupported, unsupportedHost(v)
}

func (e *encoder) scalar(v starlark.Value, tag TypeTag) (*foreign.Ref, TypeTag, error) {
	return e.heap.NewRef(v), tag, nil
}

func (e *encoder) handle(h *Handle) (*foreign.Ref, TypeTag, error) {
	if h.closed.Load() {
		return nil, TagUnsupported, ErrClosedHandle
	}
	return h.ref.Clone(), h.tag, nil
}

func (e *encoder) function(fn HostFunc) (*foreign.Ref, TypeTag, error) {
	w, ok := e.hooks.builder.(FunctionWrapper)
	if !ok {
		return nil, TagUnsupported, unsupportedHost(fn)
	}
	token := e.m.callbacks.Register(fn)
	tokenHandle := e.m.NewHandle(e.heap.NewRef(starlark.MakeInt64(token)), TagInteger)
	defer tokenHandle.Close()
	shim, err := w.WrapFunction(tokenHandle)
	if err != nil {
		e.m.callbacks.Unregister(token)
		return nil, TagUnsupported, fmt.Errorf("%w: wrap function: %w", ErrHostAPI, err)
	}
	defer shim.Close()
	return shim.ref.Clone(), TagHostFunctionWrapped, nil
}

func (e *encoder) dateTime(v any) (*foreign.Ref, TypeTag, error) {
	w, ok := e.hooks.builder.(DateTimeWrapper)
	if !ok {
		return nil, TagUnsupported, unsupportedHost(v)
	}
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case *time.Time:
		if x == nil {
			return e.scalar(starlark.None, TagNone)
		}
		t = *x
	default:
		return nil, TagUnsupported, unsupportedHost(v)
	}
	h, err := w.WrapDateTime(t)
	if err != nil {
		return nil, TagUnsupported, fmt.Errorf("%w: wrap date: %w", ErrHostAPI, err)
	}
	defer h.Close()
	return h.ref.Clone(), TagHostDateTime, nil
}

// container converts a Go container. The empty runtime container is
// offered to the filter before it is populated.
func (e *encoder) container(v any) (*foreign.Ref, TypeTag, error) {
	if e.filter != nil {
		if h := e.filter.Test(v); h != nil {
			return e.handle(h)
		}
	}

	shell, tag := newShell(v)
	e.heap.NoteAllocation()
	ref := e.heap.NewRef(shell)
	if e.filter != nil {
		e.filter.Register(v, e.m.NewHandle(ref.Clone(), tag))
	}
	if err := e.populate(shell, v); err != nil {
		log.Debugf("discarding partial %s: %s", tag, err)
		ref.Release()
		return nil, TagUnsupported, err
	}
	return ref, tag, nil
}

func newShell(v any) (starlark.Value, TypeTag) {
	switch x := v.(type) {
	case Tuple:
		return make(starlark.Tuple, len(x)), TagTuple
	case *Set:
		return starlark.NewSet(len(x.Items)), TagSet
	case *Dict:
		return starlark.NewDict(len(x.Entries)), TagDictionary
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map {
		return starlark.NewDict(rv.Len()), TagDictionary
	}
	return starlark.NewList(make([]starlark.Value, 0, rv.Len())), TagList
}

// element converts one member and returns the bare value; the container
// keeps it alive from then on.
func (e *encoder) element(v any) (starlark.Value, error) {
	ref, _, err := e.encode(v)
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	return ref.Value(), nil
}

func (e *encoder) populate(shell starlark.Value, v any) error {
	switch x := v.(type) {
	case Tuple:
		t := shell.(starlark.Tuple)
		for i, item := range x {
			ev, err := e.element(item)
			if err != nil {
				return err
			}
			t[i] = ev
		}
		return nil
	case *Set:
		s := shell.(*starlark.Set)
		for _, item := range x.Items {
			ev, err := e.element(item)
			if err != nil {
				return err
			}
			if err := s.Insert(ev); err != nil {
				return &UnsupportedTypeError{Direction: "to foreign", Type: "set element " + ev.Type()}
			}
		}
		return nil
	case *Dict:
		d := shell.(*starlark.Dict)
		for _, entry := range x.Entries {
			kv, err := e.element(entry.Key)
			if err != nil {
				return err
			}
			vv, err := e.element(entry.Value)
			if err != nil {
				return err
			}
			if err := d.SetKey(kv, vv); err != nil {
				return &UnsupportedTypeError{Direction: "to foreign", Type: "dict key " + kv.Type()}
			}
		}
		return nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map {
		return e.populateMap(shell.(*starlark.Dict), rv)
	}
	l := shell.(*starlark.List)
	for i := range rv.Len() {
		ev, err := e.element(rv.Index(i).Interface())
		if err != nil {
			return err
		}
		if err := l.Append(ev); err != nil {
			return err
		}
	}
	return nil
}

// populateMap inserts entries in key order. Keys must be strings or
// numbers.
func (e *encoder) populateMap(d *starlark.Dict, rv reflect.Value) error {
	type entry struct {
		key starlark.Value
		val reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, err := mapKey(iter.Key())
		if err != nil {
			return err
		}
		entries = append(entries, entry{key: k, val: iter.Value()})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return compareKeys(a.key, b.key)
	})
	for _, en := range entries {
		vv, err := e.element(en.val.Interface())
		if err != nil {
			return err
		}
		if err := d.SetKey(en.key, vv); err != nil {
			return err
		}
	}
	return nil
}

func mapKey(k reflect.Value) (starlark.Value, error) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return nil, &UnsupportedTypeError{Direction: "to foreign", Type: "nil map key"}
		}
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.String:
		return starlark.String(k.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(k.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return starlark.MakeUint64(k.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return starlark.Float(k.Float()), nil
	case reflect.Bool:
		return starlark.Bool(k.Bool()), nil
	}
	return nil, &UnsupportedTypeError{Direction: "to foreign", Type: "map key " + k.Type().String()}
}

// compareKeys orders numbers before strings and each group by value.
func compareKeys(a, b starlark.Value) int {
	as, aStr := a.(starlark.String)
	bs, bStr := b.(starlark.String)
	switch {
	case aStr && bStr:
		return cmp.Compare(as, bs)
	case aStr:
		return 1
	case bStr:
		return -1
	}
	if lt, err := starlark.Compare(syntax.LT, a, b); err == nil && lt {
		return -1
	}
	if gt, err := starlark.Compare(syntax.GT, a, b); err == nil && gt {
		return 1
	}
	return 0
}
