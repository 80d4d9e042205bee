package foreign

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"sync/atomic"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var nextID atomic.Uint32

func newID() uint32 { return nextID.Add(1) }

// Complex is a complex number with float64 parts.
type Complex struct {
	Real, Imag float64
}

var (
	_ starlark.HasAttrs   = Complex{}
	_ starlark.Comparable = Complex{}
)

func (c Complex) String() string {
	imag := strconv.FormatFloat(c.Imag, 'g', -1, 64) + "j"
	if c.Real == 0 && !math.Signbit(c.Real) {
		return imag
	}
	sign := "+"
	if c.Imag < 0 || math.Signbit(c.Imag) {
		sign = ""
	}
	return "(" + strconv.FormatFloat(c.Real, 'g', -1, 64) + sign + imag + ")"
}

func (c Complex) Type() string         { return "complex" }
func (c Complex) Freeze()              {}
func (c Complex) Truth() starlark.Bool { return c.Real != 0 || c.Imag != 0 }

func (c Complex) Hash() (uint32, error) {
	r := math.Float64bits(c.Real)
	i := math.Float64bits(c.Imag)
	return uint32(r^r>>32) ^ 1000003*uint32(i^i>>32), nil
}

func (c Complex) Attr(name string) (starlark.Value, error) {
	switch name {
	case "real":
		return starlark.Float(c.Real), nil
	case "imag":
		return starlark.Float(c.Imag), nil
	}
	return nil, nil
}

func (c Complex) AttrNames() []string { return []string{"imag", "real"} }

func (c Complex) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	o := y.(Complex)
	switch op {
	case syntax.EQL:
		return c == o, nil
	case syntax.NEQ:
		return c != o, nil
	}
	return false, fmt.Errorf("complex numbers are not ordered")
}

// ByteArray is a mutable byte sequence.
type ByteArray struct {
	data   []byte
	frozen bool
}

var (
	_ starlark.Indexable   = (*ByteArray)(nil)
	_ starlark.HasSetIndex = (*ByteArray)(nil)
)

// NewByteArray returns a bytearray holding a copy of b.
func NewByteArray(b []byte) *ByteArray {
	return &ByteArray{data: append([]byte(nil), b...)}
}

// Bytes returns a copy of the contents.
func (b *ByteArray) Bytes() []byte { return append([]byte(nil), b.data...) }

func (b *ByteArray) String() string {
	return "bytearray(" + starlark.Bytes(b.data).String() + ")"
}

func (b *ByteArray) Type() string          { return "bytearray" }
func (b *ByteArray) Freeze()               { b.frozen = true }
func (b *ByteArray) Truth() starlark.Bool  { return len(b.data) > 0 }
func (b *ByteArray) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: bytearray") }
func (b *ByteArray) Len() int              { return len(b.data) }

func (b *ByteArray) Index(i int) starlark.Value { return starlark.MakeInt(int(b.data[i])) }

func (b *ByteArray) SetIndex(i int, v starlark.Value) error {
	if b.frozen {
		return fmt.Errorf("cannot assign to element of frozen bytearray")
	}
	n, err := starlark.AsInt32(v)
	if err != nil {
		return err
	}
	if n < 0 || n > 255 {
		return fmt.Errorf("byte must be in range(0, 256)")
	}
	b.data[i] = byte(n)
	return nil
}

// Code is a compiled program produced by compile().
type Code struct {
	prog     *starlark.Program
	filename string
}

func (c *Code) String() string        { return fmt.Sprintf("<code object at %q>", c.filename) }
func (c *Code) Type() string          { return "code" }
func (c *Code) Freeze()               {}
func (c *Code) Truth() starlark.Bool  { return true }
func (c *Code) Hash() (uint32, error) { return hashString(c.filename), nil }

// Type is a class object. Calling it creates an instance, or an exception
// when the class derives from BaseException.
type Type struct {
	name      string
	bases     []*Type
	dict      starlark.StringDict
	exception bool
	builtin   starlark.Value // constructor for built-in kinds, may be nil
	isBuiltin bool
	id        uint32
}

var (
	_ starlark.Callable    = (*Type)(nil)
	_ starlark.HasAttrs    = (*Type)(nil)
	_ starlark.HasSetField = (*Type)(nil)
)

func newType(name string, bases []*Type, dict starlark.StringDict) *Type {
	if dict == nil {
		dict = make(starlark.StringDict)
	}
	t := &Type{name: name, bases: bases, dict: dict, id: newID()}
	for _, b := range bases {
		if b.exception {
			t.exception = true
		}
	}
	return t
}

// Name returns the class name.
func (t *Type) Name() string { return t.name }

// IsException reports whether instances of t are exceptions.
func (t *Type) IsException() bool { return t.exception }

func (t *Type) String() string        { return fmt.Sprintf("<class '%s'>", t.name) }
func (t *Type) Type() string          { return "type" }
func (t *Type) Freeze()               {}
func (t *Type) Truth() starlark.Bool  { return true }
func (t *Type) Hash() (uint32, error) { return t.id, nil }

// IsSubtype reports whether t is other or derives from it.
func (t *Type) IsSubtype(other *Type) bool {
	if t == other {
		return true
	}
	for _, b := range t.bases {
		if b.IsSubtype(other) {
			return true
		}
	}
	return false
}

func (t *Type) lookup(name string) (starlark.Value, bool) {
	if v, ok := t.dict[name]; ok {
		return v, true
	}
	for _, b := range t.bases {
		if v, ok := b.lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (t *Type) names(into map[string]bool) {
	for k := range t.dict {
		into[k] = true
	}
	for _, b := range t.bases {
		b.names(into)
	}
}

func (t *Type) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	switch {
	case t.isBuiltin:
		if t.builtin == nil {
			return nil, fmt.Errorf("cannot create '%s' instances", t.name)
		}
		return starlark.Call(thread, t.builtin, args, kwargs)
	case t.exception:
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s() takes no keyword arguments", t.name)
		}
		return NewException(t, args), nil
	}
	inst := &Instance{class: t, dict: make(starlark.StringDict), id: newID()}
	if init, ok := t.lookup("__init__"); ok {
		if _, err := starlark.Call(thread, init, append(starlark.Tuple{inst}, args...), kwargs); err != nil {
			return nil, err
		}
	} else if len(args) > 0 || len(kwargs) > 0 {
		return nil, fmt.Errorf("%s() takes no arguments", t.name)
	}
	return inst, nil
}

func (t *Type) Attr(name string) (starlark.Value, error) {
	switch name {
	case "__name__":
		return starlark.String(t.name), nil
	case "__bases__":
		bases := make(starlark.Tuple, len(t.bases))
		for i, b := range t.bases {
			bases[i] = b
		}
		return bases, nil
	}
	v, ok := t.lookup(name)
	if !ok {
		return nil, nil
	}
	if fn, ok := v.(starlark.Callable); ok {
		if _, isType := v.(*Type); !isType {
			return &InstanceMethod{class: t, fn: fn}, nil
		}
	}
	return v, nil
}

func (t *Type) AttrNames() []string {
	set := map[string]bool{"__name__": true, "__bases__": true}
	t.names(set)
	return sortedKeys(set)
}

func (t *Type) SetField(name string, v starlark.Value) error {
	if t.isBuiltin {
		return fmt.Errorf("cannot set attribute %q of built-in type '%s'", name, t.name)
	}
	t.dict[name] = v
	return nil
}

// Instance is an object created by calling a user-defined Type.
type Instance struct {
	class  *Type
	dict   starlark.StringDict
	frozen bool
	id     uint32
}

var (
	_ starlark.HasAttrs    = (*Instance)(nil)
	_ starlark.HasSetField = (*Instance)(nil)
)

// Class returns the instance's type.
func (i *Instance) Class() *Type { return i.class }

func (i *Instance) String() string        { return fmt.Sprintf("<%s object>", i.class.name) }
func (i *Instance) Type() string          { return i.class.name }
func (i *Instance) Freeze()               { i.frozen = true; i.dict.Freeze() }
func (i *Instance) Truth() starlark.Bool  { return true }
func (i *Instance) Hash() (uint32, error) { return i.id, nil }

func (i *Instance) Attr(name string) (starlark.Value, error) {
	if name == "__class__" {
		return i.class, nil
	}
	if v, ok := i.dict[name]; ok {
		return v, nil
	}
	v, ok := i.class.lookup(name)
	if !ok {
		return nil, nil
	}
	if fn, ok := v.(starlark.Callable); ok {
		if _, isType := v.(*Type); !isType {
			return &BoundMethod{recv: i, fn: fn}, nil
		}
	}
	return v, nil
}

func (i *Instance) AttrNames() []string {
	set := map[string]bool{"__class__": true}
	for k := range i.dict {
		set[k] = true
	}
	i.class.names(set)
	return sortedKeys(set)
}

func (i *Instance) SetField(name string, v starlark.Value) error {
	if i.frozen {
		return fmt.Errorf("cannot set .%s on frozen %s object", name, i.class.name)
	}
	i.dict[name] = v
	return nil
}

// BoundMethod is a function bound to its receiver.
type BoundMethod struct {
	recv starlark.Value
	fn   starlark.Callable
}

func (m *BoundMethod) String() string {
	return fmt.Sprintf("<bound method %s of %s>", m.fn.Name(), m.recv.String())
}
func (m *BoundMethod) Type() string          { return "method" }
func (m *BoundMethod) Freeze()               {}
func (m *BoundMethod) Truth() starlark.Bool  { return true }
func (m *BoundMethod) Hash() (uint32, error) { return hashString(m.fn.Name()), nil }
func (m *BoundMethod) Name() string          { return m.fn.Name() }

func (m *BoundMethod) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return starlark.Call(thread, m.fn, append(starlark.Tuple{m.recv}, args...), kwargs)
}

// InstanceMethod is a function looked up on a class rather than an
// instance; the receiver must be passed explicitly.
type InstanceMethod struct {
	class *Type
	fn    starlark.Callable
}

func (m *InstanceMethod) String() string {
	return fmt.Sprintf("<function %s.%s>", m.class.name, m.fn.Name())
}
func (m *InstanceMethod) Type() string          { return "instancemethod" }
func (m *InstanceMethod) Freeze()               {}
func (m *InstanceMethod) Truth() starlark.Bool  { return true }
func (m *InstanceMethod) Hash() (uint32, error) { return hashString(m.fn.Name()), nil }
func (m *InstanceMethod) Name() string          { return m.fn.Name() }

func (m *InstanceMethod) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return starlark.Call(thread, m.fn, args, kwargs)
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
