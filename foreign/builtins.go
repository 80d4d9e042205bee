package foreign

import (
	"fmt"

	"go.starlark.net/starlark"
)

func (rt *Runtime) makeBuiltins() starlark.StringDict {
	builtins := starlark.StringDict{
		"object":     rt.object,
		"type":       starlark.NewBuiltin("type", rt.typeBuiltin),
		"isinstance": starlark.NewBuiltin("isinstance", rt.isinstance),
		"callable":   starlark.NewBuiltin("callable", callable),
		"complex":    starlark.NewBuiltin("complex", makeComplex),
		"bytearray":  starlark.NewBuiltin("bytearray", makeByteArray),
		"throw":      starlark.NewBuiltin("throw", rt.throw),
		"compile":    starlark.NewBuiltin("compile", rt.compile),
		"exec":       starlark.NewBuiltin("exec", rt.execBuiltin),
		"spawn":      starlark.NewBuiltin("spawn", rt.spawn),
	}
	for name, t := range rt.exceptions {
		builtins[name] = t
	}
	return builtins
}

// type(x) returns the class of x; type(name, bases, dict) creates a class.
func (rt *Runtime) typeBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("type() takes no keyword arguments")
	}
	switch len(args) {
	case 1:
		return rt.TypeOf(args[0]), nil
	case 3:
	default:
		return nil, fmt.Errorf("type() takes 1 or 3 arguments")
	}

	var (
		name  string
		bases starlark.Tuple
		dict  *starlark.Dict
	)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 3, &name, &bases, &dict); err != nil {
		return nil, err
	}

	parents := make([]*Type, 0, len(bases))
	for _, base := range bases {
		t, ok := base.(*Type)
		if !ok {
			return nil, fmt.Errorf("type: bases must be types, not %s", base.Type())
		}
		if t.isBuiltin {
			return nil, fmt.Errorf("type: cannot subclass built-in type '%s'", t.name)
		}
		parents = append(parents, t)
	}
	if len(parents) == 0 {
		parents = append(parents, rt.object)
	}

	members := make(starlark.StringDict, dict.Len())
	for _, item := range dict.Items() {
		key, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("type: attribute names must be strings, not %s", item[0].Type())
		}
		members[key] = item[1]
	}
	return newType(name, parents, members), nil
}

func (rt *Runtime) isinstance(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, classes starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &classes); err != nil {
		return nil, err
	}
	candidates, ok := classes.(starlark.Tuple)
	if !ok {
		candidates = starlark.Tuple{classes}
	}
	xt := rt.TypeOf(x)
	for _, c := range candidates {
		if ctor, ok := c.(*starlark.Builtin); ok {
			// isinstance(x, int) names the constructor, not a class.
			if xt.isBuiltin && xt.name == ctor.Name() {
				return starlark.True, nil
			}
			continue
		}
		t, ok := c.(*Type)
		if !ok {
			return nil, fmt.Errorf("isinstance: arg 2 must be a type or tuple of types, not %s", c.Type())
		}
		if xt.IsSubtype(t) {
			return starlark.True, nil
		}
	}
	return starlark.False, nil
}

func callable(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	_, ok := x.(starlark.Callable)
	return starlark.Bool(ok), nil
}

func makeComplex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var re, im starlark.Value = starlark.Float(0), starlark.Float(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "real?", &re, "imag?", &im); err != nil {
		return nil, err
	}
	r, ok := starlark.AsFloat(re)
	if !ok {
		return nil, fmt.Errorf("complex: real must be a number, not %s", re.Type())
	}
	i, ok := starlark.AsFloat(im)
	if !ok {
		return nil, fmt.Errorf("complex: imag must be a number, not %s", im.Type())
	}
	return Complex{Real: r, Imag: i}, nil
}

func makeByteArray(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src starlark.Value = starlark.Bytes("")
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &src); err != nil {
		return nil, err
	}
	switch src := src.(type) {
	case starlark.Bytes:
		return NewByteArray([]byte(src)), nil
	case starlark.String:
		return NewByteArray([]byte(src)), nil
	case *ByteArray:
		return NewByteArray(src.data), nil
	}

	iter := starlark.Iterate(src)
	if iter == nil {
		return nil, fmt.Errorf("bytearray: cannot convert %s", src.Type())
	}
	defer iter.Done()
	var data []byte
	var x starlark.Value
	for iter.Next(&x) {
		n, err := starlark.AsInt32(x)
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("bytearray: byte must be in range(0, 256)")
		}
		data = append(data, byte(n))
	}
	return &ByteArray{data: data}, nil
}

// throw(exc) or throw(ExcType, msg) raises an exception. It stands in for
// the raise statement, which the grammar reserves.
func (rt *Runtime) throw(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, msg starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x, &msg); err != nil {
		return nil, err
	}
	switch x := x.(type) {
	case *Exception:
		return nil, x
	case *Type:
		if x.exception {
			var excArgs starlark.Tuple
			if msg != nil {
				excArgs = starlark.Tuple{msg}
			}
			return nil, NewException(x, excArgs)
		}
	}
	return nil, rt.newError("TypeError", fmt.Sprintf("exceptions must derive from BaseException, not %s", x.Type()))
}

func (rt *Runtime) compile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var source string
	filename := "<string>"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "source", &source, "filename?", &filename); err != nil {
		return nil, err
	}
	_, prog, err := starlark.SourceProgram(filename, source, rt.isPredeclared(rt.main))
	if err != nil {
		return nil, err
	}
	return &Code{prog: prog, filename: filename}, nil
}

func (rt *Runtime) execBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &src); err != nil {
		return nil, err
	}
	var err error
	switch src := src.(type) {
	case *Code:
		err = rt.run(thread, src.prog, rt.main)
	case starlark.String:
		err = rt.exec(thread, "<exec>", string(src), rt.main)
	default:
		return nil, fmt.Errorf("exec: arg must be a string or code object, not %s", src.Type())
	}
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}
