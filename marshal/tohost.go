package marshal

import (
	"fmt"
	"time"

	"github.com/caffeineduck/starbridge/foreign"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// ToHost converts v into Go values. The caller keeps its reference to v.
// The runtime lock must be held.
func (m *Marshaller) ToHost(v starlark.Value) (any, error) {
	d := &decoder{m: m, builder: m.hooks().builder, seen: make(map[any]any)}
	return d.decode(v)
}

type decoder struct {
	m       *Marshaller
	builder Builder
	// seen maps runtime identities to what they became, so shared and
	// cyclic structures keep their shape.
	seen map[any]any
}

func (d *decoder) decode(v starlark.Value) (any, error) {
	tag := Classify(v)
	switch tag {
	case TagNone:
		return nil, nil
	case TagBool:
		return bool(v.(starlark.Bool)), nil
	case TagInteger:
		return d.build(d.builder.Integer(v.(starlark.Int).String()))
	case TagFloat:
		return float64(v.(starlark.Float)), nil
	case TagComplex:
		c := v.(foreign.Complex)
		return d.build(d.builder.Complex(c.Real, c.Imag))
	case TagBytes:
		return []byte(v.(starlark.Bytes)), nil
	case TagByteArray:
		return v.(*foreign.ByteArray).Bytes(), nil
	case TagUnicode:
		return string(v.(starlark.String)), nil
	case TagHostDateTime:
		return time.Time(v.(starlarktime.Time)), nil
	case TagTuple, TagList, TagSet:
		return d.sequence(v, tag)
	case TagDictionary:
		return d.dictionary(v.(*starlark.Dict))
	case TagFunction, TagMethod, TagType, TagObject, TagHostFunctionWrapped:
		return d.handle(v, tag), nil
	case TagUnsupported:
		return nil, unsupportedForeign(v.Type())
	}
	panic(fmt.Sprintf("marshal: unhandled type tag %s", tag))
}

func (d *decoder) build(v any, err error) (any, error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHostAPI, err)
	}
	return v, nil
}

func elements(v starlark.Value) []starlark.Value {
	switch x := v.(type) {
	case starlark.Tuple:
		return x
	case *starlark.List:
		out := make([]starlark.Value, x.Len())
		for i := range out {
			out[i] = x.Index(i)
		}
		return out
	case *starlark.Set:
		out := make([]starlark.Value, 0, x.Len())
		iter := x.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			out = append(out, item)
		}
		return out
	}
	return nil
}

func (d *decoder) sequence(v starlark.Value, tag TypeTag) (any, error) {
	key, hasID := foreign.Identity(v)
	if hasID {
		if prior, ok := d.seen[key]; ok {
			return prior, nil
		}
	}
	elems := elements(v)
	shell, err := d.build(d.builder.NewSequence(tag, len(elems)))
	if err != nil {
		return nil, err
	}
	if hasID {
		d.seen[key] = shell
	}
	for i, elem := range elems {
		x, err := d.member(elem)
		if err != nil {
			return nil, err
		}
		if err := d.builder.SetElement(shell, i, x); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHostAPI, err)
		}
	}
	return shell, nil
}

func (d *decoder) dictionary(v *starlark.Dict) (any, error) {
	key, _ := foreign.Identity(v)
	if prior, ok := d.seen[key]; ok {
		return prior, nil
	}
	shell, err := d.build(d.builder.NewDictionary(v.Len()))
	if err != nil {
		return nil, err
	}
	d.seen[key] = shell
	for _, item := range v.Items() {
		k, err := d.member(item[0])
		if err != nil {
			return nil, err
		}
		val, err := d.member(item[1])
		if err != nil {
			return nil, err
		}
		if err := d.builder.SetItem(shell, k, val); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHostAPI, err)
		}
	}
	return shell, nil
}

// member converts a container element, passing non-scalars through the
// builder's Wrap.
func (d *decoder) member(v starlark.Value) (any, error) {
	x, err := d.decode(v)
	if err != nil || Classify(v).scalar() {
		return x, err
	}
	return d.build(d.builder.Wrap(x))
}

func (d *decoder) handle(v starlark.Value, tag TypeTag) *Handle {
	key, hasID := foreign.Identity(v)
	if hasID {
		if prior, ok := d.seen[key].(*Handle); ok {
			return prior
		}
	}
	h := d.m.NewHandle(d.m.rt.Heap().NewRef(v), tag)
	if hasID {
		d.seen[key] = h
	}
	return h
}
