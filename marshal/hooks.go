package marshal

import (
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// SpecialType is a classifier verdict.
type SpecialType int

const (
	SpecialNone SpecialType = iota
	SpecialDateTime
)

// Classifier recognizes Go values that need special treatment on their way
// into the runtime.
type Classifier func(v any) SpecialType

// DefaultClassifier treats time.Time values as dates.
func DefaultClassifier(v any) SpecialType {
	switch v.(type) {
	case time.Time, *time.Time:
		return SpecialDateTime
	}
	return SpecialNone
}

// Filter is consulted for every container converted by one top-level
// ToForeign call.
type Filter interface {
	// Test returns a handle to substitute for v, or nil to convert v.
	// The returned handle stays owned by the filter.
	Test(v any) *Handle
	// Register is offered the freshly allocated, still empty runtime
	// container for v. The filter owns container.
	Register(v any, container *Handle)
	// Finalize is called once when the top-level conversion ends.
	Finalize()
}

// FilterConstructor returns a fresh Filter for each top-level conversion.
type FilterConstructor func() Filter

// Unmarshaller returns the runtime object v stands for, or nil. The
// returned handle stays owned by the caller.
type Unmarshaller func(v any) *Handle

// DebugSink receives debug messages emitted by runtime code.
type DebugSink func(msgs []string, thread string, at time.Time)

// Builder constructs the Go side of runtime-to-Go conversion. Builder
// methods run with the runtime lock held; handles they touch reenter it.
type Builder interface {
	Integer(digits string) (any, error)
	Complex(re, im float64) (any, error)
	// NewSequence returns an empty shell for a tuple, list or set of n
	// elements, filled later by SetElement.
	NewSequence(tag TypeTag, n int) (any, error)
	SetElement(seq any, i int, v any) error
	NewDictionary(n int) (any, error)
	SetItem(dict any, key, value any) error
	// Wrap is applied to every element that is not a scalar.
	Wrap(v any) (any, error)
}

// FunctionWrapper is implemented by builders that can expose Go functions
// to the runtime. token holds the callback registry token as an integer;
// the returned handle is a callable shim that invokes it.
type FunctionWrapper interface {
	WrapFunction(token *Handle) (*Handle, error)
}

// DateTimeWrapper is implemented by builders that can build runtime dates.
type DateTimeWrapper interface {
	WrapDateTime(t time.Time) (*Handle, error)
}

// Tuple is the Go form of a runtime tuple.
type Tuple []any

// Set is the Go form of a runtime set.
type Set struct {
	Items []any
}

// Entry is a single Dict item.
type Entry struct {
	Key   any
	Value any
}

// Dict is the Go form of a runtime dictionary. Entries keep insertion order.
type Dict struct {
	Entries []Entry
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.Entries) }

// Get returns the value stored under key.
func (d *Dict) Get(key any) (any, bool) {
	for _, e := range d.Entries {
		if sameKey(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Map returns the entries keyed by their printed keys.
func (d *Dict) Map() map[string]any {
	out := make(map[string]any, len(d.Entries))
	for _, e := range d.Entries {
		k, ok := e.Key.(string)
		if !ok {
			k = fmt.Sprint(e.Key)
		}
		out[k] = e.Value
	}
	return out
}

func sameKey(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	if x, ok := a.(*big.Int); ok {
		y, ok := b.(*big.Int)
		return ok && x.Cmp(y) == 0
	}
	return a == b
}

// DefaultBuilder produces plain Go values. It cannot wrap functions or
// dates; embed it to add those capabilities.
type DefaultBuilder struct{}

func (DefaultBuilder) Integer(digits string) (any, error) {
	if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
		return n, nil
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", digits)
	}
	return n, nil
}

func (DefaultBuilder) Complex(re, im float64) (any, error) {
	return complex(re, im), nil
}

func (DefaultBuilder) NewSequence(tag TypeTag, n int) (any, error) {
	switch tag {
	case TagTuple:
		return make(Tuple, n), nil
	case TagList:
		return make([]any, n), nil
	case TagSet:
		return &Set{Items: make([]any, n)}, nil
	}
	return nil, fmt.Errorf("not a sequence: %s", tag)
}

func (DefaultBuilder) SetElement(seq any, i int, v any) error {
	switch s := seq.(type) {
	case Tuple:
		s[i] = v
	case []any:
		s[i] = v
	case *Set:
		s.Items[i] = v
	default:
		return fmt.Errorf("not a sequence: %T", seq)
	}
	return nil
}

func (DefaultBuilder) NewDictionary(n int) (any, error) {
	return &Dict{Entries: make([]Entry, 0, n)}, nil
}

func (DefaultBuilder) SetItem(dict any, key, value any) error {
	d, ok := dict.(*Dict)
	if !ok {
		return fmt.Errorf("not a dictionary: %T", dict)
	}
	d.Entries = append(d.Entries, Entry{Key: key, Value: value})
	return nil
}

func (DefaultBuilder) Wrap(v any) (any, error) { return v, nil }
