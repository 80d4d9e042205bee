package marshal

import (
	"fmt"
	"reflect"
	"sync"
)

// HostFunc is the calling convention of Go functions exposed to the
// runtime. Other function types are adapted by reflection.
type HostFunc func(args []any, kwargs map[string]any) (any, error)

// CallbackRegistry maps integer tokens to Go functions handed to the
// runtime. Tokens are never reused.
type CallbackRegistry struct {
	mu    sync.RWMutex
	next  int64
	funcs map[int64]HostFunc
}

// NewCallbackRegistry returns an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{funcs: make(map[int64]HostFunc)}
}

// Register stores fn and returns its token.
func (r *CallbackRegistry) Register(fn HostFunc) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.funcs[r.next] = fn
	return r.next
}

// Lookup returns the function registered under token.
func (r *CallbackRegistry) Lookup(token int64) (HostFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[token]
	return fn, ok
}

// Unregister forgets token. Later lookups of it fail.
func (r *CallbackRegistry) Unregister(token int64) {
	r.mu.Lock()
	delete(r.funcs, token)
	r.mu.Unlock()
}

// Len returns the number of registered functions.
func (r *CallbackRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

var errorType = reflect.TypeFor[error]()

// adaptFunc wraps an arbitrary Go function as a HostFunc. Functions may
// return nothing, a value, an error, or a value and an error.
func adaptFunc(fn reflect.Value) (HostFunc, bool) {
	ft := fn.Type()
	switch ft.NumOut() {
	case 0, 1:
	case 2:
		if ft.Out(1) != errorType {
			return nil, false
		}
	default:
		return nil, false
	}
	return func(args []any, kwargs map[string]any) (any, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s does not accept keyword arguments", ft)
		}
		in, err := callArgs(ft, args)
		if err != nil {
			return nil, err
		}
		return splitResults(ft, fn.Call(in))
	}, true
}

func callArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("want at least %d arguments, got %d", n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("want %d arguments, got %d", n, len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= n-1 {
			pt = ft.In(n - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		v, err := argValue(a, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}
	return in, nil
}

func argValue(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if numeric(v.Kind()) && numeric(t.Kind()) || v.Kind() == reflect.String && t.Kind() == reflect.String {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", a, t)
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func splitResults(ft reflect.Type, out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if ft.Out(0) == errorType {
			err, _ := out[0].Interface().(error)
			return nil, err
		}
		return out[0].Interface(), nil
	}
	err, _ := out[1].Interface().(error)
	return out[0].Interface(), err
}
