package marshal

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Invoke runs the host function registered under token for a runtime call.
// Arguments are converted with the lock held; run executes the function
// and must return only once it has finished. The converted result is
// returned as a bare value kept alive by the runtime.
func (m *Marshaller) Invoke(token int64, args starlark.Tuple, kwargs []starlark.Tuple, run func(func())) (starlark.Value, error) {
	fn, ok := m.callbacks.Lookup(token)
	if !ok {
		return nil, fmt.Errorf("%w: no host function for token %d", ErrHostAPI, token)
	}

	hostArgs := make([]any, len(args))
	for i, a := range args {
		x, err := m.ToHost(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		hostArgs[i] = x
	}
	var hostKwargs map[string]any
	if len(kwargs) > 0 {
		hostKwargs = make(map[string]any, len(kwargs))
		for _, kv := range kwargs {
			name, _ := starlark.AsString(kv[0])
			x, err := m.ToHost(kv[1])
			if err != nil {
				return nil, fmt.Errorf("argument %s: %w", name, err)
			}
			hostKwargs[name] = x
		}
	}

	var (
		res any
		err error
	)
	run(func() { res, err = fn(hostArgs, hostKwargs) })
	if err != nil {
		return nil, err
	}

	ref, _, err := m.ToForeign(res)
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	return ref.Value(), nil
}
