package foreign

import (
	"fmt"

	"go.starlark.net/starlark"
)

type task struct {
	fn     starlark.Value
	args   starlark.Tuple
	kwargs []starlark.Tuple
}

// spawn(fn, *args, **kwargs) queues fn to run at the next switch point.
func (rt *Runtime) spawn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing argument for fn", b.Name())
	}
	if _, ok := args[0].(starlark.Callable); !ok {
		return nil, fmt.Errorf("%s: fn is not callable (got %s)", b.Name(), args[0].Type())
	}
	rt.tasks = append(rt.tasks, task{fn: args[0], args: args[1:], kwargs: kwargs})
	return starlark.None, nil
}

// Pending returns the number of queued tasks. The caller must hold the lock.
func (rt *Runtime) Pending() int { return len(rt.tasks) }

// RunPending runs the tasks queued so far. The lock is taken for each task
// and released between tasks so other goroutines can get in. Tasks queued
// while running wait for the next call. The caller must not hold the lock.
func (rt *Runtime) RunPending() int {
	g := rt.Lock()
	batch := rt.tasks
	rt.tasks = nil
	g.Unlock()

	for i, t := range batch {
		g := rt.Lock()
		thread := rt.NewThread(fmt.Sprintf("task-%d", i), OriginLoop)
		_, err := starlark.Call(thread, t.fn, t.args, t.kwargs)
		g.Unlock()
		if err != nil {
			log.Errorf("spawned task %s failed: %s", t.fn.String(), err)
		}
	}
	return len(batch)
}
