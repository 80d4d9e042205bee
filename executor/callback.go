package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caffeineduck/starbridge/foreign"
	"github.com/caffeineduck/starbridge/hostfunc"
	"github.com/caffeineduck/starbridge/marshal"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// callHost runs fn for a runtime thread holding the lock. The lock is
// released while fn runs. Calls made from the foreign loop are handed to
// the host loop and waited on; calls entered from a host goroutine run
// inline, since that goroutine may be the host loop itself.
func (e *Executor) callHost(thread *starlark.Thread, fn func()) {
	e.rt.Unlocked(func() {
		if foreign.ThreadOrigin(thread) == foreign.OriginHost {
			fn()
			return
		}
		done := make(chan struct{})
		if err := e.host.post(func() {
			defer close(done)
			fn()
		}); err != nil {
			log.Debugf("host loop unavailable, running inline: %s", err)
			fn()
			return
		}
		<-done
	})
}

// invoke is the foreign.Invoker behind every host function shim.
func (e *Executor) invoke(thread *starlark.Thread, token int64, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return e.marshal.Invoke(token, args, kwargs, func(fn func()) {
		e.callHost(thread, fn)
	})
}

// executorBuilder adds function and date wrapping to a host value builder.
type executorBuilder struct {
	marshal.Builder
	e *Executor
}

func (b *executorBuilder) WrapFunction(token *marshal.Handle) (*marshal.Handle, error) {
	if w, ok := b.Builder.(marshal.FunctionWrapper); ok {
		return w.WrapFunction(token)
	}
	i, ok := token.Value().(starlark.Int)
	if !ok {
		return nil, fmt.Errorf("function token is %s, not int", token.Value().Type())
	}
	tok, ok := i.Int64()
	if !ok {
		return nil, errors.New("function token out of range")
	}
	m := b.e.marshal
	cb := foreign.NewCallback(fmt.Sprintf("host_function_%d", tok), tok, b.e.invoke, m.Callbacks().Unregister)
	return m.NewHandle(m.Runtime().Heap().NewRef(cb), marshal.TagHostFunctionWrapped), nil
}

func (b *executorBuilder) WrapDateTime(t time.Time) (*marshal.Handle, error) {
	if w, ok := b.Builder.(marshal.DateTimeWrapper); ok {
		return w.WrapDateTime(t)
	}
	m := b.e.marshal
	return m.NewHandle(m.Runtime().Heap().NewRef(starlarktime.Time(t)), marshal.TagHostDateTime), nil
}

// registerCapabilities adds the built-in host functions enabled by cfg.
func (e *Executor) registerCapabilities(cfg executorConfig) {
	r := e.registry
	r.Register("time_now", func(ctx context.Context, args map[string]any) (any, error) {
		return float64(time.Now().UnixNano()) / 1e9, nil
	})

	if cfg.kv != nil {
		kv := hostfunc.NewKV(*cfg.kv)
		r.Register("kv_get", kv.Get)
		r.Register("kv_set", kv.Set)
		r.Register("kv_delete", kv.Delete)
		r.Register("kv_keys", kv.Keys)
	}

	if len(cfg.httpConfig.AllowedHosts) > 0 {
		h := hostfunc.NewHTTP(cfg.httpConfig)
		r.Register("http_request", h.Request)
		r.Register("http_get", hostfunc.NewHTTPGet(cfg.httpConfig))
	}

	if len(cfg.fsConfig.Mounts) > 0 {
		fs := hostfunc.NewFS(cfg.fsConfig)
		r.Register("fs_read", fs.Read)
		r.Register("fs_write", fs.Write)
		r.Register("fs_list", fs.List)
		r.Register("fs_exists", fs.Exists)
		r.Register("fs_stat", fs.Stat)
	}
}

// hostModule exposes the registry as the runtime module "host". The
// caller must hold the lock.
func (e *Executor) hostModule() *foreign.Module {
	members := make(starlark.StringDict)
	for _, name := range e.registry.List() {
		fn, _ := e.registry.Get(name)
		token := e.marshal.Callbacks().Register(e.adaptHostFunc(name, fn))
		members[name] = foreign.NewCallback(name, token, e.invoke, nil)
	}
	mod := foreign.NewModule("host", members)
	mod.Freeze()
	return mod
}

func (e *Executor) adaptHostFunc(name string, fn hostfunc.Func) marshal.HostFunc {
	return func(args []any, kwargs map[string]any) (any, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("host.%s takes keyword arguments only", name)
		}
		plain := make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			plain[k] = plainValue(v)
		}
		return fn(e.ctx, plain)
	}
}

// plainValue turns converted runtime containers into the maps and slices
// host functions expect.
func plainValue(v any) any {
	switch x := v.(type) {
	case *marshal.Dict:
		m := make(map[string]any, x.Len())
		for _, entry := range x.Entries {
			m[fmt.Sprint(entry.Key)] = plainValue(entry.Value)
		}
		return m
	case marshal.Tuple:
		return plainSlice(x)
	case []any:
		return plainSlice(x)
	case *marshal.Set:
		return plainSlice(x.Items)
	}
	return v
}

func plainSlice(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = plainValue(item)
	}
	return out
}

// bridgeModule is the runtime module "__bridge".
func (e *Executor) bridgeModule() *foreign.Module {
	mod := foreign.NewModule("__bridge", starlark.StringDict{
		"debug":         starlark.NewBuiltin("debug", e.debug),
		"debug_enabled": starlark.NewBuiltin("debug_enabled", e.debugEnabled),
		"thread_name":   starlark.NewBuiltin("thread_name", threadName),
	})
	mod.Freeze()
	return mod
}

func (e *Executor) debug(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	msgs := make([]string, len(args))
	for i, a := range args {
		if s, ok := starlark.AsString(a); ok {
			msgs[i] = s
		} else {
			msgs[i] = a.String()
		}
	}
	e.marshal.Debug(thread.Name, msgs...)
	return starlark.None, nil
}

func (e *Executor) debugEnabled(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Bool(e.marshal.DebugEnabled()), nil
}

func threadName(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.String(thread.Name), nil
}

// logSink is the debug sink installed by WithDebug.
func logSink(msgs []string, thread string, at time.Time) {
	log.Infof("[%s %s] %s", thread, at.Format("15:04:05.000"), strings.Join(msgs, " "))
}
