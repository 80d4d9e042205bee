package foreign

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
)

var log = commonlog.GetLogger("starbridge.foreign")

func init() {
	resolve.AllowSet = true
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
}

// Runtime is one embedded interpreter instance.
type Runtime struct {
	gil  gil
	heap *Heap

	main       *Module
	builtins   starlark.StringDict
	modules    map[string]starlark.Value
	loading    map[string]bool
	types      map[string]*Type
	exceptions map[string]*Type
	object     *Type
	path       []string
	stdout     io.Writer
	tasks      []task
}

// Option configures a Runtime.
type Option func(*config)

type config struct {
	path   []string
	stdout io.Writer
}

// WithPath adds directories searched by import for <name>.star files.
func WithPath(dirs ...string) Option {
	return func(c *config) {
		c.path = append(c.path, dirs...)
	}
}

// WithStdout sets where print() writes. Defaults to os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(c *config) {
		c.stdout = w
	}
}

// New creates a runtime with an empty __main__ module.
func New(opts ...Option) *Runtime {
	cfg := config{stdout: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}

	rt := &Runtime{
		heap:    newHeap(),
		modules: make(map[string]starlark.Value),
		loading: make(map[string]bool),
		types:   make(map[string]*Type),
		path:    cfg.path,
		stdout:  cfg.stdout,
	}
	rt.object = newType("object", nil, nil)
	rt.exceptions = newExceptionTypes(rt.object)
	rt.builtins = rt.makeBuiltins()
	rt.main = NewModule("__main__", starlark.StringDict{"__name__": starlark.String("__main__")})

	rt.modules["__main__"] = rt.main
	rt.modules["time"] = starlarktime.Module
	rt.modules["math"] = starlarkmath.Module
	rt.modules["json"] = starlarkjson.Module
	return rt
}

// Heap returns the reference heap.
func (rt *Runtime) Heap() *Heap { return rt.heap }

// Main returns the persistent top-level module.
func (rt *Runtime) Main() *Module { return rt.main }

// Path returns the module search path.
func (rt *Runtime) Path() []string { return append([]string(nil), rt.path...) }

// Version describes the interpreter build.
func (rt *Runtime) Version() string {
	version := "(devel)"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			if dep.Path == "go.starlark.net" {
				version = dep.Version
				break
			}
		}
	}
	return "starlark " + version
}

// NewThread returns an interpreter thread tagged with origin.
func (rt *Runtime) NewThread(name string, origin Origin) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  name,
		Print: rt.print,
		Load:  rt.load,
	}
	thread.SetLocal(originKey, origin)
	return thread
}

func (rt *Runtime) print(_ *starlark.Thread, msg string) {
	fmt.Fprintln(rt.stdout, msg)
}

// RegisterModule makes v importable under name. The caller must hold the
// lock.
func (rt *Runtime) RegisterModule(name string, v starlark.Value) {
	rt.modules[name] = v
}

// Import returns the module called name, loading it from the search path
// on first use. The caller must hold the lock.
func (rt *Runtime) Import(thread *starlark.Thread, name string) (starlark.Value, error) {
	if m, ok := rt.modules[name]; ok {
		return m, nil
	}
	if rt.loading[name] {
		return nil, rt.newError("ImportError", fmt.Sprintf("cannot import name '%s' (circular import)", name))
	}

	rel := filepath.FromSlash(strings.ReplaceAll(name, ".", "/")) + ".star"
	for _, dir := range rt.path {
		src, err := os.ReadFile(filepath.Join(dir, rel))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", name, err)
		}

		rt.loading[name] = true
		mod := NewModule(name, starlark.StringDict{"__name__": starlark.String(name)})
		err = rt.exec(thread, filepath.Join(dir, rel), src, mod)
		delete(rt.loading, name)
		if err != nil {
			return nil, err
		}
		rt.modules[name] = mod
		log.Debugf("imported %s from %s", name, dir)
		return mod, nil
	}
	return nil, rt.newError("ModuleNotFoundError", fmt.Sprintf("No module named '%s'", name))
}

func (rt *Runtime) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	m, err := rt.Import(thread, strings.TrimSuffix(module, ".star"))
	if err != nil {
		return nil, err
	}
	return moduleMembers(m), nil
}

// Eval evaluates an expression against __main__. The caller must hold the
// lock.
func (rt *Runtime) Eval(thread *starlark.Thread, filename, src string) (starlark.Value, error) {
	return starlark.Eval(thread, filename, src, rt.scope(rt.main))
}

// Exec runs src as a file whose top-level bindings persist in __main__.
// The caller must hold the lock.
func (rt *Runtime) Exec(thread *starlark.Thread, filename, src string) error {
	return rt.exec(thread, filename, src, rt.main)
}

func (rt *Runtime) exec(thread *starlark.Thread, filename string, src any, mod *Module) error {
	_, prog, err := starlark.SourceProgram(filename, src, rt.isPredeclared(mod))
	if err != nil {
		return err
	}
	return rt.run(thread, prog, mod)
}

func (rt *Runtime) run(thread *starlark.Thread, prog *starlark.Program, mod *Module) error {
	globals, err := prog.Init(thread, rt.scope(mod))
	mod.merge(globals)
	return err
}

// scope is the predeclared environment for code running in mod. It is one
// map per module, so a function reading a name bound by an earlier program
// sees later rebinding of that name.
func (rt *Runtime) scope(mod *Module) starlark.StringDict {
	if mod.env == nil {
		mod.env = make(starlark.StringDict, len(rt.builtins)+len(mod.members))
		maps.Copy(mod.env, rt.builtins)
		maps.Copy(mod.env, mod.members)
	}
	return mod.env
}

func (rt *Runtime) isPredeclared(mod *Module) func(string) bool {
	return func(name string) bool {
		return rt.builtins.Has(name) || mod.members.Has(name)
	}
}

// Call invokes fn. The caller must hold the lock.
func (rt *Runtime) Call(thread *starlark.Thread, fn starlark.Value, args starlark.Tuple, kwargs *starlark.Dict) (starlark.Value, error) {
	var kw []starlark.Tuple
	if kwargs != nil {
		kw = make([]starlark.Tuple, 0, kwargs.Len())
		for _, item := range kwargs.Items() {
			kw = append(kw, starlark.Tuple{item[0], item[1]})
		}
	}
	return starlark.Call(thread, fn, args, kw)
}

// IsCallable reports whether v can be called as a function. Type objects
// are callable but construct rather than call, so they are excluded.
func IsCallable(v starlark.Value) bool {
	if _, ok := v.(*Type); ok {
		return false
	}
	_, ok := v.(starlark.Callable)
	return ok
}

// GetAttr returns v.name. Besides the attributes a value declares, every
// value answers __class__ and __dir__, and callables answer __name__. The
// caller must hold the lock.
func (rt *Runtime) GetAttr(v starlark.Value, name string) (starlark.Value, error) {
	if ha, ok := v.(starlark.HasAttrs); ok {
		x, err := ha.Attr(name)
		if err != nil {
			return nil, err
		}
		if x != nil {
			return x, nil
		}
	}
	switch name {
	case "__class__":
		return rt.TypeOf(v), nil
	case "__dir__":
		return starlark.NewBuiltin("__dir__", rt.defaultDir).BindReceiver(v), nil
	case "__name__":
		if c, ok := v.(starlark.Callable); ok {
			return starlark.String(c.Name()), nil
		}
	}
	return nil, starlark.NoSuchAttrError(fmt.Sprintf("%s has no .%s field or method", v.Type(), name))
}

func (rt *Runtime) defaultDir(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	names := []starlark.Value{starlark.String("__class__"), starlark.String("__dir__")}
	if _, ok := b.Receiver().(starlark.Callable); ok {
		names = append(names, starlark.String("__name__"))
	}
	return starlark.NewList(names), nil
}

// SetAttr assigns v.name = x. The caller must hold the lock.
func (rt *Runtime) SetAttr(v starlark.Value, name string, x starlark.Value) error {
	hs, ok := v.(starlark.HasSetField)
	if !ok {
		return rt.newError("AttributeError", fmt.Sprintf("'%s' object attribute '%s' is read-only", v.Type(), name))
	}
	return hs.SetField(name, x)
}

// Dir lists the attribute names of v. Values that declare their attributes
// answer directly; all others are asked through their __dir__ attribute.
// The caller must hold the lock.
func (rt *Runtime) Dir(thread *starlark.Thread, v starlark.Value) ([]string, error) {
	if ha, ok := v.(starlark.HasAttrs); ok {
		names := ha.AttrNames()
		sort.Strings(names)
		return names, nil
	}

	fn, err := rt.GetAttr(v, "__dir__")
	if err != nil {
		return nil, err
	}
	res, err := starlark.Call(thread, fn, nil, nil)
	if err != nil {
		return nil, err
	}
	iter := starlark.Iterate(res)
	if iter == nil {
		return nil, fmt.Errorf("__dir__ returned non-iterable %s", res.Type())
	}
	defer iter.Done()

	var names []string
	var x starlark.Value
	for iter.Next(&x) {
		s, ok := starlark.AsString(x)
		if !ok {
			return nil, fmt.Errorf("__dir__ returned non-string %s", x.Type())
		}
		names = append(names, s)
	}
	sort.Strings(names)
	return names, nil
}

// TypeOf returns the class of v. Built-in kinds get a class named after
// their type whose call delegates to the matching constructor.
func (rt *Runtime) TypeOf(v starlark.Value) *Type {
	switch v := v.(type) {
	case *Instance:
		return v.class
	case *Exception:
		return v.class
	}
	name := v.Type()
	if t, ok := rt.types[name]; ok {
		return t
	}
	t := newType(name, []*Type{rt.object}, nil)
	t.isBuiltin = true
	if ctor, ok := starlark.Universe[name]; ok {
		t.builtin = ctor
	} else if ctor, ok := rt.builtins[name]; ok {
		if _, isType := ctor.(*Type); !isType {
			t.builtin = ctor
		}
	}
	rt.types[name] = t
	return t
}

// NewTuple builds a tuple; exported for host-side coercion helpers.
func NewTuple(items []starlark.Value) starlark.Tuple {
	return append(starlark.Tuple(nil), items...)
}
