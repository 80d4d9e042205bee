package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/starbridge/foreign"
	"github.com/caffeineduck/starbridge/hostfunc"
	"github.com/caffeineduck/starbridge/marshal"
	"github.com/caffeineduck/starbridge/wasmmod"
	"github.com/tliron/commonlog"
	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("starbridge.executor")

var (
	ErrAlreadyInitialized = errors.New("executor already initialized")
	ErrClosed             = errors.New("executor closed")
)

// Only one Executor may be live at a time.
var (
	liveMu sync.Mutex
	live   *Executor
)

// Executor owns the embedded runtime, the marshaller and the two event
// loops bridging it with Go.
type Executor struct {
	rt       *foreign.Runtime
	marshal  *marshal.Marshaller
	registry *hostfunc.Registry
	wasm     *wasmmod.Host
	main     *marshal.Handle

	ctx    context.Context
	cancel context.CancelFunc
	loops  errgroup.Group
	loop   *foreignLoop
	host   *hostLoop

	mu     sync.RWMutex
	closed bool
}

// Info describes the running instance.
type Info struct {
	Version  string
	Path     []string
	LiveRefs int
	Pending  int
}

// New starts the runtime and its loops. registry supplies the functions of
// the foreign "host" module; it is cloned, so later changes do not apply.
func New(registry *hostfunc.Registry, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	liveMu.Lock()
	defer liveMu.Unlock()
	if live != nil {
		return nil, ErrAlreadyInitialized
	}

	if registry == nil {
		registry = hostfunc.NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())

	wasm, err := wasmmod.New(ctx, wasmmod.Config{
		DiskCache:        cfg.diskCache,
		CacheDir:         cfg.cacheDir,
		MemoryLimitPages: cfg.memoryLimitPages,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", marshal.ErrLockOrLoopInit, err)
	}

	rt := foreign.New(foreign.WithPath(cfg.modulePath...), foreign.WithStdout(cfg.stdout))
	e := &Executor{
		rt:       rt,
		registry: registry.Clone(),
		wasm:     wasm,
		ctx:      ctx,
		cancel:   cancel,
	}
	e.marshal = marshal.New(rt,
		marshal.WithBuilder(&executorBuilder{Builder: marshal.DefaultBuilder{}, e: e}),
		marshal.WithDebugSink(cfg.debugSink),
		marshal.WithDispatcher(e),
	)
	e.registerCapabilities(cfg)

	if err := e.setup(cfg); err != nil {
		wasm.Close()
		cancel()
		return nil, fmt.Errorf("%w: %w", marshal.ErrLockOrLoopInit, err)
	}

	e.loop = newForeignLoop(e)
	e.host = newHostLoop(cfg.switchDelay, cfg.switchInterval, e.loop.signal)
	e.loops.Go(e.loop.run)
	e.loops.Go(e.host.run)

	live = e
	log.Infof("executor started (%s)", rt.Version())
	return e, nil
}

// setup registers the foreign modules and pins __main__.
func (e *Executor) setup(cfg executorConfig) error {
	g := e.rt.Lock()
	defer g.Unlock()

	e.rt.RegisterModule("host", e.hostModule())
	e.rt.RegisterModule("__bridge", e.bridgeModule())
	for _, src := range cfg.wasm {
		mod, err := e.wasm.Load(src.name, src.bin)
		if err != nil {
			return err
		}
		e.rt.RegisterModule(src.name, mod)
	}

	main := e.rt.Main()
	e.main = e.marshal.NewHandle(e.rt.Heap().NewRef(main), marshal.Classify(main))
	return nil
}

func (e *Executor) lock() (*foreign.Guard, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return e.rt.Lock(), nil
}

// Import returns a handle on the named module.
func (e *Executor) Import(name string) (any, error) {
	g, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()

	v, err := e.rt.Import(e.rt.NewThread("import", foreign.OriginHost), name)
	if err != nil {
		return nil, e.marshal.Translate(err)
	}
	return e.marshal.ToHost(v)
}

// Eval evaluates a single expression against __main__ and converts the
// result.
func (e *Executor) Eval(code, sourceName string) (any, error) {
	g, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()

	v, err := e.rt.Eval(e.rt.NewThread(sourceName, foreign.OriginHost), sourceName, code)
	if err != nil {
		return nil, e.marshal.Translate(err)
	}
	return e.marshal.ToHost(v)
}

// EvalAsFile runs code as a file. Its top-level bindings persist in
// __main__. The result is always nil.
func (e *Executor) EvalAsFile(code, sourceName string) (any, error) {
	g, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()

	if err := e.rt.Exec(e.rt.NewThread(sourceName, foreign.OriginHost), sourceName, code); err != nil {
		return nil, e.marshal.Translate(err)
	}
	return nil, nil
}

// Global returns a new handle on __main__.
func (e *Executor) Global() (any, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return e.main.Clone()
}

// Marshal converts v and returns the raw handle.
func (e *Executor) Marshal(v any) (*marshal.Handle, error) {
	g, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()

	ref, tag, err := e.marshal.ToForeign(v)
	if err != nil {
		return nil, err
	}
	return e.marshal.NewHandle(ref, tag), nil
}

// CoerceInteger converts v to a runtime int. Strings are parsed in base;
// numbers are truncated and base is ignored.
func (e *Executor) CoerceInteger(v any, base int) (*marshal.Handle, error) {
	g, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()

	var args starlark.Tuple
	if s, ok := v.(string); ok {
		args = starlark.Tuple{starlark.String(s), starlark.MakeInt(base)}
	} else {
		ref, _, err := e.marshal.ToForeign(v)
		if err != nil {
			return nil, err
		}
		defer ref.Release()
		args = starlark.Tuple{ref.Value()}
	}

	thread := e.rt.NewThread("coerce", foreign.OriginHost)
	n, err := starlark.Call(thread, starlark.Universe["int"], args, nil)
	if err != nil {
		return nil, e.marshal.Translate(err)
	}
	return e.marshal.NewHandle(e.rt.Heap().NewRef(n), marshal.TagInteger), nil
}

// CoerceTuple builds a runtime tuple from items. The items stay owned by
// the caller.
func (e *Executor) CoerceTuple(items []*marshal.Handle) (*marshal.Handle, error) {
	g, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer g.Unlock()

	heap := e.rt.Heap()
	values := make([]starlark.Value, len(items))
	refs := make([]*foreign.Ref, len(items))
	for i, item := range items {
		if item.Closed() {
			for _, r := range refs[:i] {
				r.Release()
			}
			return nil, marshal.ErrClosedHandle
		}
		values[i] = item.Value()
		refs[i] = heap.NewRef(item.Value())
	}
	heap.NoteAllocation()
	tuple := heap.Adopt(foreign.NewTuple(values), refs)
	return e.marshal.NewHandle(tuple, marshal.TagTuple), nil
}

// Marshaller exposes the converter for callers that manage the lock
// themselves.
func (e *Executor) Marshaller() *marshal.Marshaller { return e.marshal }

func (e *Executor) Instance() Info {
	g := e.rt.Lock()
	defer g.Unlock()
	return Info{
		Version:  e.rt.Version(),
		Path:     e.rt.Path(),
		LiveRefs: e.rt.Heap().Live(),
		Pending:  e.rt.Pending(),
	}
}

// Post schedules fn on the host loop.
func (e *Executor) Post(fn func()) error {
	return e.host.post(fn)
}

// Dispatch queues msg for the foreign loop. It implements
// marshal.Dispatcher.
func (e *Executor) Dispatch(msg marshal.AsyncMessage) error {
	return e.loop.enqueue(msg)
}

func (e *Executor) SetSpecialTypeClassifier(c marshal.Classifier) { e.marshal.SetClassifier(c) }

func (e *Executor) SetFilterConstructor(fc marshal.FilterConstructor) {
	e.marshal.SetFilterConstructor(fc)
}

func (e *Executor) SetUnmarshaller(u marshal.Unmarshaller) { e.marshal.SetUnmarshaller(u) }

// SetBuilder replaces the host value builder. Builders without their own
// WrapFunction or WrapDateTime keep the executor's.
func (e *Executor) SetBuilder(b marshal.Builder) {
	if b == nil {
		b = marshal.DefaultBuilder{}
	}
	e.marshal.SetBuilder(&executorBuilder{Builder: b, e: e})
}

func (e *Executor) SetDebugSink(s marshal.DebugSink) { e.marshal.SetDebugSink(s) }

// Close stops accepting messages, drains the foreign loop and then the
// host loop, and releases the runtime's resources. It must not be called
// from a host function or a completion callback.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.loop.stop()
	e.host.stop()
	err := e.loops.Wait()

	e.main.Close()
	if werr := e.wasm.Close(); werr != nil {
		err = errors.Join(err, werr)
	}
	e.cancel()

	liveMu.Lock()
	if live == e {
		live = nil
	}
	liveMu.Unlock()
	log.Info("executor closed")
	return err
}
