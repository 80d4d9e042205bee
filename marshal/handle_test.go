package marshal

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"go.starlark.net/starlark"
)

const pointSource = `
def _init(self, x):
    self.x = x

def _double(self):
    return self.x * 2

Point = type("Point", (), {"__init__": _init, "double": _double})
p = Point(21)
`

func TestHandleCall(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "def add(a, b=0):\n    return a + b\n")
	add := f.global(t, "add")
	defer add.Close()

	if add.Type() != TagFunction {
		t.Errorf("expected Function, got %s", add.Type())
	}
	if !add.IsCallable() {
		t.Fatal("expected add to be callable")
	}

	before := f.rt.Heap().Live()
	got, err := add.Call([]any{1}, map[string]any{"b": 2})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != int64(3) {
		t.Errorf("expected 3, got %v", got)
	}
	if live := f.rt.Heap().Live(); live != before {
		t.Errorf("expected %d live refs after call, got %d", before, live)
	}
}

func TestHandleCallRawReference(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "def mk():\n    return [1, 2]\n")
	mk := f.global(t, "mk")
	defer mk.Close()

	got, err := mk.Call(nil, nil, RawReference())
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	h, ok := got.(*Handle)
	if !ok {
		t.Fatalf("expected *Handle, got %T", got)
	}
	defer h.Close()
	if h.Type() != TagList {
		t.Errorf("expected List, got %s", h.Type())
	}
	if h.Repr() != "[1, 2]" {
		t.Errorf("expected [1, 2], got %s", h.Repr())
	}
}

func TestHandleAttributes(t *testing.T) {
	f := newFixture(t)
	f.exec(t, pointSource)
	p := f.global(t, "p")
	defer p.Close()

	if p.Type() != TagObject {
		t.Errorf("expected Object, got %s", p.Type())
	}
	if p.IsCallable() {
		t.Error("instances are not callable")
	}
	if got := p.TypeName(); got != "Point" {
		t.Errorf("expected Point, got %s", got)
	}

	x, err := p.Attr("x")
	if err != nil {
		t.Fatalf("Attr failed: %v", err)
	}
	if x != int64(21) {
		t.Errorf("expected 21, got %v", x)
	}

	before := f.rt.Heap().Live()
	if err := p.SetAttr("label", "origin"); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	if live := f.rt.Heap().Live(); live != before {
		t.Errorf("expected %d live refs after SetAttr, got %d", before, live)
	}
	label, err := p.Attr("label")
	if err != nil || label != "origin" {
		t.Errorf("expected origin, got %v (%v)", label, err)
	}

	names, err := p.Attributes()
	if err != nil {
		t.Fatalf("Attributes failed: %v", err)
	}
	for _, want := range []string{"double", "label", "x"} {
		if !slices.Contains(names, want) {
			t.Errorf("expected %s in %v", want, names)
		}
	}

	double, err := p.Attr("double", RawReference())
	if err != nil {
		t.Fatalf("Attr failed: %v", err)
	}
	method := double.(*Handle)
	defer method.Close()
	if method.Type() != TagMethod {
		t.Errorf("expected Method, got %s", method.Type())
	}
	if got, err := method.Call(nil, nil); err != nil || got != int64(42) {
		t.Errorf("expected 42, got %v (%v)", got, err)
	}

	class, err := p.ForeignType()
	if err != nil {
		t.Fatalf("ForeignType failed: %v", err)
	}
	defer class.Close()
	if name, _ := class.Attr("__name__"); name != "Point" {
		t.Errorf("expected Point, got %v", name)
	}
	if _, err := class.Attr("double"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for class-level function, got %v", err)
	}
}

func TestHandleMissingAttribute(t *testing.T) {
	f := newFixture(t)
	f.exec(t, pointSource)
	p := f.global(t, "p")
	defer p.Close()

	_, err := p.Attr("nope")
	var fe *ForeignError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *ForeignError, got %v", err)
	}
	defer fe.Close()
	if fe.Kind != "AttributeError" {
		t.Errorf("expected AttributeError, got %s", fe.Kind)
	}
}

func TestHandleClose(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "def fn():\n    return 1\n")
	before := f.rt.Heap().Live()
	fn := f.global(t, "fn")
	clone, err := fn.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	if live := f.rt.Heap().Live(); live != before+2 {
		t.Errorf("expected %d live refs, got %d", before+2, live)
	}
	fn.Close()
	if err := fn.Close(); err != nil {
		t.Errorf("expected second Close to succeed, got %v", err)
	}
	if _, err := fn.Call(nil, nil); !errors.Is(err, ErrClosedHandle) {
		t.Errorf("expected ErrClosedHandle, got %v", err)
	}
	if _, err := fn.Clone(); !errors.Is(err, ErrClosedHandle) {
		t.Errorf("expected ErrClosedHandle, got %v", err)
	}
	if got, err := clone.Call(nil, nil); err != nil || got != int64(1) {
		t.Errorf("expected the clone to stay usable, got %v (%v)", got, err)
	}
	clone.Close()
	if live := f.rt.Heap().Live(); live != before {
		t.Errorf("expected %d live refs, got %d", before, live)
	}
}

func TestForeignErrorTranslation(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "def f():\n    throw(ValueError('bad'))\n")
	fn := f.global(t, "f")
	defer fn.Close()

	_, err := fn.Call(nil, nil)
	if !errors.Is(err, ErrForeign) {
		t.Fatalf("expected ErrForeign, got %v", err)
	}
	var fe *ForeignError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *ForeignError, got %T", err)
	}
	defer fe.Close()

	if fe.Kind != "ValueError" || fe.Text != "bad" {
		t.Errorf("expected ValueError: bad, got %s: %s", fe.Kind, fe.Text)
	}
	if !strings.HasPrefix(err.Error(), "[ValueError] => bad\n") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !strings.Contains(fe.Traceback, "test.star") {
		t.Errorf("expected traceback to mention test.star, got %q", fe.Traceback)
	}
	if got := fe.Exception.TypeName(); got != "ValueError" {
		t.Errorf("expected exception handle of ValueError, got %s", got)
	}
	if args, err := fe.Exception.Attr("args"); err != nil {
		t.Errorf("Attr(args) failed: %v", err)
	} else if len(args.(Tuple)) != 1 {
		t.Errorf("expected one arg, got %v", args)
	}
}

func TestHostCallback(t *testing.T) {
	f := newCallbackFixture(t)
	f.exec(t, "def apply(fn, x):\n    return fn(x) + 1\n\ndef named(fn):\n    return fn(name='x')\n")
	apply := f.global(t, "apply")
	defer apply.Close()
	named := f.global(t, "named")
	defer named.Close()

	got, err := apply.Call([]any{func(x int64) int64 { return x * 2 }, 20}, nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != int64(41) {
		t.Errorf("expected 41, got %v", got)
	}

	kw := HostFunc(func(args []any, kwargs map[string]any) (any, error) {
		return kwargs["name"], nil
	})
	if got, err := named.Call([]any{kw}, nil); err != nil || got != "x" {
		t.Errorf("expected x, got %v (%v)", got, err)
	}

	failing := HostFunc(func([]any, map[string]any) (any, error) {
		return nil, errors.New("host said no")
	})
	_, err = apply.Call([]any{failing, 1}, nil)
	var fe *ForeignError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *ForeignError, got %v", err)
	}
	defer fe.Close()
	if fe.Kind != "RuntimeError" || !strings.Contains(fe.Text, "host said no") {
		t.Errorf("expected RuntimeError carrying the host error, got %s: %s", fe.Kind, fe.Text)
	}
}

func TestFunctionWithoutWrapper(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "def apply(fn):\n    return fn()\n")
	apply := f.global(t, "apply")
	defer apply.Close()

	before := f.rt.Heap().Live()
	_, err := apply.Call([]any{func() {}}, nil)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	if n := f.m.Callbacks().Len(); n != 0 {
		t.Errorf("expected no registered callbacks, got %d", n)
	}
	if live := f.rt.Heap().Live(); live != before {
		t.Errorf("expected %d live refs, got %d", before, live)
	}
}

type recordingDispatcher struct {
	msgs []AsyncMessage
}

func (d *recordingDispatcher) Dispatch(msg AsyncMessage) error {
	d.msgs = append(d.msgs, msg)
	return nil
}

func TestCallAsyncDispatches(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "def fn(x):\n    return x\n")
	fn := f.global(t, "fn")
	defer fn.Close()

	if err := fn.CallAsync(nil, nil, nil); !errors.Is(err, ErrNoDispatcher) {
		t.Errorf("expected ErrNoDispatcher, got %v", err)
	}

	d := &recordingDispatcher{}
	f.m.SetDispatcher(d)
	before := f.rt.Heap().Live()
	if err := fn.CallAsync([]any{"a"}, map[string]any{"k": 1}, func(any, error) {}); err != nil {
		t.Fatalf("CallAsync failed: %v", err)
	}
	if len(d.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(d.msgs))
	}
	msg := d.msgs[0]
	if msg.Kind != MessageInvoke || msg.Callback == nil {
		t.Errorf("unexpected message %+v", msg)
	}
	if got := msg.Args.Value().(starlark.Tuple); len(got) != 1 || got[0] != starlark.String("a") {
		t.Errorf("expected (\"a\",), got %v", got)
	}
	msg.Release()
	if live := f.rt.Heap().Live(); live != before {
		t.Errorf("expected %d live refs after release, got %d", before, live)
	}
}
