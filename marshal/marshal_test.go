package marshal

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/starbridge/foreign"
	"github.com/google/go-cmp/cmp"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

type fixture struct {
	m      *Marshaller
	rt     *foreign.Runtime
	thread *starlark.Thread
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	rt := foreign.New()
	return &fixture{m: New(rt, opts...), rt: rt, thread: rt.NewThread(t.Name(), foreign.OriginHost)}
}

func (f *fixture) exec(t *testing.T, src string) {
	t.Helper()
	g := f.rt.Lock()
	defer g.Unlock()
	if err := f.rt.Exec(f.thread, "test.star", src); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
}

func (f *fixture) toHost(t *testing.T, expr string) any {
	t.Helper()
	g := f.rt.Lock()
	defer g.Unlock()
	v, err := f.rt.Eval(f.thread, "<expr>", expr)
	if err != nil {
		t.Fatalf("Eval(%s) failed: %v", expr, err)
	}
	x, err := f.m.ToHost(v)
	if err != nil {
		t.Fatalf("ToHost(%s) failed: %v", expr, err)
	}
	return x
}

func (f *fixture) global(t *testing.T, name string) *Handle {
	t.Helper()
	g := f.rt.Lock()
	defer g.Unlock()
	v, ok := f.rt.Main().Members()[name]
	if !ok {
		t.Fatalf("no global %s", name)
	}
	return f.m.NewHandle(f.rt.Heap().NewRef(v), Classify(v))
}

// callbackBuilder runs host functions inline on the calling goroutine.
type callbackBuilder struct {
	DefaultBuilder
	m *Marshaller
}

func (b *callbackBuilder) WrapFunction(token *Handle) (*Handle, error) {
	tok, ok := token.Value().(starlark.Int).Int64()
	if !ok {
		return nil, errors.New("bad token")
	}
	invoke := func(_ *starlark.Thread, tok int64, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return b.m.Invoke(tok, args, kwargs, func(fn func()) { fn() })
	}
	cb := foreign.NewCallback("fn", tok, invoke, b.m.Callbacks().Unregister)
	return b.m.NewHandle(b.m.Runtime().Heap().NewRef(cb), TagHostFunctionWrapped), nil
}

func (b *callbackBuilder) WrapDateTime(t time.Time) (*Handle, error) {
	return b.m.NewHandle(b.m.Runtime().Heap().NewRef(starlarktime.Time(t)), TagHostDateTime), nil
}

func newCallbackFixture(t *testing.T) *fixture {
	f := newFixture(t)
	f.m.SetBuilder(&callbackBuilder{m: f.m})
	return f
}

func TestTagNames(t *testing.T) {
	for tag := TagNone; tag <= TagUnsupported; tag++ {
		if name := tag.String(); name == "" || strings.HasPrefix(name, "TypeTag(") {
			t.Errorf("expected a name for tag %d, got %q", int(tag), name)
		}
	}
	if got := TypeTag(99).String(); got != "TypeTag(99)" {
		t.Errorf("expected TypeTag(99), got %s", got)
	}
}

func TestClassify(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		expr string
		tag  TypeTag
	}{
		{"None", TagNone},
		{"1", TagInteger},
		{"True", TagBool},
		{"1.5", TagFloat},
		{"complex(1, 2)", TagComplex},
		{"b'x'", TagBytes},
		{"bytearray(b'x')", TagByteArray},
		{"'s'", TagUnicode},
		{"(1,)", TagTuple},
		{"[]", TagList},
		{"{}", TagDictionary},
		{"set()", TagSet},
		{"len", TagFunction},
		{"[].append", TagMethod},
		{"object", TagType},
		{"object()", TagObject},
		{"compile('1')", TagUnsupported},
	}

	g := f.rt.Lock()
	defer g.Unlock()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v, err := f.rt.Eval(f.thread, "<expr>", tt.expr)
			if err != nil {
				t.Fatalf("Eval failed: %v", err)
			}
			if got := Classify(v); got != tt.tag {
				t.Errorf("expected %s, got %s", tt.tag, got)
			}
		})
	}

	if got := Classify(starlarktime.Time(time.Now())); got != TagHostDateTime {
		t.Errorf("expected HostDateTime, got %s", got)
	}
}

func TestScalarRoundTrip(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   any
		tag  TypeTag
	}{
		{"none", nil, TagNone},
		{"bool", true, TagBool},
		{"int", int64(42), TagInteger},
		{"negative", int64(-7), TagInteger},
		{"float", 1.5, TagFloat},
		{"complex", complex(1, 2), TagComplex},
		{"bytes", []byte("hi"), TagBytes},
		{"string", "héllo", TagUnicode},
	}

	g := f.rt.Lock()
	defer g.Unlock()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, tag, err := f.m.ToForeign(tt.in)
			if err != nil {
				t.Fatalf("ToForeign failed: %v", err)
			}
			defer ref.Release()
			if tag != tt.tag {
				t.Errorf("expected tag %s, got %s", tt.tag, tag)
			}
			out, err := f.m.ToHost(ref.Value())
			if err != nil {
				t.Fatalf("ToHost failed: %v", err)
			}
			if diff := cmp.Diff(tt.in, out); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIntegerWidths(t *testing.T) {
	f := newFixture(t)
	g := f.rt.Lock()
	defer g.Unlock()

	ref, _, err := f.m.ToForeign(7)
	if err != nil {
		t.Fatalf("ToForeign failed: %v", err)
	}
	defer ref.Release()
	out, _ := f.m.ToHost(ref.Value())
	if out != int64(7) {
		t.Errorf("expected int64(7), got %T(%v)", out, out)
	}

	big70 := new(big.Int).Lsh(big.NewInt(1), 70)
	bigRef, _, err := f.m.ToForeign(big70)
	if err != nil {
		t.Fatalf("ToForeign failed: %v", err)
	}
	defer bigRef.Release()
	if bigRef.Value().String() != "1180591620717411303424" {
		t.Errorf("expected 2**70, got %s", bigRef.Value())
	}
	back, _ := f.m.ToHost(bigRef.Value())
	n, ok := back.(*big.Int)
	if !ok || n.Cmp(big70) != 0 {
		t.Errorf("expected *big.Int 2**70, got %T(%v)", back, back)
	}
}

func TestContainersToHost(t *testing.T) {
	f := newFixture(t)

	got := f.toHost(t, "[1, 'a', (2, 3), {'k': [True]}, set([4]), b'z']")
	want := []any{
		int64(1),
		"a",
		Tuple{int64(2), int64(3)},
		&Dict{Entries: []Entry{{Key: "k", Value: []any{true}}}},
		&Set{Items: []any{int64(4)}},
		[]byte("z"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToHost mismatch (-want +got):\n%s", diff)
	}
}

func TestContainersToForeign(t *testing.T) {
	f := newFixture(t)
	g := f.rt.Lock()
	defer g.Unlock()

	in := []any{
		1,
		"a",
		Tuple{2},
		map[string]any{"b": 2, "a": 1},
		&Set{Items: []any{"x"}},
		&Dict{Entries: []Entry{{Key: 3, Value: nil}}},
	}
	ref, tag, err := f.m.ToForeign(in)
	if err != nil {
		t.Fatalf("ToForeign failed: %v", err)
	}
	defer ref.Release()
	if tag != TagList {
		t.Errorf("expected List, got %s", tag)
	}
	want := `[1, "a", (2,), {"a": 1, "b": 2}, set(["x"]), {3: None}]`
	if got := ref.Value().String(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestNilContainersToForeign(t *testing.T) {
	f := newFixture(t)
	g := f.rt.Lock()
	defer g.Unlock()
	before := f.rt.Heap().Live()

	tests := []struct {
		name string
		in   any
		tag  TypeTag
		want string
	}{
		{"set", (*Set)(nil), TagNone, "None"},
		{"dict", (*Dict)(nil), TagNone, "None"},
		{"in list", []any{(*Set)(nil), (*Dict)(nil)}, TagList, "[None, None]"},
		{"as dict value", map[string]any{"s": (*Set)(nil)}, TagDictionary, `{"s": None}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, tag, err := f.m.ToForeign(tt.in)
			if err != nil {
				t.Fatalf("ToForeign failed: %v", err)
			}
			if tag != tt.tag {
				t.Errorf("expected tag %s, got %s", tt.tag, tag)
			}
			if got := ref.Value().String(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			ref.Release()
			if got := f.rt.Heap().Live(); got != before {
				t.Errorf("expected %d live refs, got %d", before, got)
			}
		})
	}
}

func TestCycleIdentityToHost(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "L = []\nL.append(L)\n")

	got, ok := f.toHost(t, "L").([]any)
	if !ok || len(got) != 1 {
		t.Fatalf("expected one-element []any, got %v", got)
	}
	inner, ok := got[0].([]any)
	if !ok {
		t.Fatalf("expected nested []any, got %T", got[0])
	}
	if &inner[0] != &got[0] {
		t.Error("expected the list to contain itself")
	}
}

func TestSharedReferenceToHost(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "d = {'a': 1}\nt = (d, d)\n")

	got, ok := f.toHost(t, "t").(Tuple)
	if !ok || len(got) != 2 {
		t.Fatalf("expected two-element Tuple, got %v", got)
	}
	if got[0].(*Dict) != got[1].(*Dict) {
		t.Error("expected both elements to be the same *Dict")
	}
}

func TestCycleToForeign(t *testing.T) {
	f := newFixture(t)
	g := f.rt.Lock()
	defer g.Unlock()
	before := f.rt.Heap().Live()

	l := make([]any, 2)
	l[0] = l
	l[1] = "end"
	ref, _, err := f.m.ToForeign(l)
	if err != nil {
		t.Fatalf("ToForeign failed: %v", err)
	}
	list := ref.Value().(*starlark.List)
	if list.Index(0) != starlark.Value(list) {
		t.Error("expected the runtime list to contain itself")
	}

	ref.Release()
	if got := f.rt.Heap().Live(); got != before {
		t.Errorf("expected %d live refs, got %d", before, got)
	}
}

func TestOwnershipAccounting(t *testing.T) {
	f := newFixture(t)
	f.exec(t, "def fn():\n    pass\nitems = [fn, {'k': fn}]\n")

	g := f.rt.Lock()
	before := f.rt.Heap().Live()
	ref, _, err := f.m.ToForeign([]any{map[string]any{"x": []any{1, 2}}, Tuple{"a"}})
	if err != nil {
		g.Unlock()
		t.Fatalf("ToForeign failed: %v", err)
	}
	ref.Release()
	afterForeign := f.rt.Heap().Live()

	v := f.rt.Main().Members()["items"]
	out, err := f.m.ToHost(v)
	g.Unlock()
	if err != nil {
		t.Fatalf("ToHost failed: %v", err)
	}
	if afterForeign != before {
		t.Errorf("expected %d live refs after ToForeign, got %d", before, afterForeign)
	}

	items := out.([]any)
	h, ok := items[0].(*Handle)
	if !ok {
		t.Fatalf("expected *Handle, got %T", items[0])
	}
	if inner, _ := items[1].(*Dict).Get("k"); inner != h {
		t.Error("expected the function to convert to one shared handle")
	}
	if got := f.rt.Heap().Live(); got != before+1 {
		t.Errorf("expected %d live refs, got %d", before+1, got)
	}
	h.Close()
	if got := f.rt.Heap().Live(); got != before {
		t.Errorf("expected %d live refs after Close, got %d", before, got)
	}
}

type substituteFilter struct {
	sub *Handle
}

func (s *substituteFilter) Test(any) *Handle { return s.sub }

func (s *substituteFilter) Register(_ any, container *Handle) { container.Close() }

func (s *substituteFilter) Finalize() {}

func TestFilterShortCircuit(t *testing.T) {
	f := newFixture(t)
	g := f.rt.Lock()
	defer g.Unlock()

	sub := f.m.NewHandle(f.rt.Heap().NewRef(starlark.String("substitute")), TagUnicode)
	defer sub.Close()
	f.m.SetFilterConstructor(func() Filter { return &substituteFilter{sub: sub} })

	allocs := f.rt.Heap().Allocations()
	ref, tag, err := f.m.ToForeign([]any{1, 2, 3})
	if err != nil {
		t.Fatalf("ToForeign failed: %v", err)
	}
	defer ref.Release()
	if ref.Value() != starlark.String("substitute") {
		t.Errorf("expected the substitute, got %s", ref.Value())
	}
	if tag != TagUnicode {
		t.Errorf("expected Unicode, got %s", tag)
	}
	if got := f.rt.Heap().Allocations(); got != allocs {
		t.Errorf("expected no container allocations, got %d", got-allocs)
	}
}

type inspectingFilter struct {
	names []string
	reprs []string
}

func (f *inspectingFilter) Test(any) *Handle { return nil }

func (f *inspectingFilter) Register(_ any, container *Handle) {
	f.names = append(f.names, container.TypeName())
	f.reprs = append(f.reprs, container.Repr())
	container.Close()
}

func (f *inspectingFilter) Finalize() {}

func TestFilterUsesHandlesUnderLock(t *testing.T) {
	f := newFixture(t)
	filter := &inspectingFilter{}
	f.m.SetFilterConstructor(func() Filter { return filter })

	done := make(chan error, 1)
	go func() {
		g := f.rt.Lock()
		defer g.Unlock()
		ref, _, err := f.m.ToForeign([]any{1, map[string]any{"a": 2}})
		if err == nil {
			ref.Release()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ToForeign failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ToForeign did not return while the filter inspected its containers")
	}

	if diff := cmp.Diff([]string{"list", "dict"}, filter.names); diff != "" {
		t.Errorf("type names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"[]", "{}"}, filter.reprs); diff != "" {
		t.Errorf("reprs mismatch (-want +got):\n%s", diff)
	}
	g := f.rt.Lock()
	g.Unlock()
}

func TestUnsupportedTypeDoesNotLeak(t *testing.T) {
	f := newFixture(t)
	g := f.rt.Lock()
	defer g.Unlock()
	before := f.rt.Heap().Live()

	tests := []struct {
		name string
		in   any
	}{
		{"struct in list", []any{1, "two", struct{}{}}},
		{"channel in map", map[string]any{"a": 1, "b": make(chan int)}},
		{"function without wrapper", func() {}},
		{"date without wrapper", time.Now()},
		{"bad map key", map[[2]int]int{{1, 2}: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.m.ToForeign(tt.in)
			if !errors.Is(err, ErrUnsupportedType) {
				t.Fatalf("expected ErrUnsupportedType, got %v", err)
			}
			if got := f.rt.Heap().Live(); got != before {
				t.Errorf("expected %d live refs, got %d", before, got)
			}
		})
	}
	if n := f.m.Callbacks().Len(); n != 0 {
		t.Errorf("expected no registered callbacks, got %d", n)
	}

	v, err := f.rt.Eval(f.thread, "<expr>", "compile('1')")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if _, err := f.m.ToHost(v); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestUnmarshallerHook(t *testing.T) {
	type marker struct{}
	f := newFixture(t)
	g := f.rt.Lock()
	defer g.Unlock()

	known := f.m.NewHandle(f.rt.Heap().NewRef(starlark.NewList(nil)), TagList)
	defer known.Close()
	f.m.SetUnmarshaller(func(v any) *Handle {
		if _, ok := v.(marker); ok {
			return known
		}
		return nil
	})

	ref, tag, err := f.m.ToForeign([]any{marker{}})
	if err != nil {
		t.Fatalf("ToForeign failed: %v", err)
	}
	defer ref.Release()
	if tag != TagList {
		t.Errorf("expected List, got %s", tag)
	}
	if got := ref.Value().(*starlark.List).Index(0); got != known.Value() {
		t.Errorf("expected the known list, got %s", got)
	}
}

type countingBuilder struct {
	DefaultBuilder
	wrapped int
}

func (b *countingBuilder) Wrap(v any) (any, error) {
	b.wrapped++
	return v, nil
}

func TestBuilderWrapsComposites(t *testing.T) {
	b := &countingBuilder{}
	f := newFixture(t, WithBuilder(b))

	f.toHost(t, "[[1], 2, {'a': (3,)}, 'x']")
	if b.wrapped != 3 {
		t.Errorf("expected 3 wrapped elements, got %d", b.wrapped)
	}
}

func TestDateTimeRoundTrip(t *testing.T) {
	f := newCallbackFixture(t)
	g := f.rt.Lock()
	defer g.Unlock()

	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	ref, tag, err := f.m.ToForeign(now)
	if err != nil {
		t.Fatalf("ToForeign failed: %v", err)
	}
	defer ref.Release()
	if tag != TagHostDateTime {
		t.Errorf("expected HostDateTime, got %s", tag)
	}
	out, err := f.m.ToHost(ref.Value())
	if err != nil {
		t.Fatalf("ToHost failed: %v", err)
	}
	if got, ok := out.(time.Time); !ok || !got.Equal(now) {
		t.Errorf("expected %v, got %v", now, out)
	}
}
