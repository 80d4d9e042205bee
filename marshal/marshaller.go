package marshal

import (
	"sync"
	"time"

	"github.com/caffeineduck/starbridge/foreign"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("starbridge.marshal")

// Marshaller converts values for one runtime.
type Marshaller struct {
	rt        *foreign.Runtime
	callbacks *CallbackRegistry

	mu         sync.RWMutex
	classifier Classifier
	filters    FilterConstructor
	unmarshal  Unmarshaller
	builder    Builder
	debug      DebugSink
	dispatcher Dispatcher
}

type hookSet struct {
	classifier Classifier
	filters    FilterConstructor
	unmarshal  Unmarshaller
	builder    Builder
}

// Option configures a Marshaller at construction.
type Option func(*Marshaller)

// WithBuilder sets the Builder used by ToHost.
func WithBuilder(b Builder) Option { return func(m *Marshaller) { m.builder = b } }

// WithClassifier sets the special type classifier.
func WithClassifier(c Classifier) Option { return func(m *Marshaller) { m.classifier = c } }

// WithFilterConstructor sets the per-conversion filter constructor.
func WithFilterConstructor(fc FilterConstructor) Option {
	return func(m *Marshaller) { m.filters = fc }
}

// WithUnmarshaller sets the hook consulted before every Go value is converted.
func WithUnmarshaller(u Unmarshaller) Option { return func(m *Marshaller) { m.unmarshal = u } }

// WithDebugSink sets where __bridge.debug output goes.
func WithDebugSink(s DebugSink) Option { return func(m *Marshaller) { m.debug = s } }

// WithDispatcher sets the queue CallAsync posts to.
func WithDispatcher(d Dispatcher) Option { return func(m *Marshaller) { m.dispatcher = d } }

// WithCallbacks shares r instead of a private callback registry.
func WithCallbacks(r *CallbackRegistry) Option { return func(m *Marshaller) { m.callbacks = r } }

// New returns a Marshaller for rt. Unless overridden it uses
// DefaultBuilder, DefaultClassifier and NewIdentityFilter.
func New(rt *foreign.Runtime, opts ...Option) *Marshaller {
	m := &Marshaller{
		rt:         rt,
		classifier: DefaultClassifier,
		filters:    NewIdentityFilter,
		builder:    DefaultBuilder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.callbacks == nil {
		m.callbacks = NewCallbackRegistry()
	}
	return m
}

func (m *Marshaller) Runtime() *foreign.Runtime { return m.rt }

func (m *Marshaller) Callbacks() *CallbackRegistry { return m.callbacks }

// SetClassifier replaces the special type classifier.
func (m *Marshaller) SetClassifier(c Classifier) {
	m.mu.Lock()
	m.classifier = c
	m.mu.Unlock()
}

// SetFilterConstructor replaces the filter constructor. nil disables
// filtering, which also disables cycle handling for Go containers.
func (m *Marshaller) SetFilterConstructor(fc FilterConstructor) {
	m.mu.Lock()
	m.filters = fc
	m.mu.Unlock()
}

func (m *Marshaller) SetUnmarshaller(u Unmarshaller) {
	m.mu.Lock()
	m.unmarshal = u
	m.mu.Unlock()
}

// SetBuilder replaces the Builder. nil restores DefaultBuilder.
func (m *Marshaller) SetBuilder(b Builder) {
	if b == nil {
		b = DefaultBuilder{}
	}
	m.mu.Lock()
	m.builder = b
	m.mu.Unlock()
}

func (m *Marshaller) SetDebugSink(s DebugSink) {
	m.mu.Lock()
	m.debug = s
	m.mu.Unlock()
}

func (m *Marshaller) SetDispatcher(d Dispatcher) {
	m.mu.Lock()
	m.dispatcher = d
	m.mu.Unlock()
}

func (m *Marshaller) hooks() hookSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return hookSet{
		classifier: m.classifier,
		filters:    m.filters,
		unmarshal:  m.unmarshal,
		builder:    m.builder,
	}
}

func (m *Marshaller) currentDispatcher() Dispatcher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dispatcher
}

// DebugEnabled reports whether a debug sink is installed.
func (m *Marshaller) DebugEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.debug != nil
}

// Debug forwards msgs to the debug sink, if any.
func (m *Marshaller) Debug(thread string, msgs ...string) {
	m.mu.RLock()
	sink := m.debug
	m.mu.RUnlock()
	if sink == nil {
		return
	}
	sink(msgs, thread, time.Now())
}
