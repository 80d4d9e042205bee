package marshal

import (
	"errors"
	"fmt"

	"github.com/caffeineduck/starbridge/foreign"
)

var (
	ErrUnsupportedType = errors.New("unsupported type")
	ErrForeign         = errors.New("foreign runtime error")
	ErrHostAPI         = errors.New("host api failure")
	ErrLockOrLoopInit  = errors.New("lock or loop initialization failed")
	ErrClosedHandle    = errors.New("handle is closed")
	ErrNoDispatcher    = errors.New("no async dispatcher configured")
)

// UnsupportedTypeError reports a value that has no mapping in one direction.
type UnsupportedTypeError struct {
	Direction string
	Type      string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported type %s (%s)", e.Type, e.Direction)
}

func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrUnsupportedType }

func unsupportedHost(v any) error {
	return &UnsupportedTypeError{Direction: "to foreign", Type: fmt.Sprintf("%T", v)}
}

func unsupportedForeign(typeName string) error {
	return &UnsupportedTypeError{Direction: "to host", Type: typeName}
}

// ForeignError is an exception raised inside the runtime, seen from Go.
type ForeignError struct {
	Kind      string
	Text      string
	Traceback string
	// Exception is a handle on the raised exception object. It is owned by
	// the error; call Close to release it early.
	Exception *Handle

	cause error
}

func (e *ForeignError) Error() string {
	return "[" + e.Kind + "] => " + e.Text + "\n" + e.Traceback
}

func (e *ForeignError) Is(target error) bool { return target == ErrForeign }

func (e *ForeignError) Unwrap() error { return e.cause }

// Close releases the exception handle.
func (e *ForeignError) Close() error {
	if e.Exception == nil {
		return nil
	}
	return e.Exception.Close()
}

// Translate turns an error returned by the runtime into a *ForeignError.
// The runtime lock must be held.
func (m *Marshaller) Translate(err error) error {
	if err == nil {
		return nil
	}
	exc := m.rt.AsException(err)
	fe := &ForeignError{
		Kind:      exc.Class().Name(),
		Text:      exc.Message(),
		Exception: m.NewHandle(m.rt.Heap().NewRef(exc), TagObject),
		cause:     err,
	}
	if tb, ok := foreign.Traceback(err); ok {
		fe.Traceback = tb
	} else {
		fe.Traceback = exc.String()
	}
	return fe
}
