package foreign

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Exception is a raised or raisable error object. It implements error so
// that builtins can return it and the interpreter carries it as the cause
// of the resulting *starlark.EvalError.
type Exception struct {
	class *Type
	args  starlark.Tuple
	id    uint32
}

var (
	_ starlark.HasAttrs = (*Exception)(nil)
	_ error             = (*Exception)(nil)
)

// NewException creates an exception of class with the given arguments.
func NewException(class *Type, args starlark.Tuple) *Exception {
	return &Exception{class: class, args: args, id: newID()}
}

// Class returns the exception's type.
func (e *Exception) Class() *Type { return e.class }

// Message returns str(e).
func (e *Exception) Message() string {
	switch len(e.args) {
	case 0:
		return ""
	case 1:
		if s, ok := starlark.AsString(e.args[0]); ok {
			return s
		}
		return e.args[0].String()
	}
	return e.args.String()
}

func (e *Exception) Error() string {
	if msg := e.Message(); msg != "" {
		return e.class.name + ": " + msg
	}
	return e.class.name
}

func (e *Exception) String() string        { return e.class.name + e.args.String() }
func (e *Exception) Type() string          { return e.class.name }
func (e *Exception) Freeze()               { e.args.Freeze() }
func (e *Exception) Truth() starlark.Bool  { return true }
func (e *Exception) Hash() (uint32, error) { return e.id, nil }

func (e *Exception) Attr(name string) (starlark.Value, error) {
	switch name {
	case "args":
		return e.args, nil
	case "__class__":
		return e.class, nil
	}
	return nil, nil
}

func (e *Exception) AttrNames() []string { return []string{"__class__", "args"} }

// exceptionNames lists the built-in exception classes and their parents.
var exceptionNames = [][2]string{
	{"BaseException", ""},
	{"Exception", "BaseException"},
	{"ArithmeticError", "Exception"},
	{"ZeroDivisionError", "ArithmeticError"},
	{"AssertionError", "Exception"},
	{"AttributeError", "Exception"},
	{"ImportError", "Exception"},
	{"ModuleNotFoundError", "ImportError"},
	{"LookupError", "Exception"},
	{"IndexError", "LookupError"},
	{"KeyError", "LookupError"},
	{"NameError", "Exception"},
	{"NotImplementedError", "Exception"},
	{"OSError", "Exception"},
	{"RuntimeError", "Exception"},
	{"StopIteration", "Exception"},
	{"SyntaxError", "Exception"},
	{"TypeError", "Exception"},
	{"ValueError", "Exception"},
}

func newExceptionTypes(object *Type) map[string]*Type {
	types := make(map[string]*Type, len(exceptionNames))
	for _, e := range exceptionNames {
		var t *Type
		if e[1] == "" {
			t = newType(e[0], []*Type{object}, nil)
			t.exception = true
		} else {
			t = newType(e[0], []*Type{types[e[1]]}, nil)
		}
		types[e[0]] = t
	}
	return types
}

// ExceptionType returns the built-in exception class called name.
func (rt *Runtime) ExceptionType(name string) *Type {
	return rt.exceptions[name]
}

// messageKinds maps interpreter error messages to exception classes.
var messageKinds = []struct {
	substr string
	kind   string
}{
	{"field or method", "AttributeError"},
	{"no such attribute", "AttributeError"},
	{"not in dict", "KeyError"},
	{"index out of range", "IndexError"},
	{"out of range", "IndexError"},
	{"division by zero", "ZeroDivisionError"},
	{"modulo by zero", "ZeroDivisionError"},
	{"unsupported binary operation", "TypeError"},
	{"unsupported unary operation", "TypeError"},
	{"not callable", "TypeError"},
	{"unhashable", "TypeError"},
	{"missing argument", "TypeError"},
	{"unexpected keyword argument", "TypeError"},
	{"got ", "TypeError"},
}

// AsException returns the exception object carried by err, building one of
// the matching built-in class when err is a plain interpreter error.
func (rt *Runtime) AsException(err error) *Exception {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) && len(resolveErrs) > 0 {
		first := resolveErrs[0]
		kind := "SyntaxError"
		if strings.HasPrefix(first.Msg, "undefined:") {
			kind = "NameError"
		}
		return rt.newError(kind, fmt.Sprintf("%s: %s", first.Pos, first.Msg))
	}
	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return rt.newError("SyntaxError", syntaxErr.Error())
	}

	msg := err.Error()
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		msg = evalErr.Msg
	}
	for _, mk := range messageKinds {
		if strings.Contains(msg, mk.substr) {
			return rt.newError(mk.kind, msg)
		}
	}
	return rt.newError("RuntimeError", msg)
}

func (rt *Runtime) newError(kind, msg string) *Exception {
	return NewException(rt.exceptions[kind], starlark.Tuple{starlark.String(msg)})
}

// Traceback returns the interpreter backtrace recorded in err, if any.
func Traceback(err error) (string, bool) {
	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) || len(evalErr.CallStack) == 0 {
		return "", false
	}
	return evalErr.CallStack.String(), true
}
