package marshal

import (
	"fmt"

	"github.com/caffeineduck/starbridge/foreign"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// TypeTag classifies a value's shape for conversion.
type TypeTag int

const (
	TagNone TypeTag = iota
	TagInteger
	TagBool
	TagFloat
	TagComplex
	TagBytes
	TagByteArray
	TagUnicode
	TagTuple
	TagList
	TagDictionary
	TagSet
	TagFunction
	TagMethod
	TagType
	TagObject
	TagHostFunctionWrapped
	TagHostDateTime
	TagUnsupported
)

var tagNames = [...]string{
	TagNone:                "None",
	TagInteger:             "Integer",
	TagBool:                "Bool",
	TagFloat:               "Float",
	TagComplex:             "Complex",
	TagBytes:               "Bytes",
	TagByteArray:           "ByteArray",
	TagUnicode:             "Unicode",
	TagTuple:               "Tuple",
	TagList:                "List",
	TagDictionary:          "Dictionary",
	TagSet:                 "Set",
	TagFunction:            "Function",
	TagMethod:              "Method",
	TagType:                "Type",
	TagObject:              "Object",
	TagHostFunctionWrapped: "HostFunctionWrapped",
	TagHostDateTime:        "HostDateTime",
	TagUnsupported:         "Unsupported",
}

func (t TypeTag) String() string {
	if t >= 0 && int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("TypeTag(%d)", int(t))
}

// scalar reports whether values of this tag carry no identity.
func (t TypeTag) scalar() bool {
	switch t {
	case TagNone, TagInteger, TagBool, TagFloat, TagComplex, TagBytes, TagByteArray, TagUnicode, TagHostDateTime:
		return true
	}
	return false
}

// Classify returns the tag of a runtime value.
func Classify(v starlark.Value) TypeTag {
	switch v := v.(type) {
	case starlark.NoneType:
		return TagNone
	case starlark.Bool:
		return TagBool
	case starlark.Int:
		return TagInteger
	case starlark.Float:
		return TagFloat
	case foreign.Complex:
		return TagComplex
	case starlark.Bytes:
		return TagBytes
	case *foreign.ByteArray:
		return TagByteArray
	case starlark.String:
		return TagUnicode
	case starlark.Tuple:
		return TagTuple
	case *starlark.List:
		return TagList
	case *starlark.Dict:
		return TagDictionary
	case *starlark.Set:
		return TagSet
	case *starlark.Function:
		return TagFunction
	case *starlark.Builtin:
		if v.Receiver() != nil {
			return TagMethod
		}
		return TagFunction
	case *foreign.BoundMethod:
		return TagMethod
	case *foreign.Type:
		return TagType
	case *foreign.Callback:
		return TagHostFunctionWrapped
	case starlarktime.Time:
		return TagHostDateTime
	case *foreign.InstanceMethod, *foreign.Code:
		return TagUnsupported
	}
	return TagObject
}
