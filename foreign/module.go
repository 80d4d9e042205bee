package foreign

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Module is a namespace of runtime values. The persistent top-level scope
// is a Module named __main__.
type Module struct {
	name    string
	members starlark.StringDict
	frozen  bool

	// env is the predeclared environment shared by every program run in
	// the module: builtins overlaid with members, kept current by set.
	env starlark.StringDict
}

var (
	_ starlark.HasAttrs    = (*Module)(nil)
	_ starlark.HasSetField = (*Module)(nil)
)

// NewModule returns a module holding members.
func NewModule(name string, members starlark.StringDict) *Module {
	if members == nil {
		members = make(starlark.StringDict)
	}
	return &Module{name: name, members: members}
}

func (m *Module) Name() string                 { return m.name }
func (m *Module) Members() starlark.StringDict { return m.members }

func (m *Module) String() string        { return fmt.Sprintf("<module '%s'>", m.name) }
func (m *Module) Type() string          { return "module" }
func (m *Module) Freeze()               { m.frozen = true; m.members.Freeze() }
func (m *Module) Truth() starlark.Bool  { return true }
func (m *Module) Hash() (uint32, error) { return hashString(m.name), nil }

func (m *Module) Attr(name string) (starlark.Value, error) {
	if name == "__name__" {
		return starlark.String(m.name), nil
	}
	return m.members[name], nil
}

func (m *Module) AttrNames() []string { return m.members.Keys() }

func (m *Module) SetField(name string, v starlark.Value) error {
	if m.frozen {
		return fmt.Errorf("cannot set .%s on frozen module %s", name, m.name)
	}
	m.set(name, v)
	return nil
}

func (m *Module) set(name string, v starlark.Value) {
	m.members[name] = v
	if m.env != nil {
		m.env[name] = v
	}
}

func (m *Module) merge(globals starlark.StringDict) {
	for k, v := range globals {
		m.set(k, v)
	}
}

// moduleMembers flattens an imported value into the names a load()
// statement can bind.
func moduleMembers(v starlark.Value) starlark.StringDict {
	switch v := v.(type) {
	case *Module:
		return v.members
	case starlark.HasAttrs:
		out := make(starlark.StringDict)
		for _, name := range v.AttrNames() {
			if x, err := v.Attr(name); err == nil && x != nil {
				out[name] = x
			}
		}
		return out
	}
	return nil
}
