package jack

import (
	"fmt"
	"strings"

	"github.com/nand2tetris-go/toolchain/pkg/utils"
)

type Scope struct {
	name    string
	entries utils.Stack[Variable]
}

type ScopeTable struct {
	static utils.Stack[Variable]

	local     Scope
	field     Scope
	parameter Scope
}

func NewScopeTable() *ScopeTable {
	return &ScopeTable{
		static:    utils.Stack[Variable]{},
		local:     Scope{},
		field:     Scope{},
		parameter: Scope{},
	}
}

func (st *ScopeTable) PushClassScope(class string) {
	newScope := fmt.Sprintf("%s.Global", class)
	st.field = Scope{name: newScope, entries: utils.Stack[Variable]{}}
}

func (st *ScopeTable) PopClassScope() { st.field = Scope{} }

func (st *ScopeTable) PushSubRoutineScope(method string) {
	newScope := strings.ReplaceAll(st.GetScope(), "Global", method)
	st.local = Scope{name: newScope, entries: utils.Stack[Variable]{}}
	st.parameter = Scope{name: newScope, entries: utils.Stack[Variable]{}}
}

func (st *ScopeTable) PopSubroutineScope() { st.local, st.parameter = Scope{}, Scope{} }

func (st *ScopeTable) GetScope() string {
	if st.local.name != "" && st.parameter.name != "" {
		return st.local.name
	}

	if st.field.name != "" {
		return st.field.name
	}

	return "Global"
}

// RegisterVariable stamps 'new' with its Slot (its position within its own kind's declaration
// order) before pushing it onto the matching stack, so the Slot survives later shadowing pushes.
func (st *ScopeTable) RegisterVariable(new Variable) {
	switch new.VarType {
	case Local:
		new.Slot = uint16(st.local.entries.Count())
		st.local.entries.Push(new)
	case Field:
		new.Slot = uint16(st.field.entries.Count())
		st.field.entries.Push(new)
	case Parameter:
		new.Slot = uint16(st.parameter.entries.Count())
		st.parameter.entries.Push(new)
	case Static:
		new.Slot = uint16(st.static.Count())
		st.static.Push(new)
	}
}

// ResolveVariable walks the scopes from innermost to outermost (local, parameter, field, static),
// and within each scope from most to least recently declared, so a shadowing re-declaration of
// the same name is found first. The returned id is the variable's own stored Slot, not a loop
// counter, so it stays correct regardless of how many entries were pushed after it.
func (st *ScopeTable) ResolveVariable(name string) (uint16, Variable, error) {
	scopes := []utils.Stack[Variable]{st.local.entries, st.parameter.entries, st.field.entries, st.static}

	for _, scope := range scopes {
		for entry := range scope.Iterator() {
			if entry.Name == name {
				return entry.Slot, entry, nil
			}
		}
	}

	return 0, Variable{}, fmt.Errorf("variable '%s' undeclared, not found in any scope", name)
}
