package vm

import (
	"fmt"
	"strings"

	"github.com/nand2tetris-go/toolchain/pkg/asm"
)

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a typed 'vm.Module' (already produced by the Parser) and produces its
// 'asm.Program' counterpart, one module at a time. Unlike 'pkg/asm's Lowerer (a single
// linear pass), this one carries state across the whole module: the name of the function
// currently being lowered (for label scoping, see 'scopedLabel') and a set of per-function
// call counters (so two 'call Foo.bar 2' sites inside the same function get distinct
// return-address labels, see spec's per-function call counter requirement).
type Lowerer struct {
	moduleName   string
	program      Module
	currFunction string         // empty until the first 'function' op is lowered
	callCounter  map[string]int // caller function name -> next call-site index
	cmpCounter   int            // monotonic, used to keep eq/gt/lt branch labels unique
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// 'moduleName' scopes the 'static' segment (spec: 'static i' is per-module, not global).
func NewLowerer(moduleName string, p Module) Lowerer {
	return Lowerer{moduleName: moduleName, program: p, callCounter: map[string]int{}}
}

// Triggers the lowering process, converting every 'vm.Operation' in the module, in order,
// to its 'asm.Statement' equivalent(s). A single VM operation typically expands to several
// assembly statements (e.g. 'push constant 7' is 7 Hack instructions).
func (l *Lowerer) Lower() (asm.Program, error) {
	program := asm.Program{}

	for _, operation := range l.program {
		var generated []asm.Statement
		var err error

		switch op := operation.(type) {
		case MemoryOp:
			generated, err = l.handleMemoryOp(op)
		case ArithmeticOp:
			generated, err = l.handleArithmeticOp(op)
		case LabelDecl:
			generated, err = l.handleLabelDecl(op)
		case GotoOp:
			generated, err = l.handleGotoOp(op)
		case FuncDecl:
			generated, err = l.handleFuncDecl(op)
		case FuncCallOp:
			generated, err = l.handleFuncCallOp(op)
		case ReturnOp:
			generated, err = l.handleReturnOp(op)
		default:
			err = fmt.Errorf("unrecognized operation '%T'", operation)
		}

		if err != nil {
			return nil, err
		}
		// Every generated block is preceded by the VM line it came from, so the emitted
		// Asm text stays legible/traceable back to its source (spec's pass-through comment).
		program = append(program, asm.Comment{Text: vmText(operation)})
		program = append(program, generated...)
	}

	return program, nil
}

// vmText renders an 'Operation' back to the canonical VM source syntax it was parsed
// from (one VM instruction per line, so the round-trip is exact modulo whitespace).
func vmText(operation Operation) string {
	switch op := operation.(type) {
	case MemoryOp:
		return fmt.Sprintf("%s %s %d", op.Operation, op.Segment, op.Offset)
	case ArithmeticOp:
		return string(op.Operation)
	case LabelDecl:
		return fmt.Sprintf("label %s", op.Name)
	case GotoOp:
		return fmt.Sprintf("%s %s", op.Jump, op.Label)
	case FuncDecl:
		return fmt.Sprintf("function %s %d", op.Name, op.NLocal)
	case FuncCallOp:
		return fmt.Sprintf("call %s %d", op.Name, op.NArgs)
	case ReturnOp:
		return "return"
	default:
		return fmt.Sprintf("%T", operation)
	}
}

// Bootstrap returns the fixed preamble every full VM program (as opposed to a single
// module lowered in isolation, e.g. for testing) is expected to start with: it sets
// 'SP' to 256 (the first usable stack slot, spec's memory map) and calls 'Sys.init'
// with no arguments, which is expected to never return.
func (l *Lowerer) Bootstrap() (asm.Program, error) {
	program := asm.Program{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	call, err := l.handleFuncCallOp(FuncCallOp{Name: "Sys.init", NArgs: 0})
	if err != nil {
		return nil, err
	}
	return append(program, call...), nil
}

// ----------------------------------------------------------------------------
// Shared helpers

// pushD appends the instructions that push whatever value currently sits in the 'D'
// register onto the stack and advance the stack pointer. Every 'push' variant converges
// on this same suffix once the value-to-push has been loaded into 'D'.
func pushD() []asm.Statement {
	return []asm.Statement{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// indirectBase maps the 4 'real but offset-addressed' segments to the Hack symbol
// that holds their base address; 'static'/'pointer'/'temp'/'constant' are not indirect
// and are handled separately since they don't dereference a base pointer at all.
func indirectBase(segment SegmentType) (string, bool) {
	switch segment {
	case Local:
		return "LCL", true
	case Argument:
		return "ARG", true
	case This:
		return "THIS", true
	case That:
		return "THAT", true
	default:
		return "", false
	}
}

// directSymbol resolves the fixed Hack symbol a direct-addressed segment reference
// (pointer, temp, static) maps to; these never dereference a base pointer, the offset
// picks a fixed register/symbol outright.
func (l *Lowerer) directSymbol(segment SegmentType, offset uint16) (string, error) {
	switch segment {
	case Pointer:
		switch offset {
		case 0:
			return "THIS", nil
		case 1:
			return "THAT", nil
		default:
			return "", fmt.Errorf("invalid 'pointer' offset, got %d", offset)
		}
	case Temp:
		if offset > 7 {
			return "", fmt.Errorf("invalid 'temp' offset, got %d", offset)
		}
		return fmt.Sprintf("R%d", 5+offset), nil
	case Static:
		return fmt.Sprintf("%s.%d", l.moduleName, offset), nil
	default:
		return "", fmt.Errorf("unrecognized direct segment '%s'", segment)
	}
}

// scopedLabel prefixes a user-declared VM label with the enclosing function's name,
// per spec: a 'label Foo' inside function 'Bar' becomes the Hack label 'Bar$Foo', so
// the same VM label name can be reused across unrelated functions without colliding.
// A label declared before any 'function' op in the module is left unscoped.
func (l *Lowerer) scopedLabel(name string) string {
	if l.currFunction == "" {
		return name
	}
	return fmt.Sprintf("%s$%s", l.currFunction, name)
}

// ----------------------------------------------------------------------------
// Memory Op

func (l *Lowerer) handleMemoryOp(op MemoryOp) ([]asm.Statement, error) {
	if op.Operation == Push {
		return l.handlePush(op)
	}
	if op.Operation == Pop {
		return l.handlePop(op)
	}
	return nil, fmt.Errorf("unrecognized OperationType '%s'", op.Operation)
}

func (l *Lowerer) handlePush(op MemoryOp) ([]asm.Statement, error) {
	if op.Segment == Constant {
		program := []asm.Statement{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}
		return append(program, pushD()...), nil
	}

	if base, ok := indirectBase(op.Segment); ok {
		program := []asm.Statement{
			asm.AInstruction{Location: base},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "A", Comp: "D+A"},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(program, pushD()...), nil
	}

	symbol, err := l.directSymbol(op.Segment, op.Offset)
	if err != nil {
		return nil, err
	}
	program := []asm.Statement{
		asm.AInstruction{Location: symbol},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
	return append(program, pushD()...), nil
}

func (l *Lowerer) handlePop(op MemoryOp) ([]asm.Statement, error) {
	if op.Segment == Constant {
		return nil, fmt.Errorf("cannot 'pop' onto the virtual 'constant' segment")
	}

	if base, ok := indirectBase(op.Segment); ok {
		return []asm.Statement{
			// Compute the target address into R13 before touching the stack, so the
			// popped value (which overwrites D) never clobbers the address we just built.
			asm.AInstruction{Location: base},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "D+A"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "M", Comp: "D"},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil
	}

	symbol, err := l.directSymbol(op.Segment, op.Offset)
	if err != nil {
		return nil, err
	}
	return []asm.Statement{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: symbol},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}, nil
}

// ----------------------------------------------------------------------------
// Arithmetic Op

var binaryOpCode = map[ArithOpType]string{
	Add: "D+M",
	Sub: "M-D",
	And: "D&M",
	Or:  "D|M",
}

var compareJump = map[ArithOpType]string{
	Eq: "JEQ",
	Gt: "JGT",
	Lt: "JLT",
}

func (l *Lowerer) handleArithmeticOp(op ArithmeticOp) ([]asm.Statement, error) {
	if comp, ok := binaryOpCode[op.Operation]; ok {
		return []asm.Statement{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		}, nil
	}

	switch op.Operation {
	case Neg:
		return []asm.Statement{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "-M"},
		}, nil
	case Not:
		return []asm.Statement{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "!M"},
		}, nil
	}

	if jump, ok := compareJump[op.Operation]; ok {
		idx := l.cmpCounter
		l.cmpCounter++
		// Scoped by enclosing function (falling back to the module name if the comparison
		// appears before any 'function' op) so the same base/counter pair from two different
		// modules never collides once their 'asm.Program's are concatenated and assembled.
		scope := l.currFunction
		if scope == "" {
			scope = l.moduleName
		}
		trueLabel := fmt.Sprintf("%s$%s_TRUE_%d", scope, strings.ToUpper(string(op.Operation)), idx)
		endLabel := fmt.Sprintf("%s$%s_END_%d", scope, strings.ToUpper(string(op.Operation)), idx)

		return []asm.Statement{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "D", Comp: "M-D"},
			asm.AInstruction{Location: trueLabel},
			asm.CInstruction{Comp: "D", Jump: jump},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "0"},
			asm.AInstruction{Location: endLabel},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
			asm.LabelDecl{Name: trueLabel},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "-1"},
			asm.LabelDecl{Name: endLabel},
		}, nil
	}

	return nil, fmt.Errorf("unrecognized ArithOpType '%s'", op.Operation)
}

// ----------------------------------------------------------------------------
// Control flow Op

func (l *Lowerer) handleLabelDecl(op LabelDecl) ([]asm.Statement, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to declare an empty label")
	}
	return []asm.Statement{asm.LabelDecl{Name: l.scopedLabel(op.Name)}}, nil
}

func (l *Lowerer) handleGotoOp(op GotoOp) ([]asm.Statement, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to jump to an empty label")
	}
	target := l.scopedLabel(op.Label)

	if op.Jump == Unconditional {
		return []asm.Statement{
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	}
	if op.Jump == Conditional {
		return []asm.Statement{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "D", Jump: "JNE"},
		}, nil
	}

	return nil, fmt.Errorf("unrecognized JumpType '%s'", op.Jump)
}

// ----------------------------------------------------------------------------
// Function Op

func (l *Lowerer) handleFuncDecl(op FuncDecl) ([]asm.Statement, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to declare a function with an empty name")
	}

	l.currFunction = op.Name
	l.callCounter[op.Name] = 0

	program := []asm.Statement{asm.LabelDecl{Name: op.Name}}
	for i := uint8(0); i < op.NLocal; i++ {
		pushZero := []asm.Statement{
			asm.AInstruction{Location: "0"},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}
		program = append(program, append(pushZero, pushD()...)...)
	}
	return program, nil
}

func (l *Lowerer) handleFuncCallOp(op FuncCallOp) ([]asm.Statement, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to call a function with an empty name")
	}

	caller := l.currFunction
	if caller == "" {
		caller = "Bootstrap"
	}
	idx := l.callCounter[caller]
	l.callCounter[caller] = idx + 1
	returnLabel := fmt.Sprintf("%s$ret.%d", caller, idx)

	program := []asm.Statement{
		asm.AInstruction{Location: returnLabel},
		asm.CInstruction{Dest: "D", Comp: "A"},
	}
	program = append(program, pushD()...)
	for _, saved := range []string{"LCL", "ARG", "THIS", "THAT"} {
		program = append(program, asm.AInstruction{Location: saved}, asm.CInstruction{Dest: "D", Comp: "M"})
		program = append(program, pushD()...)
	}

	program = append(program,
		// ARG = SP - 5 - nArgs, computed as a single constant offset since nArgs is known here.
		asm.AInstruction{Location: fmt.Sprint(5 + uint16(op.NArgs))},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// LCL = SP
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// goto f
		asm.AInstruction{Location: op.Name},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		// (return address)
		asm.LabelDecl{Name: returnLabel},
	)

	return program, nil
}

func (l *Lowerer) handleReturnOp(ReturnOp) ([]asm.Statement, error) {
	frameAt := func(offset int) []asm.Statement {
		return []asm.Statement{
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(offset)},
			asm.CInstruction{Dest: "A", Comp: "D-A"},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
	}

	program := []asm.Statement{
		// R13 = frame = LCL
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
	// R14 = retAddr = *(frame - 5), read out before ARG/SP are touched, since once SP
	// moves the frame built from the OLD LCL is still valid memory but ARG/THAT/THIS/LCL
	// below get overwritten in place and must each be read before their own slot is reused.
	program = append(program, frameAt(5)...)
	program = append(program,
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// *ARG = pop()
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// SP = ARG + 1
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)

	// Restore in a fixed order (THAT, THIS, ARG, LCL): LCL must be restored last since
	// 'frameAt' keeps reading offsets from R13 (the callee's old LCL), not from the
	// (still being restored) caller's LCL.
	restoreOrder := []struct {
		offset int
		symbol string
	}{
		{1, "THAT"}, {2, "THIS"}, {3, "ARG"}, {4, "LCL"},
	}
	for _, r := range restoreOrder {
		program = append(program, frameAt(r.offset)...)
		program = append(program, asm.AInstruction{Location: r.symbol}, asm.CInstruction{Dest: "M", Comp: "D"})
	}

	program = append(program,
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)
	return program, nil
}
