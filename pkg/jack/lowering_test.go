package jack_test

import (
	"strings"
	"testing"

	"github.com/nand2tetris-go/toolchain/pkg/asm"
	"github.com/nand2tetris-go/toolchain/pkg/hack"
	"github.com/nand2tetris-go/toolchain/pkg/jack"
	"github.com/nand2tetris-go/toolchain/pkg/vm"
	"github.com/stretchr/testify/require"
)

// lower parses+lowers a single-class Jack program straight down to a 'vm.Program' (one
// 'vm.Module' per class), mirroring how cmd/jack_compiler chains jack.Parser -> jack.Lowerer.
func lower(t *testing.T, source string) vm.Program {
	t.Helper()
	class, err := jack.NewParser(strings.NewReader(source)).Parse()
	require.NoError(t, err)

	lowerer := jack.NewLowerer(jack.Program{class.Name: class})
	program, err := lowerer.Lower()
	require.NoError(t, err)
	return program
}

func labelNames(ops vm.Module) []string {
	var names []string
	for _, op := range ops {
		if decl, ok := op.(vm.LabelDecl); ok {
			names = append(names, decl.Name)
		}
	}
	return names
}

func TestLowerIfLabelsResetPerSubroutine(t *testing.T) {
	program := lower(t, `
		class Main {
			function void first() {
				if (true) {
					return;
				}
				if (true) {
					return;
				}
				return;
			}

			function void second() {
				if (true) {
					return;
				}
				return;
			}
		}
	`)

	// Within one subroutine IF_COUNT increments across sibling 'if's, but every new subroutine
	// restarts it at 0 (spec's per-subroutine reset rule): 'second' starts over from IF_TRUE0
	// even though 'first' already reached IF_TRUE1.
	require.Equal(t,
		[]string{"IF_TRUE0", "IF_FALSE0", "IF_TRUE1", "IF_FALSE1", "IF_TRUE0", "IF_FALSE0"},
		labelNames(program["Main"]),
	)
}

func TestLowerWhileLabels(t *testing.T) {
	program := lower(t, `
		class Main {
			function void loop() {
				// The inner 'while' is fully lowered (and so claims WHILE_EXP/END 0) while
				// still being built as part of the outer block, so the outer loop claims 1 -
				// its own WHILE_EXP/END labels end up wrapping the inner ones in the output.
				while (true) {
					while (true) {
						return;
					}
				}
				return;
			}
		}
	`)

	require.Equal(t,
		[]string{"WHILE_EXP1", "WHILE_EXP0", "WHILE_END0", "WHILE_END1"},
		labelNames(program["Main"]),
	)
}

func TestLowerIfElseLabelOrder(t *testing.T) {
	program := lower(t, `
		class Main {
			function void branch() {
				if (true) {
					return;
				} else {
					return;
				}
				return;
			}
		}
	`)

	require.Equal(t, []string{"IF_TRUE0", "IF_FALSE0", "IF_END0"}, labelNames(program["Main"]))
}

func TestLowerVariableSlotsInDeclarationOrder(t *testing.T) {
	program := lower(t, `
		class Main {
			function void main() {
				var int x;
				var int y;
				let x = 1;
				let y = 2;
				return;
			}
		}
	`)

	ops := program["Main"]
	var pushes []vm.MemoryOp
	for _, op := range ops {
		if memOp, ok := op.(vm.MemoryOp); ok && memOp.Operation == vm.Pop && memOp.Segment == vm.Local {
			pushes = append(pushes, memOp)
		}
	}
	require.Len(t, pushes, 2)
	require.Equal(t, uint16(0), pushes[0].Offset) // 'x' is declared first, slot 0
	require.Equal(t, uint16(1), pushes[1].Offset) // 'y' is declared second, slot 1
}

func TestLowerConstructorCallUsesActualName(t *testing.T) {
	program := lower(t, `
		class Point {
			field int x;

			constructor Point create(int ax) {
				let x = ax;
				return this;
			}

			function Point origin() {
				var Point p;
				let p = Point.create(0);
				return p;
			}
		}
	`)

	var calledNames []string
	for _, op := range program["Point"] {
		if call, ok := op.(vm.FuncCallOp); ok {
			calledNames = append(calledNames, call.Name)
		}
	}
	require.Contains(t, calledNames, "Point.create")
	require.NotContains(t, calledNames, "Point.new")
}

func TestLowerBareMethodCallPushesSelf(t *testing.T) {
	program := lower(t, `
		class Counter {
			field int value;

			method void increment() {
				do bump();
				return;
			}

			method void bump() {
				let value = value + 1;
				return;
			}
		}
	`)

	ops := program["Counter"]
	var foundSelfPush, foundCall bool
	for i, op := range ops {
		if memOp, ok := op.(vm.MemoryOp); ok && memOp.Operation == vm.Push && memOp.Segment == vm.Pointer && memOp.Offset == 0 {
			// The very next op should be the call to the bare (self) method.
			if call, ok := ops[i+1].(vm.FuncCallOp); ok && call.Name == "Counter.bump" {
				foundSelfPush = true
				foundCall = true
			}
		}
	}
	require.True(t, foundSelfPush)
	require.True(t, foundCall)
}

// assemble chains the full pipeline (Jack -> VM -> Asm -> Hack binary) exactly as
// cmd/jack_compiler + cmd/vm_translator + cmd/hack_assembler would, end to end.
func assemble(t *testing.T, moduleName string, program vm.Program) []string {
	t.Helper()

	module, ok := program[moduleName]
	require.True(t, ok)

	vmLowerer := vm.NewLowerer(moduleName, module)
	asmProgram, err := vmLowerer.Lower()
	require.NoError(t, err)

	asmLowerer := asm.NewLowerer(asmProgram)
	hackProgram, table, err := asmLowerer.Lower()
	require.NoError(t, err)

	codegen := hack.NewCodeGenerator(hackProgram, table)
	lines, err := codegen.Generate()
	require.NoError(t, err)
	return lines
}

func TestLowerEndToEndProducesValidBinary(t *testing.T) {
	program := lower(t, `
		class Main {
			function int add(int a, int b) {
				return a + b;
			}
		}
	`)

	lines := assemble(t, "Main", program)
	require.NotEmpty(t, lines)
	for _, line := range lines {
		require.Len(t, line, 16)
		require.Regexp(t, "^[01]{16}$", line)
	}
}
