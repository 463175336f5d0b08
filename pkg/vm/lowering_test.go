package vm_test

import (
	"strings"
	"testing"

	"github.com/nand2tetris-go/toolchain/pkg/asm"
	"github.com/nand2tetris-go/toolchain/pkg/hack"
	"github.com/nand2tetris-go/toolchain/pkg/vm"
)

// assemble lowers a VM module straight down to Hack binary, exactly as
// cmd/vm_translator wires Parser -> Lowerer -> asm.Lowerer -> hack.CodeGenerator.
func assemble(t *testing.T, moduleName, source string) []string {
	t.Helper()

	module, err := vm.NewParser(strings.NewReader(source)).Parse()
	if err != nil {
		t.Fatalf("vm.Parse() failed: %v", err)
	}

	lowerer := vm.NewLowerer(moduleName, module)
	asmProgram, err := lowerer.Lower()
	if err != nil {
		t.Fatalf("vm.Lower() failed: %v", err)
	}

	asmLowerer := asm.NewLowerer(asmProgram)
	hackProgram, table, err := asmLowerer.Lower()
	if err != nil {
		t.Fatalf("asm.Lower() failed: %v", err)
	}

	codegen := hack.NewCodeGenerator(hackProgram, table)
	lines, err := codegen.Generate()
	if err != nil {
		t.Fatalf("hack.Generate() failed: %v", err)
	}
	return lines
}

func TestPushConstantScenario(t *testing.T) {
	// spec §8(d): 'push constant 7' lowers to this exact 7-instruction sequence.
	lines := assemble(t, "Test", "push constant 7\n")
	expected := []string{
		"0000000000000111", // @7
		"1110110000010000", // D=A
		"0000000000000000", // @SP
		"1111110000100000", // A=M
		"1110001100001000", // M=D
		"0000000000000000", // @SP
		"1111110111001000", // M=M+1
	}
	if len(lines) != len(expected) {
		t.Fatalf("got %d instructions, want %d", len(lines), len(expected))
	}
	for i, want := range expected {
		if lines[i] != want {
			t.Errorf("line %d = %s, want %s", i, lines[i], want)
		}
	}
}

func TestStaticSegmentScopedPerModule(t *testing.T) {
	// Both modules write to 'static 0' but must resolve to distinct Hack variables
	// ('Foo.0' vs 'Bar.0'); 'pop static 0' ends with '@<symbol>' followed by 'M=D'.
	staticSymbol := func(moduleName string) string {
		module, err := vm.NewParser(strings.NewReader("push constant 1\npop static 0\n")).Parse()
		if err != nil {
			t.Fatalf("Parse() failed: %v", err)
		}
		lowerer := vm.NewLowerer(moduleName, module)
		program, err := lowerer.Lower()
		if err != nil {
			t.Fatalf("Lower() failed: %v", err)
		}
		aInst, _ := program[len(program)-2].(asm.AInstruction)
		return aInst.Location
	}

	if foo, bar := staticSymbol("Foo"), staticSymbol("Bar"); foo != "Foo.0" || bar != "Bar.0" {
		t.Errorf("'static 0' resolved to %q and %q, want 'Foo.0' and 'Bar.0'", foo, bar)
	}
}

func TestIfGotoPopsBeforeBranching(t *testing.T) {
	lines := assemble(t, "Test", "push constant 0\nif-goto END\npush constant 1\nlabel END\n")
	if len(lines) == 0 {
		t.Fatal("expected generated code")
	}
	// 'push constant 0' fills lines 0-6; 'if-goto' then pops the top into D
	// (@SP, AM=M-1, D=M) before loading the target (line 10) and branching on D.
	popThenBranch := map[int]string{
		7:  "0000000000000000", // @SP
		8:  "1111110010101000", // AM=M-1
		9:  "1111110000010000", // D=M
		11: "1110001100000101", // D;JNE
	}
	if len(lines) < 12 {
		t.Fatalf("got %d instructions, want at least 12", len(lines))
	}
	for i, want := range popThenBranch {
		if lines[i] != want {
			t.Errorf("line %d = %s, want %s", i, lines[i], want)
		}
	}
}

func TestLabelScopedToEnclosingFunction(t *testing.T) {
	source := "function Main.main 0\nlabel LOOP\ngoto LOOP\n"
	module, err := vm.NewParser(strings.NewReader(source)).Parse()
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	lowerer := vm.NewLowerer("Main", module)
	program, err := lowerer.Lower()
	if err != nil {
		t.Fatalf("Lower() failed: %v", err)
	}

	found := false
	for _, stmt := range program {
		if decl, ok := stmt.(asm.LabelDecl); ok && decl.Name == "Main.main$LOOP" {
			found = true
		}
	}
	if !found {
		t.Error("expected label 'LOOP' to be scoped as 'Main.main$LOOP'")
	}
}

func TestCallSitesWithinSameFunctionGetDistinctReturnLabels(t *testing.T) {
	source := "function Main.main 0\ncall Foo.bar 0\ncall Foo.bar 0\n"
	module, err := vm.NewParser(strings.NewReader(source)).Parse()
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	lowerer := vm.NewLowerer("Main", module)
	program, err := lowerer.Lower()
	if err != nil {
		t.Fatalf("Lower() failed: %v", err)
	}

	var labels []string
	for _, stmt := range program {
		if decl, ok := stmt.(asm.LabelDecl); ok && strings.Contains(decl.Name, "$ret.") {
			labels = append(labels, decl.Name)
		}
	}
	if len(labels) != 2 {
		t.Fatalf("expected 2 return-address labels, got %d: %v", len(labels), labels)
	}
	if labels[0] == labels[1] {
		t.Errorf("two call sites in the same function produced the same return label %q", labels[0])
	}
}

func TestBootstrapSetsStackPointerTo256(t *testing.T) {
	module, err := vm.NewParser(strings.NewReader("function Sys.init 0\nreturn\n")).Parse()
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	lowerer := vm.NewLowerer("Sys", module)
	boot, err := lowerer.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap() failed: %v", err)
	}

	aInst, ok := boot[0].(asm.AInstruction)
	if !ok || aInst.Location != "256" {
		t.Fatalf("expected first bootstrap instruction to load 256, got %+v", boot[0])
	}
	cInst, ok := boot[3].(asm.CInstruction)
	if !ok || cInst.Dest != "M" || cInst.Comp != "D" {
		t.Fatalf("expected SP=D as the 4th bootstrap instruction, got %+v", boot[3])
	}

	callFound := false
	for _, stmt := range boot {
		if a, ok := stmt.(asm.AInstruction); ok && a.Location == "Sys.init" {
			callFound = true
		}
	}
	if !callFound {
		t.Error("expected the bootstrap sequence to jump into Sys.init")
	}
}

func TestReturnRestoresFrameAndJumpsToCaller(t *testing.T) {
	module, err := vm.NewParser(strings.NewReader("function Foo.bar 0\nreturn\n")).Parse()
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	lowerer := vm.NewLowerer("Foo", module)
	program, err := lowerer.Lower()
	if err != nil {
		t.Fatalf("Lower() failed: %v", err)
	}

	last := program[len(program)-1]
	cInst, ok := last.(asm.CInstruction)
	if !ok || cInst.Comp != "0" || cInst.Jump != "JMP" {
		t.Fatalf("expected the lowered 'return' to end in an unconditional jump, got %+v", last)
	}
}
