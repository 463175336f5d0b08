package main

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/teris-io/cli"
	"github.com/nand2tetris-go/toolchain/pkg/asm"
	"github.com/nand2tetris-go/toolchain/pkg/vm"
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in 
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode'like) language tailored for use with the Hack computer arch.
`, "\n", " ")

var VmTranslator = cli.New(Description).
	// 'AsOptional()' allows to have more than one input .vm file
	WithArg(cli.NewArg("inputs", "The bytecode (.vm) file to be compiled").
		AsOptional().WithType(cli.TypeString)).
	WithOption(cli.NewOption("output", "The compiled binary output (.asm)").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("bootstrap", "Includes bootstrap code in the final .asm file").
		WithType(cli.TypeBool)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 || options["output"] == "" {
		fmt.Printf("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	output, err := os.Create(options["output"])
	if err != nil {
		fmt.Printf("ERROR: Unable to open output file: %s\n", err)
		return -1
	}
	defer output.Close()

	// Allocates a 'vm.Program' struct to save all the parsed translation unit
	// (the .vm files) that will be parsed and lowered independently and then
	// sent to the codegen phases (that will create a monolithic compiled output).
	program, moduleNames := vm.Program{}, []string{}

	// For every file provided by the user we do the following things
	for _, input := range args {
		content, err := os.ReadFile(input)
		if err != nil {
			fmt.Printf("ERROR: Unable to open input file: %s\n", err)
			return -1
		}

		// Instantiate a parser for the Vm program
		parser := vm.NewParser(bytes.NewReader(content))
		// Parses the input file content and extract an AST (as a 'vm.Module') from it.
		moduleName := strings.TrimSuffix(path.Base(input), path.Ext(input))
		program[moduleName], err = parser.Parse()
		if err != nil {
			fmt.Printf("ERROR: Unable to complete 'parsing' pass: %s\n", err)
			return -1
		}
		moduleNames = append(moduleNames, moduleName)
	}

	// Each module is lowered independently (its own Lowerer instance, so label/static
	// counters never leak across files) and then concatenated in input order to make
	// a single monolithic 'asm.Program' for the codegen phase.
	asmProgram := asm.Program{}
	for _, name := range moduleNames {
		lowerer := vm.NewLowerer(name, program[name])
		modAsm, err := lowerer.Lower()
		if err != nil {
			fmt.Printf("ERROR: Unable to complete 'lowering' pass for module '%s': %s\n", name, err)
			return -1
		}
		asmProgram = append(asmProgram, modAsm...)
	}

	// When the user opts in to include the 'bootstrap' code as the first instructions of our
	// translated program, this code does the following things:
	// - Sets the Stack Pointer to its base location at memory location 256
	// - Calls the Sys.init function (defined by one of the 'vm.Module') as 'call Sys.init 0'
	if _, enabled := options["bootstrap"]; enabled {
		bootLowerer := vm.NewLowerer("Bootstrap", nil)
		boot, err := bootLowerer.Bootstrap()
		if err != nil {
			fmt.Printf("ERROR: Unable to generate the 'bootstrap' code: %s\n", err)
			return -1
		}
		asmProgram = append(boot, asmProgram...)
	}

	// Now, instantiates a code generator for the Asm (compiled) program
	codegen := asm.NewCodeGenerator(asmProgram)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'codegen' pass: %s\n", err)
		return -1
	}

	for _, comp := range compiled {
		line := fmt.Sprintf("%s\n", comp)
		output.Write([]byte(line))
	}

	return 0
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }
