package jack

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/nand2tetris-go/toolchain/pkg/utils"
)

//go:embed stdlib.json
var stdlibSrc []byte

// StandardLibraryABI holds the signature-only (no bodies) surface of the Jack OS classes, so the
// TypeChecker and Lowerer can resolve calls into 'Math.multiply', 'String.new' and so on without
// those classes being present in the user's own 'jack.Program' (spec §4.3, standard library calls).
var StandardLibraryABI = map[string]Class{}

// abiClass/abiSubroutine/abiVariable mirror Class/Subroutine/Variable but use plain slices/maps
// instead of utils.OrderedMap, since OrderedMap keeps its backing map and less-func unexported
// and so isn't itself JSON-(un)marshalable; stdlib.json is decoded into these first and then
// folded into the real domain types the rest of the package consumes.
type abiClass struct {
	Name        string          `json:"name"`
	Subroutines []abiSubroutine `json:"subroutines"`
}

type abiSubroutine struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Return    string        `json:"return"`
	Arguments []abiVariable `json:"arguments"`
}

type abiVariable struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func init() {
	var classes []abiClass
	if err := json.Unmarshal(stdlibSrc, &classes); err != nil {
		panic(fmt.Errorf("jack: malformed stdlib.json: %w", err))
	}

	for _, rawClass := range classes {
		class := Class{
			Name:        rawClass.Name,
			Fields:      utils.NewOrderedMap[string, Variable](utils.StringKeyLess),
			Subroutines: utils.NewOrderedMap[string, Subroutine](utils.StringKeyLess),
		}

		for _, rawSub := range rawClass.Subroutines {
			args := make([]Variable, len(rawSub.Arguments))
			for i, rawArg := range rawSub.Arguments {
				args[i] = Variable{Name: rawArg.Name, VarType: Parameter, DataType: parseABIType(rawArg.Type)}
			}

			class.Subroutines.Set(rawSub.Name, Subroutine{
				Name:      rawSub.Name,
				Type:      SubroutineType(rawSub.Type),
				Return:    parseABIType(rawSub.Return),
				Arguments: args,
			})
		}

		StandardLibraryABI[class.Name] = class
	}
}

// parseABIType maps a stdlib.json type string to its DataType, falling back to a class reference
// (Object/Subtype) for anything that isn't one of the Jack primitives.
func parseABIType(name string) DataType {
	switch name {
	case "int":
		return DataType{Main: Int}
	case "char":
		return DataType{Main: Char}
	case "boolean":
		return DataType{Main: Bool}
	case "void":
		return DataType{Main: Void}
	default:
		return DataType{Main: Object, Subtype: name}
	}
}
