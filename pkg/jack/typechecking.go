package jack

import (
	"fmt"
	"strings"

	"github.com/nand2tetris-go/toolchain/pkg/utils"
)

// TypeChecker walks a 'jack.Program' once before it's handed to the Lowerer, resolving every
// variable reference and call target so that lowering itself never has to report an undefined
// symbol (spec §7 requires semantic errors like this to be diagnosed with the offending name).
type TypeChecker struct {
	program utils.OrderedMap[string, Class] // The program to check, built the same way Lowerer builds it
	scopes  ScopeTable                      // Keeps track of the scopes and declared variables inside each one
}

// Initializes and returns to the caller a brand new 'TypeChecker' struct.
func NewTypeChecker(p Program) TypeChecker {
	program := utils.NewOrderedMap[string, Class](utils.StringKeyLess)
	for name, class := range p {
		program.Set(name, class)
	}
	return TypeChecker{program: program}
}

// Triggers the type-checking pass, class by class. Returns the first error encountered.
func (tc *TypeChecker) Check() error {
	if tc.program.Size() == 0 {
		return fmt.Errorf("the given 'program' is empty or nil")
	}

	for _, entry := range tc.program.Entries() {
		if err := tc.HandleClass(entry.Value); err != nil {
			return fmt.Errorf("error type-checking class '%s': %w", entry.Key, err)
		}
	}

	return nil
}

// Specialized function to type-check a 'jack.Class' and its nested fields and subroutines.
func (tc *TypeChecker) HandleClass(class Class) error {
	tc.scopes.PushClassScope(class.Name)
	defer tc.scopes.PopClassScope()

	for _, entry := range class.Fields.Entries() {
		tc.scopes.RegisterVariable(entry.Value)
	}

	for _, entry := range class.Subroutines.Entries() {
		if err := tc.HandleSubroutine(entry.Value); err != nil {
			return fmt.Errorf("error type-checking subroutine '%s': %w", entry.Key, err)
		}
	}

	return nil
}

// Specialized function to type-check a 'jack.Subroutine' and its nested statements.
func (tc *TypeChecker) HandleSubroutine(subroutine Subroutine) error {
	tc.scopes.PushSubRoutineScope(subroutine.Name)
	defer tc.scopes.PopSubroutineScope()

	if subroutine.Type == Method {
		className := strings.Split(tc.scopes.GetScope(), ".")[0]
		tc.scopes.RegisterVariable(Variable{Name: "__obj", VarType: Parameter, DataType: DataType{Main: Object, Subtype: className}})
	}

	for _, arg := range subroutine.Arguments {
		tc.scopes.RegisterVariable(arg)
	}

	// A subroutine body permits variable declarations only before statements (spec §4.3).
	declarationsClosed := false
	for _, stmt := range subroutine.Statements {
		if _, isVarStmt := stmt.(VarStmt); isVarStmt {
			if declarationsClosed {
				return fmt.Errorf("variable declarations must precede all other statements")
			}
		} else {
			declarationsClosed = true
		}

		if err := tc.HandleStatement(stmt); err != nil {
			return fmt.Errorf("error type-checking statement %T: %w", stmt, err)
		}
	}

	return nil
}

// Generalized function to type-check multiple statements types.
func (tc *TypeChecker) HandleStatement(stmt Statement) error {
	switch tStmt := stmt.(type) {
	case DoStmt:
		_, err := tc.HandleFuncCallExpr(tStmt.FuncCall)
		return err

	case VarStmt:
		for _, variable := range tStmt.Vars {
			tc.scopes.RegisterVariable(variable)
		}
		return nil

	case LetStmt:
		switch lhs := tStmt.Lhs.(type) {
		case VarExpr:
			if _, _, err := tc.scopes.ResolveVariable(lhs.Var); err != nil {
				return err
			}
		case ArrayExpr:
			if _, err := tc.HandleExpression(lhs); err != nil {
				return err
			}
		default:
			return fmt.Errorf("assignment target must be a variable or array element, got %T", tStmt.Lhs)
		}
		_, err := tc.HandleExpression(tStmt.Rhs)
		return err

	case IfStmt:
		if _, err := tc.HandleExpression(tStmt.Condition); err != nil {
			return fmt.Errorf("error in 'if' condition: %w", err)
		}
		for _, nested := range append(append([]Statement{}, tStmt.ThenBlock...), tStmt.ElseBlock...) {
			if err := tc.HandleStatement(nested); err != nil {
				return err
			}
		}
		return nil

	case WhileStmt:
		if _, err := tc.HandleExpression(tStmt.Condition); err != nil {
			return fmt.Errorf("error in 'while' condition: %w", err)
		}
		for _, nested := range tStmt.Block {
			if err := tc.HandleStatement(nested); err != nil {
				return err
			}
		}
		return nil

	case ReturnStmt:
		if tStmt.Expr == nil {
			return nil
		}
		_, err := tc.HandleExpression(tStmt.Expr)
		return err

	default:
		return fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Generalized function to type-check multiple expression types, returning the inferred DataType.
func (tc *TypeChecker) HandleExpression(expr Expression) (DataType, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		if tExpr.Var == "this" {
			className := strings.Split(tc.scopes.GetScope(), ".")[0]
			return DataType{Main: Object, Subtype: className}, nil
		}
		_, variable, err := tc.scopes.ResolveVariable(tExpr.Var)
		if err != nil {
			return DataType{}, err
		}
		return variable.DataType, nil

	case LiteralExpr:
		return tExpr.Type, nil

	case ArrayExpr:
		base, err := tc.HandleExpression(VarExpr{Var: tExpr.Var})
		if err != nil {
			return DataType{}, err
		}
		if base.Main != Object {
			return DataType{}, fmt.Errorf("'%s' is not an array, cannot be indexed", tExpr.Var)
		}
		if _, err := tc.HandleExpression(tExpr.Index); err != nil {
			return DataType{}, fmt.Errorf("error in array index expression: %w", err)
		}
		return DataType{Main: Int}, nil

	case UnaryExpr:
		return tc.HandleExpression(tExpr.Rhs)

	case BinaryExpr:
		if _, err := tc.HandleExpression(tExpr.Lhs); err != nil {
			return DataType{}, err
		}
		if _, err := tc.HandleExpression(tExpr.Rhs); err != nil {
			return DataType{}, err
		}
		switch tExpr.Type {
		case Equal, LessThan, GreatThan, BoolOr, BoolAnd:
			return DataType{Main: Bool}, nil
		default:
			return DataType{Main: Int}, nil
		}

	case FuncCallExpr:
		return tc.HandleFuncCallExpr(tExpr)

	default:
		return DataType{}, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// Resolves a 'jack.FuncCallExpr' against either the program or the standard library ABI,
// following the same 3-case resolution the Lowerer uses (bare/self, variable-qualified,
// class-qualified), and validates that the call site's argument count matches the declaration.
func (tc *TypeChecker) HandleFuncCallExpr(expr FuncCallExpr) (DataType, error) {
	for _, arg := range expr.Arguments {
		if _, err := tc.HandleExpression(arg); err != nil {
			return DataType{}, fmt.Errorf("error in argument to '%s': %w", expr.FuncName, err)
		}
	}

	lookup := func(className, subName string) (Subroutine, error) {
		class, exists := tc.program.Get(className)
		if !exists {
			stdClass, isStd := StandardLibraryABI[className]
			if !isStd {
				return Subroutine{}, fmt.Errorf("class '%s' is undefined", className)
			}
			class = stdClass
		}

		routine, exists := class.Subroutines.Get(subName)
		if !exists {
			return Subroutine{}, fmt.Errorf("subroutine '%s' not found in class '%s'", subName, className)
		}
		if len(routine.Arguments) != len(expr.Arguments) {
			return Subroutine{}, fmt.Errorf(
				"'%s.%s' expects %d argument(s), got %d", className, subName, len(routine.Arguments), len(expr.Arguments))
		}
		return routine, nil
	}

	if !expr.IsExtCall {
		className := strings.Split(tc.scopes.GetScope(), ".")[0]
		routine, err := lookup(className, expr.FuncName)
		return routine.Return, err
	}

	if _, variable, err := tc.scopes.ResolveVariable(expr.Var); err == nil {
		if variable.DataType.Main != Object {
			return DataType{}, fmt.Errorf("variable '%s' is not an object, cannot call '%s' on it", expr.Var, expr.FuncName)
		}
		routine, err := lookup(variable.DataType.Subtype, expr.FuncName)
		return routine.Return, err
	}

	routine, err := lookup(expr.Var, expr.FuncName)
	return routine.Return, err
}
