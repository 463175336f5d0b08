package jack_test

import (
	"strings"
	"testing"

	"github.com/nand2tetris-go/toolchain/pkg/jack"
	"github.com/stretchr/testify/require"
)

func parseSource(t *testing.T, source string) jack.Class {
	t.Helper()
	class, err := jack.NewParser(strings.NewReader(source)).Parse()
	require.NoError(t, err)
	return class
}

func TestParseClassVariables(t *testing.T) {
	class := parseSource(t, `
		class Point {
			field int x, y;
			static int count;
		}
	`)

	require.Equal(t, "Point", class.Name)
	require.Equal(t, 3, class.Fields.Size())

	x, ok := class.Fields.Get("x")
	require.True(t, ok)
	require.Equal(t, jack.Field, x.VarType)
	require.Equal(t, jack.DataType{Main: jack.Int}, x.DataType)

	count, ok := class.Fields.Get("count")
	require.True(t, ok)
	require.Equal(t, jack.Static, count.VarType)
}

func TestParseSubroutineKinds(t *testing.T) {
	class := parseSource(t, `
		class Point {
			field int x, y;

			constructor Point new(int ax, int ay) {
				let x = ax;
				let y = ay;
				return this;
			}

			method int getX() {
				return x;
			}

			function boolean isOrigin(Point p) {
				return false;
			}
		}
	`)

	ctor, ok := class.Subroutines.Get("new")
	require.True(t, ok)
	require.Equal(t, jack.Constructor, ctor.Type)
	require.Equal(t, jack.DataType{Main: jack.Object, Subtype: "Point"}, ctor.Return)
	require.Len(t, ctor.Arguments, 2)
	require.Equal(t, "ax", ctor.Arguments[0].Name)
	require.Equal(t, "ay", ctor.Arguments[1].Name)

	getter, ok := class.Subroutines.Get("getX")
	require.True(t, ok)
	require.Equal(t, jack.Method, getter.Type)
	require.Equal(t, jack.DataType{Main: jack.Int}, getter.Return)

	fn, ok := class.Subroutines.Get("isOrigin")
	require.True(t, ok)
	require.Equal(t, jack.Function, fn.Type)
	require.Equal(t, jack.DataType{Main: jack.Bool}, fn.Return)
	require.Equal(t, jack.DataType{Main: jack.Object, Subtype: "Point"}, fn.Arguments[0].DataType)
}

func TestParseVarDeclarationsPrecedeStatements(t *testing.T) {
	class := parseSource(t, `
		class Main {
			function void main() {
				var int i;
				var boolean done;
				let i = 0;
				let done = false;
				return;
			}
		}
	`)

	main, ok := class.Subroutines.Get("main")
	require.True(t, ok)
	require.Len(t, main.Statements, 5)
	require.IsType(t, jack.VarStmt{}, main.Statements[0])
	require.IsType(t, jack.VarStmt{}, main.Statements[1])
	require.IsType(t, jack.LetStmt{}, main.Statements[2])
	require.IsType(t, jack.LetStmt{}, main.Statements[3])
	require.IsType(t, jack.ReturnStmt{}, main.Statements[4])
}

func TestParseIfWhileDoReturn(t *testing.T) {
	class := parseSource(t, `
		class Main {
			function void main() {
				if (true) {
					do Output.println();
				} else {
					do Output.println();
				}

				while (false) {
					let x = x + 1;
				}

				return;
			}
		}
	`)

	main, ok := class.Subroutines.Get("main")
	require.True(t, ok)
	require.Len(t, main.Statements, 3)

	ifStmt, isIf := main.Statements[0].(jack.IfStmt)
	require.True(t, isIf)
	require.Len(t, ifStmt.ThenBlock, 1)
	require.Len(t, ifStmt.ElseBlock, 1)

	whileStmt, isWhile := main.Statements[1].(jack.WhileStmt)
	require.True(t, isWhile)
	require.Len(t, whileStmt.Block, 1)

	require.IsType(t, jack.ReturnStmt{}, main.Statements[2])
}

func TestParseExpressionsNoPrecedence(t *testing.T) {
	class := parseSource(t, `
		class Main {
			function int compute() {
				return 1 + 2 * 3;
			}
		}
	`)

	main, ok := class.Subroutines.Get("compute")
	require.True(t, ok)
	ret := main.Statements[0].(jack.ReturnStmt)

	// 'term (op term)*' folds strictly left-to-right with no precedence: '1 + 2 * 3' parses as
	// '(1 + 2) * 3', not '1 + (2 * 3)'.
	outer, ok := ret.Expr.(jack.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, jack.Multiply, outer.Type)

	inner, ok := outer.Lhs.(jack.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, jack.Plus, inner.Type)
}

func TestParseCallResolution(t *testing.T) {
	class := parseSource(t, `
		class Main {
			function void main() {
				do doSomething();
				do Math.max(1, 2);
				do obj.getX();
				return;
			}
		}
	`)

	main, ok := class.Subroutines.Get("main")
	require.True(t, ok)

	bare := main.Statements[0].(jack.DoStmt).FuncCall
	require.False(t, bare.IsExtCall)
	require.Equal(t, "doSomething", bare.FuncName)

	classCall := main.Statements[1].(jack.DoStmt).FuncCall
	require.True(t, classCall.IsExtCall)
	require.Equal(t, "Math", classCall.Var)
	require.Equal(t, "max", classCall.FuncName)
	require.Len(t, classCall.Arguments, 2)

	varCall := main.Statements[2].(jack.DoStmt).FuncCall
	require.True(t, varCall.IsExtCall)
	require.Equal(t, "obj", varCall.Var)
	require.Equal(t, "getX", varCall.FuncName)
}

func TestParseArrayAndUnary(t *testing.T) {
	class := parseSource(t, `
		class Main {
			function void main() {
				let x = a[1];
				let y = -a[1];
				let z = ~done;
				return;
			}
		}
	`)

	main, ok := class.Subroutines.Get("main")
	require.True(t, ok)

	xLet := main.Statements[0].(jack.LetStmt)
	arr, isArr := xLet.Rhs.(jack.ArrayExpr)
	require.True(t, isArr)
	require.Equal(t, "a", arr.Var)

	yLet := main.Statements[1].(jack.LetStmt)
	neg, isUnary := yLet.Rhs.(jack.UnaryExpr)
	require.True(t, isUnary)
	require.Equal(t, jack.Minus, neg.Type)

	zLet := main.Statements[2].(jack.LetStmt)
	not, isUnary := zLet.Rhs.(jack.UnaryExpr)
	require.True(t, isUnary)
	require.Equal(t, jack.BoolNot, not.Type)
}
