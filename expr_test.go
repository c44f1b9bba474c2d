package symtest_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/symexec/symtest"
)

func TestExprWidth(t *testing.T) {
	t.Run("ConstantExpr", func(t *testing.T) {
		if w := symtest.ExprWidth(&symtest.ConstantExpr{Value: 0, Width: 8}); w != 8 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("SymbolExpr", func(t *testing.T) {
		if w := symtest.ExprWidth(&symtest.SymbolExpr{Name: "x", Width: 8}); w != 8 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("ConcatExpr", func(t *testing.T) {
		if w := symtest.ExprWidth(&symtest.ConcatExpr{
			MSB: &symtest.ConstantExpr{Value: 0, Width: 8},
			LSB: &symtest.ConstantExpr{Value: 0, Width: 16},
		}); w != 24 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("ExtractExpr", func(t *testing.T) {
		if w := symtest.ExprWidth(&symtest.ExtractExpr{
			Expr:   &symtest.ConstantExpr{Value: 0, Width: 32},
			Offset: 8,
			Width:  16,
		}); w != 16 {
			t.Fatalf("unexpected width: %d", w)
		}
	})
	t.Run("BinaryExpr", func(t *testing.T) {
		t.Run("Bool", func(t *testing.T) {
			if w := symtest.ExprWidth(&symtest.BinaryExpr{
				Op:  symtest.EQ,
				LHS: &symtest.ConstantExpr{Value: 0, Width: 8},
				RHS: &symtest.ConstantExpr{Value: 0, Width: 8},
			}); w != 1 {
				t.Fatalf("unexpected width: %d", w)
			}
		})
		t.Run("NonBool", func(t *testing.T) {
			if w := symtest.ExprWidth(&symtest.BinaryExpr{
				Op:  symtest.ADD,
				LHS: &symtest.ConstantExpr{Value: 0, Width: 8},
				RHS: &symtest.ConstantExpr{Value: 0, Width: 8},
			}); w != 8 {
				t.Fatalf("unexpected width: %d", w)
			}
		})
	})
}

func TestNewBinaryExpr_Fold(t *testing.T) {
	t.Run("Add", func(t *testing.T) {
		expr := symtest.NewBinaryExpr(symtest.ADD, symtest.NewConstantExpr8(200), symtest.NewConstantExpr8(100))
		if diff := cmp.Diff(expr, &symtest.ConstantExpr{Value: 44, Width: 8}); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Eq", func(t *testing.T) {
		expr := symtest.NewBinaryExpr(symtest.EQ, symtest.NewConstantExpr8(7), symtest.NewConstantExpr8(7))
		if !symtest.IsConstantTrue(expr) {
			t.Fatalf("expected constant true, got %s", expr)
		}
	})
	t.Run("SignedCompare", func(t *testing.T) {
		expr := symtest.NewBinaryExpr(symtest.SLT, symtest.NewConstantExpr8(0xFF), symtest.NewConstantExpr8(1))
		if !symtest.IsConstantTrue(expr) {
			t.Fatalf("expected -1 < 1, got %s", expr)
		}
	})
	t.Run("Symbolic", func(t *testing.T) {
		sym := symtest.NewSymbolExpr("x", 8)
		expr := symtest.NewBinaryExpr(symtest.ADD, sym, symtest.NewConstantExpr8(1))
		if symtest.IsConstantExpr(expr) {
			t.Fatalf("expected symbolic result, got %s", expr)
		}
	})
}

func TestNewCastExpr(t *testing.T) {
	t.Run("Same", func(t *testing.T) {
		src := symtest.NewConstantExpr8(5)
		if expr := symtest.NewCastExpr(src, 8, false); expr != symtest.Expr(src) {
			t.Fatalf("expected identity, got %s", expr)
		}
	})
	t.Run("Truncate", func(t *testing.T) {
		expr := symtest.NewCastExpr(symtest.NewConstantExpr32(0x1FF), 8, false)
		if diff := cmp.Diff(expr, &symtest.ConstantExpr{Value: 0xFF, Width: 8}); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("SExt", func(t *testing.T) {
		expr := symtest.NewCastExpr(symtest.NewConstantExpr8(0x80), 32, true)
		if diff := cmp.Diff(expr, &symtest.ConstantExpr{Value: 0xFFFFFF80, Width: 32}); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestFindSymbols(t *testing.T) {
	x := symtest.NewSymbolExpr("x", 8)
	y := symtest.NewSymbolExpr("y", 8)
	expr := symtest.NewBinaryExpr(symtest.ADD,
		symtest.NewCastExpr(y, 8, false),
		symtest.NewBinaryExpr(symtest.XOR, x, symtest.NewConstantExpr8(1)),
	)

	syms := symtest.FindSymbols(expr)
	if len(syms) != 2 {
		t.Fatalf("unexpected symbol count: %d", len(syms))
	} else if syms[0].Name != "x" || syms[1].Name != "y" {
		t.Fatalf("unexpected order: %s, %s", syms[0].Name, syms[1].Name)
	}
}

func TestExprEvaluator(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		x := symtest.NewSymbolExpr("x", 8)
		expr := symtest.NewBinaryExpr(symtest.MUL, x, symtest.NewConstantExpr8(3))

		v, err := symtest.NewExprEvaluator(map[string]uint64{"x": 5}).Evaluate(expr)
		if err != nil {
			t.Fatal(err)
		} else if v.Value != 15 {
			t.Fatalf("unexpected value: %d", v.Value)
		}
	})
	t.Run("Concat", func(t *testing.T) {
		hi := symtest.NewSymbolExpr("hi", 8)
		lo := symtest.NewSymbolExpr("lo", 8)
		expr := symtest.NewConcatExpr(hi, lo)

		v, err := symtest.NewExprEvaluator(map[string]uint64{"hi": 0x12, "lo": 0x34}).Evaluate(expr)
		if err != nil {
			t.Fatal(err)
		} else if v.Value != 0x1234 || v.Width != 16 {
			t.Fatalf("unexpected result: %s", v)
		}
	})
	t.Run("UnboundSymbol", func(t *testing.T) {
		x := symtest.NewSymbolExpr("x", 8)
		if _, err := symtest.NewExprEvaluator(nil).Evaluate(x); err == nil {
			t.Fatal("expected error")
		} else if got, want := err.Error(), `symbol not bound: x`; got != want {
			t.Fatalf("unexpected error: %s", got)
		}
	})
}
