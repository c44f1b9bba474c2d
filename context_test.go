package symtest_test

import (
	"errors"
	"testing"

	"github.com/symexec/symtest"
	"github.com/symexec/symtest/symvm"
)

// newTestContext returns a context over a fresh exploration's root path.
func newTestContext(t *testing.T, m *symvm.Machine) *symtest.Context {
	t.Helper()
	entry := m.DefineFunc(func(p *symvm.Proc) error { return nil })
	expl, err := m.NewExploration(entry)
	if err != nil {
		t.Fatal(err)
	}
	return symtest.NewContext(expl, expl.Root())
}

func TestContext_Concretize(t *testing.T) {
	t.Run("ConcretePassThrough", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		if v, err := ctx.Concretize(symtest.NewConstantExpr8(42), false); err != nil {
			t.Fatal(err)
		} else if v != 42 {
			t.Fatalf("unexpected value: %d", v)
		}
		if v, err := ctx.ConcretizeMin(symtest.NewConstantExpr8(42), false); err != nil {
			t.Fatal(err)
		} else if v != 42 {
			t.Fatalf("unexpected value: %d", v)
		}
	})

	t.Run("Min", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		x := ctx.Path().NewSymbolicByte("x")
		ctx.AddConstraint(symtest.NewBinaryExpr(symtest.UGT, x, symtest.NewConstantExpr8(9)))

		if v, err := ctx.ConcretizeMin(x, false); err != nil {
			t.Fatal(err)
		} else if v != 10 {
			t.Fatalf("unexpected minimum: %d", v)
		}
	})

	t.Run("Freeze", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		x := ctx.Path().NewSymbolicByte("x")

		v, err := ctx.Concretize(x, true)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			if got, err := ctx.Concretize(x, false); err != nil {
				t.Fatal(err)
			} else if got != v {
				t.Fatalf("value changed after freeze: %d != %d", got, v)
			}
		}
	})

	t.Run("Infeasible", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		x := ctx.Path().NewSymbolicByte("x")
		ctx.AddConstraint(symtest.NewEqExpr(x, 1))
		ctx.AddConstraint(symtest.NewEqExpr(x, 2))

		if _, err := ctx.Concretize(x, false); !errors.Is(err, symtest.ErrPathInfeasible) {
			t.Fatalf("expected infeasible, got %v", err)
		}
	})
}

func TestContext_ConcretizeMany(t *testing.T) {
	t.Run("Sound", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		x := ctx.Path().NewSymbolicByte("x")
		ctx.AddConstraint(symtest.NewBinaryExpr(symtest.ULT, x, symtest.NewConstantExpr8(5)))

		values, err := ctx.ConcretizeMany(x, 10)
		if err != nil {
			t.Fatal(err)
		} else if len(values) != 5 {
			t.Fatalf("unexpected count: %d", len(values))
		}
		for _, v := range values {
			if v >= 5 {
				t.Fatalf("value violates constraints: %d", v)
			}
		}
	})

	t.Run("Bounded", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		x := ctx.Path().NewSymbolicByte("x")

		values, err := ctx.ConcretizeMany(x, 3)
		if err != nil {
			t.Fatal(err)
		} else if len(values) != 3 {
			t.Fatalf("unexpected count: %d", len(values))
		}
	})

	t.Run("BadBound", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		x := ctx.Path().NewSymbolicByte("x")

		if _, err := ctx.ConcretizeMany(x, 0); !errors.Is(err, symtest.ErrInvalidArgument) {
			t.Fatalf("expected invalid argument, got %v", err)
		}
	})
}

func TestContext_IsSymbolic(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		if sym, err := ctx.IsSymbolic(symtest.NewConstantExpr8(1)); err != nil {
			t.Fatal(err)
		} else if sym {
			t.Fatal("expected concrete")
		}
	})

	t.Run("FreeSymbol", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		x := ctx.Path().NewSymbolicByte("x")
		if sym, err := ctx.IsSymbolic(x); err != nil {
			t.Fatal(err)
		} else if !sym {
			t.Fatal("expected symbolic")
		}
	})

	t.Run("SingleSolution", func(t *testing.T) {
		ctx := newTestContext(t, symvm.NewMachine())
		x := ctx.Path().NewSymbolicByte("x")
		ctx.AddConstraint(symtest.NewEqExpr(x, 7))

		if sym, err := ctx.IsSymbolic(x); err != nil {
			t.Fatal(err)
		} else if sym {
			t.Fatal("expected concrete after pinning constraint")
		}
	})
}

func TestContext_ReadCString(t *testing.T) {
	m := symvm.NewMachine()
	addr := m.WriteString("hello, target")
	ctx := newTestContext(t, m)

	if s, err := ctx.ReadCString(addr); err != nil {
		t.Fatal(err)
	} else if s != "hello, target" {
		t.Fatalf("unexpected string: %q", s)
	}
}

func TestContext_ReadUints(t *testing.T) {
	m := symvm.NewMachine()
	base := m.Alloc(16)
	m.WriteBytes(base, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})
	ctx := newTestContext(t, m)

	if v, next, err := ctx.ReadUint8(base); err != nil {
		t.Fatal(err)
	} else if v != 0x01 || next != base+1 {
		t.Fatalf("unexpected result: %#x next=%#x", v, next)
	}
	if v, next, err := ctx.ReadUint32(base); err != nil {
		t.Fatal(err)
	} else if v != 0x04030201 || next != base+4 {
		t.Fatalf("unexpected result: %#x next=%#x", v, next)
	}
	if v, next, err := ctx.ReadUint64(base); err != nil {
		t.Fatal(err)
	} else if v != 0x0807060504030201 || next != base+8 {
		t.Fatalf("unexpected result: %#x next=%#x", v, next)
	}
}
