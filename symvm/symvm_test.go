package symvm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symexec/symtest"
	"github.com/symexec/symtest/symvm"
)

func newProc(t *testing.T, m *symvm.Machine) (symtest.Exploration, *symvm.Proc) {
	t.Helper()
	entry := m.DefineFunc(func(p *symvm.Proc) error { return nil })
	expl, err := m.NewExploration(entry)
	require.NoError(t, err)
	return expl, expl.Root().(*symvm.Proc)
}

func TestMachineMemory(t *testing.T) {
	m := symvm.NewMachine()
	base := m.Alloc(8)
	m.WriteBytes(base, []byte{0x01, 0x02, 0x03, 0x04})

	_, p := newProc(t, m)

	v, err := p.ReadMemory(base, symtest.Width32)
	require.NoError(t, err)
	c, ok := v.(*symtest.ConstantExpr)
	require.True(t, ok)
	assert.Equal(t, uint64(0x04030201), c.Value)

	// Unmapped bytes read as zero.
	v, err = p.ReadMemory(base+100, symtest.Width8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v.(*symtest.ConstantExpr).Value)
}

func TestProcWriteReadSymbolic(t *testing.T) {
	m := symvm.NewMachine()
	base := m.Alloc(8)
	_, p := newProc(t, m)

	x := p.NewSymbolicByte("x")
	require.NoError(t, p.WriteMemory(base, symtest.Width8, x))

	// A 16-bit read spanning the symbol and an unmapped byte stays
	// symbolic and still mentions x.
	v, err := p.ReadMemory(base, symtest.Width16)
	require.NoError(t, err)
	assert.False(t, symtest.IsConstantExpr(v))

	syms := symtest.FindSymbols(v)
	require.Len(t, syms, 1)
	assert.Equal(t, "x", syms[0].Name)

	// Pinning x makes the value solvable to its concrete layout.
	p.AddConstraint(symtest.NewEqExpr(x, 0xAB))
	got, err := p.SolveOne(v)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x00AB), got)
}

func TestSolver(t *testing.T) {
	t.Run("Min", func(t *testing.T) {
		_, p := newProc(t, symvm.NewMachine())
		x := p.NewSymbolicByte("x")
		p.AddConstraint(symtest.NewBinaryExpr(symtest.UGT, x, symtest.NewConstantExpr8(3)))

		v, err := p.SolveMin(x)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), v)
	})

	t.Run("Upto", func(t *testing.T) {
		_, p := newProc(t, symvm.NewMachine())
		x := p.NewSymbolicByte("x")
		p.AddConstraint(symtest.NewBinaryExpr(symtest.ULT, x, symtest.NewConstantExpr8(3)))

		values, err := p.SolveUpto(x, 10)
		require.NoError(t, err)
		assert.Equal(t, []uint64{0, 1, 2}, values)
	})

	t.Run("Infeasible", func(t *testing.T) {
		_, p := newProc(t, symvm.NewMachine())
		x := p.NewSymbolicByte("x")
		p.AddConstraint(symtest.NewEqExpr(x, 1))
		p.AddConstraint(symtest.NewEqExpr(x, 2))

		_, err := p.SolveOne(x)
		assert.ErrorIs(t, err, symtest.ErrPathInfeasible)
	})

	t.Run("ResourceLimit", func(t *testing.T) {
		_, p := newProc(t, symvm.NewMachine())
		x := p.NewSymbolicByte("x")
		y := p.NewSymbolicByte("y")
		z := p.NewSymbolicByte("z")
		word := symtest.NewConcatExpr(x, symtest.NewConcatExpr(y, z))
		p.AddConstraint(symtest.NewEqExpr(word, 0xFFFFFF))

		_, err := p.SolveOne(x)
		assert.ErrorIs(t, err, symtest.ErrSolverResourceLimit)
	})
}

func TestBranchForks(t *testing.T) {
	m := symvm.NewMachine()
	input := m.Alloc(1)

	var outcomes []uint64
	entry := m.DefineFunc(func(p *symvm.Proc) error {
		b, err := p.ReadMemory(input, symtest.Width8)
		if err != nil {
			return err
		}
		taken, err := p.Branch(symtest.NewEqExpr(b, 7))
		if err != nil {
			return err
		}
		v, err := p.SolveOne(b)
		if err != nil {
			return err
		}
		if taken {
			require.Equal(t, uint64(7), v)
		} else {
			require.NotEqual(t, uint64(7), v)
		}
		outcomes = append(outcomes, v)
		return nil
	})

	expl, err := m.NewExploration(entry)
	require.NoError(t, err)

	root := expl.Root()
	sym := root.NewSymbolicByte("b")
	require.NoError(t, root.WriteMemory(input, symtest.Width8, sym))

	var terms int
	expl.OnPathTerminated(func(p symtest.Path, tag string) {
		assert.Equal(t, "", tag)
		terms++
	})

	require.NoError(t, expl.Run(context.Background()))
	assert.Equal(t, 2, terms)
	assert.Len(t, outcomes, 2)
}

func TestBranchConcreteDoesNotFork(t *testing.T) {
	m := symvm.NewMachine()
	entry := m.DefineFunc(func(p *symvm.Proc) error {
		taken, err := p.Branch(symtest.NewBoolConstantExpr(true))
		if err != nil {
			return err
		}
		require.True(t, taken)
		return nil
	})

	expl, err := m.NewExploration(entry)
	require.NoError(t, err)

	var terms int
	expl.OnPathTerminated(func(symtest.Path, string) { terms++ })
	require.NoError(t, expl.Run(context.Background()))
	assert.Equal(t, 1, terms)
}

func TestForkIsolation(t *testing.T) {
	m := symvm.NewMachine()
	cell := m.Alloc(1)
	input := m.Alloc(1)

	entry := m.DefineFunc(func(p *symvm.Proc) error {
		b, err := p.ReadMemory(input, symtest.Width8)
		if err != nil {
			return err
		}
		taken, err := p.Branch(symtest.NewEqExpr(b, 1))
		if err != nil {
			return err
		}

		// Writes on one side must not leak into the sibling.
		v, err := p.ReadMemory(cell, symtest.Width8)
		if err != nil {
			return err
		}
		require.Equal(t, uint64(0), v.(*symtest.ConstantExpr).Value)

		if taken {
			return p.WriteMemory(cell, symtest.Width8, symtest.NewConstantExpr8(0xEE))
		}
		return nil
	})

	expl, err := m.NewExploration(entry)
	require.NoError(t, err)

	root := expl.Root()
	require.NoError(t, root.WriteMemory(input, symtest.Width8, root.NewSymbolicByte("b")))

	var terms int
	expl.OnPathTerminated(func(symtest.Path, string) { terms++ })
	require.NoError(t, expl.Run(context.Background()))
	assert.Equal(t, 2, terms)
}

func TestCancellation(t *testing.T) {
	m := symvm.NewMachine()
	spin := m.DefineFunc(func(p *symvm.Proc) error { return nil })
	entry := m.DefineFunc(func(p *symvm.Proc) error {
		for {
			if _, err := p.Call(spin); err != nil {
				return err
			}
		}
	})

	expl, err := m.NewExploration(entry)
	require.NoError(t, err)

	var tags []string
	expl.OnPathTerminated(func(_ symtest.Path, tag string) { tags = append(tags, tag) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, expl.Run(ctx))

	require.Len(t, tags, 1)
	assert.Contains(t, tags[0], "canceled")
}

func TestStoreCloning(t *testing.T) {
	m := symvm.NewMachine()
	input := m.Alloc(1)

	entry := m.DefineFunc(func(p *symvm.Proc) error {
		b, err := p.ReadMemory(input, symtest.Width8)
		if err != nil {
			return err
		}
		taken, err := p.Branch(symtest.NewEqExpr(b, 1))
		if err != nil {
			return err
		}

		note := p.Load("notes").(*notes)
		require.Empty(t, note.lines)
		if taken {
			note.lines = append(note.lines, "taken")
		}
		return nil
	})

	expl, err := m.NewExploration(entry)
	require.NoError(t, err)

	root := expl.Root()
	require.NoError(t, root.WriteMemory(input, symtest.Width8, root.NewSymbolicByte("b")))
	root.Store("notes", &notes{})

	var terms int
	expl.OnPathTerminated(func(symtest.Path, string) { terms++ })
	require.NoError(t, expl.Run(context.Background()))
	assert.Equal(t, 2, terms)
}

type notes struct {
	lines []string
}

func (n *notes) Clone() interface{} {
	return &notes{lines: append([]string(nil), n.lines...)}
}
