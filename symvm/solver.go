package symvm

import (
	"errors"
	"sort"

	"github.com/symexec/symtest"
)

// solverBudget bounds how many assignment nodes one query may visit.
const solverBudget = 1 << 20

// errStop unwinds the search after a visitor asked to stop. Never escapes.
var errStop = errors.New("symvm: search stopped")

// search enumerates satisfying assignments of a constraint set by
// depth-first search over its free symbols. A constraint is checked as soon
// as the last of its symbols is assigned, pruning the subtree on failure.
type search struct {
	symbols []*symtest.SymbolExpr

	// checkAt[i] holds the constraints whose symbols are all assigned once
	// symbol i has a value.
	checkAt [][]symtest.Expr

	// ground holds constraints with no free symbols at all.
	ground []symtest.Expr

	values map[string]uint64
	budget int
}

// newSearch builds a search over constraints. Symbols of extra expressions
// join the assignment order so visitors can evaluate them.
func newSearch(constraints []symtest.Expr, extra ...symtest.Expr) *search {
	all := append(append([]symtest.Expr(nil), constraints...), extra...)
	symbols := symtest.FindSymbols(all...)

	index := make(map[string]int, len(symbols))
	for i, sym := range symbols {
		index[sym.Name] = i
	}

	s := &search{
		symbols: symbols,
		checkAt: make([][]symtest.Expr, len(symbols)),
		values:  make(map[string]uint64, len(symbols)),
		budget:  solverBudget,
	}
	for _, c := range constraints {
		last := -1
		for _, sym := range symtest.FindSymbols(c) {
			if i := index[sym.Name]; i > last {
				last = i
			}
		}
		if last < 0 {
			s.ground = append(s.ground, c)
		} else {
			s.checkAt[last] = append(s.checkAt[last], c)
		}
	}
	return s
}

// run invokes visit for every satisfying assignment, in ascending
// assignment order. visit returning false stops the search. Returns
// symtest.ErrSolverResourceLimit if the budget runs out first.
func (s *search) run(visit func(values map[string]uint64) bool) error {
	for _, c := range s.ground {
		v, err := symtest.NewExprEvaluator(nil).Evaluate(c)
		if err != nil {
			return err
		}
		if v.Value == 0 {
			return nil
		}
	}

	err := s.assign(0, visit)
	if err == errStop {
		return nil
	}
	return err
}

func (s *search) assign(i int, visit func(values map[string]uint64) bool) error {
	if i == len(s.symbols) {
		if !visit(s.values) {
			return errStop
		}
		return nil
	}

	sym := s.symbols[i]
	ev := symtest.NewExprEvaluator(s.values)
	max := uint64(1)<<sym.Width - 1

	for v := uint64(0); ; v++ {
		if s.budget == 0 {
			return symtest.ErrSolverResourceLimit
		}
		s.budget--

		s.values[sym.Name] = v
		ok := true
		for _, c := range s.checkAt[i] {
			r, err := ev.Evaluate(c)
			if err != nil {
				return err
			}
			if r.Value == 0 {
				ok = false
				break
			}
		}
		if ok {
			if err := s.assign(i+1, visit); err != nil {
				return err
			}
		}

		if v == max {
			break
		}
	}
	delete(s.values, sym.Name)
	return nil
}

// feasible reports whether the constraint set has a satisfying assignment.
func feasible(constraints []symtest.Expr) (bool, error) {
	found := false
	err := newSearch(constraints).run(func(map[string]uint64) bool {
		found = true
		return false
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// SolveOne implements symtest.Path. The returned value comes from the first
// satisfying assignment in search order.
func (p *Proc) SolveOne(expr symtest.Expr) (uint64, error) {
	var result uint64
	found := false
	s := newSearch(p.constraints, expr)
	err := s.run(func(values map[string]uint64) bool {
		v, evalErr := symtest.NewExprEvaluator(values).Evaluate(expr)
		if evalErr != nil {
			return false
		}
		result, found = v.Value, true
		return false
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, symtest.ErrPathInfeasible
	}
	return result, nil
}

// SolveMin implements symtest.Path. Narrow expressions are minimized by an
// ascending scan over candidate values; wider ones fall back to full
// enumeration under the budget.
func (p *Proc) SolveMin(expr symtest.Expr) (uint64, error) {
	if width := symtest.ExprWidth(expr); width <= 8 {
		for v := uint64(0); v < uint64(1)<<width; v++ {
			ok, err := feasible(append(append([]symtest.Expr(nil), p.constraints...),
				symtest.NewEqExpr(expr, v)))
			if err != nil {
				return 0, err
			}
			if ok {
				return v, nil
			}
		}
		return 0, symtest.ErrPathInfeasible
	}

	var min uint64
	found := false
	err := newSearch(p.constraints, expr).run(func(values map[string]uint64) bool {
		v, evalErr := symtest.NewExprEvaluator(values).Evaluate(expr)
		if evalErr != nil {
			return false
		}
		if !found || v.Value < min {
			min, found = v.Value, true
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, symtest.ErrPathInfeasible
	}
	return min, nil
}

// SolveUpto implements symtest.Path. Values are returned in ascending
// order.
func (p *Proc) SolveUpto(expr symtest.Expr, max int) ([]uint64, error) {
	seen := make(map[uint64]bool)
	err := newSearch(p.constraints, expr).run(func(values map[string]uint64) bool {
		v, evalErr := symtest.NewExprEvaluator(values).Evaluate(expr)
		if evalErr != nil {
			return false
		}
		seen[v.Value] = true
		return len(seen) < max
	})
	if err != nil {
		return nil, err
	}

	out := make([]uint64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
