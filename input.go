package symtest

import "fmt"

// maxInputLen bounds the input buffer so a corrupt descriptor table cannot
// ask for gigabytes of symbols.
const maxInputLen = 1 << 20

// InjectInput replaces every byte of the target's input buffer on p with a
// fresh symbolic byte, in ascending address order, and returns the injected
// symbols. The buffer spans [api.InputBegin, api.InputEnd). The symbols are
// also recorded on the path for reproducer extraction.
func InjectInput(p Path, api *API) ([]Expr, error) {
	n := api.InputEnd - api.InputBegin
	if n > maxInputLen {
		return nil, setupErrorf("input buffer is %d bytes, limit is %d", n, maxInputLen)
	}

	state := stateOf(p)
	state.input = make([]Expr, 0, n)

	for i := uint64(0); i < n; i++ {
		sym := p.NewSymbolicByte(fmt.Sprintf("input_%d", i))
		if err := p.WriteMemory(api.InputBegin+i, Width8, sym); err != nil {
			return nil, setupErrorf("cannot write input byte %d: %v", i, err)
		}
		state.input = append(state.input, sym)
	}
	return state.input, nil
}

// SolveInput extracts a concrete reproducer for the path's input bytes,
// taking the minimal admissible value per byte.
func SolveInput(p Path) ([]byte, error) {
	state := stateOf(p)
	out := make([]byte, len(state.input))
	for i, sym := range state.input {
		v, err := p.SolveMin(sym)
		if err != nil {
			return nil, fmt.Errorf("cannot solve input byte %d: %w", i, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}
