package symtest

import "context"

// Engine represents the symbolic execution capability consumed by the
// harness. Implementations own binary loading, per-path memory and register
// state, branch forking and constraint solving; the harness only ever talks
// to them through this interface.
type Engine interface {
	// LookupSymbol resolves a symbol exported by the loaded target to its
	// address inside the target's address space.
	LookupSymbol(name string) (uint64, error)

	// InitialPath returns the pre-execution machine state. It is used for
	// setup reads (descriptor table, test records) before any dispatch and
	// must not be driven.
	InitialPath() Path

	// NewExploration returns a fresh exploration positioned at the given
	// entry address. Explorations are independent: no state is shared
	// between them.
	NewExploration(entry uint64) (Exploration, error)
}

// Exploration represents the execution of one entry point, fanned out into
// however many paths the engine forks along the way.
type Exploration interface {
	// Root returns the exploration's initial path, for pre-run setup such
	// as symbolic input injection.
	Root() Path

	// InstallHook binds fn to an absolute address. The hook fires for every
	// live path that reaches the address, including paths forked after
	// installation, each carrying its own state.
	InstallHook(addr uint64, fn HookFunc)

	// OnPathTerminated registers the callback invoked once per terminated
	// path. Paths discarded as infeasible never reach it.
	OnPathTerminated(fn TerminationFunc)

	// Terminate requests termination of p with the given tag. The request
	// is acted on by the path driver once the current hook returns; it is
	// never a non-local jump.
	Terminate(p Path, tag string)

	// Run drives all paths of the exploration to completion. It honors ctx
	// cancellation by terminating still-live paths with a non-harness tag.
	Run(ctx context.Context) error
}

// Path represents the machine state of one independent execution path. A
// path is owned by exactly one logical thread of control at a time; forking
// copies state, it never aliases it.
type Path interface {
	// PointerWidth returns the target's pointer width in bits.
	PointerWidth() uint

	// ReadMemory reads a width-bit little-endian value at addr.
	ReadMemory(addr uint64, width uint) (Expr, error)

	// WriteMemory writes a width-bit little-endian value at addr.
	WriteMemory(addr uint64, width uint, value Expr) error

	// NewSymbolicByte returns a fresh 8-bit free variable named name.
	NewSymbolicByte(name string) Expr

	// SolveOne returns one concrete value for expr admissible under the
	// path's constraint set. Returns ErrPathInfeasible if the set has
	// become unsatisfiable.
	SolveOne(expr Expr) (uint64, error)

	// SolveMin returns the minimal admissible concrete value for expr.
	SolveMin(expr Expr) (uint64, error)

	// SolveUpto returns up to max distinct admissible values for expr.
	SolveUpto(expr Expr, max int) ([]uint64, error)

	// AddConstraint appends expr to the path's constraint set. It does not
	// check satisfiability; an unsatisfiable set surfaces as path
	// infeasibility on the next solve or execution step.
	AddConstraint(expr Expr)

	// Arg returns the i-th argument of the call that triggered the current
	// hook, decoded from the target's calling convention.
	Arg(i int) (Expr, error)

	// SetReturn sets the return value of the call that triggered the
	// current hook.
	SetReturn(value Expr) error

	// Store & Load attach harness data to the path. Stored values that
	// implement Cloner are deep-copied whenever the engine forks the path.
	Store(key string, value interface{})
	Load(key string) interface{}
}

// HookFunc handles one path reaching a hooked address. A returned
// ErrPathInfeasible discards the path; any other error terminates the path
// with a non-harness tag.
type HookFunc func(p Path) error

// TerminationFunc receives a terminated path and its termination tag.
type TerminationFunc func(p Path, tag string)

// Cloner is implemented by per-path stored data that must be deep-copied
// when the engine forks a path.
type Cloner interface {
	Clone() interface{}
}
