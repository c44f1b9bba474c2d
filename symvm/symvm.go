// Package symvm is a small symbolic machine used to execute harness
// protocol fixtures. Programs are Go functions driving a Proc through
// calls, branches and memory operations; branching on a symbolic condition
// fans the exploration out into independent paths.
package symvm

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/immutable"

	"github.com/symexec/symtest"
)

const pointerWidth = 64

// Errors returned by the machine.
var (
	ErrUnknownSymbol  = errors.New("symvm: unknown symbol")
	ErrUnknownAddress = errors.New("symvm: no function at address")
	ErrBadArgument    = errors.New("symvm: bad argument")
)

// errPathDone unwinds a program body after its path was terminated. It
// never escapes the run loop.
var errPathDone = errors.New("symvm: path done")

// Body is one registered function of a target program.
type Body func(p *Proc) error

// uint64Comparer orders memory addresses inside the persistent map.
type uint64Comparer struct{}

func (uint64Comparer) Compare(a, b interface{}) int {
	x, y := a.(uint64), b.(uint64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// Machine is a target fixture: byte-addressed little-endian memory, a
// symbol table and function bodies keyed by address. It implements
// symtest.Engine.
type Machine struct {
	mem     *immutable.SortedMap
	symbols map[string]uint64
	bodies  map[uint64]Body
	brk     uint64

	// test list layout state, maintained by InstallAPI and AddTest.
	testHead uint64
	lastRec  uint64
}

// NewMachine returns an empty machine.
func NewMachine() *Machine {
	return &Machine{
		mem:     immutable.NewSortedMap(uint64Comparer{}),
		symbols: make(map[string]uint64),
		bodies:  make(map[uint64]Body),
		brk:     0x1000,
	}
}

// Alloc reserves n bytes and returns their base address.
func (m *Machine) Alloc(n uint64) uint64 {
	addr := m.brk
	m.brk += n
	// Round up to a 16 byte boundary; allocations never abut.
	m.brk += 16 - (m.brk % 16)
	return addr
}

// DefineSymbol binds name to addr in the symbol table.
func (m *Machine) DefineSymbol(name string, addr uint64) {
	m.symbols[name] = addr
}

// DefineFunc allocates an address for a function body and registers it.
func (m *Machine) DefineFunc(fn Body) uint64 {
	addr := m.Alloc(1)
	m.bodies[addr] = fn
	return addr
}

// WriteByte stores one concrete byte into machine memory.
func (m *Machine) WriteByte(addr uint64, b byte) {
	m.mem = m.mem.Set(addr, symtest.NewConstantExpr8(uint64(b)))
}

// WriteBytes stores data starting at addr.
func (m *Machine) WriteBytes(addr uint64, data []byte) {
	for i, b := range data {
		m.WriteByte(addr+uint64(i), b)
	}
}

// WriteUint64 stores a little-endian 64-bit value at addr.
func (m *Machine) WriteUint64(addr, v uint64) {
	for i := uint(0); i < 8; i++ {
		m.WriteByte(addr+uint64(i), byte(v>>(8*i)))
	}
}

// WriteString stores a NUL-terminated string at a fresh allocation and
// returns its address.
func (m *Machine) WriteString(s string) uint64 {
	addr := m.Alloc(uint64(len(s)) + 1)
	m.WriteBytes(addr, append([]byte(s), 0))
	return addr
}

// LookupSymbol implements symtest.Engine.
func (m *Machine) LookupSymbol(name string) (uint64, error) {
	addr, ok := m.symbols[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, name)
	}
	return addr, nil
}

// InitialPath implements symtest.Engine. The returned path reads the
// machine's pre-execution memory and cannot be driven.
func (m *Machine) InitialPath() symtest.Path {
	return &Proc{mem: m.mem, store: make(map[string]interface{})}
}

// NewExploration implements symtest.Engine.
func (m *Machine) NewExploration(entry uint64) (symtest.Exploration, error) {
	body, ok := m.bodies[entry]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownAddress, entry)
	}
	e := &exploration{
		machine: m,
		body:    body,
		hooks:   make(map[uint64]symtest.HookFunc),
	}
	e.root = &Proc{e: e, mem: m.mem, store: make(map[string]interface{})}
	return e, nil
}

// exploration drives one entry point. Forking is replay based: every path
// is identified by its decision prefix, and each prefix is executed afresh
// from a baseline snapshot of the root taken when Run starts.
type exploration struct {
	machine *Machine
	body    Body
	root    *Proc
	hooks   map[uint64]symtest.HookFunc
	onTerm  symtest.TerminationFunc

	ctx      context.Context
	frontier [][]bool
}

// Root implements symtest.Exploration.
func (e *exploration) Root() symtest.Path { return e.root }

// InstallHook implements symtest.Exploration.
func (e *exploration) InstallHook(addr uint64, fn symtest.HookFunc) {
	e.hooks[addr] = fn
}

// OnPathTerminated implements symtest.Exploration.
func (e *exploration) OnPathTerminated(fn symtest.TerminationFunc) {
	e.onTerm = fn
}

// Terminate implements symtest.Exploration. The request takes effect once
// the current hook returns.
func (e *exploration) Terminate(p symtest.Path, tag string) {
	proc := p.(*Proc)
	proc.termRequested = true
	proc.termTag = tag
}

// Run implements symtest.Exploration. It executes decision prefixes in
// FIFO order until the frontier drains. Infeasible paths are discarded
// without a termination event.
func (e *exploration) Run(ctx context.Context) error {
	e.ctx = ctx
	baseline := e.root.clone()
	e.frontier = [][]bool{nil}

	for len(e.frontier) > 0 {
		decisions := e.frontier[0]
		e.frontier = e.frontier[1:]

		proc := baseline.clone()
		proc.decisions = decisions

		if err := ctx.Err(); err != nil {
			e.terminated(proc, fmt.Sprintf("canceled: %v", err))
			continue
		}

		err := e.body(proc)
		switch {
		case err == nil:
			e.terminated(proc, "")
		case errors.Is(err, errPathDone):
			e.terminated(proc, proc.termTag)
		case errors.Is(err, symtest.ErrPathInfeasible):
			// discarded
		default:
			e.terminated(proc, fmt.Sprintf("fault: %v", err))
		}
	}
	return ctx.Err()
}

func (e *exploration) terminated(p *Proc, tag string) {
	if e.onTerm != nil {
		e.onTerm(p, tag)
	}
}

// Proc is the machine state of one path. It implements symtest.Path.
// Cloning copies memory, constraints and store; two procs never alias.
type Proc struct {
	e *exploration

	mem         *immutable.SortedMap
	constraints []symtest.Expr
	store       map[string]interface{}

	// decisions is the branch prefix this path replays before it is free
	// to fork; depth counts branches taken so far.
	decisions []bool
	depth     int

	args []symtest.Expr
	ret  symtest.Expr

	termRequested bool
	termTag       string
}

func (p *Proc) clone() *Proc {
	dup := &Proc{
		e:           p.e,
		mem:         p.mem,
		constraints: append([]symtest.Expr(nil), p.constraints...),
		store:       make(map[string]interface{}, len(p.store)),
	}
	for k, v := range p.store {
		if c, ok := v.(symtest.Cloner); ok {
			dup.store[k] = c.Clone()
		} else {
			dup.store[k] = v
		}
	}
	return dup
}

// PointerWidth implements symtest.Path.
func (p *Proc) PointerWidth() uint { return pointerWidth }

// ReadMemory implements symtest.Path. Unmapped bytes read as zero.
func (p *Proc) ReadMemory(addr uint64, width uint) (symtest.Expr, error) {
	if width%8 != 0 || width == 0 || width > 64 {
		return nil, fmt.Errorf("%w: read width %d", ErrBadArgument, width)
	}
	n := width / 8

	var expr symtest.Expr
	allConst := true
	var value uint64
	for i := uint(0); i < n; i++ {
		b := p.readByte(addr + uint64(i))
		if c, ok := b.(*symtest.ConstantExpr); ok {
			value |= c.Value << (8 * i)
		} else {
			allConst = false
		}
		if expr == nil {
			expr = b
		} else {
			expr = symtest.NewConcatExpr(b, expr)
		}
	}
	if allConst {
		return symtest.NewConstantExpr(value, width), nil
	}
	return expr, nil
}

func (p *Proc) readByte(addr uint64) symtest.Expr {
	if v, ok := p.mem.Get(addr); ok {
		return v.(symtest.Expr)
	}
	return symtest.NewConstantExpr8(0)
}

// WriteMemory implements symtest.Path.
func (p *Proc) WriteMemory(addr uint64, width uint, value symtest.Expr) error {
	if width%8 != 0 || width == 0 || width > 64 {
		return fmt.Errorf("%w: write width %d", ErrBadArgument, width)
	}
	if w := symtest.ExprWidth(value); w != width {
		return fmt.Errorf("%w: write width %d, value width %d", ErrBadArgument, width, w)
	}
	for i := uint(0); i < width/8; i++ {
		p.mem = p.mem.Set(addr+uint64(i), symtest.NewExtractExpr(value, 8*i, 8))
	}
	return nil
}

// NewSymbolicByte implements symtest.Path.
func (p *Proc) NewSymbolicByte(name string) symtest.Expr {
	return symtest.NewSymbolExpr(name, symtest.Width8)
}

// AddConstraint implements symtest.Path.
func (p *Proc) AddConstraint(expr symtest.Expr) {
	p.constraints = append(p.constraints, expr)
}

// Arg implements symtest.Path.
func (p *Proc) Arg(i int) (symtest.Expr, error) {
	if i < 0 || i >= len(p.args) {
		return nil, fmt.Errorf("%w: argument %d of %d", ErrBadArgument, i, len(p.args))
	}
	return p.args[i], nil
}

// SetReturn implements symtest.Path.
func (p *Proc) SetReturn(value symtest.Expr) error {
	p.ret = value
	return nil
}

// Store implements symtest.Path.
func (p *Proc) Store(key string, value interface{}) {
	p.store[key] = value
}

// Load implements symtest.Path.
func (p *Proc) Load(key string) interface{} {
	return p.store[key]
}

// Call transfers control to addr with the given arguments. A hook bound to
// addr fires first; without one, a registered body runs. The return value
// is whatever the callee set, defaulting to zero.
func (p *Proc) Call(addr uint64, args ...symtest.Expr) (symtest.Expr, error) {
	if p.e == nil {
		return nil, fmt.Errorf("%w: path is not executable", ErrBadArgument)
	}
	if err := p.e.ctx.Err(); err != nil {
		p.termTag = fmt.Sprintf("canceled: %v", err)
		return nil, errPathDone
	}

	savedArgs, savedRet := p.args, p.ret
	p.args, p.ret = args, symtest.NewConstantExpr64(0)
	defer func() { p.args, p.ret = savedArgs, savedRet }()

	if hook, ok := p.e.hooks[addr]; ok {
		if err := hook(p); err != nil {
			if errors.Is(err, symtest.ErrPathInfeasible) {
				return nil, err
			}
			p.termTag = fmt.Sprintf("hook fault: %v", err)
			return nil, errPathDone
		}
		if p.termRequested {
			return nil, errPathDone
		}
		return p.ret, nil
	}
	if body, ok := p.e.machine.bodies[addr]; ok {
		if err := body(p); err != nil {
			return nil, err
		}
		return p.ret, nil
	}
	return nil, fmt.Errorf("%w: %#x", ErrUnknownAddress, addr)
}

// Branch resolves cond to a truth value, forking when both sides are
// feasible. The taken side continues on this proc; the other side is
// enqueued as a decision prefix and replayed from the baseline.
func (p *Proc) Branch(cond symtest.Expr) (bool, error) {
	if c, ok := cond.(*symtest.ConstantExpr); ok {
		return c.IsTrue(), nil
	}
	if err := p.e.ctx.Err(); err != nil {
		p.termTag = fmt.Sprintf("canceled: %v", err)
		return false, errPathDone
	}

	// Replaying a recorded decision.
	if p.depth < len(p.decisions) {
		taken := p.decisions[p.depth]
		p.depth++
		p.constrainBranch(cond, taken)
		ok, err := feasible(p.constraints)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, symtest.ErrPathInfeasible
		}
		return taken, nil
	}

	trueOK, err := feasible(append(append([]symtest.Expr(nil), p.constraints...),
		symtest.NewNotExpr(symtest.NewIsZeroExpr(cond))))
	if err != nil {
		return false, err
	}
	falseOK, err := feasible(append(append([]symtest.Expr(nil), p.constraints...),
		symtest.NewIsZeroExpr(cond)))
	if err != nil {
		return false, err
	}

	switch {
	case trueOK && falseOK:
		other := append(append([]bool(nil), p.decisions...), false)
		p.e.frontier = append(p.e.frontier, other)
		p.decisions = append(p.decisions, true)
		p.depth = len(p.decisions)
		p.constrainBranch(cond, true)
		return true, nil
	case trueOK:
		p.decisions = append(p.decisions, true)
		p.depth = len(p.decisions)
		p.constrainBranch(cond, true)
		return true, nil
	case falseOK:
		p.decisions = append(p.decisions, false)
		p.depth = len(p.decisions)
		p.constrainBranch(cond, false)
		return false, nil
	default:
		return false, symtest.ErrPathInfeasible
	}
}

func (p *Proc) constrainBranch(cond symtest.Expr, taken bool) {
	if taken {
		p.AddConstraint(symtest.NewNotExpr(symtest.NewIsZeroExpr(cond)))
	} else {
		p.AddConstraint(symtest.NewIsZeroExpr(cond))
	}
}
