package symtest

import "fmt"

// maxCStringLen bounds ReadCString so a missing terminator in the target
// cannot walk the whole address space.
const maxCStringLen = 1 << 16

// Context wraps one path for the duration of one primitive handler. A fresh
// Context is built per hook invocation; handlers never hold one across
// calls.
type Context struct {
	expl Exploration
	path Path
}

// NewContext returns a context over p within expl.
func NewContext(expl Exploration, p Path) *Context {
	return &Context{expl: expl, path: p}
}

// Path returns the underlying path.
func (ctx *Context) Path() Path { return ctx.path }

// ReadUint8 reads the byte at addr and returns its concrete value together
// with the address of the following byte.
func (ctx *Context) ReadUint8(addr uint64) (value uint8, next uint64, err error) {
	v, next, err := ctx.readConcrete(addr, Width8)
	return uint8(v), next, err
}

// ReadUint32 reads a little-endian 32-bit value at addr.
func (ctx *Context) ReadUint32(addr uint64) (value uint32, next uint64, err error) {
	v, next, err := ctx.readConcrete(addr, Width32)
	return uint32(v), next, err
}

// ReadUint64 reads a little-endian 64-bit value at addr.
func (ctx *Context) ReadUint64(addr uint64) (value, next uint64, err error) {
	return ctx.readConcrete(addr, Width64)
}

// ReadUintptr reads a pointer-width value at addr.
func (ctx *Context) ReadUintptr(addr uint64) (value, next uint64, err error) {
	return ctx.readConcrete(addr, ctx.path.PointerWidth())
}

func (ctx *Context) readConcrete(addr uint64, width uint) (value, next uint64, err error) {
	expr, err := ctx.path.ReadMemory(addr, width)
	if err != nil {
		return 0, 0, err
	}
	v, err := ctx.concretize(expr)
	if err != nil {
		return 0, 0, err
	}
	return v, addr + uint64(width/8), nil
}

// ReadCString reads the NUL-terminated string starting at addr. Symbolic
// bytes in the string are concretized to one admissible value.
func (ctx *Context) ReadCString(addr uint64) (string, error) {
	return readCStringFrom(addr, func(a uint64) (uint64, error) {
		v, _, err := ctx.ReadUint8(a)
		return uint64(v), err
	})
}

// readCString reads a NUL-terminated string from a bare path, outside any
// hook. Every byte must be concrete.
func readCString(p Path, addr uint64) (string, error) {
	return readCStringFrom(addr, func(a uint64) (uint64, error) {
		v, _, err := readConcrete(p, a, Width8)
		return v, err
	})
}

func readCStringFrom(addr uint64, readByte func(uint64) (uint64, error)) (string, error) {
	var buf []byte
	for {
		if len(buf) >= maxCStringLen {
			return "", fmt.Errorf("string at %#x exceeds %d bytes without terminator", addr, maxCStringLen)
		}
		v, err := readByte(addr + uint64(len(buf)))
		if err != nil {
			return "", err
		}
		if v == 0 {
			return string(buf), nil
		}
		buf = append(buf, byte(v))
	}
}

// Concretize returns one admissible concrete value for expr. If constrain
// is set the path is narrowed so every later solve of expr returns the same
// value.
func (ctx *Context) Concretize(expr Expr, constrain bool) (uint64, error) {
	v, err := ctx.concretize(expr)
	if err != nil {
		return 0, err
	}
	if constrain && !IsConstantExpr(expr) {
		ctx.path.AddConstraint(NewEqExpr(expr, v))
	}
	return v, nil
}

// ConcretizeMin returns the minimal admissible concrete value for expr,
// optionally freezing it. Minimality makes reproducers deterministic across
// runs.
func (ctx *Context) ConcretizeMin(expr Expr, constrain bool) (uint64, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c.Value, nil
	}
	v, err := ctx.path.SolveMin(expr)
	if err != nil {
		return 0, err
	}
	if constrain {
		ctx.path.AddConstraint(NewEqExpr(expr, v))
	}
	return v, nil
}

// ConcretizeMany returns up to max distinct admissible values for expr.
func (ctx *Context) ConcretizeMany(expr Expr, max int) ([]uint64, error) {
	if max <= 0 {
		return nil, fmt.Errorf("%w: max must be positive", ErrInvalidArgument)
	}
	if c, ok := expr.(*ConstantExpr); ok {
		return []uint64{c.Value}, nil
	}
	return ctx.path.SolveUpto(expr, max)
}

func (ctx *Context) concretize(expr Expr) (uint64, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c.Value, nil
	}
	return ctx.path.SolveOne(expr)
}

// AddConstraint narrows the path's admissible inputs to those satisfying
// expr. Already concrete expressions are skipped; infeasibility surfaces
// lazily on the next solve, not here.
func (ctx *Context) AddConstraint(expr Expr) {
	if IsConstantExpr(expr) {
		return
	}
	ctx.path.AddConstraint(expr)
}

// IsSymbolic reports whether expr can still take more than one value under
// the path's constraints. An expression built from symbols that have been
// constrained down to a single value counts as concrete.
func (ctx *Context) IsSymbolic(expr Expr) (bool, error) {
	if IsConstantExpr(expr) {
		return false, nil
	}
	values, err := ctx.path.SolveUpto(expr, 2)
	if err != nil {
		return false, err
	}
	return len(values) > 1, nil
}

// Terminate requests termination of the context's path with the harness
// tag. The request takes effect after the current handler returns.
func (ctx *Context) Terminate() {
	ctx.expl.Terminate(ctx.path, TerminationTag)
}

// pathStateKey keys the harness state attached to every path.
const pathStateKey = "symtest.state"

// streamEntry is one deferred log fragment: a printf-style format and the
// already concretized value it applies to. Formatting happens at flush time
// so one logical log statement can be rebuilt from several primitive calls.
type streamEntry struct {
	format string
	value  interface{}
}

// pathState is the harness bookkeeping carried by each path: the recorded
// outcome, accumulated log lines, deferred stream entries per level, and
// the symbolic input bytes for reproducer extraction. It is deep-copied on
// fork so sibling paths never share outcomes or logs.
type pathState struct {
	outcome    Outcome
	hasOutcome bool
	reason     string
	logs       []LogLine
	streams    map[LogLevel][]streamEntry
	input      []Expr
}

func newPathState() *pathState {
	return &pathState{streams: make(map[LogLevel][]streamEntry)}
}

// Clone deep-copies the state for a forked path.
func (s *pathState) Clone() interface{} {
	dup := &pathState{
		outcome:    s.outcome,
		hasOutcome: s.hasOutcome,
		reason:     s.reason,
		logs:       append([]LogLine(nil), s.logs...),
		streams:    make(map[LogLevel][]streamEntry, len(s.streams)),
		input:      append([]Expr(nil), s.input...),
	}
	for level, entries := range s.streams {
		dup.streams[level] = append([]streamEntry(nil), entries...)
	}
	return dup
}

// stateOf returns the harness state attached to p, creating it on first
// use.
func stateOf(p Path) *pathState {
	if v := p.Load(pathStateKey); v != nil {
		return v.(*pathState)
	}
	s := newPathState()
	p.Store(pathStateKey, s)
	return s
}

// recordOutcome records outcome for the path. Fail and Abandon displace an
// earlier SoftFail; otherwise the first recorded outcome wins. A Pass after
// SoftFail leaves the SoftFail in place, so a softly failed path stays
// failed.
func (s *pathState) recordOutcome(outcome Outcome, reason string) {
	if s.hasOutcome {
		displaces := s.outcome == OutcomeSoftFail &&
			(outcome == OutcomeFail || outcome == OutcomeAbandon)
		if !displaces {
			return
		}
	}
	s.outcome = outcome
	s.hasOutcome = true
	s.reason = reason
}

// appendLog records one fully formed log line.
func (s *pathState) appendLog(level LogLevel, text string) {
	s.logs = append(s.logs, LogLine{Level: level, Text: text})
}

// appendStream buffers one deferred entry on the level's stream.
func (s *pathState) appendStream(level LogLevel, format string, value interface{}) {
	s.streams[level] = append(s.streams[level], streamEntry{format: format, value: value})
}

// flushStream formats the level's deferred entries into one log line and
// clears the buffer. Flushing an empty stream is a no-op.
func (s *pathState) flushStream(level LogLevel) {
	entries := s.streams[level]
	if len(entries) == 0 {
		return
	}
	var text string
	for _, e := range entries {
		text += formatStreamEntry(e)
	}
	s.appendLog(level, text)
	delete(s.streams, level)
}
