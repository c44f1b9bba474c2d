package symtest

import (
	"fmt"
	"math"
	"strings"
)

// LogLevel is the severity attached to target-side log output.
type LogLevel int

// Log levels understood by the target runtime.
const (
	LogDebug   LogLevel = 0
	LogTrace   LogLevel = 1
	LogInfo    LogLevel = 2
	LogWarning LogLevel = 3
	LogError   LogLevel = 4
	LogFatal   LogLevel = 6
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "DEBUG"
	case LogTrace:
		return "TRACE"
	case LogInfo:
		return "INFO"
	case LogWarning:
		return "WARNING"
	case LogError:
		return "ERROR"
	case LogFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// handler performs one primitive's semantics against the triggering path's
// context.
type handler func(ctx *Context) error

// installHooks binds every function primitive of the resolved table to its
// handler on expl. The mapping is built once per exploration; each firing
// constructs a fresh Context over the triggering path, so forked
// descendants each see their own state.
func installHooks(expl Exploration, api *API) {
	bindings := []struct {
		addr uint64
		fn   handler
	}{
		{api.IsSymbolicUInt, handleIsSymbolicUInt},
		{api.Assume, handleAssume},
		{api.Pass, handlePass},
		{api.Fail, handleFail},
		{api.SoftFail, handleSoftFail},
		{api.Abandon, handleAbandon},
		{api.Log, handleLog},
		{api.StreamInt, handleStreamInt},
		{api.StreamFloat, handleStreamFloat},
		{api.StreamString, handleStreamString},
		{api.LogStream, handleLogStream},
	}
	for _, b := range bindings {
		fn := b.fn
		expl.InstallHook(b.addr, func(p Path) error {
			return fn(NewContext(expl, p))
		})
	}
}

// handleIsSymbolicUInt returns 1 when the argument can still take more than
// one value under the path's constraints, 0 otherwise.
func handleIsSymbolicUInt(ctx *Context) error {
	arg, err := ctx.Path().Arg(0)
	if err != nil {
		return err
	}
	sym, err := ctx.IsSymbolic(arg)
	if err != nil {
		return err
	}
	var ret uint64
	if sym {
		ret = 1
	}
	return ctx.Path().SetReturn(NewConstantExpr32(ret))
}

// handleAssume narrows the path to inputs satisfying the argument. A
// concrete argument is a no-op; the target already evaluated it.
func handleAssume(ctx *Context) error {
	arg, err := ctx.Path().Arg(0)
	if err != nil {
		return err
	}
	if IsConstantExpr(arg) {
		return nil
	}
	ctx.AddConstraint(NewNotExpr(NewIsZeroExpr(arg)))
	return nil
}

func handlePass(ctx *Context) error {
	stateOf(ctx.Path()).recordOutcome(OutcomePass, "")
	ctx.Terminate()
	return nil
}

func handleFail(ctx *Context) error {
	stateOf(ctx.Path()).recordOutcome(OutcomeFail, "")
	ctx.Terminate()
	return nil
}

// handleSoftFail records a failure without terminating. Execution continues
// and a later Fail or Abandon overrides it; a later Pass does not.
func handleSoftFail(ctx *Context) error {
	stateOf(ctx.Path()).recordOutcome(OutcomeSoftFail, "")
	return nil
}

func handleAbandon(ctx *Context) error {
	ptr, err := ctx.Path().Arg(0)
	if err != nil {
		return err
	}
	addr, err := ctx.Concretize(ptr, false)
	if err != nil {
		return err
	}
	reason, err := ctx.ReadCString(addr)
	if err != nil {
		return err
	}
	state := stateOf(ctx.Path())
	state.recordOutcome(OutcomeAbandon, reason)
	state.appendLog(LogError, reason)
	ctx.Terminate()
	return nil
}

// handleLog appends one fully formed line. A Fatal line also fails and
// terminates the path, matching the target runtime's LogFatal contract.
func handleLog(ctx *Context) error {
	level, text, err := readLogArgs(ctx)
	if err != nil {
		return err
	}
	state := stateOf(ctx.Path())
	state.appendLog(level, text)
	if level == LogFatal {
		state.recordOutcome(OutcomeFail, text)
		ctx.Terminate()
	}
	return nil
}

func readLogArgs(ctx *Context) (LogLevel, string, error) {
	levelArg, err := ctx.Path().Arg(0)
	if err != nil {
		return 0, "", err
	}
	level, err := ctx.Concretize(levelArg, false)
	if err != nil {
		return 0, "", err
	}
	ptrArg, err := ctx.Path().Arg(1)
	if err != nil {
		return 0, "", err
	}
	addr, err := ctx.Concretize(ptrArg, false)
	if err != nil {
		return 0, "", err
	}
	text, err := ctx.ReadCString(addr)
	if err != nil {
		return 0, "", err
	}
	return LogLevel(level), text, nil
}

// readStreamHeader decodes the (level, format) prefix shared by the stream
// primitives.
func readStreamHeader(ctx *Context) (LogLevel, string, error) {
	return readLogArgs(ctx)
}

// handleStreamInt buffers one deferred integer fragment. Symbolic values
// are concretized now, formatting waits for the flush.
func handleStreamInt(ctx *Context) error {
	level, format, err := readStreamHeader(ctx)
	if err != nil {
		return err
	}
	arg, err := ctx.Path().Arg(2)
	if err != nil {
		return err
	}
	v, err := ctx.Concretize(arg, false)
	if err != nil {
		return err
	}
	stateOf(ctx.Path()).appendStream(level, format, v)
	return nil
}

// handleStreamFloat buffers one deferred float fragment. The argument
// carries the IEEE 754 bits of a 64-bit float.
func handleStreamFloat(ctx *Context) error {
	level, format, err := readStreamHeader(ctx)
	if err != nil {
		return err
	}
	arg, err := ctx.Path().Arg(2)
	if err != nil {
		return err
	}
	bits, err := ctx.Concretize(arg, false)
	if err != nil {
		return err
	}
	stateOf(ctx.Path()).appendStream(level, format, math.Float64frombits(bits))
	return nil
}

// handleStreamString buffers one deferred string fragment.
func handleStreamString(ctx *Context) error {
	level, format, err := readStreamHeader(ctx)
	if err != nil {
		return err
	}
	arg, err := ctx.Path().Arg(2)
	if err != nil {
		return err
	}
	addr, err := ctx.Concretize(arg, false)
	if err != nil {
		return err
	}
	s, err := ctx.ReadCString(addr)
	if err != nil {
		return err
	}
	stateOf(ctx.Path()).appendStream(level, format, s)
	return nil
}

// handleLogStream flushes the level's deferred fragments into one line.
func handleLogStream(ctx *Context) error {
	levelArg, err := ctx.Path().Arg(0)
	if err != nil {
		return err
	}
	level, err := ctx.Concretize(levelArg, false)
	if err != nil {
		return err
	}
	stateOf(ctx.Path()).flushStream(LogLevel(level))
	return nil
}

// formatStreamEntry applies a C-style format to its deferred value. The
// targets emit printf verbs, so length modifiers are stripped and the
// unsigned verb is mapped before handing off to fmt.
func formatStreamEntry(e streamEntry) string {
	return fmt.Sprintf(goFormat(e.format), e.value)
}

var formatReplacer = strings.NewReplacer(
	"%llu", "%d", "%lld", "%d", "%llx", "%x", "%llX", "%X",
	"%lu", "%d", "%ld", "%d", "%lx", "%x", "%lX", "%X",
	"%zu", "%d", "%hu", "%d", "%hd", "%d",
	"%u", "%d", "%i", "%d",
)

func goFormat(format string) string {
	return formatReplacer.Replace(format)
}
