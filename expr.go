package symtest

import (
	"fmt"
	"sort"
)

// Expr represents a symbolic expression over the free variables of one
// execution path. Expressions are immutable once constructed and are only
// meaningful within the path that produced their symbols.
type Expr interface {
	expr()
	String() string
}

func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*NotExpr) expr()      {}
func (*SymbolExpr) expr()   {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *SymbolExpr:
		return expr.Width
	case *ConcatExpr:
		return ExprWidth(expr.MSB) + ExprWidth(expr.LSB)
	case *ExtractExpr:
		return expr.Width
	case *NotExpr:
		return ExprWidth(expr.Expr)
	case *CastExpr:
		return expr.Width
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic("unreachable")
	}
}

// BinaryOp represents a binary expression operation.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	UDIV
	UREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
	compare_op_end
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	UDIV: "udiv",
	UREM: "urem",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	SHL:  "shl",
	LSHR: "lshr",
	ASHR: "ashr",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
	SLT:  "slt",
	SLE:  "sle",
	SGT:  "sgt",
	SGE:  "sge",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns an expression combining lhs & rhs with op.
// Constant operands are folded immediately; no other rewriting is performed.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return foldBinaryExpr(op, lhs, rhs)
		}
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// foldBinaryExpr computes op over two constant operands.
func foldBinaryExpr(op BinaryOp, lhs, rhs *ConstantExpr) *ConstantExpr {
	assert(lhs.Width == rhs.Width, "fold %s: width mismatch: %d != %d", op, lhs.Width, rhs.Width)

	w := lhs.Width
	x, y := lhs.Value, rhs.Value
	switch op {
	case ADD:
		return NewConstantExpr(x+y, w)
	case SUB:
		return NewConstantExpr(x-y, w)
	case MUL:
		return NewConstantExpr(x*y, w)
	case UDIV:
		assert(y != 0, "fold udiv: division by zero")
		return NewConstantExpr(x/y, w)
	case UREM:
		assert(y != 0, "fold urem: division by zero")
		return NewConstantExpr(x%y, w)
	case AND:
		return NewConstantExpr(x&y, w)
	case OR:
		return NewConstantExpr(x|y, w)
	case XOR:
		return NewConstantExpr(x^y, w)
	case SHL:
		return NewConstantExpr(x<<y, w)
	case LSHR:
		return NewConstantExpr(x>>y, w)
	case ASHR:
		if y >= uint64(w) {
			y = uint64(w) - 1
		}
		return NewConstantExpr(uint64(signed(x, w)>>y), w)
	case EQ:
		return NewBoolConstantExpr(x == y)
	case NE:
		return NewBoolConstantExpr(x != y)
	case ULT:
		return NewBoolConstantExpr(x < y)
	case ULE:
		return NewBoolConstantExpr(x <= y)
	case UGT:
		return NewBoolConstantExpr(x > y)
	case UGE:
		return NewBoolConstantExpr(x >= y)
	case SLT:
		return NewBoolConstantExpr(signed(x, w) < signed(y, w))
	case SLE:
		return NewBoolConstantExpr(signed(x, w) <= signed(y, w))
	case SGT:
		return NewBoolConstantExpr(signed(x, w) > signed(y, w))
	case SGE:
		return NewBoolConstantExpr(signed(x, w) >= signed(y, w))
	default:
		panic(fmt.Sprintf("fold: invalid op: %s", op))
	}
}

// signed reinterprets a width-bit value as a sign-extended int64.
func signed(v uint64, width uint) int64 {
	if width < Width64 && v&(1<<(width-1)) != 0 {
		v |= ^bitmask(width)
	}
	return int64(v)
}

// SymbolExpr represents a free variable: a named value with no fixed content
// until the solver assigns one. Injected input bytes are symbols.
type SymbolExpr struct {
	Name  string
	Width uint
}

// NewSymbolExpr returns a new free variable with the given name & width.
func NewSymbolExpr(name string, width uint) *SymbolExpr {
	assert(width > 0, "symbol width cannot be zero")
	return &SymbolExpr{Name: name, Width: width}
}

// String returns the string representation of the expression.
func (e *SymbolExpr) String() string {
	return fmt.Sprintf("(sym %s %d)", e.Name, e.Width)
}

// ConcatExpr represents a concatenation of two expressions.
type ConcatExpr struct {
	MSB Expr
	LSB Expr
}

// NewConcatExpr returns a new instance of ConcatExpr.
func NewConcatExpr(msb, lsb Expr) Expr {
	if msb, ok := msb.(*ConstantExpr); ok {
		if lsb, ok := lsb.(*ConstantExpr); ok {
			return msb.Concat(lsb)
		}
	}
	return &ConcatExpr{MSB: msb, LSB: lsb}
}

// String returns the string representation of the expression.
func (e *ConcatExpr) String() string {
	return fmt.Sprintf("(concat %s %s)", e.MSB, e.LSB)
}

// ExtractExpr represents the extraction of a set of bits at a given offset/width.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns a new instance of ExtractExpr.
func NewExtractExpr(expr Expr, offset, width uint) Expr {
	kw := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= kw, "extract out of bounds: %d+%d > %d", offset, width, kw)

	if width == kw {
		return expr
	} else if expr, ok := expr.(*ConstantExpr); ok {
		return expr.Extract(offset, width)
	}
	return &ExtractExpr{Expr: expr, Offset: offset, Width: width}
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string {
	return fmt.Sprintf("(extract %s %d %d)", e.Expr, e.Offset, e.Width)
}

// NotExpr represents a bitwise not of an expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns a new instance of NotExpr.
func NewNotExpr(expr Expr) Expr {
	if expr, ok := expr.(*ConstantExpr); ok {
		return expr.Not()
	}
	return &NotExpr{Expr: expr}
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// CastExpr represents an expression extended to a new width.
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr returns an expression for src at the given width.
// Truncation extracts the low bits; extension is zero or sign extension.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	sw := ExprWidth(src)
	if width == sw {
		return src
	} else if width < sw {
		return NewExtractExpr(src, 0, width)
	} else if src, ok := src.(*ConstantExpr); ok {
		if signed {
			return src.SExt(width)
		}
		return src.ZExt(width)
	}
	return &CastExpr{Src: src, Width: width, Signed: signed}
}

// String returns the string representation of the expression.
func (e *CastExpr) String() string {
	if e.Signed {
		return fmt.Sprintf("(sext %s %d)", e.Src, e.Width)
	}
	return fmt.Sprintf("(zext %s %d)", e.Src, e.Width)
}

// ConstantExpr represents a fixed-width integer constant.
type ConstantExpr struct {
	Value uint64
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	return &ConstantExpr{
		Value: value & bitmask(width),
		Width: width,
	}
}

// NewConstantExpr8 returns an 8-bit constant expression.
func NewConstantExpr8(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 8)
}

// NewConstantExpr32 returns a 32-bit constant expression.
func NewConstantExpr32(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 32)
}

// NewConstantExpr64 returns a 64-bit constant expression.
func NewConstantExpr64(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 64)
}

// NewBoolConstantExpr is an ease of use function for creating constant boolean expressions.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return &ConstantExpr{Value: 1, Width: WidthBool}
	}
	return &ConstantExpr{Value: 0, Width: WidthBool}
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %d %d)", e.Value, e.Width)
}

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && e.Value != 0
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value == 0
}

// Not returns the bitwise NOT of the expression.
func (e *ConstantExpr) Not() *ConstantExpr {
	return NewConstantExpr(^e.Value, e.Width)
}

// Extract returns width number of bits starting at offset.
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	return NewConstantExpr(e.Value>>offset, width)
}

// Concat returns the concatenation of e and lsb.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	return NewConstantExpr((e.Value<<lsb.Width)|lsb.Value, e.Width+lsb.Width)
}

// ZExt returns the zero-extension of e to a new width.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExpr(e.Value, width)
}

// SExt returns the sign-extension of e to a new width.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExpr(uint64(signed(e.Value, e.Width)), width)
}

func bitmask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (1 << width) - 1
}

// IsConstantExpr returns true if expr is an instance of ConstantExpr.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is an instance of ConstantExpr and is true.
func IsConstantTrue(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsTrue()
}

// NewIsZeroExpr returns an expression that checks the equality of other to zero.
func NewIsZeroExpr(other Expr) Expr {
	return NewBinaryExpr(EQ, other, NewConstantExpr(0, ExprWidth(other)))
}

// NewEqExpr returns an expression that checks the equality of expr to a constant value.
func NewEqExpr(expr Expr, value uint64) Expr {
	return NewBinaryExpr(EQ, expr, NewConstantExpr(value, ExprWidth(expr)))
}

// FindSymbols returns all free variables in the expression trees, sorted by name.
func FindSymbols(exprs ...Expr) []*SymbolExpr {
	m := make(map[string]*SymbolExpr)
	for _, expr := range exprs {
		findSymbols(expr, m)
	}

	a := make([]*SymbolExpr, 0, len(m))
	for _, sym := range m {
		a = append(a, sym)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })

	return a
}

func findSymbols(expr Expr, m map[string]*SymbolExpr) {
	switch expr := expr.(type) {
	case *BinaryExpr:
		findSymbols(expr.LHS, m)
		findSymbols(expr.RHS, m)
	case *CastExpr:
		findSymbols(expr.Src, m)
	case *ConcatExpr:
		findSymbols(expr.MSB, m)
		findSymbols(expr.LSB, m)
	case *ConstantExpr:
		// nop
	case *ExtractExpr:
		findSymbols(expr.Expr, m)
	case *NotExpr:
		findSymbols(expr.Expr, m)
	case *SymbolExpr:
		m[expr.Name] = expr
	default:
		panic("unreachable")
	}
}

// ExprEvaluator evaluates expressions under a symbol assignment.
type ExprEvaluator struct {
	values map[string]uint64
}

// NewExprEvaluator returns a new instance of ExprEvaluator with the given
// symbol-name to value mapping.
func NewExprEvaluator(values map[string]uint64) *ExprEvaluator {
	return &ExprEvaluator{values: values}
}

// Evaluate evaluates expr to a constant expression.
// Returns an error if an unbound symbol is encountered.
func (ee *ExprEvaluator) Evaluate(expr Expr) (*ConstantExpr, error) {
	switch expr := expr.(type) {
	case *BinaryExpr:
		lhs, err := ee.Evaluate(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ee.Evaluate(expr.RHS)
		if err != nil {
			return nil, err
		}
		return foldBinaryExpr(expr.Op, lhs, rhs), nil
	case *CastExpr:
		src, err := ee.Evaluate(expr.Src)
		if err != nil {
			return nil, err
		}
		if expr.Signed {
			return src.SExt(expr.Width), nil
		}
		return src.ZExt(expr.Width), nil
	case *ConcatExpr:
		msb, err := ee.Evaluate(expr.MSB)
		if err != nil {
			return nil, err
		}
		lsb, err := ee.Evaluate(expr.LSB)
		if err != nil {
			return nil, err
		}
		return msb.Concat(lsb), nil
	case *ConstantExpr:
		return expr, nil
	case *ExtractExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src.Extract(expr.Offset, expr.Width), nil
	case *NotExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src.Not(), nil
	case *SymbolExpr:
		value, ok := ee.values[expr.Name]
		if !ok {
			return nil, fmt.Errorf("symbol not bound: %s", expr.Name)
		}
		return NewConstantExpr(value, expr.Width), nil
	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
}
