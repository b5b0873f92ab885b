package tagspec

// Expr is the condition language shared by rule preconditions, view-op
// guards and comparison rules. It is deliberately tiny: everything the
// extractor cannot express here becomes Opaque, which evaluates to
// VerdictUnknown and therefore never produces a diagnostic.
type Expr interface {
	expr()
}

// LogicOp discriminates boolean connectives.
type LogicOp int

const (
	LogicAnd LogicOp = iota
	LogicOr
)

// CmpOp discriminates comparison operators.
type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
	CmpIn
	CmpNotIn
)

// BoolExpr is an n-ary AND/OR over sub-conditions.
type BoolExpr struct {
	Op    LogicOp
	Terms []Expr
}

// NotExpr negates its operand.
type NotExpr struct {
	X Expr
}

// CompareExpr compares two operands with one CmpOp.
type CompareExpr struct {
	Op    CmpOp
	Left  Expr
	Right Expr
}

// IntLit is an integer constant.
type IntLit struct {
	Value int
}

// StrLit is a string constant.
type StrLit struct {
	Value string
}

// StrSet is a literal collection of strings, the right operand of
// in / not-in membership tests.
type StrSet struct {
	Values []string
}

// LenExpr is len(view) for a tracked token view variable.
type LenExpr struct {
	Var string
}

// ElemExpr is view[i] for a tracked token view variable.
type ElemExpr struct {
	Ref TokenRef
}

// TruthExpr is the truthiness of a whole tracked view: true iff the
// resolved window is non-empty.
type TruthExpr struct {
	Var string
}

// ViewExpr references a tracked view as a collection, the right
// operand of membership tests over the tag's own words.
type ViewExpr struct {
	Var string
}

// PredicateExpr is a recognized well-known check applied to a single
// token, such as IsNumeric or IsIdentifier.
type PredicateExpr struct {
	Name string
	Arg  Expr
}

// OpaqueExpr stands in for any condition outside the modeled language.
// It always evaluates to VerdictUnknown. Reason is diagnostic-free
// provenance for debugging extractor coverage.
type OpaqueExpr struct {
	Reason string
}

func (BoolExpr) expr()      {}
func (NotExpr) expr()       {}
func (CompareExpr) expr()   {}
func (IntLit) expr()        {}
func (StrLit) expr()        {}
func (StrSet) expr()        {}
func (LenExpr) expr()       {}
func (ElemExpr) expr()      {}
func (TruthExpr) expr()     {}
func (ViewExpr) expr()      {}
func (PredicateExpr) expr() {}
func (OpaqueExpr) expr()    {}

// NegateExpr wraps e in a logical negation, collapsing double
// negation so precondition stacks stay readable.
func NegateExpr(e Expr) Expr {
	if n, ok := e.(NotExpr); ok {
		return n.X
	}
	return NotExpr{X: e}
}
