package tagspec

import (
	"encoding/json"
	"fmt"
)

// exprEnvelope is the wire form of an Expr: a kind discriminator plus
// the union of every variant's fields. Conditions must survive a
// registry round trip intact, otherwise a re-read rule would apply
// without its guards and report where the live bundle stays silent.
type exprEnvelope struct {
	Kind   string          `json:"kind"`
	Op     string          `json:"op,omitempty"`
	Terms  []*exprEnvelope `json:"terms,omitempty"`
	X      *exprEnvelope   `json:"x,omitempty"`
	Left   *exprEnvelope   `json:"left,omitempty"`
	Right  *exprEnvelope   `json:"right,omitempty"`
	Arg    *exprEnvelope   `json:"arg,omitempty"`
	Int    int             `json:"int,omitempty"`
	Str    string          `json:"str,omitempty"`
	Values []string        `json:"values,omitempty"`
	Var    string          `json:"var,omitempty"`
	Ref    *TokenRef       `json:"ref,omitempty"`
	Name   string          `json:"name,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

var logicOpNames = map[LogicOp]string{LogicAnd: "and", LogicOr: "or"}

var cmpOpNames = map[CmpOp]string{
	CmpEq:    "eq",
	CmpNe:    "ne",
	CmpLt:    "lt",
	CmpLe:    "le",
	CmpGt:    "gt",
	CmpGe:    "ge",
	CmpIn:    "in",
	CmpNotIn: "not_in",
}

func encodeExpr(e Expr) *exprEnvelope {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case BoolExpr:
		env := &exprEnvelope{Kind: "bool", Op: logicOpNames[n.Op]}
		for _, t := range n.Terms {
			env.Terms = append(env.Terms, encodeExpr(t))
		}
		return env
	case NotExpr:
		return &exprEnvelope{Kind: "not", X: encodeExpr(n.X)}
	case CompareExpr:
		return &exprEnvelope{
			Kind:  "compare",
			Op:    cmpOpNames[n.Op],
			Left:  encodeExpr(n.Left),
			Right: encodeExpr(n.Right),
		}
	case IntLit:
		return &exprEnvelope{Kind: "int", Int: n.Value}
	case StrLit:
		return &exprEnvelope{Kind: "str", Str: n.Value}
	case StrSet:
		return &exprEnvelope{Kind: "str_set", Values: n.Values}
	case LenExpr:
		return &exprEnvelope{Kind: "len", Var: n.Var}
	case ElemExpr:
		ref := n.Ref
		return &exprEnvelope{Kind: "elem", Ref: &ref}
	case TruthExpr:
		return &exprEnvelope{Kind: "truth", Var: n.Var}
	case ViewExpr:
		return &exprEnvelope{Kind: "view", Var: n.Var}
	case PredicateExpr:
		return &exprEnvelope{Kind: "predicate", Name: n.Name, Arg: encodeExpr(n.Arg)}
	case OpaqueExpr:
		return &exprEnvelope{Kind: "opaque", Reason: n.Reason}
	}
	return &exprEnvelope{Kind: "opaque", Reason: "unencodable"}
}

func decodeExpr(env *exprEnvelope) (Expr, error) {
	if env == nil {
		return nil, nil
	}
	switch env.Kind {
	case "bool":
		op, ok := logicOpByName(env.Op)
		if !ok {
			return nil, fmt.Errorf("unknown logic op %q", env.Op)
		}
		out := BoolExpr{Op: op}
		for _, t := range env.Terms {
			sub, err := decodeExpr(t)
			if err != nil {
				return nil, err
			}
			out.Terms = append(out.Terms, sub)
		}
		return out, nil
	case "not":
		x, err := decodeExpr(env.X)
		if err != nil {
			return nil, err
		}
		return NotExpr{X: x}, nil
	case "compare":
		op, ok := cmpOpByName(env.Op)
		if !ok {
			return nil, fmt.Errorf("unknown compare op %q", env.Op)
		}
		left, err := decodeExpr(env.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeExpr(env.Right)
		if err != nil {
			return nil, err
		}
		return CompareExpr{Op: op, Left: left, Right: right}, nil
	case "int":
		return IntLit{Value: env.Int}, nil
	case "str":
		return StrLit{Value: env.Str}, nil
	case "str_set":
		return StrSet{Values: env.Values}, nil
	case "len":
		return LenExpr{Var: env.Var}, nil
	case "elem":
		if env.Ref == nil {
			return nil, fmt.Errorf("elem expression without a token ref")
		}
		return ElemExpr{Ref: *env.Ref}, nil
	case "truth":
		return TruthExpr{Var: env.Var}, nil
	case "view":
		return ViewExpr{Var: env.Var}, nil
	case "predicate":
		arg, err := decodeExpr(env.Arg)
		if err != nil {
			return nil, err
		}
		return PredicateExpr{Name: env.Name, Arg: arg}, nil
	case "opaque":
		return OpaqueExpr{Reason: env.Reason}, nil
	}
	return nil, fmt.Errorf("unknown expression kind %q", env.Kind)
}

func logicOpByName(name string) (LogicOp, bool) {
	for op, n := range logicOpNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

func cmpOpByName(name string) (CmpOp, bool) {
	for op, n := range cmpOpNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

func encodeExprs(es []Expr) []*exprEnvelope {
	if len(es) == 0 {
		return nil
	}
	out := make([]*exprEnvelope, len(es))
	for i, e := range es {
		out[i] = encodeExpr(e)
	}
	return out
}

func decodeExprs(envs []*exprEnvelope) ([]Expr, error) {
	if len(envs) == 0 {
		return nil, nil
	}
	out := make([]Expr, len(envs))
	for i, env := range envs {
		e, err := decodeExpr(env)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// MarshalJSON encodes the guard through the expression envelope.
func (op ConditionalOp) MarshalJSON() ([]byte, error) {
	return json.Marshal(conditionalOpJSON{
		Guard: encodeExpr(op.Guard),
		Kind:  op.Kind,
		Lo:    op.Lo,
		Hi:    op.Hi,
		Pop:   op.Pop,
	})
}

// UnmarshalJSON decodes the guard through the expression envelope.
func (op *ConditionalOp) UnmarshalJSON(data []byte) error {
	var raw conditionalOpJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	guard, err := decodeExpr(raw.Guard)
	if err != nil {
		return err
	}
	*op = ConditionalOp{Guard: guard, Kind: raw.Kind, Lo: raw.Lo, Hi: raw.Hi, Pop: raw.Pop}
	return nil
}

type conditionalOpJSON struct {
	Guard *exprEnvelope `json:"guard,omitempty"`
	Kind  OpKind        `json:"kind"`
	Lo    *int          `json:"lo,omitempty"`
	Hi    *int          `json:"hi,omitempty"`
	Pop   int           `json:"pop,omitempty"`
}

// MarshalJSON encodes Cond through the expression envelope.
func (r ExtractedRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(extractedRuleJSON{
		Kind:     r.Kind,
		Var:      r.Var,
		Count:    r.Count,
		Pos:      r.Pos,
		Keyword:  r.Keyword,
		Values:   r.Values,
		Pattern:  r.Pattern,
		Method:   r.Method,
		Cond:     encodeExpr(r.Cond),
		Op:       r.Op,
		Subrules: r.Subrules,
		Inverted: r.Inverted,
		Message:  r.Message,
	})
}

// UnmarshalJSON decodes Cond through the expression envelope.
func (r *ExtractedRule) UnmarshalJSON(data []byte) error {
	var raw extractedRuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := decodeExpr(raw.Cond)
	if err != nil {
		return err
	}
	*r = ExtractedRule{
		Kind:     raw.Kind,
		Var:      raw.Var,
		Count:    raw.Count,
		Pos:      raw.Pos,
		Keyword:  raw.Keyword,
		Values:   raw.Values,
		Pattern:  raw.Pattern,
		Method:   raw.Method,
		Cond:     cond,
		Op:       raw.Op,
		Subrules: raw.Subrules,
		Inverted: raw.Inverted,
		Message:  raw.Message,
	}
	return nil
}

type extractedRuleJSON struct {
	Kind     RuleKind         `json:"kind"`
	Var      string           `json:"var,omitempty"`
	Count    int              `json:"count,omitempty"`
	Pos      *TokenRef        `json:"pos,omitempty"`
	Keyword  string           `json:"keyword,omitempty"`
	Values   []string         `json:"values,omitempty"`
	Pattern  string           `json:"pattern,omitempty"`
	Method   string           `json:"method,omitempty"`
	Cond     *exprEnvelope    `json:"cond,omitempty"`
	Op       string           `json:"op,omitempty"`
	Subrules []*ExtractedRule `json:"subrules,omitempty"`
	Inverted bool             `json:"inverted,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// MarshalJSON encodes the preconditions through the expression
// envelope.
func (c ContextualRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(contextualRuleJSON{
		Rule:          c.Rule,
		Preconditions: encodeExprs(c.Preconditions),
		Env:           c.Env,
	})
}

// UnmarshalJSON decodes the preconditions through the expression
// envelope.
func (c *ContextualRule) UnmarshalJSON(data []byte) error {
	var raw contextualRuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pre, err := decodeExprs(raw.Preconditions)
	if err != nil {
		return err
	}
	*c = ContextualRule{Rule: raw.Rule, Preconditions: pre, Env: raw.Env}
	return nil
}

type contextualRuleJSON struct {
	Rule          *ExtractedRule  `json:"rule"`
	Preconditions []*exprEnvelope `json:"preconditions,omitempty"`
	Env           TokenEnv        `json:"env,omitempty"`
}
