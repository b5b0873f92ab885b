package tagspec

// TokenRef identifies a single element of a tracked token view.
// A negative index counts from the end of the resolved window, the
// same way the analyzed handlers index their word slices.
type TokenRef struct {
	Var   string `json:"var"`
	Index int    `json:"index"`
}

// OpKind discriminates the mutations a handler applies to a token view.
type OpKind int

const (
	// OpSlice reslices the view: v = v[lo:hi].
	OpSlice OpKind = iota
	// OpPop removes one element from the front or back of the view.
	OpPop
)

// ConditionalOp is one recorded mutation of a token view, optionally
// guarded by the branch condition it was assigned under. During
// validation the op is replayed only when its guard evaluates true; a
// guard that cannot be decided makes the whole view unresolvable.
type ConditionalOp struct {
	Guard Expr   `json:"guard,omitempty"` // nil means unconditional
	Kind  OpKind `json:"kind"`

	// Slice bounds. Nil is an open bound; a negative value counts
	// from the end of the current window.
	Lo *int `json:"lo,omitempty"`
	Hi *int `json:"hi,omitempty"`

	// Pop index for OpPop: 0 removes the first element, -1 the last.
	// Any other index is never produced; such handlers downgrade the
	// view to unknown at extraction time instead.
	Pop int `json:"pop,omitempty"`
}

// TokenView is the symbolic value of a variable derived from the tag's
// raw word list. Start/End describe the initial window over the base
// list (nil means an open bound); Ops replay in order on top of it.
type TokenView struct {
	Start   *int            `json:"start,omitempty"`
	End     *int            `json:"end,omitempty"`
	Ops     []ConditionalOp `json:"ops,omitempty"`
	Unknown bool            `json:"unknown,omitempty"`
}

// Clone returns a deep copy; views are snapshotted into rule contexts
// and must not alias the extractor's working state.
func (v TokenView) Clone() TokenView {
	out := v
	if v.Start != nil {
		s := *v.Start
		out.Start = &s
	}
	if v.End != nil {
		e := *v.End
		out.End = &e
	}
	if len(v.Ops) > 0 {
		out.Ops = make([]ConditionalOp, len(v.Ops))
		copy(out.Ops, v.Ops)
		for i := range out.Ops {
			if lo := out.Ops[i].Lo; lo != nil {
				n := *lo
				out.Ops[i].Lo = &n
			}
			if hi := out.Ops[i].Hi; hi != nil {
				n := *hi
				out.Ops[i].Hi = &n
			}
		}
	}
	return out
}

// TokenEnv maps variable names to their symbolic views at one program
// point inside a handler.
type TokenEnv map[string]TokenView

// Clone deep-copies the environment.
func (e TokenEnv) Clone() TokenEnv {
	if e == nil {
		return nil
	}
	out := make(TokenEnv, len(e))
	for k, v := range e {
		out[k] = v.Clone()
	}
	return out
}

// IntPtr is a convenience for building slice bounds.
func IntPtr(n int) *int { return &n }
