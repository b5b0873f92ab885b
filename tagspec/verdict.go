package tagspec

// Verdict is the outcome of evaluating a condition that may not be
// statically decidable. VerdictUnknown must never be coerced to a
// boolean: callers skip the check instead.
type Verdict int

const (
	VerdictFalse Verdict = iota
	VerdictTrue
	VerdictUnknown
)

// VerdictOf lifts a concrete boolean into the three-valued domain.
func VerdictOf(b bool) Verdict {
	if b {
		return VerdictTrue
	}
	return VerdictFalse
}

// And implements three-valued conjunction: a known false operand
// decides the result even when the other side is unknown.
func (v Verdict) And(o Verdict) Verdict {
	if v == VerdictFalse || o == VerdictFalse {
		return VerdictFalse
	}
	if v == VerdictUnknown || o == VerdictUnknown {
		return VerdictUnknown
	}
	return VerdictTrue
}

// Or implements three-valued disjunction: a known true operand decides.
func (v Verdict) Or(o Verdict) Verdict {
	if v == VerdictTrue || o == VerdictTrue {
		return VerdictTrue
	}
	if v == VerdictUnknown || o == VerdictUnknown {
		return VerdictUnknown
	}
	return VerdictFalse
}

// Not negates a verdict; unknown stays unknown.
func (v Verdict) Not() Verdict {
	switch v {
	case VerdictTrue:
		return VerdictFalse
	case VerdictFalse:
		return VerdictTrue
	default:
		return VerdictUnknown
	}
}

func (v Verdict) String() string {
	switch v {
	case VerdictTrue:
		return "true"
	case VerdictFalse:
		return "false"
	default:
		return "unknown"
	}
}
