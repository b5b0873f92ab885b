package tagspec

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestVerdictTables(t *testing.T) {
	tests := []struct {
		name string
		got  Verdict
		want Verdict
	}{
		{"true and unknown", VerdictTrue.And(VerdictUnknown), VerdictUnknown},
		{"false and unknown", VerdictFalse.And(VerdictUnknown), VerdictFalse},
		{"unknown and false", VerdictUnknown.And(VerdictFalse), VerdictFalse},
		{"true or unknown", VerdictTrue.Or(VerdictUnknown), VerdictTrue},
		{"false or unknown", VerdictFalse.Or(VerdictUnknown), VerdictUnknown},
		{"not unknown", VerdictUnknown.Not(), VerdictUnknown},
		{"not true", VerdictTrue.Not(), VerdictFalse},
		{"not false", VerdictFalse.Not(), VerdictTrue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestNegateMembershipSwap(t *testing.T) {
	rule := &ExtractedRule{
		Kind:   RuleValueInSet,
		Pos:    &TokenRef{Var: "bits", Index: 1},
		Values: []string{"on", "off"},
	}
	neg := Negate(rule)
	if neg.Kind != RuleValueNotInSet {
		t.Fatalf("negated kind = %s, want %s", neg.Kind, RuleValueNotInSet)
	}
	if neg.Inverted {
		t.Error("membership negation must swap kinds, not set Inverted")
	}
	back := Negate(neg)
	if !reflect.DeepEqual(back, rule) {
		t.Errorf("double negation changed the rule: %+v != %+v", back, rule)
	}
}

func TestNegateCompoundDeMorgan(t *testing.T) {
	rule := &ExtractedRule{
		Kind: RuleCompound,
		Op:   "or",
		Subrules: []*ExtractedRule{
			{Kind: RuleMinCount, Count: 2},
			{Kind: RuleKeywordAtPos, Pos: &TokenRef{Var: "bits", Index: 2}, Keyword: "as"},
		},
	}
	neg := Negate(rule)
	if neg.Op != "and" {
		t.Fatalf("negated op = %s, want and", neg.Op)
	}
	for i, sub := range neg.Subrules {
		if !sub.Inverted {
			t.Errorf("subrule %d not negated", i)
		}
	}
	back := Negate(neg)
	if !reflect.DeepEqual(back, rule) {
		t.Errorf("double negation changed the compound: %+v != %+v", back, rule)
	}
}

func TestMergeOpaqueBlocks(t *testing.T) {
	a := []OpaqueBlockSpec{
		{Name: "verbatim", EndTags: []string{"endverbatim"}, Source: "lexer"},
	}
	b := []OpaqueBlockSpec{
		{Name: "verbatim", EndTags: []string{"endverbatim"}, MatchSuffix: true, Source: "skip_past"},
		{Name: "comment", EndTags: []string{"endcomment"}, Source: "skip_past"},
	}
	merged := MergeOpaqueBlocks(a, b)
	if len(merged) != 2 {
		t.Fatalf("got %d specs, want 2", len(merged))
	}
	if !merged[0].MatchSuffix {
		t.Error("suffix flag should survive a merge where either side sets it")
	}
	if got := merged[0].EndTags; len(got) != 1 || got[0] != "endverbatim" {
		t.Errorf("end tags = %v, want [endverbatim]", got)
	}
}

func TestBundleMergePolicies(t *testing.T) {
	left := NewBundle()
	left.Tags["cycle"] = &TagValidation{Name: "cycle"}
	left.Filters["upper"] = &FilterSpec{Name: "upper", Args: 1}

	right := NewBundle()
	right.Tags["cycle"] = &TagValidation{Name: "cycle", Unrestricted: true}
	right.Tags["now"] = &TagValidation{Name: "now"}

	t.Run("omit drops collisions", func(t *testing.T) {
		merged, err := Merge(left, right, PolicyOmit)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := merged.Tags["cycle"]; ok {
			t.Error("colliding tag should be omitted")
		}
		if _, ok := merged.Tags["now"]; !ok {
			t.Error("non-colliding tag should survive")
		}
		if _, ok := merged.Filters["upper"]; !ok {
			t.Error("filter without collision should survive")
		}
	})

	t.Run("override takes second", func(t *testing.T) {
		merged, err := Merge(left, right, PolicyOverride)
		if err != nil {
			t.Fatal(err)
		}
		if tv := merged.Tags["cycle"]; tv == nil || !tv.Unrestricted {
			t.Errorf("override should take the second bundle's entry, got %+v", tv)
		}
	})

	t.Run("error rejects", func(t *testing.T) {
		if _, err := Merge(left, right, PolicyError); err == nil {
			t.Fatal("expected collision error")
		}
	})

	t.Run("inputs unchanged", func(t *testing.T) {
		if _, err := Merge(left, right, PolicyOmit); err != nil {
			t.Fatal(err)
		}
		if _, ok := left.Tags["cycle"]; !ok {
			t.Error("merge mutated its input")
		}
	})
}

func TestBundleSelect(t *testing.T) {
	b := NewBundle()
	b.Tags["cycle"] = &TagValidation{Name: "cycle"}
	b.Tags["now"] = &TagValidation{Name: "now"}
	b.Filters["upper"] = &FilterSpec{Name: "upper", Args: 1}
	b.BlockSpecs = []BlockTagSpec{{Start: []string{"if"}, End: []string{"endif"}, EndSuffixIndex: -1}}

	sel := b.Select([]string{"cycle", "upper"})
	if _, ok := sel.Tags["now"]; ok {
		t.Error("unselected tag should be dropped")
	}
	if _, ok := sel.Tags["cycle"]; !ok {
		t.Error("selected tag missing")
	}
	if _, ok := sel.Filters["upper"]; !ok {
		t.Error("selected filter missing")
	}
	if len(sel.BlockSpecs) != 1 {
		t.Error("structural specs are not symbol-scoped and must be kept")
	}
}

func TestTokenViewClone(t *testing.T) {
	end := 5
	v := TokenView{Start: IntPtr(1), End: &end, Ops: []ConditionalOp{
		{Kind: OpSlice, Lo: IntPtr(1)},
	}}
	c := v.Clone()
	*c.Start = 9
	*c.End = 9
	*c.Ops[0].Lo = 9
	if *v.Start != 1 || *v.End != 5 || *v.Ops[0].Lo != 1 {
		t.Error("clone aliases the original view")
	}
}

func TestContextualRuleJSONKeepsConditions(t *testing.T) {
	cond := BoolExpr{Op: LogicOr, Terms: []Expr{
		NotExpr{X: TruthExpr{Var: "rest"}},
		CompareExpr{
			Op:    CmpIn,
			Left:  ElemExpr{Ref: TokenRef{Var: "bits", Index: 1}},
			Right: StrSet{Values: []string{"on", "off"}},
		},
		PredicateExpr{Name: "IsNumeric", Arg: ElemExpr{Ref: TokenRef{Var: "bits", Index: 2}}},
		OpaqueExpr{Reason: "call"},
	}}
	in := ContextualRule{
		Rule:          &ExtractedRule{Kind: RuleComparison, Cond: cond},
		Preconditions: []Expr{CompareExpr{Op: CmpGt, Left: LenExpr{Var: "bits"}, Right: IntLit{Value: 2}}},
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out ContextualRule
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("conditions changed across JSON:\n in: %#v\nout: %#v", in, out)
	}
}
