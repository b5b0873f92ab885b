package validator

import (
	"fmt"
	"strings"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// blockFrame is one open block on the structural stack.
type blockFrame struct {
	spec     *tagspec.BlockTagSpec
	open     tagspec.TemplateTag
	terminal bool
	// opaque delimiter pairs skip end-argument checks: the tokenizer
	// already matched the closer's suffix against the opener.
	opaque  bool
	middles map[string]int
	// inner tags observed inside this block, for conditional rules
	inner map[string]bool
}

// grammar indexes block specs by role for the stack machine.
type grammar struct {
	starts  map[string]*tagspec.BlockTagSpec
	ends    map[string][]*tagspec.BlockTagSpec
	middles map[string]bool
}

func buildGrammar(specs []tagspec.BlockTagSpec) *grammar {
	g := &grammar{
		starts:  map[string]*tagspec.BlockTagSpec{},
		ends:    map[string][]*tagspec.BlockTagSpec{},
		middles: map[string]bool{},
	}
	for i := range specs {
		s := &specs[i]
		for _, name := range s.Start {
			g.starts[name] = s
		}
		for _, name := range s.End {
			g.ends[name] = append(g.ends[name], s)
		}
		for _, name := range s.Middle {
			g.middles[name] = true
		}
	}
	return g
}

// synthesizeImplicitBlocks pairs unknown tags with a matching
// end-prefixed tag present in the same template, so templates using
// libraries we never analyzed still get balanced-structure checking.
func synthesizeImplicitBlocks(tags []tagspec.TemplateTag, g *grammar) []tagspec.BlockTagSpec {
	present := map[string]bool{}
	for _, t := range tags {
		present[t.Name] = true
	}
	var synth []tagspec.BlockTagSpec
	added := map[string]bool{}
	for _, t := range tags {
		name := t.Name
		if added[name] || g.starts[name] != nil || g.middles[name] ||
			len(g.ends[name]) > 0 || strings.HasPrefix(name, "end") {
			continue
		}
		if present["end"+name] {
			added[name] = true
			synth = append(synth, tagspec.BlockTagSpec{
				Start:          []string{name},
				End:            []string{"end" + name},
				EndSuffixIndex: -1,
			})
		}
	}
	return synth
}

// opaqueDelimiterSpecs derives block specs for opaque regions so their
// delimiter tags pair on the stack like any other block.
func opaqueDelimiterSpecs(opaque []tagspec.OpaqueBlockSpec) []tagspec.BlockTagSpec {
	var specs []tagspec.BlockTagSpec
	for _, o := range opaque {
		if len(o.EndTags) == 0 {
			continue
		}
		specs = append(specs, tagspec.BlockTagSpec{
			Start:          []string{o.Name},
			End:            append([]string(nil), o.EndTags...),
			EndSuffixIndex: -1,
		})
	}
	return specs
}

// CheckStructure validates block nesting over the template's tag
// stream: every opened block must close with its own end tag, middle
// tags must sit directly inside their block, respect repeatability and
// never follow a terminal middle. Opaque specs contribute delimiter
// pairs whose closers are exempt from end-argument checks.
func CheckStructure(tags []tagspec.TemplateTag, specs []tagspec.BlockTagSpec, inner []tagspec.ConditionalInnerTagRule, opaque []tagspec.OpaqueBlockSpec) []tagspec.Diagnostic {
	opaqueStarts := map[string]bool{}
	for _, o := range opaque {
		opaqueStarts[o.Name] = true
	}
	if od := opaqueDelimiterSpecs(opaque); len(od) > 0 {
		merged := append(append([]tagspec.BlockTagSpec(nil), specs...), od...)
		specs = merged
	}
	g := buildGrammar(specs)
	if synth := synthesizeImplicitBlocks(tags, g); len(synth) > 0 {
		all := append(append([]tagspec.BlockTagSpec(nil), specs...), synth...)
		g = buildGrammar(all)
	}

	var diags []tagspec.Diagnostic
	report := func(t tagspec.TemplateTag, msg string) {
		diags = append(diags, tagspec.Diagnostic{
			Line:    t.Line,
			Name:    t.Name,
			Raw:     joinBits(t.Bits),
			Message: msg,
		})
	}

	innerRules := indexInnerRules(inner)

	var stack []*blockFrame
	top := func() *blockFrame {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}

	for _, t := range tags {
		name := t.Name

		if tf := top(); tf != nil {
			tf.inner[name] = true
		}

		// End tag.
		if ends := g.ends[name]; len(ends) > 0 {
			frame := top()
			if frame != nil && containsSpec(ends, frame.spec) {
				diags = append(diags, checkEndTag(t, frame)...)
				diags = append(diags, checkInnerRules(frame, innerRules)...)
				stack = stack[:len(stack)-1]
				continue
			}
			// Pop recovery: close intervening unclosed blocks when a
			// matching open block exists further down.
			if idx := findOpenFor(stack, ends); idx >= 0 {
				for j := len(stack) - 1; j > idx; j-- {
					report(stack[j].open, unclosedMessage(stack[j]))
				}
				diags = append(diags, checkEndTag(t, stack[idx])...)
				diags = append(diags, checkInnerRules(stack[idx], innerRules)...)
				stack = stack[:idx]
				continue
			}
			if frame != nil {
				report(t, fmt.Sprintf("Invalid block tag on line %d: '%s', expected %s", t.Line, name, expectedList(frame)))
			} else {
				report(t, fmt.Sprintf("Invalid block tag on line %d: '%s'", t.Line, name))
			}
			continue
		}

		// Middle tag.
		if g.middles[name] {
			frame := top()
			if frame == nil || !containsWord(frame.spec.Middle, name) {
				report(t, fmt.Sprintf("Invalid block tag on line %d: '%s'", t.Line, name))
				continue
			}
			if frame.terminal {
				report(t, fmt.Sprintf("'%s' may not appear after the final clause of '%s'", name, frame.open.Name))
				continue
			}
			frame.middles[name]++
			if frame.middles[name] > 1 && !containsWord(frame.spec.Repeatable, name) {
				report(t, fmt.Sprintf("'%s' may appear only once inside '%s'", name, frame.open.Name))
			}
			if containsWord(frame.spec.Terminal, name) {
				frame.terminal = true
			}
			continue
		}

		// Start tag.
		if spec := g.starts[name]; spec != nil {
			stack = append(stack, &blockFrame{
				spec:    spec,
				open:    t,
				opaque:  opaqueStarts[name],
				middles: map[string]int{},
				inner:   map[string]bool{},
			})
		}
	}

	for j := len(stack) - 1; j >= 0; j-- {
		report(stack[j].open, unclosedMessage(stack[j]))
		diags = append(diags, checkInnerRules(stack[j], innerRules)...)
	}

	return diags
}

// checkEndTag validates the closing tag's own words: a suffix end tag
// must repeat the opening tag's name word, and nothing may follow it.
func checkEndTag(t tagspec.TemplateTag, frame *blockFrame) []tagspec.Diagnostic {
	var diags []tagspec.Diagnostic
	report := func(msg string) {
		diags = append(diags, tagspec.Diagnostic{
			Line:    t.Line,
			Name:    t.Name,
			Raw:     joinBits(t.Bits),
			Message: msg,
		})
	}
	if frame.opaque {
		return nil
	}
	idx := frame.spec.EndSuffixIndex
	if idx < 0 {
		if len(t.Bits) > 1 {
			report(fmt.Sprintf("'%s' takes no arguments", t.Name))
		}
		return diags
	}
	if len(t.Bits) > 2 {
		report(fmt.Sprintf("'%s' takes at most one argument", t.Name))
	}
	if len(t.Bits) >= 2 {
		want := ""
		if idx < len(frame.open.Bits) {
			want = frame.open.Bits[idx]
		}
		if want != "" && t.Bits[1] != want {
			report(fmt.Sprintf("'%s %s' does not match '%s %s'", t.Name, t.Bits[1], frame.open.Name, want))
		}
	}
	return diags
}

func unclosedMessage(frame *blockFrame) string {
	return fmt.Sprintf("Unclosed tag on line %d: '%s'. Looking for one of: %s.",
		frame.open.Line, frame.open.Name, strings.Join(expectedTags(frame), ", "))
}

// expectedTags lists the tags legal at the current position inside
// frame: its end tags plus any still-permitted middles.
func expectedTags(frame *blockFrame) []string {
	var out []string
	if !frame.terminal {
		for _, m := range frame.spec.Middle {
			if frame.middles[m] > 0 && !containsWord(frame.spec.Repeatable, m) {
				continue
			}
			out = append(out, m)
		}
	}
	return append(out, frame.spec.End...)
}

func expectedList(frame *blockFrame) string {
	names := expectedTags(frame)
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return strings.Join(quoted, " or ")
}

func containsSpec(specs []*tagspec.BlockTagSpec, s *tagspec.BlockTagSpec) bool {
	for _, v := range specs {
		if v == s {
			return true
		}
	}
	return false
}

func findOpenFor(stack []*blockFrame, ends []*tagspec.BlockTagSpec) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if containsSpec(ends, stack[i].spec) {
			return i
		}
	}
	return -1
}

func indexInnerRules(rules []tagspec.ConditionalInnerTagRule) map[string][]tagspec.ConditionalInnerTagRule {
	out := map[string][]tagspec.ConditionalInnerTagRule{}
	for _, r := range rules {
		out[r.StartTag] = append(out[r.StartTag], r)
	}
	return out
}

// checkInnerRules applies option-conditional inner-tag requirements to
// a block being closed: with the flagged option the inner tag must
// appear, without it the inner tag is illegal.
func checkInnerRules(frame *blockFrame, rules map[string][]tagspec.ConditionalInnerTagRule) []tagspec.Diagnostic {
	var diags []tagspec.Diagnostic
	for _, r := range rules[frame.open.Name] {
		optPresent := containsWord(frame.open.Bits[1:], r.OptionToken)
		if optPresent != r.WhenPresent {
			continue
		}
		has := frame.inner[r.InnerTag]
		if r.Require && !has {
			diags = append(diags, tagspec.Diagnostic{
				Line:    frame.open.Line,
				Name:    frame.open.Name,
				Raw:     joinBits(frame.open.Bits),
				Message: fmt.Sprintf("'%s' with '%s' requires a '%s' clause", frame.open.Name, r.OptionToken, r.InnerTag),
			})
		}
		if !r.Require && has {
			diags = append(diags, tagspec.Diagnostic{
				Line:    frame.open.Line,
				Name:    frame.open.Name,
				Raw:     joinBits(frame.open.Bits),
				Message: fmt.Sprintf("'%s' is only allowed inside '%s' with the '%s' option", r.InnerTag, frame.open.Name, r.OptionToken),
			})
		}
	}
	return diags
}
