package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// ValidateTag checks one concrete invocation against a tag's recovered
// contract. Rules whose preconditions do not definitely hold are
// skipped, and a rule that cannot be decided reports nothing.
func ValidateTag(tag tagspec.TemplateTag, v *tagspec.TagValidation) []tagspec.Diagnostic {
	if v == nil || v.Unrestricted {
		return nil
	}
	var diags []tagspec.Diagnostic
	report := func(msg string) {
		diags = append(diags, tagspec.Diagnostic{
			Line:    tag.Line,
			Name:    tag.Name,
			Raw:     strings.Join(tag.Bits, " "),
			Message: msg,
		})
	}

	for _, cr := range v.Rules {
		ev := newEvalCtx(tag.Bits, cr.Env)
		applies := tagspec.VerdictTrue
		for _, pre := range cr.Preconditions {
			applies = applies.And(ev.evalExpr(pre))
		}
		if applies != tagspec.VerdictTrue {
			continue
		}
		verdict, msg := ev.checkRule(cr.Rule)
		if verdict == tagspec.VerdictFalse {
			report(msg)
		}
	}

	if v.Options != nil {
		diags = append(diags, validateOptions(tag, v.Options)...)
	}

	if v.Signature != nil {
		diags = append(diags, validateSignature(tag, v.Signature)...)
	}

	return diags
}

// validateOptions walks the option region the way the handler's loop
// would, consuming arguments per constraint.
func validateOptions(tag tagspec.TemplateTag, spec *tagspec.OptionSpec) []tagspec.Diagnostic {
	ev := newEvalCtx(tag.Bits, nil)
	region, verdict := ev.resolveView(spec.Region)
	if verdict != tagspec.VerdictTrue {
		return nil
	}

	var diags []tagspec.Diagnostic
	report := func(msg string) {
		diags = append(diags, tagspec.Diagnostic{
			Line:    tag.Line,
			Name:    tag.Name,
			Raw:     strings.Join(tag.Bits, " "),
			Message: msg,
		})
	}

	seen := map[string]bool{}
	closed := len(spec.Valid) > 0

	i := 0
	for i < len(region) {
		opt := region[i]
		constraint, known := spec.Constraints[opt]

		if known && spec.NoDuplicates && seen[opt] {
			report(fmt.Sprintf("The %q option was specified more than once.", opt))
		}
		seen[opt] = true

		if !known {
			if closed {
				report(fmt.Sprintf("Unknown argument for %q tag: %q.", tag.Name, opt))
			}
			i++
			continue
		}

		switch constraint.Kind {
		case tagspec.OptionBoolean:
			i++

		case tagspec.OptionSingleArg:
			if i+1 >= len(region) {
				report(fmt.Sprintf("%q must be followed by another token", opt))
				i++
				continue
			}
			arg := region[i+1]
			if len(constraint.ArgAllow) > 0 && !containsWord(constraint.ArgAllow, arg) {
				report(fmt.Sprintf("Invalid argument %q for %q option", arg, opt))
			}
			if containsWord(constraint.ArgDisallow, arg) {
				report(fmt.Sprintf("Invalid argument %q for %q option", arg, opt))
			}
			i += 2

		case tagspec.OptionKwargs:
			count, consumed := tokenKwargs(region[i+1:], constraint.SupportLegacy)
			if constraint.MinKwargs == 1 && count < 1 {
				report(fmt.Sprintf("%q in %q tag needs at least one keyword argument.", opt, tag.Name))
			} else if count < constraint.MinKwargs {
				report(fmt.Sprintf("%q in %q tag needs at least %d keyword arguments.", opt, tag.Name, constraint.MinKwargs))
			}
			if constraint.ExactCount > 0 && count != constraint.ExactCount {
				report(fmt.Sprintf("%q in %q tag needs exactly %d keyword arguments.", opt, tag.Name, constraint.ExactCount))
			}
			i += 1 + consumed

		default:
			i++
		}
	}

	return diags
}

var kwargKeyRe = regexp.MustCompile(`^(\w+)=`)

// splitKwarg splits "key=value" when key is a plain identifier; a bare
// value (or a quoted one containing "=") yields ok with an empty key.
func splitKwarg(bit string) (key, value string, ok bool) {
	m := kwargKeyRe.FindStringSubmatch(bit)
	if m == nil {
		return "", bit, true
	}
	return m[1], bit[len(m[0]):], true
}

// tokenKwargs consumes keyword arguments from the front of bits the
// way the engine's token_kwargs helper does: either key=value pairs,
// or (legacy) "value as key" triplets joined by "and". It reports how
// many pairs were parsed and how many words were consumed.
func tokenKwargs(bits []string, supportLegacy bool) (count, consumed int) {
	if len(bits) == 0 {
		return 0, 0
	}

	if key, _, _ := splitKwarg(bits[0]); key != "" {
		for consumed < len(bits) {
			k, _, _ := splitKwarg(bits[consumed])
			if k == "" {
				break
			}
			count++
			consumed++
		}
		return count, consumed
	}

	if !supportLegacy {
		return 0, 0
	}
	rest := bits
	for len(rest) >= 3 && rest[1] == "as" {
		count++
		rest = rest[3:]
		consumed += 3
		if len(rest) == 0 || rest[0] != "and" {
			break
		}
		rest = rest[1:]
		consumed++
	}
	return count, consumed
}

// validateSignature matches the invocation's arguments against a
// declared calling convention, mirroring the engine's own bit parser.
func validateSignature(tag tagspec.TemplateTag, sig *tagspec.SignatureSpec) []tagspec.Diagnostic {
	var diags []tagspec.Diagnostic
	report := func(msg string) {
		diags = append(diags, tagspec.Diagnostic{
			Line:    tag.Line,
			Name:    tag.Name,
			Raw:     strings.Join(tag.Bits, " "),
			Message: msg,
		})
	}

	bits := tag.Bits[1:]
	if sig.AllowAsVar && len(bits) >= 2 && bits[len(bits)-2] == "as" {
		bits = bits[:len(bits)-2]
	}

	fname := sig.FuncName
	if fname == "" {
		fname = tag.Name
	}

	unhandled := append([]string(nil), sig.Params...)
	defaultsLeft := len(sig.Defaults)
	unhandledKw := map[string]bool{}
	for _, k := range sig.KwOnly {
		if !containsWord(sig.KwOnlyDefaults, k) {
			unhandledKw[k] = true
		}
	}
	seenKwargs := map[string]bool{}

	for _, bit := range bits {
		key, _, _ := splitKwarg(bit)
		if key != "" {
			switch {
			case !containsWord(sig.Params, key) &&
				!containsWord(sig.Defaults, key) &&
				!containsWord(sig.KwOnly, key) &&
				!sig.Varkw:
				report(fmt.Sprintf("'%s' received unexpected keyword argument '%s'", fname, key))
			case seenKwargs[key]:
				report(fmt.Sprintf("'%s' received multiple values for keyword argument '%s'", fname, key))
			default:
				seenKwargs[key] = true
				unhandled = removeWord(unhandled, key)
				delete(unhandledKw, key)
			}
			continue
		}
		if len(seenKwargs) > 0 {
			report(fmt.Sprintf("'%s' received some positional argument(s) after some keyword argument(s)", fname))
			continue
		}
		if len(unhandled) > 0 {
			unhandled = unhandled[1:]
			continue
		}
		if defaultsLeft > 0 {
			defaultsLeft--
			continue
		}
		if !sig.Varargs {
			report(fmt.Sprintf("'%s' received too many positional arguments", fname))
			// One report per invocation is enough.
			break
		}
	}

	var missing []string
	for _, p := range unhandled {
		missing = append(missing, "'"+p+"'")
	}
	for _, k := range sig.KwOnly {
		if unhandledKw[k] {
			missing = append(missing, "'"+k+"'")
		}
	}
	if len(missing) > 0 {
		report(fmt.Sprintf("'%s' did not receive value(s) for the argument(s): %s",
			fname, strings.Join(missing, ", ")))
	}

	return diags
}

func joinBits(bits []string) string {
	return strings.Join(bits, " ")
}

func containsWord(list []string, w string) bool {
	for _, v := range list {
		if v == w {
			return true
		}
	}
	return false
}

func removeWord(list []string, w string) []string {
	for i, v := range list {
		if v == w {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
