package resolve

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// legacyConstraint matches engine versions that still ship the
// ifequal family of tags.
var legacyConstraint = semver.MustParse("4.0.0")

// CompatTags returns contracts for tags the engine removed in later
// releases, gated on the version under analysis. Templates written for
// an old engine keep validating; against a newer engine the tags fall
// out of scope and report as unknown, which is exactly what the engine
// itself would do.
func CompatTags(engineVersion string) (*tagspec.Bundle, error) {
	v, err := semver.NewVersion(engineVersion)
	if err != nil {
		return nil, fmt.Errorf("engine version %q: %w", engineVersion, err)
	}
	out := tagspec.NewBundle()
	if !v.LessThan(legacyConstraint) {
		return out, nil
	}

	for _, name := range []string{"ifequal", "ifnotequal"} {
		out.Tags[name] = &tagspec.TagValidation{
			Name: name,
			Rules: []tagspec.ContextualRule{{
				Rule: &tagspec.ExtractedRule{
					Kind:    tagspec.RuleExactCount,
					Count:   3,
					Message: fmt.Sprintf("'%s' takes two arguments", name),
				},
			}},
		}
		out.BlockSpecs = append(out.BlockSpecs, tagspec.BlockTagSpec{
			Start:          []string{name},
			End:            []string{"end" + name},
			Middle:         []string{"else"},
			Terminal:       []string{"else"},
			EndSuffixIndex: -1,
		})
	}
	return out, nil
}
