package draft

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/participadf/ouvidoria/internal/models"
)

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Compute evaluates every rule against d and returns all violations in rule order.
func (rs *RuleSet) Compute(d models.Draft) models.Completeness {
	var required tagList

	for _, r := range rs.Required {
		if !r.satisfied(d.Text(r.Field)) {
			required.add(r.Field)
		}
	}

	narrative := d.Text(rs.Narrative.Field)
	if rs.Narrative.Field != "" && narrative == "" && !anyFlag(d, rs.Narrative.AttachmentFlags) {
		required.add(rs.Narrative.Tag)
	}

	for _, tag := range rs.IdentificationMissing(d) {
		required.add(tag)
	}

	for _, r := range rs.Accessibility {
		if d.Flag(r.Flag) && runeLen(d.Text(r.Field)) < r.MinLen {
			required.add(r.Field)
		}
	}

	var recommended tagList
	if narrative != "" {
		folded := Fold(narrative)
		for _, r := range rs.Recommended {
			if !containsAny(folded, r.Keywords) {
				recommended.add(r.Tag)
			}
		}
	}

	return models.Completeness{
		RequiredMissing:    required.slice(),
		RecommendedMissing: recommended.slice(),
		CanSubmit:          len(required) == 0,
	}
}

// IdentificationMissing returns the identification gaps for d's kind; nil when
// the rule set does not require identification for it.
func (rs *RuleSet) IdentificationMissing(d models.Draft) []string {
	id := rs.Identification
	if id == nil || !id.appliesTo(d.Text(models.FieldKind)) {
		return nil
	}
	var missing tagList
	if id.ForbidAnonymous && d.Flag(models.FieldAnonymous) {
		missing.add(TagAnonymous)
	}
	for _, r := range id.Fields {
		if !r.satisfied(d.Text(r.Field)) {
			missing.add(r.Field)
		}
	}
	return missing
}

// ValidEmail reports whether s looks like an e-mail address.
func ValidEmail(s string) bool {
	return emailShape.MatchString(strings.TrimSpace(s))
}

// Fields lists every field the rule set may report as required, in evaluation order.
func (rs *RuleSet) Fields() []string {
	var tags tagList
	for _, r := range rs.Required {
		tags.add(r.Field)
	}
	if rs.Narrative.Tag != "" {
		tags.add(rs.Narrative.Tag)
	}
	if rs.Identification != nil {
		if rs.Identification.ForbidAnonymous {
			tags.add(TagAnonymous)
		}
		for _, r := range rs.Identification.Fields {
			tags.add(r.Field)
		}
	}
	for _, r := range rs.Accessibility {
		tags.add(r.Field)
	}
	return tags.slice()
}

func (r FieldRule) satisfied(v string) bool {
	if runeLen(v) < r.MinLen {
		return false
	}
	if len(r.OneOf) > 0 && !containsExact(r.OneOf, Fold(v)) {
		return false
	}
	if r.Format == "email" && !emailShape.MatchString(v) {
		return false
	}
	return true
}

func (id *IdentificationRule) appliesTo(kind string) bool {
	if kind == "" {
		return false
	}
	return containsExact(id.Kinds, Fold(kind))
}

func anyFlag(d models.Draft, flags []string) bool {
	for _, f := range flags {
		if d.Flag(f) {
			return true
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func containsExact(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// tagList is an insertion-ordered set that never serializes as null.
type tagList []string

func (t *tagList) add(tag string) {
	for _, existing := range *t {
		if existing == tag {
			return
		}
	}
	*t = append(*t, tag)
}

func (t tagList) slice() []string {
	if t == nil {
		return []string{}
	}
	return []string(t)
}
