// Package privacy removes personal identifiers from free text before it is stored or echoed back.
package privacy

import (
	"regexp"
	"strings"
)

// Detector finds one class of personal data and replaces it with a placeholder.
type Detector interface {
	Category() string
	Redact(text string) (string, bool)
}

// Result is the outcome of a redaction pass.
type Result struct {
	Text       string
	Changed    bool
	Categories []string
}

// Redactor applies detectors in a fixed order.
type Redactor struct {
	detectors []Detector
}

// maxPasses bounds the fixed-point loop; one pass suffices for the default chain.
const maxPasses = 4

// NewRedactor builds a redactor over the given detectors, or the default chain when none are given.
func NewRedactor(detectors ...Detector) *Redactor {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Redactor{detectors: detectors}
}

// Redact replaces every detected identifier. Running it on its own output changes nothing.
func (r *Redactor) Redact(text string) Result {
	res := Result{Text: text}
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for _, d := range r.detectors {
			out, hit := d.Redact(res.Text)
			if !hit {
				continue
			}
			res.Text = out
			changed = true
			res.Categories = appendUnique(res.Categories, d.Category())
		}
		if !changed {
			break
		}
		res.Changed = true
	}
	res.Categories = r.Order(res.Categories)
	return res
}

// Order sorts categories by detector position and drops duplicates.
func (r *Redactor) Order(found []string) []string {
	if len(found) < 2 {
		return found
	}
	out := make([]string, 0, len(found))
	for _, d := range r.detectors {
		for _, c := range found {
			if c == d.Category() {
				out = appendUnique(out, c)
			}
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// PatternDetector replaces every match of Pattern with Placeholder.
// When Triggers is set, it only runs if the lower-cased text contains one of them.
type PatternDetector struct {
	Name        string
	Pattern     *regexp.Regexp
	Placeholder string
	Triggers    []string
}

func (p *PatternDetector) Category() string {
	return p.Name
}

func (p *PatternDetector) Redact(text string) (string, bool) {
	if len(p.Triggers) > 0 && !containsAny(strings.ToLower(text), p.Triggers) {
		return text, false
	}
	if !p.Pattern.MatchString(text) {
		return text, false
	}
	return p.Pattern.ReplaceAllLiteralString(text, p.Placeholder), true
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
