// Package draft decides what a manifestation draft still lacks and merges assistant patches into it.
package draft

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/participadf/ouvidoria/internal/models"
)

//go:embed rules.yaml
var defaultRules []byte

// Names of the built-in rule sets.
const (
	RuleSetRelaxed = "relaxed"
	RuleSetStrict  = "strict"
)

// TagAnonymous is reported when an identification-only kind is marked anonymous.
const TagAnonymous = "anonymous"

// RuleSet is one named completeness policy.
type RuleSet struct {
	Name           string              `yaml:"-"`
	Required       []FieldRule         `yaml:"required"`
	Narrative      NarrativeRule       `yaml:"narrative"`
	Identification *IdentificationRule `yaml:"identification"`
	Accessibility  []AccessibilityRule `yaml:"accessibility"`
	Recommended    []KeywordRule       `yaml:"recommended"`
}

// FieldRule requires a text field to reach MinLen characters.
type FieldRule struct {
	Field  string   `yaml:"field"`
	MinLen int      `yaml:"min_len"`
	OneOf  []string `yaml:"one_of"`
	Format string   `yaml:"format"`
}

// NarrativeRule requires either the narrative text or at least one attachment.
type NarrativeRule struct {
	Field           string   `yaml:"field"`
	Tag             string   `yaml:"tag"`
	AttachmentFlags []string `yaml:"attachment_flags"`
}

// IdentificationRule applies to kinds that cannot be filed anonymously.
type IdentificationRule struct {
	Kinds           []string    `yaml:"kinds"`
	ForbidAnonymous bool        `yaml:"forbid_anonymous"`
	Fields          []FieldRule `yaml:"fields"`
}

// AccessibilityRule ties an attachment flag to its textual alternative.
type AccessibilityRule struct {
	Flag   string `yaml:"flag"`
	Field  string `yaml:"field"`
	MinLen int    `yaml:"min_len"`
}

// KeywordRule recommends more detail when the narrative mentions none of Keywords.
type KeywordRule struct {
	Tag      string   `yaml:"tag"`
	Keywords []string `yaml:"keywords"`
}

type rulesDocument struct {
	RuleSets map[string]*RuleSet `yaml:"rulesets"`
}

// LoadRuleSet returns the named rule set from path, or from the built-in table when path is empty.
func LoadRuleSet(name, path string) (*RuleSet, error) {
	data := defaultRules
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read rules file: %w", err)
		}
	}
	return ParseRuleSet(name, data)
}

// MustRuleSet loads a built-in rule set and panics if it is missing.
func MustRuleSet(name string) *RuleSet {
	rs, err := LoadRuleSet(name, "")
	if err != nil {
		panic(err)
	}
	return rs
}

// ParseRuleSet decodes a rules document and selects one rule set from it.
func ParseRuleSet(name string, data []byte) (*RuleSet, error) {
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	rs, ok := doc.RuleSets[name]
	if !ok || rs == nil {
		return nil, fmt.Errorf("rule set %q not defined", name)
	}
	rs.Name = name
	if err := rs.validate(); err != nil {
		return nil, fmt.Errorf("rule set %q: %w", name, err)
	}
	rs.foldVocabulary()
	return rs, nil
}

func (rs *RuleSet) validate() error {
	texts := map[string]bool{}
	for _, f := range []string{
		models.FieldKind, models.FieldSubject, models.FieldSubjectDetail, models.FieldDescriptionText,
		models.FieldContactName, models.FieldContactEmail, models.FieldContactPhone,
		models.FieldImageAlt, models.FieldAudioTranscript, models.FieldVideoDescription,
	} {
		texts[f] = true
	}
	flags := map[string]bool{
		models.FieldHasImageFile: true,
		models.FieldHasAudioFile: true,
		models.FieldHasVideoFile: true,
	}

	check := func(r FieldRule) error {
		if !texts[r.Field] {
			return fmt.Errorf("unknown field %q", r.Field)
		}
		if r.MinLen < 0 {
			return fmt.Errorf("field %q: negative min_len", r.Field)
		}
		if r.Format != "" && r.Format != "email" {
			return fmt.Errorf("field %q: unknown format %q", r.Field, r.Format)
		}
		return nil
	}

	for _, r := range rs.Required {
		if err := check(r); err != nil {
			return err
		}
	}
	if rs.Narrative.Field != "" {
		if !texts[rs.Narrative.Field] || rs.Narrative.Tag == "" {
			return fmt.Errorf("narrative rule needs a known field and a tag")
		}
		for _, f := range rs.Narrative.AttachmentFlags {
			if !flags[f] {
				return fmt.Errorf("unknown attachment flag %q", f)
			}
		}
	}
	if rs.Identification != nil {
		for _, r := range rs.Identification.Fields {
			if err := check(r); err != nil {
				return err
			}
		}
	}
	for _, r := range rs.Accessibility {
		if !flags[r.Flag] || !texts[r.Field] {
			return fmt.Errorf("accessibility rule %q/%q references unknown fields", r.Flag, r.Field)
		}
	}
	for _, r := range rs.Recommended {
		if r.Tag == "" || len(r.Keywords) == 0 {
			return fmt.Errorf("recommended rule needs a tag and keywords")
		}
	}
	return nil
}

// foldVocabulary pre-folds every comparison value once at load time.
func (rs *RuleSet) foldVocabulary() {
	for i := range rs.Required {
		rs.Required[i].OneOf = foldAll(rs.Required[i].OneOf)
	}
	if rs.Identification != nil {
		rs.Identification.Kinds = foldAll(rs.Identification.Kinds)
	}
	for i := range rs.Recommended {
		rs.Recommended[i].Keywords = foldAll(rs.Recommended[i].Keywords)
	}
}

func foldAll(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Fold(s)
	}
	return out
}
