package privacy

import "regexp"

// Categories reported to the citizen, in detection order.
const (
	CategoryCPF       = "CPF"
	CategoryEmail     = "e-mail"
	CategoryPhone     = "telefone"
	CategoryBirthDate = "data de nascimento"
)

var (
	cpfPattern   = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b|\b\d{11}\b`)
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:(?:\+55\s?|\b55\s?)?\(\d{2}\)\s?|(?:\+55\s?|\b55\s?)?\b(?:\d{2}\s?)?)(?:9\s?)?\d{4}[-\s]?\d{4}\b`)
	datePattern  = regexp.MustCompile(`\b\d{2}[/-]\d{2}[/-]\d{4}\b`)
)

// birthTriggers gate the date detector; other dates (the day of an incident) are kept.
var birthTriggers = []string{"nascimento", "nasci em", "data de nasc"}

// DefaultDetectors returns the built-in chain: CPF, e-mail, phone, birth date.
// Street addresses are never redacted.
func DefaultDetectors() []Detector {
	return []Detector{
		&PatternDetector{Name: CategoryCPF, Pattern: cpfPattern, Placeholder: "[CPF REMOVIDO]"},
		&PatternDetector{Name: CategoryEmail, Pattern: emailPattern, Placeholder: "[E-MAIL REMOVIDO]"},
		&PatternDetector{Name: CategoryPhone, Pattern: phonePattern, Placeholder: "[TELEFONE REMOVIDO]"},
		&PatternDetector{Name: CategoryBirthDate, Pattern: datePattern, Placeholder: "[DATA REMOVIDA]", Triggers: birthTriggers},
	}
}
