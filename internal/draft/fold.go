package draft

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/participadf/ouvidoria/internal/models"
)

// Fold lower-cases s and strips diacritics so "Ceilândia" matches "ceilandia".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// NormalizeKind maps free-form kind text ("Reclamação") to a known kind.
func NormalizeKind(s string) (string, bool) {
	k := Fold(strings.TrimSpace(s))
	for _, known := range models.Kinds {
		if k == string(known) {
			return k, true
		}
	}
	return "", false
}
