package prompt

import (
	"strings"

	"github.com/participadf/ouvidoria/internal/draft"
	"github.com/participadf/ouvidoria/internal/models"
)

// FederalRedirectMessage answers topics handled by federal agencies.
const FederalRedirectMessage = "Parece um assunto do Governo Federal (ex.: INSS, Conecta SUS, gov.br). " +
	"O Participa DF é o canal de Ouvidoria para serviços do GDF. Para temas federais, use o sistema Fala BR. " +
	"Se o seu caso for do DF, me diga qual órgão/serviço do DF está envolvido."

var federalKeywords = []string{"inss", "conecta sus", "conectasus", "gov.br", "governo federal", "fala br"}

// IsFederalTopic reports whether the latest citizen message or the draft's subject
// points to a federal service outside the district ombudsman's remit.
func IsFederalTopic(turns []models.ChatTurn, d models.Draft) bool {
	combined := strings.Join([]string{
		LastUserMessage(turns),
		d.Text(models.FieldSubject),
		d.Text(models.FieldSubjectDetail),
	}, " ")
	folded := draft.Fold(combined)
	for _, kw := range federalKeywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// LastUserMessage returns the content of the most recent user turn.
func LastUserMessage(turns []models.ChatTurn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

// SanitizeHistory drops caller-supplied system turns, unknown roles and blank turns,
// then keeps the most recent limit turns (all of them when limit <= 0).
func SanitizeHistory(turns []models.ChatTurn, limit int) []models.ChatTurn {
	out := make([]models.ChatTurn, 0, len(turns))
	for _, t := range turns {
		role := strings.ToLower(strings.TrimSpace(t.Role))
		if role != models.RoleUser && role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, models.ChatTurn{Role: role, Content: t.Content})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
