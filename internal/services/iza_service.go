// internal/services/iza_service.go
package services

import (
	"context"
	"strings"

	"github.com/participadf/ouvidoria/internal/draft"
	apperrors "github.com/participadf/ouvidoria/internal/errors"
	"github.com/participadf/ouvidoria/internal/models"
	"github.com/participadf/ouvidoria/internal/privacy"
	"github.com/participadf/ouvidoria/internal/prompt"
	"github.com/participadf/ouvidoria/internal/utils"
)

// TurnGenerator produces the assistant's raw proposal for one turn.
type TurnGenerator interface {
	Send(ctx context.Context, history []models.ChatTurn, grounding string) (*GeneratorReply, error)
	Model() string
}

// IzaService runs one stateless drafting turn: it grounds the model in the current
// draft, sanitizes what the model proposes and recomputes completeness itself.
type IzaService struct {
	generator TurnGenerator
	rules     *draft.RuleSet
	redactor  *privacy.Redactor
	metrics   *utils.APIMetrics
	logger    *utils.Logger
}

// NewIzaService wires the turn pipeline. A nil redactor uses the default detectors.
func NewIzaService(generator TurnGenerator, rules *draft.RuleSet, redactor *privacy.Redactor, metrics *utils.APIMetrics, logger *utils.Logger) *IzaService {
	if redactor == nil {
		redactor = privacy.NewRedactor()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewAPIMetrics(nil, logger)
	}
	return &IzaService{
		generator: generator,
		rules:     rules,
		redactor:  redactor,
		metrics:   metrics,
		logger:    logger,
	}
}

// Rules returns the active rule set.
func (s *IzaService) Rules() *draft.RuleSet {
	return s.rules
}

// HandleTurn answers one chat turn. Draft gaps are reported in the result, never as errors.
func (s *IzaService) HandleTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResult, error) {
	history := prompt.SanitizeHistory(req.Messages, 0)
	before := s.rules.Compute(req.Draft)

	if prompt.IsFederalTopic(history, req.Draft) {
		s.metrics.RecordTurn("federal_redirect", string(models.IntentOther))
		s.logger.Info("IZA turn redirected to federal channel", map[string]interface{}{
			"turns": len(history),
		})
		return &models.TurnResult{
			Model:                    s.generator.Model(),
			AssistantMessage:         prompt.FederalRedirectMessage,
			Intent:                   models.IntentOther,
			DraftPatch:               models.DraftPatch{},
			MissingRequiredFields:    before.RequiredMissing,
			MissingRecommendedFields: before.RecommendedMissing,
			CanSubmit:                before.CanSubmit,
		}, nil
	}

	grounding := prompt.BuildInstructions(req.Draft, before.RequiredMissing, before.RecommendedMissing)
	reply, err := s.generator.Send(ctx, history, grounding)
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			s.metrics.RecordError(string(appErr.Type), "iza")
		}
		return nil, err
	}

	patch := models.PatchFromMap(reply.Patch)
	if patch.Kind != nil {
		if k, ok := draft.NormalizeKind(*patch.Kind); ok {
			patch.Kind = &k
		}
	}
	removed := s.redactPatch(&patch)

	message := strings.TrimSpace(reply.Message)
	if message == "" {
		message = prompt.DefaultAcknowledgement
	}
	if len(removed) > 0 {
		message += redactionDisclosure(removed)
	}

	after := s.rules.Compute(draft.Apply(req.Draft, patch))
	intent := NormalizeIntent(reply.Intent)

	outcome := "generated"
	if reply.Fallback {
		outcome = "fallback"
	}
	s.metrics.RecordTurn(outcome, string(intent))
	s.metrics.RecordRedaction(removed)
	s.logger.Info("IZA turn completed", map[string]interface{}{
		"turns":            len(history),
		"intent":           intent,
		"fallback":         reply.Fallback,
		"redacted":         removed,
		"required_missing": len(after.RequiredMissing),
		"can_submit":       after.CanSubmit,
	})

	return &models.TurnResult{
		Model:                    s.generator.Model(),
		AssistantMessage:         message,
		Intent:                   intent,
		DraftPatch:               patch,
		MissingRequiredFields:    after.RequiredMissing,
		MissingRecommendedFields: after.RecommendedMissing,
		CanSubmit:                after.CanSubmit,
	}, nil
}

// redactPatch sanitizes the narrative fields of p in place and returns the
// categories removed across all of them, in detector order.
func (s *IzaService) redactPatch(p *models.DraftPatch) []string {
	var found []string
	for _, field := range models.NarrativeFields {
		ref := p.TextRef(field)
		if ref == nil || *ref == nil {
			continue
		}
		res := s.redactor.Redact(**ref)
		if !res.Changed {
			continue
		}
		clean := res.Text
		*ref = &clean
		found = append(found, res.Categories...)
	}
	return s.redactor.Order(found)
}

func redactionDisclosure(categories []string) string {
	return "\n\nObservação: para proteger seus dados, removi automaticamente " +
		joinPortuguese(categories) +
		" do texto do relato. Se precisar informar contato, use a identificação."
}

// joinPortuguese renders ["CPF","e-mail","telefone"] as "CPF, e-mail e telefone".
func joinPortuguese(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " e " + items[len(items)-1]
}

// NormalizeIntent maps a declared intent onto the closed set, ignoring case and accents.
func NormalizeIntent(s string) models.Intent {
	folded := draft.Fold(strings.TrimSpace(s))
	for _, known := range models.Intents {
		if folded == draft.Fold(string(known)) {
			return known
		}
	}
	return models.IntentOther
}
