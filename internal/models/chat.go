// internal/models/chat.go
package models

// Chat roles accepted from callers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Intent is the assistant's classification of the citizen's last message.
type Intent string

const (
	IntentInfrastructure Intent = "denuncia_infraestrutura"
	IntentHealth         Intent = "saúde"
	IntentSecurity       Intent = "segurança"
	IntentCompliment     Intent = "elogio"
	IntentGreeting       Intent = "cumprimento"
	IntentOther          Intent = "outro"
)

// Intents is the closed set the assistant may report.
var Intents = []Intent{
	IntentInfrastructure, IntentHealth, IntentSecurity,
	IntentCompliment, IntentGreeting, IntentOther,
}

// ChatTurn is one message of the conversation transcript.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest is the inbound chat payload; the full transcript is resent every turn.
type TurnRequest struct {
	Messages []ChatTurn `json:"messages"`
	Draft    Draft      `json:"draft"`
}

// Completeness lists what the draft still lacks.
type Completeness struct {
	RequiredMissing    []string `json:"required_missing"`
	RecommendedMissing []string `json:"recommended_missing"`
	CanSubmit          bool     `json:"can_submit"`
}

// TurnResult is the response for one chat turn.
type TurnResult struct {
	Model                    string     `json:"model"`
	AssistantMessage         string     `json:"assistant_message"`
	Intent                   Intent     `json:"intent"`
	DraftPatch               DraftPatch `json:"draft_patch"`
	MissingRequiredFields    []string   `json:"missing_required_fields"`
	MissingRecommendedFields []string   `json:"missing_recommended_fields"`
	CanSubmit                bool       `json:"can_submit"`
}
