// internal/models/draft.go
package models

import (
	"encoding/json"
	"strings"
)

// Kind is the manifestation category.
type Kind string

const (
	KindComplaint  Kind = "reclamacao"
	KindReport     Kind = "denuncia"
	KindSuggestion Kind = "sugestao"
	KindCompliment Kind = "elogio"
	KindRequest    Kind = "solicitacao"
)

// Kinds lists every accepted kind in display order.
var Kinds = []Kind{KindComplaint, KindReport, KindSuggestion, KindCompliment, KindRequest}

// Draft field names as they appear on the wire and in rule tables.
const (
	FieldKind             = "kind"
	FieldSubject          = "subject"
	FieldSubjectDetail    = "subject_detail"
	FieldDescriptionText  = "description_text"
	FieldAnonymous        = "anonymous"
	FieldContactName      = "contact_name"
	FieldContactEmail     = "contact_email"
	FieldContactPhone     = "contact_phone"
	FieldImageAlt         = "image_alt"
	FieldAudioTranscript  = "audio_transcript"
	FieldVideoDescription = "video_description"
	FieldHasImageFile     = "has_image_file"
	FieldHasAudioFile     = "has_audio_file"
	FieldHasVideoFile     = "has_video_file"
)

// NarrativeFields are the free-text fields a citizen may fill with personal data.
var NarrativeFields = []string{
	FieldDescriptionText,
	FieldSubjectDetail,
	FieldAudioTranscript,
	FieldVideoDescription,
}

// Draft is the partially filled manifestation a citizen is composing.
// A nil field was never supplied. The server keeps no drafts between turns.
type Draft struct {
	Kind             *string `json:"kind"`
	Subject          *string `json:"subject"`
	SubjectDetail    *string `json:"subject_detail"`
	DescriptionText  *string `json:"description_text"`
	Anonymous        *bool   `json:"anonymous"`
	ContactName      *string `json:"contact_name"`
	ContactEmail     *string `json:"contact_email"`
	ContactPhone     *string `json:"contact_phone"`
	ImageAlt         *string `json:"image_alt"`
	AudioTranscript  *string `json:"audio_transcript"`
	VideoDescription *string `json:"video_description"`
	HasImageFile     *bool   `json:"has_image_file"`
	HasAudioFile     *bool   `json:"has_audio_file"`
	HasVideoFile     *bool   `json:"has_video_file"`
}

// DraftPatch holds the fields the assistant proposes to set on a draft.
// Attachment presence flags are client signals and are not patchable.
type DraftPatch struct {
	Kind             *string `json:"kind,omitempty"`
	Subject          *string `json:"subject,omitempty"`
	SubjectDetail    *string `json:"subject_detail,omitempty"`
	DescriptionText  *string `json:"description_text,omitempty"`
	Anonymous        *bool   `json:"anonymous,omitempty"`
	ContactName      *string `json:"contact_name,omitempty"`
	ContactEmail     *string `json:"contact_email,omitempty"`
	ContactPhone     *string `json:"contact_phone,omitempty"`
	ImageAlt         *string `json:"image_alt,omitempty"`
	AudioTranscript  *string `json:"audio_transcript,omitempty"`
	VideoDescription *string `json:"video_description,omitempty"`
}

// Text returns the trimmed value of a string field, or "" when absent or unknown.
func (d Draft) Text(field string) string {
	if p := d.textRef(field); p != nil && *p != nil {
		return strings.TrimSpace(**p)
	}
	return ""
}

// Flag returns the value of a boolean field, false when absent or unknown.
func (d Draft) Flag(field string) bool {
	var v *bool
	switch field {
	case FieldAnonymous:
		v = d.Anonymous
	case FieldHasImageFile:
		v = d.HasImageFile
	case FieldHasAudioFile:
		v = d.HasAudioFile
	case FieldHasVideoFile:
		v = d.HasVideoFile
	}
	return v != nil && *v
}

func (d *Draft) textRef(field string) **string {
	switch field {
	case FieldKind:
		return &d.Kind
	case FieldSubject:
		return &d.Subject
	case FieldSubjectDetail:
		return &d.SubjectDetail
	case FieldDescriptionText:
		return &d.DescriptionText
	case FieldContactName:
		return &d.ContactName
	case FieldContactEmail:
		return &d.ContactEmail
	case FieldContactPhone:
		return &d.ContactPhone
	case FieldImageAlt:
		return &d.ImageAlt
	case FieldAudioTranscript:
		return &d.AudioTranscript
	case FieldVideoDescription:
		return &d.VideoDescription
	}
	return nil
}

// UnmarshalJSON accepts any object: unknown keys and wrongly typed values are dropped.
func (d *Draft) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = DraftFromMap(raw)
	return nil
}

// DraftFromMap builds a Draft from a loosely typed mapping.
func DraftFromMap(raw map[string]interface{}) Draft {
	p := PatchFromMap(raw)
	return Draft{
		Kind:             p.Kind,
		Subject:          p.Subject,
		SubjectDetail:    p.SubjectDetail,
		DescriptionText:  p.DescriptionText,
		Anonymous:        p.Anonymous,
		ContactName:      p.ContactName,
		ContactEmail:     p.ContactEmail,
		ContactPhone:     p.ContactPhone,
		ImageAlt:         p.ImageAlt,
		AudioTranscript:  p.AudioTranscript,
		VideoDescription: p.VideoDescription,
		HasImageFile:     looseBool(raw[FieldHasImageFile]),
		HasAudioFile:     looseBool(raw[FieldHasAudioFile]),
		HasVideoFile:     looseBool(raw[FieldHasVideoFile]),
	}
}

// PatchFromMap keeps only recognized, correctly typed keys.
func PatchFromMap(raw map[string]interface{}) DraftPatch {
	return DraftPatch{
		Kind:             looseString(raw[FieldKind]),
		Subject:          looseString(raw[FieldSubject]),
		SubjectDetail:    looseString(raw[FieldSubjectDetail]),
		DescriptionText:  looseString(raw[FieldDescriptionText]),
		Anonymous:        looseBool(raw[FieldAnonymous]),
		ContactName:      looseString(raw[FieldContactName]),
		ContactEmail:     looseString(raw[FieldContactEmail]),
		ContactPhone:     looseString(raw[FieldContactPhone]),
		ImageAlt:         looseString(raw[FieldImageAlt]),
		AudioTranscript:  looseString(raw[FieldAudioTranscript]),
		VideoDescription: looseString(raw[FieldVideoDescription]),
	}
}

// UnmarshalJSON applies the same leniency as PatchFromMap.
func (p *DraftPatch) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = PatchFromMap(raw)
	return nil
}

// IsEmpty reports whether the patch sets nothing.
func (p DraftPatch) IsEmpty() bool {
	return p == DraftPatch{}
}

// TextRef exposes a patch string field by wire name, nil for unknown names.
func (p *DraftPatch) TextRef(field string) **string {
	switch field {
	case FieldKind:
		return &p.Kind
	case FieldSubject:
		return &p.Subject
	case FieldSubjectDetail:
		return &p.SubjectDetail
	case FieldDescriptionText:
		return &p.DescriptionText
	case FieldContactName:
		return &p.ContactName
	case FieldContactEmail:
		return &p.ContactEmail
	case FieldContactPhone:
		return &p.ContactPhone
	case FieldImageAlt:
		return &p.ImageAlt
	case FieldAudioTranscript:
		return &p.AudioTranscript
	case FieldVideoDescription:
		return &p.VideoDescription
	}
	return nil
}

func looseString(v interface{}) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func looseBool(v interface{}) *bool {
	switch t := v.(type) {
	case bool:
		return &t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			b := true
			return &b
		case "false":
			b := false
			return &b
		}
	}
	return nil
}

// StringPtr and BoolPtr help build drafts in code.
func StringPtr(s string) *string { return &s }

func BoolPtr(b bool) *bool { return &b }
