// internal/models/manifestation.go
package models

import "time"

// Manifestation statuses.
const (
	StatusReceived  = "Recebido"
	StatusInReview  = "Em análise"
	StatusResponded = "Respondido"
)

// Attachment form fields and the accessibility text each one requires.
const (
	AttachmentImage = "image_file"
	AttachmentAudio = "audio_file"
	AttachmentVideo = "video_file"
)

// Manifestation is a submitted citizen record.
type Manifestation struct {
	ID               string       `json:"id"`
	Protocol         string       `json:"protocol"`
	CreatedAt        time.Time    `json:"created_at"`
	Status           string       `json:"status"`
	Kind             Kind         `json:"kind"`
	Subject          string       `json:"subject"`
	SubjectDetail    string       `json:"subject_detail,omitempty"`
	DescriptionText  string       `json:"description_text,omitempty"`
	Anonymous        bool         `json:"anonymous"`
	ContactName      string       `json:"-"`
	ContactEmail     string       `json:"-"`
	ContactPhone     string       `json:"-"`
	ImageAlt         string       `json:"image_alt,omitempty"`
	AudioTranscript  string       `json:"audio_transcript,omitempty"`
	VideoDescription string       `json:"video_description,omitempty"`
	Channel          string       `json:"channel"`
	UserAgent        string       `json:"-"`
	Attachments      []Attachment `json:"attachments"`
}

// Attachment is the metadata of an uploaded file; the bytes live in the blob store.
type Attachment struct {
	ID                string    `json:"id"`
	ManifestationID   string    `json:"-"`
	Field             string    `json:"field"`
	Filename          string    `json:"filename"`
	ContentType       string    `json:"content_type"`
	Bytes             int64     `json:"bytes"`
	SHA256            string    `json:"sha256"`
	AccessibilityText string    `json:"accessibility_text"`
	CreatedAt         time.Time `json:"created_at"`
	DownloadURL       string    `json:"download_url,omitempty"`
}

// CreatedManifestation is returned to the citizen after a successful submission.
type CreatedManifestation struct {
	Protocol               string `json:"protocol"`
	CreatedAt              string `json:"created_at"`
	InitialResponseSLADays int    `json:"initial_response_sla_days"`
}
