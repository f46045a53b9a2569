package draft

import "github.com/participadf/ouvidoria/internal/models"

// Apply overwrites the fields of d that p sets; everything else is kept.
// Kind values are normalized ("Reclamação" becomes "reclamacao") when recognizable.
func Apply(d models.Draft, p models.DraftPatch) models.Draft {
	out := d
	if p.Kind != nil {
		k := *p.Kind
		if norm, ok := NormalizeKind(k); ok {
			k = norm
		}
		out.Kind = &k
	}
	set(&out.Subject, p.Subject)
	set(&out.SubjectDetail, p.SubjectDetail)
	set(&out.DescriptionText, p.DescriptionText)
	set(&out.ContactName, p.ContactName)
	set(&out.ContactEmail, p.ContactEmail)
	set(&out.ContactPhone, p.ContactPhone)
	set(&out.ImageAlt, p.ImageAlt)
	set(&out.AudioTranscript, p.AudioTranscript)
	set(&out.VideoDescription, p.VideoDescription)
	if p.Anonymous != nil {
		v := *p.Anonymous
		out.Anonymous = &v
	}
	return out
}

func set(dst **string, src *string) {
	if src == nil {
		return
	}
	v := *src
	*dst = &v
}
