// internal/services/manifestation_service.go
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/participadf/ouvidoria/internal/draft"
	apperrors "github.com/participadf/ouvidoria/internal/errors"
	"github.com/participadf/ouvidoria/internal/models"
	"github.com/participadf/ouvidoria/internal/storage"
	"github.com/participadf/ouvidoria/internal/utils"
)

const (
	sniffLen         = 3072
	recordCacheSize  = 500
	recordCacheTTL   = 5 * time.Minute
	defaultChannel   = "web"
	protocolAttempts = 4
	maxSubjectLen    = 120
	maxNarrativeLen  = 5000
	maxImageAltLen   = 400
	maxVideoDescLen  = 800
	maxContactLen    = 160
	maxPhoneLen      = 40
	minSubjectLen    = 3
)

// ManifestationStore is the record store the service writes to.
type ManifestationStore interface {
	CreateManifestation(ctx context.Context, m *models.Manifestation) error
	GetByProtocol(ctx context.Context, protocol string) (*models.Manifestation, error)
	GetAttachment(ctx context.Context, protocol, filename string) (*models.Attachment, error)
}

// FileUpload is one attachment as received from the form.
type FileUpload struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// CreateManifestationInput is the submitted form.
type CreateManifestationInput struct {
	Kind             string
	Subject          string
	SubjectDetail    string
	DescriptionText  string
	Anonymous        bool
	ContactName      string
	ContactEmail     string
	ContactPhone     string
	ImageAlt         string
	AudioTranscript  string
	VideoDescription string

	Image *FileUpload
	Audio *FileUpload
	Video *FileUpload

	Channel   string
	UserAgent string
}

// AttachmentFile is an opened attachment ready to be streamed.
type AttachmentFile struct {
	Attachment *models.Attachment
	File       *os.File
	Size       int64
	ModTime    time.Time
}

// ManifestationOptions configures submission limits.
type ManifestationOptions struct {
	MaxFileBytes int64
	SLADays      int
	Rules        *draft.RuleSet
}

// ManifestationService validates submissions and persists records and attachments.
type ManifestationService struct {
	store   ManifestationStore
	blobs   *storage.BlobStorage
	cache   *storage.RecordCache[*models.Manifestation]
	locks   *LockManager
	opts    ManifestationOptions
	metrics *utils.APIMetrics
	logger  *utils.Logger
	now     func() time.Time
}

// NewManifestationService wires the service.
func NewManifestationService(store ManifestationStore, blobs *storage.BlobStorage, opts ManifestationOptions, metrics *utils.APIMetrics, logger *utils.Logger) *ManifestationService {
	if opts.Rules == nil {
		opts.Rules = draft.MustRuleSet(draft.RuleSetRelaxed)
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewAPIMetrics(nil, logger)
	}
	return &ManifestationService{
		store:   store,
		blobs:   blobs,
		cache:   storage.NewRecordCache[*models.Manifestation](recordCacheSize, recordCacheTTL),
		locks:   NewLockManager(),
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

type mediaSlot struct {
	field   string
	upload  *FileUpload
	a11y    string
	classes []string
	label   string
}

// media classes accepted per field; browsers record audio as WebM or Ogg containers.
var (
	imageClasses = []string{"image/"}
	audioClasses = []string{"audio/", "video/webm", "video/ogg", "video/mp4", "application/ogg"}
	videoClasses = []string{"video/", "application/ogg"}
)

// Create validates the form, stores the attachments and the record, and returns the protocol.
func (s *ManifestationService) Create(ctx context.Context, in CreateManifestationInput) (*models.CreatedManifestation, error) {
	in = trimInput(in)
	kind, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	protocol, release := s.reserveProtocol(now)
	defer release()

	m := &models.Manifestation{
		ID:               uuid.NewString(),
		Protocol:         protocol,
		CreatedAt:        now,
		Status:           models.StatusReceived,
		Kind:             kind,
		Subject:          in.Subject,
		SubjectDetail:    in.SubjectDetail,
		DescriptionText:  in.DescriptionText,
		Anonymous:        in.Anonymous,
		ImageAlt:         in.ImageAlt,
		AudioTranscript:  in.AudioTranscript,
		VideoDescription: in.VideoDescription,
		Channel:          in.Channel,
		UserAgent:        in.UserAgent,
	}
	if !in.Anonymous {
		m.ContactName = in.ContactName
		m.ContactEmail = in.ContactEmail
		m.ContactPhone = in.ContactPhone
	}
	if m.Channel == "" {
		m.Channel = defaultChannel
	}

	var total int64
	for _, slot := range s.slots(in) {
		if slot.upload == nil {
			continue
		}
		a, err := s.saveUpload(protocol, slot, now)
		if err != nil {
			s.rollback(protocol)
			return nil, err
		}
		total += a.Bytes
		m.Attachments = append(m.Attachments, *a)
	}

	if err := s.store.CreateManifestation(ctx, m); err != nil {
		s.rollback(protocol)
		s.metrics.RecordError(string(apperrors.ErrorTypeError), "manifestations")
		return nil, apperrors.NewProcessingError("Não foi possível registrar a manifestação. Tente novamente.", err)
	}

	s.metrics.RecordManifestation(string(kind), len(m.Attachments), total)
	s.logger.Info("Manifestation created", map[string]interface{}{
		"protocol":    protocol,
		"kind":        kind,
		"anonymous":   m.Anonymous,
		"attachments": len(m.Attachments),
		"bytes":       total,
	})

	return &models.CreatedManifestation{
		Protocol:               protocol,
		CreatedAt:              now.Format(time.RFC3339),
		InitialResponseSLADays: s.opts.SLADays,
	}, nil
}

// reserveProtocol picks a protocol that no in-flight submission holds and no
// upload directory uses. The returned func releases it.
func (s *ManifestationService) reserveProtocol(now time.Time) (string, func()) {
	var protocol string
	for i := 0; i < protocolAttempts; i++ {
		protocol = utils.NewProtocol(now)
		if unlock, ok := s.locks.TryLock(protocol); ok {
			if !s.blobs.DirExists(protocol) {
				return protocol, unlock
			}
			unlock()
		}
	}
	return protocol, s.locks.Lock(protocol)
}

func (s *ManifestationService) slots(in CreateManifestationInput) []mediaSlot {
	return []mediaSlot{
		{field: models.AttachmentAudio, upload: in.Audio, a11y: in.AudioTranscript, classes: audioClasses, label: "um áudio"},
		{field: models.AttachmentImage, upload: in.Image, a11y: in.ImageAlt, classes: imageClasses, label: "uma imagem"},
		{field: models.AttachmentVideo, upload: in.Video, a11y: in.VideoDescription, classes: videoClasses, label: "um vídeo"},
	}
}

func (s *ManifestationService) validate(in CreateManifestationInput) (models.Kind, error) {
	kind, ok := draft.NormalizeKind(in.Kind)
	if !ok {
		return "", apperrors.NewValidationError(
			"Tipo de manifestação inválido. Use: reclamacao, denuncia, sugestao, elogio ou solicitacao.", nil)
	}

	if n := utf8.RuneCountInString(in.Subject); n < minSubjectLen || n > maxSubjectLen {
		return "", apperrors.NewValidationError(
			fmt.Sprintf("O assunto deve ter entre %d e %d caracteres.", minSubjectLen, maxSubjectLen), nil)
	}

	limits := []struct {
		field string
		value string
		max   int
	}{
		{models.FieldSubjectDetail, in.SubjectDetail, maxNarrativeLen},
		{models.FieldDescriptionText, in.DescriptionText, maxNarrativeLen},
		{models.FieldAudioTranscript, in.AudioTranscript, maxNarrativeLen},
		{models.FieldImageAlt, in.ImageAlt, maxImageAltLen},
		{models.FieldVideoDescription, in.VideoDescription, maxVideoDescLen},
		{models.FieldContactName, in.ContactName, maxContactLen},
		{models.FieldContactEmail, in.ContactEmail, maxContactLen},
		{models.FieldContactPhone, in.ContactPhone, maxPhoneLen},
	}
	for _, l := range limits {
		if utf8.RuneCountInString(l.value) > l.max {
			return "", apperrors.NewValidationError(
				fmt.Sprintf("O campo %s excede o limite de %d caracteres.", l.field, l.max), nil)
		}
	}

	if in.ContactEmail != "" && !draft.ValidEmail(in.ContactEmail) {
		return "", apperrors.NewValidationError("E-mail de contato inválido.", nil)
	}

	if in.Audio != nil && in.AudioTranscript == "" {
		return "", apperrors.NewValidationError(
			"Audio anexado requer transcrição (audio_transcript) para acessibilidade.", nil)
	}
	if in.Image != nil && in.ImageAlt == "" {
		return "", apperrors.NewValidationError(
			"Imagem anexada requer texto alternativo (image_alt) para acessibilidade.", nil)
	}
	if in.Video != nil && in.VideoDescription == "" {
		return "", apperrors.NewValidationError(
			"Video anexado requer descrição (video_description) para acessibilidade.", nil)
	}
	if in.DescriptionText == "" && in.Audio == nil && in.Image == nil && in.Video == nil {
		return "", apperrors.NewValidationError(
			"Envie um relato em texto ou anexe pelo menos um arquivo.", nil)
	}

	d := models.Draft{
		Kind:         models.StringPtr(string(kind)),
		Anonymous:    models.BoolPtr(in.Anonymous),
		ContactName:  models.StringPtr(in.ContactName),
		ContactEmail: models.StringPtr(in.ContactEmail),
	}
	if missing := s.opts.Rules.IdentificationMissing(d); len(missing) > 0 {
		return "", apperrors.NewValidationError(fmt.Sprintf(
			"Manifestações do tipo %s exigem identificação (nome e e-mail) e não podem ser anônimas. Pendente: %s.",
			kind, strings.Join(missing, ", ")), nil)
	}

	for _, slot := range s.slots(in) {
		if slot.upload != nil && s.opts.MaxFileBytes > 0 && slot.upload.Size > s.opts.MaxFileBytes {
			return "", s.tooLarge()
		}
	}
	return models.Kind(kind), nil
}

// saveUpload sniffs the media class from the first bytes, then streams the whole file to the blob store.
func (s *ManifestationService) saveUpload(protocol string, slot mediaSlot, now time.Time) (*models.Attachment, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(slot.upload.Reader, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, apperrors.NewProcessingError("Falha ao ler o arquivo enviado.", err)
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	contentType := strings.TrimSpace(strings.SplitN(mt.String(), ";", 2)[0])
	if !hasMediaClass(contentType, slot.classes) {
		return nil, apperrors.NewValidationError(fmt.Sprintf(
			"O arquivo enviado em %s não parece ser %s (tipo detectado: %s).", slot.field, slot.label, contentType), nil)
	}

	filename := slot.field + "-" + utils.SafeFilename(slot.upload.Filename)
	body := io.MultiReader(bytes.NewReader(head), slot.upload.Reader)
	info, err := s.blobs.SaveBlob(protocol, filename, body, s.opts.MaxFileBytes)
	if errors.Is(err, storage.ErrBlobTooLarge) {
		return nil, s.tooLarge()
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("Falha ao salvar o arquivo enviado.", err)
	}

	return &models.Attachment{
		ID:                uuid.NewString(),
		Field:             slot.field,
		Filename:          filename,
		ContentType:       contentType,
		Bytes:             info.Size,
		SHA256:            info.SHA256,
		AccessibilityText: slot.a11y,
		CreatedAt:         now,
	}, nil
}

func (s *ManifestationService) tooLarge() error {
	return apperrors.NewTooLargeError(
		fmt.Sprintf("Arquivo muito grande. Limite: %dMB.", s.opts.MaxFileBytes/(1024*1024)), nil)
}

func (s *ManifestationService) rollback(protocol string) {
	if err := s.blobs.DeleteDir(protocol); err != nil {
		s.logger.Warn("Failed to remove attachments of a rejected manifestation", map[string]interface{}{
			"protocol": protocol,
			"error":    err,
		})
	}
}

// Get returns a manifestation with download links for its attachments.
func (s *ManifestationService) Get(ctx context.Context, protocol string) (*models.Manifestation, error) {
	protocol = normalizeProtocol(protocol)
	if m, ok := s.cache.Get(protocol); ok {
		return m, nil
	}

	m, err := s.store.GetByProtocol(ctx, protocol)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("Protocolo não encontrado", err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("Falha ao consultar a manifestação.", err)
	}

	for i := range m.Attachments {
		m.Attachments[i].DownloadURL = fmt.Sprintf("/api/manifestations/%s/files/%s",
			url.PathEscape(m.Protocol), url.PathEscape(m.Attachments[i].Filename))
	}
	s.cache.Set(protocol, m)
	return m, nil
}

// OpenAttachment opens one stored file. Only the base name of filename is used.
func (s *ManifestationService) OpenAttachment(ctx context.Context, protocol, filename string) (*AttachmentFile, error) {
	protocol = normalizeProtocol(protocol)
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))

	a, err := s.store.GetAttachment(ctx, protocol, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("Arquivo não encontrado", err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("Falha ao consultar o anexo.", err)
	}

	f, info, err := s.blobs.OpenBlob(protocol, name)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidPath) {
		return nil, apperrors.NewNotFoundError("Arquivo não encontrado", err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("Falha ao abrir o anexo.", err)
	}
	return &AttachmentFile{Attachment: a, File: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func hasMediaClass(contentType string, classes []string) bool {
	for _, c := range classes {
		if strings.HasSuffix(c, "/") {
			if strings.HasPrefix(contentType, c) {
				return true
			}
			continue
		}
		if contentType == c {
			return true
		}
	}
	return false
}

func normalizeProtocol(p string) string {
	return strings.ToUpper(strings.TrimSpace(p))
}

func trimInput(in CreateManifestationInput) CreateManifestationInput {
	for _, f := range []*string{
		&in.Kind, &in.Subject, &in.SubjectDetail, &in.DescriptionText,
		&in.ContactName, &in.ContactEmail, &in.ContactPhone,
		&in.ImageAlt, &in.AudioTranscript, &in.VideoDescription,
		&in.Channel,
	} {
		*f = strings.TrimSpace(*f)
	}
	return in
}
