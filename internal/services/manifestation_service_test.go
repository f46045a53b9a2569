package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/participadf/ouvidoria/internal/draft"
	apperrors "github.com/participadf/ouvidoria/internal/errors"
	"github.com/participadf/ouvidoria/internal/models"
	"github.com/participadf/ouvidoria/internal/storage"
	"github.com/participadf/ouvidoria/internal/utils"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)
	mp3Bytes  = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0}, 64)...)
	protoExpr = regexp.MustCompile(`^DF-\d{8}-[0-9A-F]{8}$`)
)

type manifestationFixture struct {
	svc     *ManifestationService
	store   *storage.SQLiteStore
	uploads string
	metrics *utils.APIMetrics
}

func newManifestationFixture(t *testing.T, rules string, maxBytes int64) *manifestationFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "participa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	uploads := filepath.Join(dir, "uploads")
	blobs, err := storage.NewBlobStorage(uploads)
	require.NoError(t, err)

	metrics := testMetrics()
	svc := NewManifestationService(store, blobs, ManifestationOptions{
		MaxFileBytes: maxBytes,
		SLADays:      10,
		Rules:        draft.MustRuleSet(rules),
	}, metrics, utils.NewNopLogger())
	svc.now = func() time.Time { return time.Date(2026, 5, 6, 14, 15, 16, 999, time.UTC) }
	return &manifestationFixture{svc: svc, store: store, uploads: uploads, metrics: metrics}
}

func validInput() CreateManifestationInput {
	return CreateManifestationInput{
		Kind:            "Reclamação",
		Subject:         "  Buraco na via  ",
		DescriptionText: "Buraco grande na quadra 10.",
		ContactName:     "Ana",
		ContactEmail:    "ana@exemplo.com",
		UserAgent:       "go-test",
	}
}

func TestCreateManifestationTextOnly(t *testing.T) {
	f := newManifestationFixture(t, draft.RuleSetRelaxed, 1<<20)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	assert.Regexp(t, protoExpr, created.Protocol)
	assert.True(t, strings.HasPrefix(created.Protocol, "DF-20260506-"))
	assert.Equal(t, "2026-05-06T14:15:16Z", created.CreatedAt)
	assert.Equal(t, 10, created.InitialResponseSLADays)

	m, err := f.svc.Get(ctx, strings.ToLower(created.Protocol))
	require.NoError(t, err)
	assert.Equal(t, models.KindComplaint, m.Kind)
	assert.Equal(t, "Buraco na via", m.Subject)
	assert.Equal(t, models.StatusReceived, m.Status)
	assert.Equal(t, "web", m.Channel)
	assert.Equal(t, "ana@exemplo.com", m.ContactEmail)
	assert.Empty(t, m.Attachments)
	assert.Equal(t, int64(1), f.metrics.Collector().GetCounterValue("manifestations_created_total"))
}

func TestValidateNormalizesKind(t *testing.T) {
	f := newManifestationFixture(t, draft.RuleSetRelaxed, 1<<20)
	cases := []struct {
		in   string
		want models.Kind
	}{
		{"Reclamação", models.KindComplaint},
		{" DENÚNCIA ", models.KindReport},
		{"Sugestão", models.KindSuggestion},
		{"elogio", models.KindCompliment},
		{"Solicitação", models.KindRequest},
	}
	for _, tc := range cases {
		input := validInput()
		input.Kind = tc.in
		kind, err := f.svc.validate(trimInput(input))
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, kind, tc.in)
	}

	input := validInput()
	input.Kind = "protesto"
	_, err := f.svc.validate(input)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestCreateManifestationWithImage(t *testing.T) {
	f := newManifestationFixture(t, draft.RuleSetRelaxed, 1<<20)
	ctx := context.Background()

	in := validInput()
	in.DescriptionText = ""
	in.ImageAlt = "Foto do buraco"
	in.Image = &FileUpload{Filename: "../minha foto.png", Size: int64(len(pngBytes)), Reader: bytes.NewReader(pngBytes)}

	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	m, err := f.svc.Get(ctx, created.Protocol)
	require.NoError(t, err)
	require.Len(t, m.Attachments, 1)
	a := m.Attachments[0]
	assert.Equal(t, "image_file-minha_foto.png", a.Filename)
	assert.Equal(t, "image/png", a.ContentType)
	assert.Equal(t, int64(len(pngBytes)), a.Bytes)
	assert.Equal(t, "Foto do buraco", a.AccessibilityText)
	assert.Len(t, a.SHA256, 64)
	assert.Equal(t, "/api/manifestations/"+created.Protocol+"/files/image_file-minha_foto.png", a.DownloadURL)

	file, err := f.svc.OpenAttachment(ctx, created.Protocol, "../../"+a.Filename)
	require.NoError(t, err)
	defer file.File.Close()
	data, err := io.ReadAll(file.File)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, int64(len(pngBytes)), file.Size)
}

func TestCreateManifestationValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateManifestationInput)
		message string
	}{
		{"unknown kind", func(in *CreateManifestationInput) { in.Kind = "protesto" }, "Tipo de manifestação inválido"},
		{"short subject", func(in *CreateManifestationInput) { in.Subject = "ab" }, "entre 3 e 120"},
		{"long alt", func(in *CreateManifestationInput) { in.ImageAlt = strings.Repeat("a", 401) }, "image_alt"},
		{"bad email", func(in *CreateManifestationInput) { in.ContactEmail = "ana@" }, "E-mail de contato inválido"},
		{"no narrative", func(in *CreateManifestationInput) { in.DescriptionText = "  " }, "Envie um relato em texto"},
		{"image without alt", func(in *CreateManifestationInput) {
			in.Image = &FileUpload{Filename: "a.png", Reader: bytes.NewReader(pngBytes)}
		}, "Imagem anexada requer texto alternativo"},
		{"audio without transcript", func(in *CreateManifestationInput) {
			in.Audio = &FileUpload{Filename: "a.mp3", Reader: bytes.NewReader(mp3Bytes)}
		}, "Audio anexado requer transcrição"},
		{"video without description", func(in *CreateManifestationInput) {
			in.Video = &FileUpload{Filename: "a.mp4", Reader: strings.NewReader("x")}
		}, "Video anexado requer descrição"},
		{"image is text", func(in *CreateManifestationInput) {
			in.ImageAlt = "foto"
			in.Image = &FileUpload{Filename: "a.png", Reader: strings.NewReader("isto não é uma imagem")}
		}, "não parece ser uma imagem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManifestationFixture(t, draft.RuleSetRelaxed, 1<<20)
			in := validInput()
			tt.mutate(&in)

			_, err := f.svc.Create(context.Background(), in)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidationError(err), err.Error())
			appErr, _ := apperrors.AsAppError(err)
			assert.Contains(t, appErr.Message, tt.message)

			entries, _ := os.ReadDir(f.uploads)
			assert.Empty(t, entries)
		})
	}
}

func TestCreateManifestationTooLarge(t *testing.T) {
	f := newManifestationFixture(t, draft.RuleSetRelaxed, 1<<20)
	big := append(append([]byte(nil), pngBytes...), bytes.Repeat([]byte{1}, 1<<20)...)

	in := validInput()
	in.ImageAlt = "foto"
	in.Image = &FileUpload{Filename: "grande.png", Size: -1, Reader: bytes.NewReader(big)}

	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apperrors.IsTooLargeError(err))
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, "Arquivo muito grande. Limite: 1MB.", appErr.Message)

	entries, _ := os.ReadDir(f.uploads)
	assert.Empty(t, entries)

	in.Image = &FileUpload{Filename: "grande.png", Size: int64(len(big)), Reader: bytes.NewReader(big)}
	_, err = f.svc.Create(context.Background(), in)
	assert.True(t, apperrors.IsTooLargeError(err))
}

func TestCreateManifestationStrictIdentification(t *testing.T) {
	f := newManifestationFixture(t, draft.RuleSetStrict, 1<<20)
	ctx := context.Background()

	in := validInput()
	in.Kind = "elogio"
	in.Anonymous = true
	_, err := f.svc.Create(ctx, in)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))

	in.Anonymous = false
	in.ContactEmail = ""
	_, err = f.svc.Create(ctx, in)
	require.Error(t, err)
	appErr, _ := apperrors.AsAppError(err)
	assert.Contains(t, appErr.Message, "contact_email")

	in.ContactEmail = "ana@exemplo.com"
	_, err = f.svc.Create(ctx, in)
	assert.NoError(t, err)

	complaint := validInput()
	complaint.Anonymous = true
	_, err = f.svc.Create(ctx, complaint)
	assert.NoError(t, err)
}

func TestAnonymousDropsContact(t *testing.T) {
	f := newManifestationFixture(t, draft.RuleSetRelaxed, 1<<20)
	ctx := context.Background()

	in := validInput()
	in.Anonymous = true
	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	m, err := f.svc.Get(ctx, created.Protocol)
	require.NoError(t, err)
	assert.True(t, m.Anonymous)
	assert.Empty(t, m.ContactName)
	assert.Empty(t, m.ContactEmail)
}

func TestGetAndOpenNotFound(t *testing.T) {
	f := newManifestationFixture(t, draft.RuleSetRelaxed, 1<<20)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "DF-20260101-00000000")
	assert.True(t, apperrors.IsNotFoundError(err))

	created, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = f.svc.OpenAttachment(ctx, created.Protocol, "nada.png")
	assert.True(t, apperrors.IsNotFoundError(err))
}

type failingStore struct{ ManifestationStore }

func (failingStore) CreateManifestation(context.Context, *models.Manifestation) error {
	return errors.New("disk full")
}

func TestCreateRollsBackBlobsWhenInsertFails(t *testing.T) {
	uploads := t.TempDir()
	blobs, err := storage.NewBlobStorage(uploads)
	require.NoError(t, err)
	svc := NewManifestationService(failingStore{}, blobs, ManifestationOptions{MaxFileBytes: 1 << 20}, testMetrics(), utils.NewNopLogger())

	in := validInput()
	in.AudioTranscript = "Gravação do barulho"
	in.Audio = &FileUpload{Filename: "som.mp3", Reader: bytes.NewReader(mp3Bytes)}

	_, err = svc.Create(context.Background(), in)
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeError, appErr.Type)

	entries, _ := os.ReadDir(uploads)
	assert.Empty(t, entries)
}
