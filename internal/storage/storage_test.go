package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/participadf/ouvidoria/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleManifestation() *models.Manifestation {
	created := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
	return &models.Manifestation{
		ID:              "6f1d3c1e-0000-4000-8000-000000000001",
		Protocol:        "DF-20260304-ABCDEF12",
		CreatedAt:       created,
		Status:          models.StatusReceived,
		Kind:            models.KindComplaint,
		Subject:         "Iluminação pública",
		SubjectDetail:   "Poste apagado",
		DescriptionText: "Poste apagado na quadra 10.",
		ContactName:     "Maria",
		ContactEmail:    "maria@exemplo.com",
		ImageAlt:        "Foto do poste",
		Channel:         "web",
		UserAgent:       "test-agent",
		Attachments: []models.Attachment{{
			ID:                "6f1d3c1e-0000-4000-8000-000000000002",
			Field:             models.AttachmentImage,
			Filename:          "image_file-poste.jpg",
			ContentType:       "image/jpeg",
			Bytes:             3,
			SHA256:            "abc",
			AccessibilityText: "Foto do poste",
			CreatedAt:         created,
		}},
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := sampleManifestation()

	require.NoError(t, s.CreateManifestation(ctx, m))

	got, err := s.GetByProtocol(ctx, m.Protocol)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, models.KindComplaint, got.Kind)
	assert.Equal(t, "maria@exemplo.com", got.ContactEmail)
	assert.Equal(t, "Foto do poste", got.ImageAlt)
	assert.False(t, got.Anonymous)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "image_file-poste.jpg", got.Attachments[0].Filename)
	assert.Equal(t, m.ID, got.Attachments[0].ManifestationID)

	a, err := s.GetAttachment(ctx, m.Protocol, "image_file-poste.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", a.ContentType)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.StatusReceived])
}

func TestSQLiteStoreNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetByProtocol(ctx, "DF-00000000-00000000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetAttachment(ctx, "DF-00000000-00000000", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreDuplicateProtocolRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateManifestation(ctx, sampleManifestation()))

	dup := sampleManifestation()
	dup.ID = "6f1d3c1e-0000-4000-8000-000000000003"
	dup.Attachments[0].ID = "6f1d3c1e-0000-4000-8000-000000000004"
	assert.Error(t, s.CreateManifestation(ctx, dup))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.StatusReceived])
}

func TestSQLiteStoreMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestBlobStorageSaveAndOpen(t *testing.T) {
	bs, err := NewBlobStorage(t.TempDir())
	require.NoError(t, err)

	payload := []byte("conteúdo da foto")
	info, err := bs.SaveBlob("DF-1", "image_file-foto.jpg", bytes.NewReader(payload), 1024)
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), info.SHA256)
	assert.Equal(t, int64(len(payload)), info.Size)
	assert.True(t, bs.DirExists("DF-1"))

	f, stat, err := bs.OpenBlob("DF-1", "image_file-foto.jpg")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, int64(len(payload)), stat.Size())
}

func TestBlobStorageLimit(t *testing.T) {
	root := t.TempDir()
	bs, err := NewBlobStorage(root)
	require.NoError(t, err)

	_, err = bs.SaveBlob("DF-1", "video_file-x.mp4", strings.NewReader(strings.Repeat("a", 11)), 10)
	assert.ErrorIs(t, err, ErrBlobTooLarge)

	entries, err := os.ReadDir(filepath.Join(root, "DF-1"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = bs.SaveBlob("DF-1", "video_file-x.mp4", strings.NewReader(strings.Repeat("a", 10)), 10)
	assert.NoError(t, err)
}

func TestBlobStorageRejectsTraversal(t *testing.T) {
	bs, err := NewBlobStorage(t.TempDir())
	require.NoError(t, err)

	_, err = bs.SaveBlob("DF-1", "../escape.txt", strings.NewReader("x"), 0)
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, _, err = bs.OpenBlob("..", "passwd")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, _, err = bs.OpenBlob("DF-1", "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, bs.DeleteDir("../x"), ErrInvalidPath)
}

func TestBlobStorageDeleteDir(t *testing.T) {
	bs, err := NewBlobStorage(t.TempDir())
	require.NoError(t, err)

	_, err = bs.SaveBlob("DF-2", "audio_file-a.mp3", strings.NewReader("x"), 0)
	require.NoError(t, err)
	require.NoError(t, bs.DeleteDir("DF-2"))
	assert.False(t, bs.DirExists("DF-2"))
	assert.NoError(t, bs.DeleteDir("DF-2"))
}

func TestBlobStorageConcurrentWrites(t *testing.T) {
	bs, err := NewBlobStorage(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bs.SaveBlob("DF-3", "image_file-a.png", strings.NewReader("same"), 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	f, _, err := bs.OpenBlob("DF-3", "image_file-a.png")
	require.NoError(t, err)
	defer f.Close()
	data, _ := io.ReadAll(f)
	assert.Equal(t, "same", string(data))
}

func TestRecordCacheExpiry(t *testing.T) {
	c := NewRecordCache[string](10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestRecordCacheEvictsLeastRecentlyRead(t *testing.T) {
	c := NewRecordCache[int](5, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	for i, k := range []string{"a", "b", "c", "d", "e"} {
		c.Set(k, i)
	}
	_, _ = c.Get("a")
	c.Set("f", 5)

	assert.Equal(t, 5, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
