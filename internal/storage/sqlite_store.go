// internal/storage/sqlite_store.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/participadf/ouvidoria/internal/models"
)

// ErrNotFound is returned when a protocol or attachment does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteStore persists manifestations and attachment metadata.
type SQLiteStore struct {
	db *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS manifestations (
	id                TEXT PRIMARY KEY,
	protocol          TEXT NOT NULL UNIQUE,
	created_at        TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'Recebido',
	kind              TEXT NOT NULL,
	subject           TEXT NOT NULL,
	subject_detail    TEXT NOT NULL DEFAULT '',
	description_text  TEXT NOT NULL DEFAULT '',
	anonymous         INTEGER NOT NULL DEFAULT 0,
	contact_name      TEXT NOT NULL DEFAULT '',
	contact_email     TEXT NOT NULL DEFAULT '',
	contact_phone     TEXT NOT NULL DEFAULT '',
	image_alt         TEXT NOT NULL DEFAULT '',
	audio_transcript  TEXT NOT NULL DEFAULT '',
	video_description TEXT NOT NULL DEFAULT '',
	channel           TEXT NOT NULL DEFAULT 'web',
	user_agent        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS attachments (
	id                 TEXT PRIMARY KEY,
	manifestation_id   TEXT NOT NULL REFERENCES manifestations(id) ON DELETE CASCADE,
	field              TEXT NOT NULL,
	filename           TEXT NOT NULL,
	content_type       TEXT NOT NULL DEFAULT 'application/octet-stream',
	bytes              INTEGER NOT NULL DEFAULT 0,
	sha256             TEXT NOT NULL DEFAULT '',
	accessibility_text TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	UNIQUE (manifestation_id, filename)
);

CREATE INDEX IF NOT EXISTS idx_attachments_manifestation ON attachments(manifestation_id);
`

type manifestationRow struct {
	ID               string `db:"id"`
	Protocol         string `db:"protocol"`
	CreatedAt        string `db:"created_at"`
	Status           string `db:"status"`
	Kind             string `db:"kind"`
	Subject          string `db:"subject"`
	SubjectDetail    string `db:"subject_detail"`
	DescriptionText  string `db:"description_text"`
	Anonymous        bool   `db:"anonymous"`
	ContactName      string `db:"contact_name"`
	ContactEmail     string `db:"contact_email"`
	ContactPhone     string `db:"contact_phone"`
	ImageAlt         string `db:"image_alt"`
	AudioTranscript  string `db:"audio_transcript"`
	VideoDescription string `db:"video_description"`
	Channel          string `db:"channel"`
	UserAgent        string `db:"user_agent"`
}

type attachmentRow struct {
	ID                string `db:"id"`
	ManifestationID   string `db:"manifestation_id"`
	Field             string `db:"field"`
	Filename          string `db:"filename"`
	ContentType       string `db:"content_type"`
	Bytes             int64  `db:"bytes"`
	SHA256            string `db:"sha256"`
	AccessibilityText string `db:"accessibility_text"`
	CreatedAt         string `db:"created_at"`
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables; it is safe to run repeatedly.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateManifestation inserts the record and its attachments in one transaction.
func (s *SQLiteStore) CreateManifestation(ctx context.Context, m *models.Manifestation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO manifestations (
			id, protocol, created_at, status, kind, subject, subject_detail, description_text,
			anonymous, contact_name, contact_email, contact_phone,
			image_alt, audio_transcript, video_description, channel, user_agent
		) VALUES (
			:id, :protocol, :created_at, :status, :kind, :subject, :subject_detail, :description_text,
			:anonymous, :contact_name, :contact_email, :contact_phone,
			:image_alt, :audio_transcript, :video_description, :channel, :user_agent
		)`, toManifestationRow(m))
	if err != nil {
		return fmt.Errorf("insert manifestation: %w", err)
	}

	for i := range m.Attachments {
		a := &m.Attachments[i]
		a.ManifestationID = m.ID
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO attachments (
				id, manifestation_id, field, filename, content_type, bytes, sha256, accessibility_text, created_at
			) VALUES (
				:id, :manifestation_id, :field, :filename, :content_type, :bytes, :sha256, :accessibility_text, :created_at
			)`, toAttachmentRow(a))
		if err != nil {
			return fmt.Errorf("insert attachment %s: %w", a.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByProtocol loads a manifestation with its attachments.
func (s *SQLiteStore) GetByProtocol(ctx context.Context, protocol string) (*models.Manifestation, error) {
	var row manifestationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM manifestations WHERE protocol = ?`, protocol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select manifestation: %w", err)
	}

	var rows []attachmentRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT * FROM attachments WHERE manifestation_id = ? ORDER BY created_at, field`, row.ID)
	if err != nil {
		return nil, fmt.Errorf("select attachments: %w", err)
	}

	m := row.toModel()
	m.Attachments = make([]models.Attachment, 0, len(rows))
	for _, r := range rows {
		m.Attachments = append(m.Attachments, r.toModel())
	}
	return m, nil
}

// GetAttachment finds one attachment of a protocol by its stored file name.
func (s *SQLiteStore) GetAttachment(ctx context.Context, protocol, filename string) (*models.Attachment, error) {
	var row attachmentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT a.* FROM attachments a
		JOIN manifestations m ON m.id = a.manifestation_id
		WHERE m.protocol = ? AND a.filename = ?`, protocol, filename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select attachment: %w", err)
	}
	a := row.toModel()
	return &a, nil
}

// CountByStatus reports how many manifestations are in each status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string `db:"status"`
		Total  int64  `db:"total"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS total FROM manifestations GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count manifestations: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}

func toManifestationRow(m *models.Manifestation) manifestationRow {
	return manifestationRow{
		ID:               m.ID,
		Protocol:         m.Protocol,
		CreatedAt:        m.CreatedAt.UTC().Format(time.RFC3339Nano),
		Status:           m.Status,
		Kind:             string(m.Kind),
		Subject:          m.Subject,
		SubjectDetail:    m.SubjectDetail,
		DescriptionText:  m.DescriptionText,
		Anonymous:        m.Anonymous,
		ContactName:      m.ContactName,
		ContactEmail:     m.ContactEmail,
		ContactPhone:     m.ContactPhone,
		ImageAlt:         m.ImageAlt,
		AudioTranscript:  m.AudioTranscript,
		VideoDescription: m.VideoDescription,
		Channel:          m.Channel,
		UserAgent:        m.UserAgent,
	}
}

func (r manifestationRow) toModel() *models.Manifestation {
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	return &models.Manifestation{
		ID:               r.ID,
		Protocol:         r.Protocol,
		CreatedAt:        created,
		Status:           r.Status,
		Kind:             models.Kind(r.Kind),
		Subject:          r.Subject,
		SubjectDetail:    r.SubjectDetail,
		DescriptionText:  r.DescriptionText,
		Anonymous:        r.Anonymous,
		ContactName:      r.ContactName,
		ContactEmail:     r.ContactEmail,
		ContactPhone:     r.ContactPhone,
		ImageAlt:         r.ImageAlt,
		AudioTranscript:  r.AudioTranscript,
		VideoDescription: r.VideoDescription,
		Channel:          r.Channel,
		UserAgent:        r.UserAgent,
	}
}

func toAttachmentRow(a *models.Attachment) attachmentRow {
	return attachmentRow{
		ID:                a.ID,
		ManifestationID:   a.ManifestationID,
		Field:             a.Field,
		Filename:          a.Filename,
		ContentType:       a.ContentType,
		Bytes:             a.Bytes,
		SHA256:            a.SHA256,
		AccessibilityText: a.AccessibilityText,
		CreatedAt:         a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r attachmentRow) toModel() models.Attachment {
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	return models.Attachment{
		ID:                r.ID,
		ManifestationID:   r.ManifestationID,
		Field:             r.Field,
		Filename:          r.Filename,
		ContentType:       r.ContentType,
		Bytes:             r.Bytes,
		SHA256:            r.SHA256,
		AccessibilityText: r.AccessibilityText,
		CreatedAt:         created,
	}
}
