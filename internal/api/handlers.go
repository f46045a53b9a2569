// internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/participadf/ouvidoria/internal/models"
	"github.com/participadf/ouvidoria/internal/services"
	"github.com/participadf/ouvidoria/internal/utils"
)

// ChatService runs IZA turns.
type ChatService interface {
	HandleTurn(ctx context.Context, req models.TurnRequest) (*models.TurnResult, error)
}

// GeneratorProbe reports generator health.
type GeneratorProbe interface {
	Health(ctx context.Context) services.HealthStatus
}

// ManifestationAPI is the manifestation intake surface.
type ManifestationAPI interface {
	Create(ctx context.Context, in services.CreateManifestationInput) (*models.CreatedManifestation, error)
	Get(ctx context.Context, protocol string) (*models.Manifestation, error)
	OpenAttachment(ctx context.Context, protocol, filename string) (*services.AttachmentFile, error)
}

// ReadinessChecker probes the dependencies the service needs to accept work.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// StatsReporter summarizes generator usage and intake volume.
type StatsReporter interface {
	Snapshot(ctx context.Context) (*services.ServiceStats, error)
}

// Handler serves the HTTP API.
type Handler struct {
	Iza            ChatService
	Generator      GeneratorProbe
	Manifestations ManifestationAPI
	Readiness      ReadinessChecker
	Stats          StatsReporter
	WebSockets     *WebSocketManager
	Metrics        *utils.APIMetrics
	Response       *ResponseHelper
	Logger         *utils.Logger
	RuleSet        string

	upgrader websocket.Upgrader
}

// manifestationForm is the multipart submission. Files are read separately.
type manifestationForm struct {
	Kind             string `form:"kind" binding:"required"`
	Subject          string `form:"subject" binding:"required"`
	SubjectDetail    string `form:"subject_detail"`
	DescriptionText  string `form:"description_text"`
	Anonymous        string `form:"anonymous"`
	ContactName      string `form:"contact_name"`
	ContactEmail     string `form:"contact_email"`
	ContactPhone     string `form:"contact_phone"`
	ImageAlt         string `form:"image_alt"`
	AudioTranscript  string `form:"audio_transcript"`
	VideoDescription string `form:"video_description"`
}

// IzaChat runs one assistant turn.
func (h *Handler) IzaChat(c *gin.Context) {
	var req models.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isBodyTooLarge(err) {
			h.Response.TooLarge(c, "Conversa muito longa para uma única requisição.")
			return
		}
		h.Response.BadRequest(c, "Corpo da requisição inválido: esperado {messages, draft}.", err.Error())
		return
	}

	result, err := h.Iza.HandleTurn(c.Request.Context(), req)
	if err != nil {
		h.Response.FromError(c, err, resourceGenerator)
		return
	}
	h.Response.OK(c, result)
}

// izaHealthResponse is the generator status plus the completeness policy in force.
type izaHealthResponse struct {
	services.HealthStatus
	RuleSet string `json:"ruleset,omitempty"`
}

// IzaHealth reports generator reachability. It always answers 200.
func (h *Handler) IzaHealth(c *gin.Context) {
	h.Response.OK(c, izaHealthResponse{
		HealthStatus: h.Generator.Health(c.Request.Context()),
		RuleSet:      h.RuleSet,
	})
}

// IzaWebSocket upgrades to the chat socket.
func (h *Handler) IzaWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.Logger.Debug("websocket upgrade failed", map[string]interface{}{
			"remote": c.ClientIP(),
			"error":  err.Error(),
		})
		return
	}

	client := h.WebSockets.Register(conn, c.ClientIP())
	defer h.WebSockets.Unregister(client)
	client.Serve(c.Request.Context(), h.Iza.HandleTurn)
}

// Health is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	h.Response.OK(c, gin.H{"ok": true})
}

// Ready probes the record store and the generator.
func (h *Handler) Ready(c *gin.Context) {
	if h.Readiness == nil {
		h.Response.OK(c, gin.H{"ok": true})
		return
	}
	if err := h.Readiness.Ready(c.Request.Context()); err != nil {
		h.Response.Unavailable(c, ErrorServiceUnavailable, "Serviço indisponível: "+err.Error())
		return
	}
	h.Response.OK(c, gin.H{"ok": true})
}

// GetMetrics returns the in-process metrics snapshot.
func (h *Handler) GetMetrics(c *gin.Context) {
	snapshot := h.Metrics.Collector().GetMetrics()
	snapshot["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	h.Response.OK(c, snapshot)
}

// GetStats reports generator usage and manifestation counts by status.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.Stats.Snapshot(c.Request.Context())
	if err != nil {
		h.Logger.Error("failed to build stats", map[string]interface{}{"error": err.Error()})
		h.Response.InternalError(c, "Não foi possível obter as estatísticas.")
		return
	}
	h.Response.OK(c, stats)
}

// CreateManifestation accepts the multipart submission.
func (h *Handler) CreateManifestation(c *gin.Context) {
	var form manifestationForm
	if err := c.ShouldBind(&form); err != nil {
		if isBodyTooLarge(err) {
			h.Response.TooLarge(c, "Envio muito grande.")
			return
		}
		h.Response.Error(c, http.StatusUnprocessableEntity, ErrorValidation,
			"Campos obrigatórios ausentes ou inválidos: informe kind e subject.", err.Error())
		return
	}

	in := services.CreateManifestationInput{
		Kind:             form.Kind,
		Subject:          form.Subject,
		SubjectDetail:    form.SubjectDetail,
		DescriptionText:  form.DescriptionText,
		Anonymous:        parseFormBool(form.Anonymous),
		ContactName:      form.ContactName,
		ContactEmail:     form.ContactEmail,
		ContactPhone:     form.ContactPhone,
		ImageAlt:         form.ImageAlt,
		AudioTranscript:  form.AudioTranscript,
		VideoDescription: form.VideoDescription,
		Channel:          "web",
		UserAgent:        c.Request.UserAgent(),
	}

	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	uploads := []struct {
		field string
		slot  **services.FileUpload
	}{
		{models.AttachmentImage, &in.Image},
		{models.AttachmentAudio, &in.Audio},
		{models.AttachmentVideo, &in.Video},
	}
	for _, u := range uploads {
		field, slot := u.field, u.slot
		header, err := c.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			continue
		}
		if err == nil && header.Filename == "" && header.Size == 0 {
			continue
		}
		if err != nil {
			h.Response.BadRequest(c, fmt.Sprintf("Não foi possível ler o arquivo %s.", field), err.Error())
			return
		}
		f, err := header.Open()
		if err != nil {
			h.Response.BadRequest(c, fmt.Sprintf("Não foi possível ler o arquivo %s.", field), err.Error())
			return
		}
		opened = append(opened, f)
		*slot = &services.FileUpload{Filename: header.Filename, Size: header.Size, Reader: f}
	}

	created, err := h.Manifestations.Create(c.Request.Context(), in)
	if err != nil {
		h.Response.FromError(c, err, resourceManifestation)
		return
	}
	h.Response.Created(c, created)
}

// GetManifestation returns a record with its attachments.
func (h *Handler) GetManifestation(c *gin.Context) {
	m, err := h.Manifestations.Get(c.Request.Context(), c.Param("protocol"))
	if err != nil {
		h.Response.FromError(c, err, resourceManifestation)
		return
	}
	h.Response.OK(c, m)
}

// DownloadAttachment streams one stored attachment.
func (h *Handler) DownloadAttachment(c *gin.Context) {
	file, err := h.Manifestations.OpenAttachment(c.Request.Context(), c.Param("protocol"), c.Param("filename"))
	if err != nil {
		h.Response.FromError(c, err, resourceFile)
		return
	}
	defer file.File.Close()

	name := file.Attachment.Filename
	c.Header("Content-Type", file.Attachment.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("X-Content-Type-Options", "nosniff")
	http.ServeContent(c.Writer, c.Request, name, file.ModTime, file.File)
}

func parseFormBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes", "sim":
		return true
	}
	return false
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
