package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/participadf/ouvidoria/internal/errors"
	"github.com/participadf/ouvidoria/internal/models"
	"github.com/participadf/ouvidoria/internal/services"
	"github.com/participadf/ouvidoria/internal/utils"
)

type fakeChat struct {
	mu       sync.Mutex
	err      error
	requests []models.TurnRequest
}

func (f *fakeChat) HandleTurn(_ context.Context, req models.TurnRequest) (*models.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.TurnResult{
		Model:                 "llama3.1:8b",
		AssistantMessage:      "Entendi. Onde fica o buraco?",
		Intent:                models.IntentInfrastructure,
		DraftPatch:            models.DraftPatch{},
		MissingRequiredFields: []string{"subject"},
	}, nil
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeProbe struct{}

func (fakeProbe) Health(context.Context) services.HealthStatus {
	return services.HealthStatus{OK: false, Reachable: true, Provider: "ollama", Model: "llama3.1:8b"}
}

type fakeReadiness struct{ err error }

func (f fakeReadiness) Ready(context.Context) error { return f.err }

type fakeStats struct{ err error }

func (f fakeStats) Snapshot(context.Context) (*services.ServiceStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.ServiceStats{
		Usage:                  services.UsageStats{TodayRequests: 4, MonthlyTokens: 900},
		ManifestationsByStatus: map[string]int64{models.StatusReceived: 2},
	}, nil
}

type fakeManifestations struct {
	mu       sync.Mutex
	inputs   []services.CreateManifestationInput
	payloads map[string][]byte
	err      error
	file     string
}

func (f *fakeManifestations) Create(_ context.Context, in services.CreateManifestationInput) (*models.CreatedManifestation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.payloads == nil {
		f.payloads = map[string][]byte{}
	}
	if in.Image != nil {
		data, _ := io.ReadAll(in.Image.Reader)
		f.payloads["image_file"] = data
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.CreatedManifestation{
		Protocol:               "DF-20260506-ABCDEF12",
		CreatedAt:              "2026-05-06T14:15:16Z",
		InitialResponseSLADays: 10,
	}, nil
}

func (f *fakeManifestations) Get(_ context.Context, protocol string) (*models.Manifestation, error) {
	if protocol != "DF-20260506-ABCDEF12" {
		return nil, apperrors.NewNotFoundError("Protocolo não encontrado", nil)
	}
	return &models.Manifestation{
		Protocol:     protocol,
		Kind:         models.KindComplaint,
		Subject:      "Buraco na via",
		ContactEmail: "ana@exemplo.com",
		Attachments:  []models.Attachment{},
	}, nil
}

func (f *fakeManifestations) OpenAttachment(_ context.Context, protocol, filename string) (*services.AttachmentFile, error) {
	if f.file == "" || filename != "image_file-foto.png" {
		return nil, apperrors.NewNotFoundError("Arquivo não encontrado", nil)
	}
	file, err := os.Open(f.file)
	if err != nil {
		return nil, err
	}
	info, _ := file.Stat()
	return &services.AttachmentFile{
		Attachment: &models.Attachment{Filename: filename, ContentType: "image/png"},
		File:       file,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
	}, nil
}

type testServer struct {
	router         *gin.Engine
	chat           *fakeChat
	manifestations *fakeManifestations
	metrics        *utils.APIMetrics
	ws             *WebSocketManager
}

func newTestServer(t *testing.T, mutate func(*RouterConfig)) *testServer {
	t.Helper()
	metrics := utils.NewAPIMetrics(utils.NewMetricsCollector(), utils.NewNopLogger())
	ts := &testServer{
		chat:           &fakeChat{},
		manifestations: &fakeManifestations{},
		metrics:        metrics,
		ws:             NewWebSocketManager(metrics, utils.NewNopLogger()),
	}
	cfg := RouterConfig{
		Iza:            ts.chat,
		Generator:      fakeProbe{},
		Manifestations: ts.manifestations,
		Readiness:      fakeReadiness{},
		WebSockets:     ts.ws,
		Metrics:        metrics,
		Logger:         utils.NewNopLogger(),
		CORSOrigins:    []string{"http://localhost:5173"},
		MaxFileBytes:   1 << 20,
		ChatRateLimit:  100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ts.router = SetupRouter(cfg)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NotNil(t, resp.Error, w.Body.String())
	return resp
}

func chatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/iza/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestIzaChatReturnsTurnResult(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(chatRequest(`{"messages":[{"role":"user","content":"Tem um buraco na rua"}],"draft":{"kind":"reclamacao"}}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "Entendi. Onde fica o buraco?", result.AssistantMessage)
	assert.Equal(t, models.IntentInfrastructure, result.Intent)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	require.Len(t, ts.chat.requests, 1)
	assert.Equal(t, "Tem um buraco na rua", ts.chat.requests[0].Messages[0].Content)
}

func TestIzaChatMalformedBody(t *testing.T) {
	ts := newTestServer(t, nil)

	req := chatRequest(`{"messages": "oi"`)
	req.Header.Set(requestIDHeader, "req-123")
	w := ts.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeEnvelope(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrorBadRequest, resp.Error.Code)
	assert.Equal(t, "req-123", resp.RequestID)
	assert.Empty(t, ts.chat.requests)
}

func TestIzaChatGeneratorFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unavailable", apperrors.NewUnavailableError("O gerador de texto não respondeu", nil), http.StatusServiceUnavailable, ErrorGeneratorUnavailable},
		{"upstream", apperrors.NewUpstreamError("O gerador de texto respondeu com erro (HTTP 500)", nil), http.StatusBadGateway, ErrorGeneratorUpstream},
		{"plain", io.ErrUnexpectedEOF, http.StatusInternalServerError, ErrorInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.chat.err = tt.err

			w := ts.do(chatRequest(`{"messages":[],"draft":{}}`))
			assert.Equal(t, tt.status, w.Code)
			resp := decodeEnvelope(t, w)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "unexpected EOF")
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, retryAfterSeconds, w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestIzaChatRateLimited(t *testing.T) {
	ts := newTestServer(t, func(cfg *RouterConfig) { cfg.ChatRateLimit = 2 })

	for i := 0; i < 2; i++ {
		w := ts.do(chatRequest(`{"messages":[],"draft":{}}`))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := ts.do(chatRequest(`{"messages":[],"draft":{}}`))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, ErrorRateLimitExceeded, decodeEnvelope(t, w).Error.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Len(t, ts.chat.requests, 2)
}

func TestIzaHealthAlwaysOK(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/iza/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status services.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.OK)
	assert.True(t, status.Reachable)
	assert.Equal(t, "ollama", status.Provider)
	assert.NotContains(t, w.Body.String(), `"ruleset"`)

	strict := newTestServer(t, func(cfg *RouterConfig) { cfg.RuleSet = "strict" })
	w = strict.do(httptest.NewRequest(http.MethodGet, "/api/iza/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ruleset":"strict"`)
	assert.Contains(t, w.Body.String(), `"provider":"ollama"`)
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Readiness = fakeReadiness{err: io.ErrClosedPipe}
	})
	w = down.do(httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrorServiceUnavailable, decodeEnvelope(t, w).Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot struct {
		Counters map[string]int64 `json:"counters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, int64(1), snapshot.Counters["api_requests_GET_/api/health"])
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, func(cfg *RouterConfig) { cfg.Stats = fakeStats{} })
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats services.ServiceStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.Usage.TodayRequests)
	assert.Equal(t, int64(2), stats.ManifestationsByStatus["Recebido"])

	broken := newTestServer(t, func(cfg *RouterConfig) { cfg.Stats = fakeStats{err: errors.New("database is closed")} })
	w = broken.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "database is closed")

	none := newTestServer(t, nil)
	w = none.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/iza/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := ts.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/iza/chat", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = ts.do(req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/nada", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorNotFound, decodeEnvelope(t, w).Error.Code)
}

func multipartRequest(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, data := range files {
		fw, err := mw.CreateFormFile(field, "foto.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/manifestations", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", "go-test")
	return req
}

func TestCreateManifestation(t *testing.T) {
	ts := newTestServer(t, nil)
	png := []byte("\x89PNG\r\n\x1a\nfake")

	w := ts.do(multipartRequest(t, map[string]string{
		"kind":             "reclamacao",
		"subject":          "Buraco na via",
		"description_text": "Buraco grande",
		"image_alt":        "Foto do buraco",
		"anonymous":        "on",
	}, map[string][]byte{"image_file": png}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"protocol":"DF-20260506-ABCDEF12","created_at":"2026-05-06T14:15:16Z","initial_response_sla_days":10}`, w.Body.String())

	require.Len(t, ts.manifestations.inputs, 1)
	in := ts.manifestations.inputs[0]
	assert.Equal(t, "reclamacao", in.Kind)
	assert.True(t, in.Anonymous)
	assert.Equal(t, "web", in.Channel)
	assert.Equal(t, "go-test", in.UserAgent)
	require.NotNil(t, in.Image)
	assert.Equal(t, "foto.png", in.Image.Filename)
	assert.Nil(t, in.Audio)
	assert.Nil(t, in.Video)
	assert.Equal(t, png, ts.manifestations.payloads["image_file"])
}

func TestCreateManifestationMissingRequiredField(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(multipartRequest(t, map[string]string{"subject": "Buraco"}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, ErrorValidation, decodeEnvelope(t, w).Error.Code)
	assert.Empty(t, ts.manifestations.inputs)
}

func TestCreateManifestationServiceErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.manifestations.err = apperrors.NewValidationError("Imagem anexada requer texto alternativo (image_alt).", nil)

	w := ts.do(multipartRequest(t, map[string]string{"kind": "sugestao", "subject": "Praça"}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decodeEnvelope(t, w)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "image_alt")

	ts.manifestations.err = apperrors.NewTooLargeError("Arquivo muito grande. Limite: 1MB.", nil)
	w = ts.do(multipartRequest(t, map[string]string{"kind": "sugestao", "subject": "Praça"}, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCreateManifestationBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, func(cfg *RouterConfig) { cfg.MaxFileBytes = 1 })

	big := bytes.Repeat([]byte{0}, 2*formOverhead)
	w := ts.do(multipartRequest(t, map[string]string{"kind": "sugestao", "subject": "Praça"},
		map[string][]byte{"image_file": big}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, ErrorPayloadTooLarge, decodeEnvelope(t, w).Error.Code)
	assert.Empty(t, ts.manifestations.inputs)
}

func TestGetManifestation(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/manifestations/DF-20260506-ABCDEF12", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subject":"Buraco na via"`)
	assert.NotContains(t, w.Body.String(), "ana@exemplo.com")

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/manifestations/DF-20260101-00000000", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorManifestationNotFound, decodeEnvelope(t, w).Error.Code)
}

func TestDownloadAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foto.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0644))
	ts := newTestServer(t, nil)
	ts.manifestations.file = path

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/manifestations/DF-20260506-ABCDEF12/files/image_file-foto.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="image_file-foto.png"`)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/manifestations/DF-20260506-ABCDEF12/files/outro.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorFileNotFound, decodeEnvelope(t, w).Error.Code)
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, v := rl.Allow("1.2.3.4", 2, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 1, v.Remaining)
	ok, _ = rl.Allow("1.2.3.4", 2, time.Minute)
	assert.True(t, ok)
	ok, _ = rl.Allow("1.2.3.4", 2, time.Minute)
	assert.False(t, ok)

	ok, _ = rl.Allow("5.6.7.8", 2, time.Minute)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = rl.Allow("1.2.3.4", 2, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 1, rl.Len())
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "Protocolo não encontrado", sanitizeErrorMessage("Protocolo não encontrado"))
	assert.Equal(t, "Ocorreu um erro interno.", sanitizeErrorMessage("invalid x-api-key header"))
}

func TestParseFormBool(t *testing.T) {
	for _, v := range []string{"true", "1", "on", "Sim"} {
		assert.True(t, parseFormBool(v), v)
	}
	for _, v := range []string{"", "false", "0", "nao"} {
		assert.False(t, parseFormBool(v), v)
	}
}
