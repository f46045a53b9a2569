package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/participadf/ouvidoria/internal/config"
	"github.com/participadf/ouvidoria/internal/llm"
	"github.com/participadf/ouvidoria/internal/utils"
)

type stubProvider struct {
	models  []string
	listErr error
}

func (s *stubProvider) Initialize(llm.Config) error { return nil }

func (s *stubProvider) GetName() string { return "ollama" }

func (s *stubProvider) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Text: `{"assistant_message":"Olá! Como posso ajudar?","intent":"cumprimento","draft_patch":{}}`}, nil
}

func (s *stubProvider) ListModels(context.Context) ([]string, error) {
	return s.models, s.listErr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		AppName:      "Participa DF API",
		Port:         "0",
		DataDir:      dir,
		LogDir:       filepath.Join(dir, "logs"),
		DatabasePath: filepath.Join(dir, "participa.db"),
		UploadDir:    filepath.Join(dir, "uploads"),
		MaxFileMB:    1,
		SLADays:      10,
		CORSOrigins:  []string{"http://localhost:5173"},
		Generator: config.GeneratorConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "llama3.1:8b",
			Timeout:  5 * time.Second,
		},
		Iza: config.IzaConfig{
			HistoryLimit:    20,
			RuleSet:         "relaxed",
			RateLimitPerMin: 30,
		},
	}
}

func newTestApp(t *testing.T, p llm.Provider) *App {
	t.Helper()
	a, err := New(testConfig(t),
		WithProvider(p),
		WithLogger(utils.NewNopLogger()),
		WithMetrics(utils.NewAPIMetrics(utils.NewMetricsCollector(), utils.NewNopLogger())))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewWiresRoutes(t *testing.T) {
	a := newTestApp(t, &stubProvider{models: []string{"llama3.1:8b"}})

	req := httptest.NewRequest(http.MethodPost, "/api/iza/chat", strings.NewReader(`{"messages":[{"role":"user","content":"oi"}],"draft":{}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"assistant_message":"Olá! Como posso ajudar?"`)
	assert.Contains(t, w.Body.String(), `"intent":"cumprimento"`)
}

func TestStatsCountGeneratorCalls(t *testing.T) {
	a := newTestApp(t, &stubProvider{models: []string{"llama3.1:8b"}})

	req := httptest.NewRequest(http.MethodPost, "/api/iza/chat", strings.NewReader(`{"messages":[{"role":"user","content":"oi"}],"draft":{}}`))
	req.Header.Set("Content-Type", "application/json")
	a.Handler().ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"today_requests":1`)
	assert.Contains(t, w.Body.String(), `"manifestations_by_status":{}`)
}

func TestIzaHealthReportsActiveRuleSet(t *testing.T) {
	a := newTestApp(t, &stubProvider{models: []string{"llama3.1:8b"}})
	assert.Equal(t, "relaxed", a.Iza.Rules().Name)

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/iza/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ruleset":"relaxed"`)
	assert.Contains(t, w.Body.String(), `"model_available":true`)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.Provider = "nao-existe"
	_, err := New(cfg, WithLogger(utils.NewNopLogger()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrUnknownProvider))
}

func TestNewRejectsUnknownRuleSet(t *testing.T) {
	cfg := testConfig(t)
	cfg.Iza.RuleSet = "flexivel"
	_, err := New(cfg, WithProvider(&stubProvider{}), WithLogger(utils.NewNopLogger()))
	assert.Error(t, err)
}

func TestReady(t *testing.T) {
	a := newTestApp(t, &stubProvider{models: []string{"llama3.1:8b"}})
	assert.NoError(t, a.Ready(context.Background()))

	missing := newTestApp(t, &stubProvider{models: []string{"qwen2.5:7b"}})
	err := missing.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llama3.1:8b")

	down := newTestApp(t, &stubProvider{listErr: llm.ErrUnreachable})
	assert.Error(t, down.Ready(context.Background()))

	closed := newTestApp(t, &stubProvider{models: []string{"llama3.1:8b"}})
	require.NoError(t, closed.Store.Close())
	err = closed.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "banco de dados")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	a := newTestApp(t, &stubProvider{models: []string{"llama3.1:8b"}})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
