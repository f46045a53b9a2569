// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/participadf/ouvidoria/internal/utils"
)

// Config holds everything read from the environment at startup.
type Config struct {
	AppName   string
	Port      string
	DataDir   string
	LogDir    string
	DebugMode bool

	DatabasePath string
	UploadDir    string
	MaxFileMB    int
	SLADays      int
	CORSOrigins  []string

	Generator GeneratorConfig
	Iza       IzaConfig
}

// GeneratorConfig describes the language-model backend used by the assistant.
type GeneratorConfig struct {
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	TopP        float64
	NumCtx      int
	MaxTokens   int
	Timeout     time.Duration
}

// IzaConfig tunes the drafting assistant.
type IzaConfig struct {
	HistoryLimit    int
	RuleSet         string
	RulesFile       string
	RateLimitPerMin int
}

// MaxFileBytes is the per-attachment upload limit.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.MaxFileMB) * 1024 * 1024
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	provider := strings.ToLower(getEnv("GENERATOR_PROVIDER", "ollama"))
	baseURL := getEnv("GENERATOR_BASE_URL", "")
	if baseURL == "" && provider == "ollama" {
		baseURL = getEnv("OLLAMA_BASE_URL", "http://localhost:11434")
	}
	cfg := &Config{
		AppName:      getEnv("APP_NAME", "Participa DF API"),
		Port:         getEnv("PORT", "8000"),
		DataDir:      dataDir,
		LogDir:       getEnv("LOG_DIR", "logs"),
		DebugMode:    getEnvBool("DEBUG_MODE", false),
		DatabasePath: getEnv("DATABASE_PATH", filepath.Join(dataDir, "participa.db")),
		UploadDir:    getEnv("UPLOAD_DIR", filepath.Join(dataDir, "uploads")),
		MaxFileMB:    getEnvInt("MAX_FILE_MB", 15),
		SLADays:      getEnvInt("INITIAL_RESPONSE_SLA_DAYS", 10),
		CORSOrigins: getEnvList("CORS_ORIGINS", getEnv("ALLOWED_ORIGINS",
			"http://localhost:5173,http://127.0.0.1:5173")),
		Generator: GeneratorConfig{
			Provider:    provider,
			BaseURL:     strings.TrimRight(baseURL, "/"),
			Model:       getEnv("GENERATOR_MODEL", getEnv("OLLAMA_MODEL", "llama3.1:8b-instruct")),
			APIKey:      getEnv("GENERATOR_API_KEY", ""),
			Temperature: getEnvFloat("OLLAMA_TEMPERATURE", 0.2),
			TopP:        getEnvFloat("OLLAMA_TOP_P", 0.9),
			NumCtx:      getEnvInt("OLLAMA_NUM_CTX", 4096),
			MaxTokens:   getEnvInt("GENERATOR_MAX_TOKENS", 1024),
			Timeout:     getEnvDuration("GENERATOR_TIMEOUT", 60*time.Second),
		},
		Iza: IzaConfig{
			HistoryLimit:    getEnvInt("IZA_HISTORY_LIMIT", 20),
			RuleSet:         strings.ToLower(getEnv("IZA_RULESET", "relaxed")),
			RulesFile:       getEnv("IZA_RULES_FILE", ""),
			RateLimitPerMin: getEnvInt("IZA_RATE_LIMIT_PER_MIN", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("MAX_FILE_MB must be positive, got %d", c.MaxFileMB)
	}
	if c.Generator.Model == "" {
		return fmt.Errorf("generator model must not be empty")
	}
	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("GENERATOR_TIMEOUT must be positive")
	}
	if c.Iza.RulesFile == "" && c.Iza.RuleSet != "relaxed" && c.Iza.RuleSet != "strict" {
		return fmt.Errorf("IZA_RULESET must be relaxed or strict, got %q", c.Iza.RuleSet)
	}
	return nil
}

// EnsureDirs creates the writable directories the service needs.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.LogDir, c.UploadDir, filepath.Dir(c.DatabasePath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		warnInvalid(key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		warnInvalid(key, raw, defaultValue)
		return defaultValue
	}
	return v
}

// getEnvDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	warnInvalid(key, raw, defaultValue)
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func warnInvalid(key, raw string, fallback interface{}) {
	utils.GetLogger().Warn("invalid environment value, using default", map[string]interface{}{
		"key":     key,
		"value":   raw,
		"default": fallback,
	})
}
