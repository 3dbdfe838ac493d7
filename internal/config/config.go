package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for the digital twin service.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Providers  ProvidersConfig  `json:"providers"`
	Generation GenerationConfig `json:"generation"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Store      StoreConfig      `json:"store"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Interview  InterviewConfig  `json:"interview"`
	Cache      CacheConfig      `json:"cache"`
	Security   SecurityConfig   `json:"security"`
	Server     ServerConfig     `json:"server"`
	Telegram   TelegramConfig   `json:"telegram"`
	Metrics    MetricsConfig    `json:"metrics"`
	Tracing    TracingConfig    `json:"tracing"`
}

type GeneralConfig struct {
	LogLevel    string `json:"logLevel"`
	LogFile     string `json:"logFile,omitempty"`
	ProfilePath string `json:"profilePath,omitempty"` // default profile file for `ingest` and the watcher
}

// ProvidersConfig selects the local and cloud generation providers.
type ProvidersConfig struct {
	Preference          string              `json:"preference"` // "local" | "cloud"
	TimeoutSeconds      int                 `json:"timeoutSeconds"`
	ProbeTimeoutSeconds int                 `json:"probeTimeoutSeconds"`
	Local               LocalProviderConfig `json:"local"`
	Cloud               CloudProviderConfig `json:"cloud"`
}

type LocalProviderConfig struct {
	Kind    string `json:"kind"` // "ollama"
	APIBase string `json:"apiBase,omitempty"`
	Model   string `json:"model,omitempty"`
}

type CloudProviderConfig struct {
	Kind    string `json:"kind"` // "groq" | "openai" | "claude"
	APIBase string `json:"apiBase,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model,omitempty"`
}

type StageOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type GenerationConfig struct {
	Enhancement StageOptions `json:"enhancement"`
	Formatting  StageOptions `json:"formatting"`
}

type RetrievalConfig struct {
	Backend       string              `json:"backend"` // "upstash" | "elasticsearch" | "sqlite"
	TopK          int                 `json:"topK"`
	Upstash       UpstashConfig       `json:"upstash"`
	Elasticsearch ElasticsearchConfig `json:"elasticsearch"`
}

type UpstashConfig struct {
	URL   string `json:"url,omitempty"`
	Token string `json:"token,omitempty"`
}

type ElasticsearchConfig struct {
	Addresses []string `json:"addresses,omitempty"`
	Index     string   `json:"index"`
	Username  string   `json:"username,omitempty"`
	Password  string   `json:"password,omitempty"`
}

// StoreConfig configures the SQLite profile store and query log.
type StoreConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type KnowledgeConfig struct {
	ChunkSize    int  `json:"chunkSize"`    // words per chunk
	ChunkOverlap int  `json:"chunkOverlap"` // overlapping words
	Watch        bool `json:"watch"`
}

type InterviewConfig struct {
	ContextsFile string `json:"contextsFile,omitempty"` // YAML overrides for directive text
}

type CacheConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Password   string `json:"password,omitempty"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttlSeconds"`
}

type SecurityConfig struct {
	MaxQuestionLength int      `json:"maxQuestionLength"`
	BlockPatterns     []string `json:"blockPatterns"`
	RedactPatterns    []string `json:"redactPatterns"`
}

type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	CORSOrigin string `json:"corsOrigin"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token,omitempty"`
	AllowFrom FlexStringList `json:"allowFrom,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (Telegram chat IDs are often written as numbers).
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"` // Jaeger collector endpoint
	ServiceName string `json:"serviceName"`
}

// DefaultConfigDir returns the default config directory (~/.digitaltwin).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".digitaltwin"
	}
	return filepath.Join(home, ".digitaltwin")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads variables from .env and .env.local when present.
// Variables already set in the process environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env.local", ".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the config file at path. A missing file yields defaults
// with environment fallbacks applied.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults + env only
	case err != nil:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	default:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.ProfilePath = ExpandPath(cfg.General.ProfilePath)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Interview.ContextsFile = ExpandPath(cfg.Interview.ContextsFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills unset values from the well-known environment variables.
func ApplyEnv(cfg *Config) {
	if os.Getenv("USE_OLLAMA") == "true" {
		cfg.Providers.Preference = PreferLocal
	}
	setIfEmpty(&cfg.Providers.Local.APIBase, os.Getenv("OLLAMA_HOST"))
	setIfEmpty(&cfg.Providers.Local.Model, os.Getenv("OLLAMA_MODEL"))
	switch cfg.Providers.Cloud.Kind {
	case "openai":
		setIfEmpty(&cfg.Providers.Cloud.APIKey, os.Getenv("OPENAI_API_KEY"))
	case "claude":
		setIfEmpty(&cfg.Providers.Cloud.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
	default:
		setIfEmpty(&cfg.Providers.Cloud.APIKey, os.Getenv("GROQ_API_KEY"))
	}
	setIfEmpty(&cfg.Retrieval.Upstash.URL, os.Getenv("UPSTASH_VECTOR_REST_URL"))
	setIfEmpty(&cfg.Retrieval.Upstash.Token, os.Getenv("UPSTASH_VECTOR_REST_TOKEN"))
	if addr := os.Getenv("REDIS_URL"); addr != "" && !cfg.Cache.Enabled {
		cfg.Cache.Enabled = true
		cfg.Cache.Address = addr
	}
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = tok
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Providers.Preference {
	case PreferLocal, PreferCloud:
	default:
		errs = append(errs, "providers.preference must be one of: local, cloud")
	}
	if cfg.Providers.TimeoutSeconds < 1 || cfg.Providers.TimeoutSeconds > 120 {
		errs = append(errs, "providers.timeoutSeconds must be between 1 and 120")
	}
	if cfg.Providers.ProbeTimeoutSeconds < 1 || cfg.Providers.ProbeTimeoutSeconds > cfg.Providers.TimeoutSeconds {
		errs = append(errs, "providers.probeTimeoutSeconds must be between 1 and providers.timeoutSeconds")
	}
	if cfg.Providers.Local.Kind != "ollama" {
		errs = append(errs, "providers.local.kind must be: ollama")
	}
	switch cfg.Providers.Cloud.Kind {
	case "groq", "openai", "claude":
	default:
		errs = append(errs, "providers.cloud.kind must be one of: groq, openai, claude")
	}

	for name, st := range map[string]StageOptions{
		"enhancement": cfg.Generation.Enhancement,
		"formatting":  cfg.Generation.Formatting,
	} {
		if st.Temperature < 0 || st.Temperature > 2 {
			errs = append(errs, fmt.Sprintf("generation.%s.temperature must be between 0 and 2", name))
		}
		if st.MaxTokens < 1 || st.MaxTokens > 8192 {
			errs = append(errs, fmt.Sprintf("generation.%s.maxTokens must be between 1 and 8192", name))
		}
	}

	if cfg.Retrieval.TopK < 1 || cfg.Retrieval.TopK > 50 {
		errs = append(errs, "retrieval.topK must be between 1 and 50")
	}
	switch cfg.Retrieval.Backend {
	case BackendUpstash, BackendElasticsearch:
	case BackendSQLite:
		if !cfg.Store.Enabled {
			errs = append(errs, "retrieval.backend sqlite requires store.enabled")
		}
	default:
		errs = append(errs, "retrieval.backend must be one of: upstash, elasticsearch, sqlite")
	}
	if cfg.Retrieval.Backend == BackendElasticsearch && cfg.Retrieval.Elasticsearch.Index == "" {
		errs = append(errs, "retrieval.elasticsearch.index is required")
	}

	if cfg.Knowledge.ChunkSize < 16 {
		errs = append(errs, "knowledge.chunkSize must be >= 16")
	}
	if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be >= 0 and smaller than knowledge.chunkSize")
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.Address == "" {
			errs = append(errs, "cache.address is required when the cache is enabled")
		}
		if cfg.Cache.TTLSeconds < 1 {
			errs = append(errs, "cache.ttlSeconds must be >= 1")
		}
	}

	if cfg.Security.MaxQuestionLength < 1 {
		errs = append(errs, "security.maxQuestionLength must be >= 1")
	}
	for _, p := range append(append([]string{}, cfg.Security.BlockPatterns...), cfg.Security.RedactPatterns...) {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Sprintf("security: invalid pattern %q: %v", p, err))
		}
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
