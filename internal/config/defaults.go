package config

const (
	PreferLocal = "local"
	PreferCloud = "cloud"

	BackendUpstash       = "upstash"
	BackendElasticsearch = "elasticsearch"
	BackendSQLite        = "sqlite"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Providers: ProvidersConfig{
			Preference:          PreferCloud,
			TimeoutSeconds:      9,
			ProbeTimeoutSeconds: 2,
			Local: LocalProviderConfig{
				Kind:  "ollama",
				Model: "llama3.2",
			},
			Cloud: CloudProviderConfig{
				Kind: "groq",
			},
		},
		Generation: GenerationConfig{
			Enhancement: StageOptions{Temperature: 0.3, MaxTokens: 150},
			Formatting:  StageOptions{Temperature: 0.7, MaxTokens: 600},
		},
		Retrieval: RetrievalConfig{
			Backend: BackendUpstash,
			TopK:    5,
			Elasticsearch: ElasticsearchConfig{
				Index: "profile-chunks",
			},
		},
		Store: StoreConfig{
			Enabled: true,
			DBPath:  "~/.digitaltwin/twin.db",
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:    180,
			ChunkOverlap: 20,
		},
		Cache: CacheConfig{
			Enabled:    false,
			Address:    "localhost:6379",
			TTLSeconds: 3600,
		},
		Security: SecurityConfig{
			MaxQuestionLength: 500,
			BlockPatterns:     defaultBlockPatterns(),
			RedactPatterns:    defaultRedactPatterns(),
		},
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       3000,
			CORSOrigin: "*",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "http://localhost:14268/api/traces",
			ServiceName: "digitaltwin",
		},
	}
}

func defaultBlockPatterns() []string {
	return []string{
		`(?i)(?:system|admin|root|sudo)\s*:`,
		`(?i)<script`,
		`(?i)javascript:`,
		`(?i)data:text/html`,
		`(?i)\b(?:exec|eval|spawn)\s*\(`,
		`(?i)\b(?:delete|drop|truncate)\s+(?:table|from|database)\b`,
		`(?i)ignore\s+(?:all\s+)?(?:previous|prior|above)\s+instructions`,
		`\.\.[/\\]`,
	}
}

func defaultRedactPatterns() []string {
	return []string{
		`(?i)system prompt|internal|confidential|api key|token|password`,
	}
}
