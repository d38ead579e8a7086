package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Specification is the full service configuration. Environment names
// are the literal variables from the deployment surface (no prefix).
type Specification struct {
	Port     int    `yaml:"port" envconfig:"PORT"`
	LogLevel string `yaml:"logLevel" envconfig:"LOG_LEVEL"`

	LLMProvider string `yaml:"llmProvider" envconfig:"LLM_PROVIDER"`
	OllamaHost  string `yaml:"ollamaHost" envconfig:"OLLAMA_HOST"`
	ModelName   string `yaml:"modelName" envconfig:"MODEL_NAME"`
	EmbedModel  string `yaml:"embedModel" envconfig:"EMBED_MODEL"`
	EmbedDim    int    `yaml:"embedDim" envconfig:"EMBED_DIM"`

	GeminiAPIKey    string `yaml:"geminiApiKey" envconfig:"GEMINI_API_KEY"`
	GeminiProjectID string `yaml:"geminiProjectID" envconfig:"GEMINI_PROJECT_ID"`
	GeminiLocation  string `yaml:"geminiLocation" envconfig:"GEMINI_LOCATION"`

	TranslatorAPIURL string `yaml:"translatorApiUrl" envconfig:"TRANSLATOR_API_URL"`

	VectorBackend string `yaml:"vectorBackend" envconfig:"VECTOR_BACKEND"`
	ChromaPath    string `yaml:"chromaPath" envconfig:"CHROMA_PATH"`
	DatabaseURL   string `yaml:"database" envconfig:"DB_URL"`

	SessionTTLSeconds int `yaml:"sessionTTLSeconds" envconfig:"SESSION_TTL_SECONDS"`
	MaxTurns          int `yaml:"maxTurns" envconfig:"MAX_TURNS"`

	KnowledgeRoot string `yaml:"knowledgeRoot" envconfig:"KNOWLEDGE_ROOT"`
	ChunkSize     int    `yaml:"chunkSize" envconfig:"CHUNK_SIZE"`
	ChunkOverlap  int    `yaml:"chunkOverlap" envconfig:"CHUNK_OVERLAP"`

	flags *pflag.FlagSet `ignored:"true"`
}

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	path := configPath
	if path == "" {
		if v := os.Getenv("CORA_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/cora.yaml",
				"config/config.yaml",
				"./cora.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process("", &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if cfg.VectorBackend == "postgres" && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Specification{}, fmt.Errorf("DB_URL is required with VECTOR_BACKEND=postgres")
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv("CORA_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv("CORA_CONFIG", parts[1])
			}
		}
	}

	fs.Int("port", c.Port, "API server port")
	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")

	fs.String("llm-provider", c.LLMProvider, "LLM provider (ollama, gemini, stub)")
	fs.String("ollama-host", c.OllamaHost, "Ollama base URL")
	fs.String("model-name", c.ModelName, "Default generation model")
	fs.String("embed-model", c.EmbedModel, "Embedding model")
	fs.Int("embed-dim", c.EmbedDim, "Embedding dimensionality")

	fs.String("gemini-api-key", c.GeminiAPIKey, "Gemini API key")
	fs.String("gemini-project-id", c.GeminiProjectID, "Gemini project ID (Vertex)")
	fs.String("gemini-location", c.GeminiLocation, "Gemini location/region (Vertex)")

	fs.String("translator-api-url", c.TranslatorAPIURL, "Translator service endpoint")

	fs.String("vector-backend", c.VectorBackend, "Vector store backend (sqlite, postgres)")
	fs.String("chroma-path", c.ChromaPath, "Vector store directory (sqlite backend)")
	fs.String("db-url", c.DatabaseURL, "Database URL (postgres backend)")

	fs.Int("session-ttl-seconds", c.SessionTTLSeconds, "Session expiry in seconds")
	fs.Int("max-turns", c.MaxTurns, "Prompt history cap (user/assistant pairs)")

	fs.String("knowledge-root", c.KnowledgeRoot, "Path to the knowledge source tree")
	fs.Int("chunk-size", c.ChunkSize, "Document chunk size (characters)")
	fs.Int("chunk-overlap", c.ChunkOverlap, "Document chunk overlap (characters)")

	// Used later for usage/help
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}

	setInt("port", &c.Port)
	setStr("log-level", &c.LogLevel)

	setStr("llm-provider", &c.LLMProvider)
	setStr("ollama-host", &c.OllamaHost)
	setStr("model-name", &c.ModelName)
	setStr("embed-model", &c.EmbedModel)
	setInt("embed-dim", &c.EmbedDim)

	setStr("gemini-api-key", &c.GeminiAPIKey)
	setStr("gemini-project-id", &c.GeminiProjectID)
	setStr("gemini-location", &c.GeminiLocation)

	setStr("translator-api-url", &c.TranslatorAPIURL)

	setStr("vector-backend", &c.VectorBackend)
	setStr("chroma-path", &c.ChromaPath)
	setStr("db-url", &c.DatabaseURL)

	setInt("session-ttl-seconds", &c.SessionTTLSeconds)
	setInt("max-turns", &c.MaxTurns)

	setStr("knowledge-root", &c.KnowledgeRoot)
	setInt("chunk-size", &c.ChunkSize)
	setInt("chunk-overlap", &c.ChunkOverlap)
}

func setDefaults(c *Specification) {
	c.Port = 8001
	c.LogLevel = "info"
	c.LLMProvider = "ollama"
	c.OllamaHost = "http://localhost:11434"
	c.ModelName = "qwen2.5:1.5b"
	c.EmbedDim = 768
	c.VectorBackend = "sqlite"
	c.ChromaPath = "./chroma"
	c.SessionTTLSeconds = 1800
	c.MaxTurns = 20
	c.KnowledgeRoot = "./knowledge"
	c.ChunkSize = 1000
	c.ChunkOverlap = 150
}
