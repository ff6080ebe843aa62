package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig   `yaml:"server"`
	Storage      StorageConfig  `yaml:"storage"`
	RAG          RAGConfig      `yaml:"rag"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Remote       RemoteConfig   `yaml:"remote"`
	Database     DatabaseConfig `yaml:"database"`
	Log          LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" validate:"gt=0"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	UploadFolder string   `yaml:"upload_folder" validate:"required"`
	IndexPath    string   `yaml:"index_path" validate:"required"`
	Collection   string   `yaml:"collection" validate:"required"`
	KeepVersions int      `yaml:"keep_versions" validate:"gte=1"`
	Compress     bool     `yaml:"compress"`
	Extensions   []string `yaml:"extensions" validate:"min=1,dive,startswith=."`
	Recursive    bool     `yaml:"recursive"`
}

type RAGConfig struct {
	ChunkSize        int    `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap     int    `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	Splitter         string `yaml:"splitter" validate:"oneof=window recursive"`
	TopK             int    `yaml:"top_k" validate:"gt=0"`
	RefreshOnAsk     bool   `yaml:"refresh_on_ask"`
	EmbedConcurrency int    `yaml:"embed_concurrency" validate:"gte=0"`
}

type LLMConfig struct {
	Provider     string        `yaml:"provider"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model" validate:"required"`
	Key          string        `yaml:"key"`
	MaxNewTokens int           `yaml:"max_new_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

type RemoteConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type LogConfig struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool   `yaml:"console"`
}

// Default returns a config matching the service's out-of-the-box layout.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			MaxUploadBytes:  32 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			UploadFolder: "data",
			IndexPath:    "vectorstore",
			Collection:   "documents",
			KeepVersions: 2,
			Extensions:   []string{".pdf"},
		},
		RAG: RAGConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Splitter:     "window",
			TopK:         4,
		},
		EmbedLLM: LLMConfig{
			Provider: "huggingface",
			Model:    "sentence-transformers/all-MiniLM-L6-v2",
		},
		InferenceLLM: LLMConfig{
			Provider:     "hosted",
			BaseURL:      "https://api-inference.huggingface.co/models/google/flan-t5-base",
			Model:        "google/flan-t5-base",
			MaxNewTokens: 256,
			Timeout:      60 * time.Second,
		},
		Remote: RemoteConfig{
			Prefix: "vectorstore",
		},
		Log: LogConfig{
			Level:   "debug",
			Console: true,
		},
	}
}

// LoadConfig reads the YAML file at path on top of the defaults. ${VAR}
// references are expanded before parsing and RAG_* variables override the
// result. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.EmbedLLM.Provider {
	case "huggingface", "openai", "ollama":
	default:
		return fmt.Errorf("invalid config: unknown embed_llm provider %q", c.EmbedLLM.Provider)
	}
	switch c.InferenceLLM.Provider {
	case "hosted", "openai", "ollama":
	default:
		return fmt.Errorf("invalid config: unknown inference_llm provider %q", c.InferenceLLM.Provider)
	}
	if c.InferenceLLM.Provider == "hosted" && c.InferenceLLM.BaseURL == "" {
		return fmt.Errorf("invalid config: inference_llm.base_url is required for the hosted provider")
	}
	return nil
}

// Redacted returns a copy safe to log, with credentials masked.
func (c *Config) Redacted() Config {
	out := *c
	out.EmbedLLM.Key = mask(out.EmbedLLM.Key)
	out.InferenceLLM.Key = mask(out.InferenceLLM.Key)
	out.Database.DSN = mask(out.Database.DSN)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func (c *Config) normalize() {
	for i, ext := range c.Storage.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Storage.Extensions[i] = ext
	}
	c.Remote.Prefix = strings.Trim(c.Remote.Prefix, "/")
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("env %s: %w", key, err)
			}
			*dst = b
		}
		return nil
	}

	str("RAG_SERVER_ADDR", &cfg.Server.Addr)
	str("RAG_UPLOAD_FOLDER", &cfg.Storage.UploadFolder)
	str("RAG_INDEX_PATH", &cfg.Storage.IndexPath)
	str("RAG_EMBED_PROVIDER", &cfg.EmbedLLM.Provider)
	str("RAG_EMBED_MODEL", &cfg.EmbedLLM.Model)
	str("RAG_EMBED_BASE_URL", &cfg.EmbedLLM.BaseURL)
	str("RAG_EMBED_KEY", &cfg.EmbedLLM.Key)
	str("RAG_INFERENCE_PROVIDER", &cfg.InferenceLLM.Provider)
	str("RAG_INFERENCE_URL", &cfg.InferenceLLM.BaseURL)
	str("RAG_INFERENCE_MODEL", &cfg.InferenceLLM.Model)
	str("RAG_INFERENCE_KEY", &cfg.InferenceLLM.Key)
	str("RAG_S3_BUCKET", &cfg.Remote.Bucket)
	str("RAG_S3_PREFIX", &cfg.Remote.Prefix)
	str("RAG_S3_REGION", &cfg.Remote.Region)
	str("RAG_S3_ENDPOINT", &cfg.Remote.Endpoint)
	str("RAG_DATABASE_DSN", &cfg.Database.DSN)
	str("RAG_LOG_LEVEL", &cfg.Log.Level)

	if err := boolean("RAG_S3_ENABLED", &cfg.Remote.Enabled); err != nil {
		return err
	}
	if err := boolean("RAG_REFRESH_ON_ASK", &cfg.RAG.RefreshOnAsk); err != nil {
		return err
	}
	if v, ok := lookup("RAG_TOP_K"); ok {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env RAG_TOP_K: %w", err)
		}
		cfg.RAG.TopK = k
	}
	return nil
}
