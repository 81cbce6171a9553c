package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/ansuz/internal/envelope"
	"github.com/starford/ansuz/internal/linker"
	"github.com/starford/ansuz/internal/llm"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Vault   VaultConfig       `yaml:"vault"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Ollama  OllamaConfig      `yaml:"ollama"`
	Linking LinkingConfig     `yaml:"linking"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Ollama.Validate(); err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	if err := c.Linking.Validate(); err != nil {
		return fmt.Errorf("linking: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// OllamaConfig configures the model backend. Disabled runs without
// embedder or generator; scans then record failures and suggestions only
// use stored vectors.
type OllamaConfig struct {
	Disabled        bool          `yaml:"disabled"`
	Endpoint        string        `yaml:"endpoint"`
	EmbeddingModel  string        `yaml:"embedding_model"`
	GenerationModel string        `yaml:"generation_model"`
	Timeout         time.Duration `yaml:"timeout"`
	Temperature     float64       `yaml:"temperature"`
}

// Validate validates the Ollama configuration.
func (c *OllamaConfig) Validate() error {
	if c.Disabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required, is.URL),
		validation.Field(&c.EmbeddingModel, validation.Required),
		validation.Field(&c.GenerationModel, validation.Required),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(2.0)),
	)
}

// LinkingConfig holds the pipeline tunables.
type LinkingConfig struct {
	Threshold        float64 `yaml:"threshold"`
	MaxSuggestions   int     `yaml:"max_suggestions"`
	ContextChars     int     `yaml:"context_chars"`
	Rerank           bool    `yaml:"rerank"`
	CheckSuggestions bool    `yaml:"check_suggestions"`
	EmbedChars       int     `yaml:"embed_chars"`
	CacheEncoding    string  `yaml:"cache_encoding"`
}

// Validate validates the linking configuration.
func (c *LinkingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Threshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.MaxSuggestions, validation.Required, validation.Min(1)),
		validation.Field(&c.ContextChars, validation.Required, validation.Min(10)),
		validation.Field(&c.EmbedChars, validation.Required, validation.Min(100)),
		validation.Field(&c.CacheEncoding, validation.In(string(envelope.Binary), string(envelope.Text))),
	)
}

// Pipeline converts c into linker tunables.
func (c *LinkingConfig) Pipeline() linker.Config {
	enc := envelope.Binary
	if c.CacheEncoding != "" {
		enc = envelope.Encoding(c.CacheEncoding)
	}
	return linker.Config{
		Threshold:        c.Threshold,
		MaxSuggestions:   c.MaxSuggestions,
		ContextChars:     c.ContextChars,
		Rerank:           c.Rerank,
		CheckSuggestions: c.CheckSuggestions,
		EmbedChars:       c.EmbedChars,
		Encoding:         enc,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	pipeline := linker.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./ansuz.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Ollama: OllamaConfig{
			Endpoint:        llm.DefaultURL,
			EmbeddingModel:  llm.DefaultEmbeddingModel,
			GenerationModel: llm.DefaultGenerationModel,
			Timeout:         llm.DefaultTimeout,
			Temperature:     llm.DefaultTemperature,
		},
		Linking: LinkingConfig{
			Threshold:        pipeline.Threshold,
			MaxSuggestions:   pipeline.MaxSuggestions,
			ContextChars:     pipeline.ContextChars,
			Rerank:           pipeline.Rerank,
			CheckSuggestions: pipeline.CheckSuggestions,
			EmbedChars:       pipeline.EmbedChars,
			CacheEncoding:    string(pipeline.Encoding),
		},
	}
}
