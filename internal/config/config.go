// Package config loads iris settings from, in increasing precedence,
// built-in defaults, an optional YAML config file, the environment and
// explicit overrides (command line flags).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	Providers  = []string{"anthropic", "openai", "llama"}
	StoreKinds = []string{"json", "sqlite"}
	LogFormats = []string{"text", "json"}
)

type Config struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`

	Anthropic HostedConfig `mapstructure:"anthropic"`
	OpenAI    HostedConfig `mapstructure:"openai"`
	Llama     LlamaConfig  `mapstructure:"llama"`

	// RequestsPerMinute limits calls to hosted backends, 0 for no limit.
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`

	Agent AgentConfig `mapstructure:"agent"`
	Store StoreConfig `mapstructure:"store"`
	Media MediaConfig `mapstructure:"media"`
	Log   LogConfig   `mapstructure:"log"`
}

type HostedConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type LlamaConfig struct {
	Server string `mapstructure:"server"`
	Seed   int    `mapstructure:"seed"`
}

type AgentConfig struct {
	MaxTokens    int    `mapstructure:"max_tokens"`
	MaxTurns     int    `mapstructure:"max_turns"`
	Parallelism  int    `mapstructure:"parallelism"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

type StoreConfig struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
}

type MediaConfig struct {
	MaxSize      int `mapstructure:"max_size"`
	MaxDimension int `mapstructure:"max_dimension"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"provider":            "anthropic",
	"model":               "",
	"anthropic.api_key":   "",
	"anthropic.base_url":  "",
	"openai.api_key":      "",
	"openai.base_url":     "",
	"llama.server":        "http://localhost:8080",
	"llama.seed":          385480504,
	"requests_per_minute": 0,
	"http_timeout":        2 * time.Minute,
	"agent.max_tokens":    4096,
	"agent.max_turns":     10,
	"agent.parallelism":   4,
	"agent.system_prompt": "",
	"store.kind":          "json",
	"store.path":          "face_database.json",
	"media.max_size":      5 << 20,
	"media.max_dimension": 8000,
	"log.level":           "info",
	"log.format":          "text",
}

// Environment variables understood without the IRIS_ prefix.
var envAliases = map[string]string{
	"provider":          "CLAUDE_PROVIDER",
	"anthropic.api_key": "ANTHROPIC_API_KEY",
	"openai.api_key":    "OPENAI_API_KEY",
}

// Load reads the configuration. path names a YAML file; when empty, iris.yaml
// is looked for in the working directory and in $HOME/.config/iris, and a
// missing file is not an error. overrides are applied last, keyed like the
// config file ("agent.max_turns").
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix("IRIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		envKey := "IRIS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("iris")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "iris"))
		}
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.Store.Kind = strings.ToLower(cfg.Store.Kind)
	return &cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if !slices.Contains(Providers, c.Provider) {
		return fmt.Errorf("unknown provider %q, expected one of %s", c.Provider, strings.Join(Providers, ", "))
	}
	if !slices.Contains(StoreKinds, c.Store.Kind) {
		return fmt.Errorf("unknown store kind %q, expected one of %s", c.Store.Kind, strings.Join(StoreKinds, ", "))
	}
	if !slices.Contains(LogFormats, c.Log.Format) {
		return fmt.Errorf("unknown log format %q, expected one of %s", c.Log.Format, strings.Join(LogFormats, ", "))
	}
	if c.Store.Path == "" {
		return errors.New("store.path must be set")
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be positive, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.MaxTokens <= 0 {
		return fmt.Errorf("agent.max_tokens must be positive, got %d", c.Agent.MaxTokens)
	}
	if c.Provider == "llama" && c.Llama.Server == "" {
		return errors.New("llama.server must be set for the llama provider")
	}
	return nil
}

// APIKey returns the key for the selected hosted provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case "anthropic":
		return c.Anthropic.APIKey
	case "openai":
		return c.OpenAI.APIKey
	}
	return ""
}
