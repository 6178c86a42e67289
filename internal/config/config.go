package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models cutline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Render RenderConfig `yaml:"render"`
	Output struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"output"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// RenderConfig describes the external render service and how it calls back.
type RenderConfig struct {
	// URL is the render submission endpoint.
	URL string `yaml:"url"`
	// APIKey is sent as a bearer token on submissions.
	APIKey string `yaml:"api_key"`
	// CallbackBaseURL is the externally reachable base of this server; the
	// per-job callback URL is derived from it.
	CallbackBaseURL string `yaml:"callback_base_url"`
	// CallbackSecret signs the short-lived token carried on callback URLs.
	// Empty disables callback verification.
	CallbackSecret string `yaml:"callback_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cutline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Render.URL != "" {
		if _, err := url.ParseRequestURI(c.Render.URL); err != nil {
			return fmt.Errorf("config.render.url: %w", err)
		}
	}
	if c.Render.CallbackBaseURL != "" {
		if _, err := url.ParseRequestURI(c.Render.CallbackBaseURL); err != nil {
			return fmt.Errorf("config.render.callback_base_url: %w", err)
		}
	}
	if c.Output.Width <= 0 || c.Output.Height <= 0 {
		return fmt.Errorf("config.output width and height must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cutline.yml")
}

// Default returns the built-in defaults: a local server, 1080p output, and no
// render service configured (submissions fail fast until one is set).
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8470"
	cfg.Server.BasePath = "/v1"
	cfg.Output.Width = 1920
	cfg.Output.Height = 1080
	cfg.Render.TimeoutSeconds = 15
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return &cfg
}

// GenerateDefault returns a commented starter cutline.yml.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8470
  base_path: /v1

render:
  url: ""            # render service submission endpoint
  api_key: ""
  callback_base_url: ""  # externally reachable base URL of this server
  callback_secret: ""    # signs callback tokens; empty disables verification
  timeout_seconds: 15

output:
  width: 1920
  height: 1080

log:
  level: info
  format: console

webhooks: []
`
