package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models goalline.yml.
type Config struct {
	Bot struct {
		Token              string `yaml:"token"`
		APIBase            string `yaml:"api_base"`
		PollTimeout        int    `yaml:"poll_timeout"`
		SessionIdleMinutes int    `yaml:"session_idle_minutes"`
	} `yaml:"bot"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one event push target.
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or run with defaults via GOALLINE_BOT_TOKEN", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Bot.APIBase == "" {
		return fmt.Errorf("config.bot.api_base is required")
	}
	if !strings.HasPrefix(c.Bot.APIBase, "http://") && !strings.HasPrefix(c.Bot.APIBase, "https://") {
		return fmt.Errorf("config.bot.api_base must be an http(s) URL")
	}
	if c.Bot.PollTimeout < 0 || c.Bot.PollTimeout > 90 {
		return fmt.Errorf("config.bot.poll_timeout must be between 0 and 90 seconds")
	}
	if c.Bot.SessionIdleMinutes < 0 {
		return fmt.Errorf("config.bot.session_idle_minutes must not be negative")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "goalline.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `bot:
  token: ""
  api_base: https://api.telegram.org
  poll_timeout: 60
  session_idle_minutes: 10

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
