package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Storage       Storage       `yaml:"storage"`
	Classifier    Classifier    `yaml:"classifier"`
	Notifications Notifications `yaml:"notifications"`
	Collector     Collector     `yaml:"collector"`
	Scheduler     Scheduler     `yaml:"scheduler"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
}

type Storage struct {
	Driver  string `yaml:"driver"` // sqlite | postgres
	DataDir string `yaml:"data_dir"`
	DSNEnv  string `yaml:"dsn_env"`
}

type Classifier struct {
	Provider        string        `yaml:"provider"` // ollama | openai | gemini
	Model           string        `yaml:"model"`
	OllamaURL       string        `yaml:"ollama_url"`
	OpenAIModel     string        `yaml:"openai_model"`
	APIKeyEnv       string        `yaml:"api_key_env"`
	GeminiModel     string        `yaml:"gemini_model"`
	GeminiAPIKeyEnv string        `yaml:"gemini_api_key_env"`
	MaxTokens       int           `yaml:"max_tokens"`
	MaxInputChars   int           `yaml:"max_input_chars"`
	Timeout         time.Duration `yaml:"timeout"`
}

type Notifications struct {
	Channel     string        `yaml:"channel"` // telegram | slack
	BotTokenEnv string        `yaml:"bot_token_env"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   RateLimit     `yaml:"rate_limit"`
}

type RateLimit struct {
	Cap              int           `yaml:"cap"`
	Window           time.Duration `yaml:"window"`
	Store            string        `yaml:"store"` // memory | redis
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPasswordEnv string        `yaml:"redis_password_env"`
}

type Collector struct {
	Enabled      bool          `yaml:"enabled"`
	MaxPerFeed   int           `yaml:"max_per_feed"`
	FetchContent bool          `yaml:"fetch_content"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type Scheduler struct {
	Interval time.Duration `yaml:"interval"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for partnercenter.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "partnercenter")
}

// DataDir returns the XDG data directory for partnercenter.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "partnercenter")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/partnercenter/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errors.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", errors.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'partnercenter init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	return parse(data)
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Driver: "sqlite",
			DSNEnv: "PARTNERCENTER_PG_DSN",
		},
		Classifier: Classifier{
			Provider:        "openai",
			Model:           "qwen2.5:7b",
			OllamaURL:       "http://localhost:11434",
			OpenAIModel:     "gpt-4o-mini",
			APIKeyEnv:       "OPENAI_API_KEY",
			GeminiModel:     "gemini-2.5-flash",
			GeminiAPIKeyEnv: "GEMINI_API_KEY",
			MaxTokens:       700,
			MaxInputChars:   4000,
			Timeout:         30 * time.Second,
		},
		Notifications: Notifications{
			Channel:     "telegram",
			BotTokenEnv: "TELEGRAM_BOT_TOKEN",
			Timeout:     10 * time.Second,
			RateLimit: RateLimit{
				Cap:              30,
				Window:           time.Minute,
				Store:            "memory",
				RedisAddr:        "localhost:6379",
				RedisPasswordEnv: "REDIS_PASSWD",
			},
		},
		Collector: Collector{
			Enabled:      true,
			MaxPerFeed:   20,
			FetchContent: true,
			FetchTimeout: 15 * time.Second,
		},
		Scheduler: Scheduler{Interval: 15 * time.Minute},
		Server:    Server{Port: 8000},
		Logging:   Logging{Level: "INFO"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	switch c.Notifications.Channel {
	case "telegram", "slack":
	default:
		return errors.Errorf("notifications.channel must be telegram or slack, got %q", c.Notifications.Channel)
	}
	switch c.Notifications.RateLimit.Store {
	case "memory", "redis":
	default:
		return errors.Errorf("notifications.rate_limit.store must be memory or redis, got %q", c.Notifications.RateLimit.Store)
	}
	if c.Notifications.RateLimit.Cap <= 0 || c.Notifications.RateLimit.Window <= 0 {
		return errors.New("notifications.rate_limit needs a positive cap and window")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
