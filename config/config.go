// Package config loads the relay's process configuration from an optional
// file and GHRELAY_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. GHRELAY_SLACK_TOKEN.
const EnvPrefix = "GHRELAY"

// Config is the process configuration.
type Config struct {
	Slack     SlackConfig    `mapstructure:"slack"`
	GitHub    GitHubConfig   `mapstructure:"github"`
	Listen    ListenConfig   `mapstructure:"listen"`
	Store     StoreConfig    `mapstructure:"store"`
	Delivery  DeliveryConfig `mapstructure:"delivery"`
	Log       LogConfig      `mapstructure:"log"`
	OTel      OTelConfig     `mapstructure:"otel"`
	PublicURL string         `mapstructure:"public_url"`
	Dev       bool           `mapstructure:"dev"`

	// GeneratedSecret is set when Listen.Secret was not configured and a
	// random one was created.
	GeneratedSecret bool `mapstructure:"-"`
}

type SlackConfig struct {
	Token string `mapstructure:"token"`
	// Owner is the name or id of the user allowed to run restricted
	// commands.
	Owner string `mapstructure:"owner"`
	// Name is accepted, besides a mention, as a prefix directing a message
	// to the bot. Defaults to the bot's Slack name.
	Name string `mapstructure:"name"`
}

type GitHubConfig struct {
	Token         string   `mapstructure:"token"`
	APIURL        string   `mapstructure:"api_url"`
	Repo          string   `mapstructure:"repo"`
	WebhookSecret string   `mapstructure:"webhook_secret"`
	CI            []string `mapstructure:"ci"`
}

type ListenConfig struct {
	Addr       string `mapstructure:"addr"`
	Secret     string `mapstructure:"secret"`
	MaxPayload int64  `mapstructure:"max_payload"`
	MaxConns   int    `mapstructure:"max_conns"`
	Queue      int    `mapstructure:"queue"`
}

// StoreConfig selects where the rules and settings document is kept.
type StoreConfig struct {
	// Backend is file, datastore or redis.
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	Project  string `mapstructure:"project"`
	Kind     string `mapstructure:"kind"`
	RedisURL string `mapstructure:"redis_url"`
	RedisKey string `mapstructure:"redis_key"`
}

type DeliveryConfig struct {
	// Rate is the maximum number of chat messages per second.
	Rate float64 `mapstructure:"rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Buffer int    `mapstructure:"buffer"`
}

type OTelConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads path, when set, then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s does not exist", path)
			}
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Listen.Secret == "" {
		cfg.Listen.Secret = uuid.NewString()
		cfg.GeneratedSecret = true
	}
	return &cfg, nil
}

// setDefaults registers every key so that environment variables are picked
// up by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("slack.token", "")
	v.SetDefault("slack.owner", "")
	v.SetDefault("slack.name", "")

	v.SetDefault("github.token", "")
	v.SetDefault("github.api_url", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.webhook_secret", "")
	v.SetDefault("github.ci", []string{"travis-ci", "appveyor"})

	v.SetDefault("listen.addr", ":8080")
	v.SetDefault("listen.secret", "")
	v.SetDefault("listen.max_payload", 6<<20)
	v.SetDefault("listen.max_conns", 0)
	v.SetDefault("listen.queue", 64)

	v.SetDefault("public_url", "")
	v.SetDefault("dev", false)

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "ghrelay.json")
	v.SetDefault("store.project", "")
	v.SetDefault("store.kind", "GhrelayConfig")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.redis_key", "ghrelay:config")

	v.SetDefault("delivery.rate", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.buffer", 1000)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service_name", "ghrelay")
}

// CheckServe reports settings that running the relay needs but other
// commands do not.
func (c *Config) CheckServe() error {
	if c.Slack.Token == "" {
		return errors.New("slack token must be set in the " + EnvPrefix + "_SLACK_TOKEN environment variable or slack.token")
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "file":
		if c.Store.Path == "" {
			return errors.New("store.path must be set for the file backend")
		}
	case "datastore":
		if c.Store.Project == "" {
			return errors.New("store.project must be set for the datastore backend")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url must be set for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Listen.Queue <= 0 {
		return fmt.Errorf("listen.queue must be positive, got %d", c.Listen.Queue)
	}
	return nil
}
