// Package config loads service settings from defaults, an optional YAML file
// and DEALCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "DEALCHAT"

type Config struct {
	Database DatabaseConfig
	Telegram TelegramConfig
	Chat     ChatConfig
	Lock     LockConfig
	Outbox   OutboxConfig
	Link     LinkConfig
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

type TelegramConfig struct {
	Token          string
	BaseURL        string
	PollTimeout    time.Duration
	HTTPTimeout    time.Duration
	MaxConcurrency int
	ThreadFields   []string
}

type ChatConfig struct {
	GraceWindow   time.Duration
	DeleteOnClose bool
	RoleLabelA    string
	RoleLabelB    string
}

type LockConfig struct {
	Backend   string
	RedisAddr string
	RedisTTL  time.Duration
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Lease        time.Duration
}

// LinkConfig enables "/start <token>" account linking when Secret is set.
type LinkConfig struct {
	Secret string
	TTL    time.Duration
}

// Lock backends.
const (
	LockAdvisory = "advisory"
	LockLocal    = "local"
	LockRedis    = "redis"
)

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 16)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", 30*time.Second)
	v.SetDefault("telegram.http_timeout", 60*time.Second)
	v.SetDefault("telegram.max_concurrency", 8)
	v.SetDefault("telegram.thread_fields", []string{"message_thread_id", "direct_messages_topic_id"})

	v.SetDefault("chat.grace_window", 2*time.Minute)
	v.SetDefault("chat.delete_on_close", false)
	v.SetDefault("chat.role_label_a", "Advertiser")
	v.SetDefault("chat.role_label_b", "Publisher")

	v.SetDefault("lock.backend", LockAdvisory)
	v.SetDefault("lock.redis_addr", "127.0.0.1:6379")
	v.SetDefault("lock.redis_ttl", 30*time.Second)

	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 20)
	v.SetDefault("outbox.max_attempts", 10)
	v.SetDefault("outbox.lease", time.Minute)

	v.SetDefault("link.secret", "")
	v.SetDefault("link.ttl", 15*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
}

// New returns a viper instance with defaults and environment binding. When
// file is not empty it is read as well.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file = strings.TrimSpace(file); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	return v, nil
}

// FromViper decodes and validates the settings every command needs. Checks
// that only matter to one command (like a bot token) are left to it.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Database: DatabaseConfig{
			URL:      strings.TrimSpace(v.GetString("database.url")),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Telegram: TelegramConfig{
			Token:          strings.TrimSpace(v.GetString("telegram.token")),
			BaseURL:        strings.TrimRight(strings.TrimSpace(v.GetString("telegram.base_url")), "/"),
			PollTimeout:    v.GetDuration("telegram.poll_timeout"),
			HTTPTimeout:    v.GetDuration("telegram.http_timeout"),
			MaxConcurrency: v.GetInt("telegram.max_concurrency"),
			ThreadFields:   v.GetStringSlice("telegram.thread_fields"),
		},
		Chat: ChatConfig{
			GraceWindow:   v.GetDuration("chat.grace_window"),
			DeleteOnClose: v.GetBool("chat.delete_on_close"),
			RoleLabelA:    strings.TrimSpace(v.GetString("chat.role_label_a")),
			RoleLabelB:    strings.TrimSpace(v.GetString("chat.role_label_b")),
		},
		Lock: LockConfig{
			Backend:   strings.ToLower(strings.TrimSpace(v.GetString("lock.backend"))),
			RedisAddr: strings.TrimSpace(v.GetString("lock.redis_addr")),
			RedisTTL:  v.GetDuration("lock.redis_ttl"),
		},
		Outbox: OutboxConfig{
			PollInterval: v.GetDuration("outbox.poll_interval"),
			BatchSize:    v.GetInt("outbox.batch_size"),
			MaxAttempts:  v.GetInt("outbox.max_attempts"),
			Lease:        v.GetDuration("outbox.lease"),
		},
		Link: LinkConfig{
			Secret: v.GetString("link.secret"),
			TTL:    v.GetDuration("link.ttl"),
		},
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, errors.New("database.max_conns must be positive"))
	}
	if c.Telegram.PollTimeout < 0 || c.Telegram.PollTimeout > 50*time.Second {
		errs = append(errs, errors.New("telegram.poll_timeout must be between 0s and 50s"))
	}
	if c.Telegram.HTTPTimeout <= c.Telegram.PollTimeout {
		errs = append(errs, errors.New("telegram.http_timeout must exceed telegram.poll_timeout"))
	}
	if c.Telegram.MaxConcurrency < 1 {
		errs = append(errs, errors.New("telegram.max_concurrency must be positive"))
	}
	if len(c.Telegram.ThreadFields) == 0 {
		errs = append(errs, errors.New("telegram.thread_fields must not be empty"))
	}
	if c.Chat.GraceWindow < 0 {
		errs = append(errs, errors.New("chat.grace_window must not be negative"))
	}
	switch c.Lock.Backend {
	case LockAdvisory, LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for the redis backend"))
		}
		if c.Lock.RedisTTL <= 0 {
			errs = append(errs, errors.New("lock.redis_ttl must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock.backend: %s", c.Lock.Backend))
	}
	if c.Outbox.BatchSize < 1 || c.Outbox.MaxAttempts < 1 || c.Outbox.PollInterval <= 0 || c.Outbox.Lease <= 0 {
		errs = append(errs, errors.New("outbox.poll_interval, outbox.batch_size, outbox.max_attempts and outbox.lease must be positive"))
	}
	if c.Link.Secret != "" && len(c.Link.Secret) < 32 {
		errs = append(errs, errors.New("link.secret must be at least 32 bytes"))
	}
	if c.Link.TTL <= 0 {
		errs = append(errs, errors.New("link.ttl must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
