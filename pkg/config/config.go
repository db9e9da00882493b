package config

import (
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all the configuration for our application
// The structure tags (mapstructure) tell Viper which YAML field maps to which Go struct field.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Postgres  PostgresConfig            `mapstructure:"postgres"`
	Stripe    StripeConfig              `mapstructure:"stripe"`
	RateLimit RateLimitConfig           `mapstructure:"ratelimit"`
	Billing   BillingConfig             `mapstructure:"billing"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Admin     AdminConfig               `mapstructure:"admin"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type PostgresConfig struct {
	DSN     string `mapstructure:"dsn"`
	Enabled bool   `mapstructure:"enabled"`
}

type StripeConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Enabled bool   `mapstructure:"enabled"`
}

// RateLimitConfig is the global kill switch for admission control.
// When Enabled is false every limiter check returns allowed.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type BillingConfig struct {
	MarginPercent float64 `mapstructure:"margin_percent"`
}

// ProviderConfig carries per-provider limits and pricing.
// A limit of -1 means that dimension is unlimited.
type ProviderConfig struct {
	BaseURL               string  `mapstructure:"base_url"`
	APIKey                string  `mapstructure:"api_key"`
	Model                 string  `mapstructure:"model"`
	RequestsPerMinute     int64   `mapstructure:"requests_per_minute"`
	RequestsPerDay        int64   `mapstructure:"requests_per_day"`
	TokensPerMinute       int64   `mapstructure:"tokens_per_minute"`
	BurstSize             int     `mapstructure:"burst_size"`
	RetryAfterSeconds     int     `mapstructure:"retry_after_seconds"`
	InputPricePerMillion  float64 `mapstructure:"input_price_per_million"`  // cents per 1M input tokens
	OutputPricePerMillion float64 `mapstructure:"output_price_per_million"` // cents per 1M output tokens
}

type AdminConfig struct {
	AdminKey string `mapstructure:"admin_key"`
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

func (s *Store) set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// NewStaticStore wraps a fixed config in a Store. Used in tests and by the
// admin CLI where hot reload is not wanted.
func NewStaticStore(cfg *Config) *Store {
	s := &Store{}
	s.set(cfg)
	return s
}

// LoadAndWatch loads the config and watches for on-disk changes.
func LoadAndWatch() (*Store, error) {
	return LoadAndWatchFrom("./configs")
}

// LoadAndWatchFrom loads the config from a specific directory and watches it.
func LoadAndWatchFrom(dir string) (*Store, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	store := &Store{}
	if err := refresh(v, store); err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := refresh(v, store); err != nil {
			log.Printf("[CONFIG] reload failed: %v", err)
		} else {
			log.Printf("[CONFIG] reloaded from %s", e.Name)
		}
	})

	return store, nil
}

// Load preserves the old API: it loads once and does not watch.
func Load() (*Config, error) {
	store, err := LoadAndWatch()
	if err != nil {
		return nil, err
	}
	return store.Get(), nil
}

func refresh(v *viper.Viper, store *Store) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	store.set(&cfg)
	return nil
}
