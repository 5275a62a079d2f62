package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/phuslu/log"
	"github.com/spf13/viper"
)

type Config struct {
	PostgresDSN string          `mapstructure:"postgres_dsn"`
	Neo4j       Neo4jConfig     `mapstructure:"neo4j"`
	GraphSync   bool            `mapstructure:"graph_sync"`
	HTTPAddr    string          `mapstructure:"http_addr"`
	Log         LogConfig       `mapstructure:"log"`
	Ingest      IngestConfig    `mapstructure:"ingest"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	DB          DBConfig        `mapstructure:"db"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type IngestConfig struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// RateLimitConfig bounds upload requests per process. Zero disables the limit.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type DBConfig struct {
	ConnectAttempts uint `mapstructure:"connect_attempts"`
}

func Default() Config {
	return Config{
		PostgresDSN: "postgres://localhost:5432/retail?sslmode=disable",
		Neo4j: Neo4jConfig{
			URI:      "neo4j://localhost:7687",
			User:     "neo4j",
			Password: "password",
		},
		GraphSync: false,
		HTTPAddr:  ":8080",
		Log:       LogConfig{Level: "info", Format: "console"},
		Ingest:    IngestConfig{MaxUploadBytes: 10 << 20},
		RateLimit: RateLimitConfig{RequestsPerSecond: 2, Burst: 5},
		DB:        DBConfig{ConnectAttempts: 5},
	}
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	logger    *log.Logger
}

// NewManager loads defaults, the optional config file and RETAIL_* env vars.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{v: viper.New()}
	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg
	return cm, nil
}

func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	d := Default()
	v.SetDefault("postgres_dsn", d.PostgresDSN)
	v.SetDefault("neo4j.uri", d.Neo4j.URI)
	v.SetDefault("neo4j.user", d.Neo4j.User)
	v.SetDefault("neo4j.password", d.Neo4j.Password)
	v.SetDefault("graph_sync", d.GraphSync)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("ingest.max_upload_bytes", d.Ingest.MaxUploadBytes)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("db.connect_attempts", d.DB.ConnectAttempts)

	// RETAIL_NEO4J_URI and friends
	v.SetEnvPrefix("RETAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// unprefixed names kept for existing deployments
	_ = v.BindEnv("postgres_dsn", "RETAIL_POSTGRES_DSN", "POSTGRES_DSN")
	_ = v.BindEnv("neo4j.uri", "RETAIL_NEO4J_URI", "NEO4J_URI")
	_ = v.BindEnv("neo4j.user", "RETAIL_NEO4J_USER", "NEO4J_USERNAME")
	_ = v.BindEnv("neo4j.password", "RETAIL_NEO4J_PASSWORD", "NEO4J_PASSWORD")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.retail-ingest")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.PostgresDSN) == "" {
		problems = append(problems, "postgres_dsn is required")
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		problems = append(problems, "ingest.max_upload_bytes must be positive")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		problems = append(problems, "rate_limit values must not be negative")
	}
	if c.GraphSync && strings.TrimSpace(c.Neo4j.URI) == "" {
		problems = append(problems, "neo4j.uri is required when graph_sync is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Get returns the current configuration.
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the file the configuration was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// SetLogger sets the logger that reports rejected reloads.
func (cm *Manager) SetLogger(logger *log.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig reloads the config file on change and notifies callbacks.
// Invalid edits are ignored and the previous config stays in effect.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(fsnotify.Event) {
		cm.reload()
	})
	cm.v.WatchConfig()
}

func (cm *Manager) reload() {
	cfg, err := cm.load()
	if err != nil {
		cm.mu.RLock()
		logger := cm.logger
		cm.mu.RUnlock()
		if logger != nil {
			logger.Warn().Err(err).Str("file", cm.ConfigFile()).Msg("config change rejected, keeping previous config")
		}
		return
	}

	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}
