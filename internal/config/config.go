// Package config loads relay configuration from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/feedrelay/internal/notify"
)

type Config struct {
	Listen     ListenConfig     `mapstructure:"listen"`
	Source     SourceConfig     `mapstructure:"source"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Notify     notify.Config    `mapstructure:"notify"`
}

type ListenConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled"`
}

// Addr returns host:port for net.Listen.
func (l ListenConfig) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

type SourceConfig struct {
	Kind           string        `mapstructure:"kind"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Database       string        `mapstructure:"database"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Query          string        `mapstructure:"query"`
	File           string        `mapstructure:"file"`
}

type ClassifierConfig struct {
	Mode      string        `mapstructure:"mode"`
	Threshold int           `mapstructure:"threshold"`
	Settle    time.Duration `mapstructure:"settle"`
}

type SubscriberConfig struct {
	QueueSize          int           `mapstructure:"queue_size"`
	ReplayOnCompletion bool          `mapstructure:"replay_on_completion"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
	WriteWait          time.Duration `mapstructure:"write_wait"`
	PongWait           time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize     int64         `mapstructure:"max_message_size"`
	AcceptRate         float64       `mapstructure:"accept_rate"`
	AcceptBurst        int           `mapstructure:"accept_burst"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// envAliases binds the variable names older deployments use.
var envAliases = map[string]string{
	"source.host":     "MATERIALIZE_HOST",
	"source.port":     "MATERIALIZE_PORT",
	"source.database": "MATERIALIZE_DB",
	"source.user":     "MATERIALIZE_USER",
	"source.password": "MATERIALIZE_PASSWORD",
	"listen.host":     "WS_HOST",
	"listen.port":     "WS_PORT",
}

// Override adjusts loaded settings before unmarshaling, above every other
// source.
type Override func(v *viper.Viper)

// WithSourceFile replaces the configured source with a file ("-" for stdin).
func WithSourceFile(path string) Override {
	return func(v *viper.Viper) {
		v.Set("source.kind", SourceFile)
		v.Set("source.file", path)
	}
}

func Load(configPath string, overrides ...Override) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars; the prefixed name wins.
	for key, alias := range envAliases {
		_ = v.BindEnv(key, "RELAY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias)
	}
	_ = v.BindEnv("notify.token", "RELAY_NOTIFY_TOKEN", "NTFY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("feedrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Environment lookups happen at unmarshal time, so .env values exported
	// here are still picked up.
	envDirs := []string{"."}
	if used := v.ConfigFileUsed(); used != "" {
		envDirs = append(envDirs, filepath.Dir(used))
	}
	for _, dir := range envDirs {
		if err := loadDotEnv(dir); err != nil {
			return nil, err
		}
	}

	for _, o := range overrides {
		o(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Notify.Name == "" {
		cfg.Notify.Name, _ = os.Hostname()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports the variables of an optional .env file in dir to the
// process environment. Variables that are already set keep their value.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	for _, key := range dv.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, dv.GetString(key)); err != nil {
			return fmt.Errorf("exporting %s from %s: %w", name, path, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.host", "0.0.0.0")
	v.SetDefault("listen.port", 8080)
	v.SetDefault("listen.shutdown_timeout", "10s")
	v.SetDefault("listen.metrics_enabled", true)

	v.SetDefault("source.kind", SourcePostgres)
	v.SetDefault("source.host", "localhost")
	v.SetDefault("source.port", 6875)
	v.SetDefault("source.database", "materialize")
	v.SetDefault("source.user", "materialize")
	v.SetDefault("source.password", "")
	v.SetDefault("source.sslmode", "require")
	v.SetDefault("source.connect_timeout", "10s")
	v.SetDefault("source.query", "COPY (SUBSCRIBE TO live_pnl WITH (SNAPSHOT)) TO STDOUT")
	v.SetDefault("source.file", "")

	v.SetDefault("classifier.mode", ClassifierHeuristic)
	v.SetDefault("classifier.threshold", 3)
	v.SetDefault("classifier.settle", "100ms")

	v.SetDefault("subscriber.queue_size", 1000)
	v.SetDefault("subscriber.replay_on_completion", true)
	v.SetDefault("subscriber.ping_period", "30s")
	v.SetDefault("subscriber.write_wait", "10s")
	v.SetDefault("subscriber.pong_wait", "60s")
	v.SetDefault("subscriber.max_message_size", 64*1024)
	v.SetDefault("subscriber.accept_rate", 0)
	v.SetDefault("subscriber.accept_burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "loudspeaker")
	v.SetDefault("notify.token", "")
	v.SetDefault("notify.name", "")
}
