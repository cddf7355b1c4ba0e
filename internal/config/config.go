package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval       = 3 * time.Second
	DefaultStaleness      = 10 * time.Second
	DefaultHistorySize    = 50
	DefaultLogLevel       = "info"
	DefaultListen         = ":5000"
	DefaultThresholdsFile = "/var/lib/hubctl/thresholds.json"
	DefaultTelemetryDB    = "/var/lib/hubctl/telemetry.db"
	DefaultTelemetryBatch = 20
	DefaultTelemetryFlush = 30 * time.Second

	maxHistorySize = 10000
	envPrefix      = "HUBCTL"
	configEnv      = "HUBCTL_CONFIG"
)

type Config struct {
	Interval       time.Duration `mapstructure:"interval"`
	Staleness      time.Duration `mapstructure:"staleness"`
	HistorySize    int           `mapstructure:"history_size"`
	ThresholdsFile string        `mapstructure:"thresholds_file"`
	Listen         string        `mapstructure:"listen"`
	LogLevel       string        `mapstructure:"log_level"`
	Seed           int64         `mapstructure:"seed"`
	Telemetry      bool          `mapstructure:"telemetry"`
	TelemetryDB    string        `mapstructure:"telemetry_db"`
	TelemetryBatch int           `mapstructure:"telemetry_batch"`
	TelemetryFlush time.Duration `mapstructure:"telemetry_flush"`
	PIDFile        string        `mapstructure:"pid_file"`
	MQTT           MQTTConfig    `mapstructure:"mqtt"`
	Relay          RelayConfig   `mapstructure:"relay"`
	Redis          RedisConfig   `mapstructure:"redis"`
	Kafka          KafkaConfig   `mapstructure:"kafka"`
}

// MQTTConfig covers both the device inlet and the MQTT observer.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type RelayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Channel  string `mapstructure:"channel"`
	Key      string `mapstructure:"key"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("staleness", DefaultStaleness)
	v.SetDefault("history_size", DefaultHistorySize)
	v.SetDefault("thresholds_file", DefaultThresholdsFile)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("seed", 0)
	v.SetDefault("telemetry", false)
	v.SetDefault("telemetry_db", DefaultTelemetryDB)
	v.SetDefault("telemetry_batch", DefaultTelemetryBatch)
	v.SetDefault("telemetry_flush", DefaultTelemetryFlush)
	v.SetDefault("pid_file", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "hubctl")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "hub")

	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.url", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.channel", "hub:events")
	v.SetDefault("redis.key", "hub:snapshot")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "hub.events")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("hubctl", pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.Duration("interval", DefaultInterval, "Interval between control loop ticks")
	fs.Duration("staleness", DefaultStaleness, "Age after which live readings stop being authoritative")
	fs.Int("history-size", DefaultHistorySize, "Samples kept per metric")
	fs.String("thresholds-file", DefaultThresholdsFile, "Threshold persistence file")
	fs.String("listen", DefaultListen, "HTTP listen address")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Int64("seed", 0, "Simulator seed (0 picks one from the clock)")
	fs.Bool("telemetry", false, "Record tick snapshots to SQLite")
	fs.String("telemetry-db", DefaultTelemetryDB, "Telemetry database path")
	fs.String("pid-file", "", "PID file path (default in the temp directory)")

	return fs
}

var flagKeys = map[string]string{
	"interval":        "interval",
	"staleness":       "staleness",
	"history-size":    "history_size",
	"thresholds-file": "thresholds_file",
	"listen":          "listen",
	"log-level":       "log_level",
	"seed":            "seed",
	"telemetry":       "telemetry",
	"telemetry-db":    "telemetry_db",
	"pid-file":        "pid_file",
}

// Load reads configuration from the process arguments, environment and file.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load with explicit arguments.
func LoadArgs(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(configEnv)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hubctl")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded values for consistency
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if c.Staleness <= 0 {
		return errFactory.WithData(errors.ErrInvalidStaleness, c.Staleness)
	}

	if c.HistorySize <= 0 || c.HistorySize > maxHistorySize {
		return errFactory.WithData(errors.ErrInvalidHistory, c.HistorySize)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.TelemetryBatch < 0 || c.TelemetryFlush < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "telemetry_batch and telemetry_flush must not be negative")
	}

	if c.Telemetry && c.TelemetryDB == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "telemetry_db is required when telemetry is enabled")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "mqtt.broker is required when mqtt is enabled")
	}

	if c.Relay.Enabled && c.Relay.URL == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "relay.url is required when relay is enabled")
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errFactory.WithData(errors.ErrInvalidConfig, "kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	return nil
}

// Level returns the parsed log level; Validate guarantees it parses.
func (c *Config) Level() logger.LogLevel {
	level, _ := logger.ParseLevel(c.LogLevel)
	return level
}
