// Package config loads the agent configuration file into an immutable value.
//
// The running pipeline receives a Config by value at construction and never
// observes later edits. Reload produces a fresh value from the same file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "IDS_AGENT"

type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
}

type FileMonitorConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Paths   []string `mapstructure:"paths"`
}

type NetworkMonitorConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Command []string      `mapstructure:"command"`
	Restart BackoffConfig `mapstructure:"restart"`
	// StableAfter resets the restart backoff once a probe run lasted this long.
	StableAfter time.Duration `mapstructure:"stable_after"`
}

type DeliveryConfig struct {
	// MaxAttempts caps transient retries per event; 0 retries forever.
	MaxAttempts int           `mapstructure:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Backoff     BackoffConfig `mapstructure:"backoff"`
}

type QueueConfig struct {
	// Capacity bounds the in-memory queue; 0 means unbounded.
	Capacity int `mapstructure:"capacity"`
}

type RecoveryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Env   string `mapstructure:"env"`
}

type Config struct {
	DeviceID      string `mapstructure:"device_id"`
	DeviceName    string `mapstructure:"device_name"`
	HubURL        string `mapstructure:"hub_url"`
	InternalToken string `mapstructure:"internal_token"`
	APIKey        string `mapstructure:"api_key"`
	Cipher        string `mapstructure:"cipher"`
	LogDir        string `mapstructure:"log_dir"`

	FileMonitor    FileMonitorConfig    `mapstructure:"file_monitor"`
	NetworkMonitor NetworkMonitorConfig `mapstructure:"network_monitor"`
	Delivery       DeliveryConfig       `mapstructure:"delivery"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Recovery       RecoveryConfig       `mapstructure:"recovery"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Log            LogConfig            `mapstructure:"log"`

	// Path is the file the value was loaded from.
	Path string `mapstructure:"-"`
}

// setDefaults names every key, since AutomaticEnv only overrides keys viper
// already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("device_id", "")
	v.SetDefault("device_name", "")
	v.SetDefault("internal_token", "")
	v.SetDefault("api_key", "")
	v.SetDefault("hub_url", "http://localhost:5000")
	v.SetDefault("cipher", "aes-256-gcm")
	v.SetDefault("log_dir", "events")

	v.SetDefault("file_monitor.enabled", true)
	v.SetDefault("file_monitor.paths", []string{})

	v.SetDefault("network_monitor.enabled", false)
	v.SetDefault("network_monitor.command", []string{"./net_mon.bin"})
	v.SetDefault("network_monitor.restart.initial", "1s")
	v.SetDefault("network_monitor.restart.max", "1m")
	v.SetDefault("network_monitor.restart.multiplier", 2.0)
	v.SetDefault("network_monitor.restart.jitter", 0.2)
	v.SetDefault("network_monitor.stable_after", "30s")

	v.SetDefault("delivery.max_attempts", 0)
	v.SetDefault("delivery.timeout", "10s")
	v.SetDefault("delivery.backoff.initial", "500ms")
	v.SetDefault("delivery.backoff.max", "1m")
	v.SetDefault("delivery.backoff.multiplier", 2.0)
	v.SetDefault("delivery.backoff.jitter", 0.5)

	v.SetDefault("queue.capacity", 0)
	v.SetDefault("recovery.enabled", true)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.env", "prod")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path and environment overrides (IDS_AGENT_HUB_URL, ...).
func Load(path string) (Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.Path = path
	if cfg.DeviceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("device_id not set and hostname unavailable: %w", err)
		}
		cfg.DeviceID = host
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = cfg.DeviceID
	}
	cfg.FileMonitor.Paths = append([]string(nil), cfg.FileMonitor.Paths...)
	cfg.NetworkMonitor.Command = append([]string(nil), cfg.NetworkMonitor.Command...)
	return cfg, cfg.Validate()
}

// Reload reads the file c was loaded from into a new value.
func (c Config) Reload() (Config, error) {
	return Load(c.Path)
}

func (c Config) Validate() error {
	u, err := url.Parse(c.HubURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("hub_url %q must be an absolute http(s) URL", c.HubURL)
	}
	if c.NetworkMonitor.Enabled && len(c.NetworkMonitor.Command) == 0 {
		return errors.New("network_monitor.command is required when the network monitor is enabled")
	}
	if c.Delivery.MaxAttempts < 0 {
		return errors.New("delivery.max_attempts must not be negative")
	}
	if c.Queue.Capacity < 0 {
		return errors.New("queue.capacity must not be negative")
	}
	if c.LogDir == "" {
		return errors.New("log_dir is required")
	}
	return nil
}

// Registered reports whether the device already holds a hub key.
func (c Config) Registered() bool { return c.APIKey != "" }

// SaveAPIKey writes key into the config file at path, keeping other settings.
func SaveAPIKey(path, key string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.Set("api_key", key)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

// Diff lists the top level keys whose values differ between a and b.
func Diff(a, b Config) []string {
	var out []string
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	t := av.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("mapstructure")
		if tag == "-" {
			continue
		}
		if !reflect.DeepEqual(av.Field(i).Interface(), bv.Field(i).Interface()) {
			out = append(out, tag)
		}
	}
	return out
}
