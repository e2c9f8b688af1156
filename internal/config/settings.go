package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultSocket     = "/tmp/taskmaster.sock"
	DefaultConfigPath = "/etc/taskmaster"
	DefaultTick       = time.Second
	EnvPrefix         = "TASKMASTER"
)

// Settings configures the daemon itself; programs live in the config path.
type Settings struct {
	ConfigPath         string        `mapstructure:"config"`
	Socket             string        `mapstructure:"socket"`
	Tick               time.Duration `mapstructure:"tick"`
	Log                LogConfig     `mapstructure:"log"`
	HTTP               HTTPConfig    `mapstructure:"http"`
	Metrics            MetricsConfig `mapstructure:"metrics"`
	History            HistoryConfig `mapstructure:"history"`
	Watch              bool          `mapstructure:"watch"`
	PIDFile            string        `mapstructure:"pidfile"`
	StopChildrenOnExit bool          `mapstructure:"stop_children_on_exit"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text or json
	Color      bool   `mapstructure:"color"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Syslog     bool   `mapstructure:"syslog"` // mirror to syslog as taskmasterd
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the HTTP API
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HistoryConfig struct {
	DSN   string `mapstructure:"dsn"` // empty disables history
	Table string `mapstructure:"table"`
}

// NewViper returns a viper instance with defaults and TASKMASTER_* env binding.
// settingsFile is optional; its type follows the extension (toml, yaml, json).
func NewViper(settingsFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if settingsFile != "" {
		v.SetConfigFile(filepath.Clean(settingsFile))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", settingsFile, err)
		}
	}
	return v, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("config", DefaultConfigPath)
	v.SetDefault("socket", DefaultSocket)
	v.SetDefault("tick", DefaultTick)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.syslog", false)
	v.SetDefault("http.listen", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.table", "taskmaster_events")
	v.SetDefault("watch", false)
	v.SetDefault("pidfile", "")
	v.SetDefault("stop_children_on_exit", true)
}

// BindFlags maps command-line flags onto settings keys. Flag names use
// dashes; keys use dots and underscores.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := fs.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// LoadSettings decodes v into Settings and checks the values the daemon
// cannot run without.
func LoadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("decode settings: %w", err)
	}
	if s.Socket == "" {
		return s, fmt.Errorf("socket path is required")
	}
	if s.Tick <= 0 {
		return s, fmt.Errorf("tick must be positive, got %s", s.Tick)
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return s, fmt.Errorf("log.format must be text or json, got %q", s.Log.Format)
	}
	return s, nil
}
