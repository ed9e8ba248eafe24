// Package config holds the daemon's tunables (§6.3): CLI flags, an
// optional YAML file, and the struct-tag defaults that apply when neither
// sets a value.
package config

import (
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's full set of tunables. Field names match the
// §6.3 flags with YAML keys attached via struct tags (the CLI flags are
// defined in cmd/bleproxy); zero-value fields fall back to the `default`
// tag via go-defaults.
type Config struct {
	Host               string        `yaml:"host" default:"0.0.0.0"`
	Port               int           `yaml:"port" default:"6053"`
	Name               string        `yaml:"name" default:"bleproxy"`
	FriendlyName       string        `yaml:"friendly_name"`
	Password           string        `yaml:"password"`
	MaxConnections     int           `yaml:"max_connections" default:"3"`
	AdvertisementBatchSize int       `yaml:"advertisement_batch_size" default:"16"`
	ActiveConnections  bool          `yaml:"active_connections" default:"true"`
	BluetoothMacAddress string      `yaml:"bluetooth_mac_address"`
	LogLevel           string        `yaml:"log_level" default:"info"`
	LogFile            string        `yaml:"log_file"`
	CacheDir           string        `yaml:"cache_dir"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"20s"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout" default:"5s"`
	GattOpTimeout     time.Duration `yaml:"gatt_op_timeout" default:"30s"`
	PingTimeout       time.Duration `yaml:"ping_timeout" default:"90s"`
	FlushInterval     time.Duration `yaml:"flush_interval" default:"50ms"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace" default:"5s"`
}

// DefaultConfig returns a Config with every default tag applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// LoadFile reads a YAML config file and applies its values on top of a
// freshly defaulted Config. A missing file is not an error — config files
// are optional (§6.3 is flag-only by design; this only supplements it).
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger builds a logrus.Logger configured per c.LogLevel and c.LogFile.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		logger.SetOutput(f)
	}

	return logger, nil
}
