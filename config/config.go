// Package config loads gateway settings from a YAML file, a .env file and
// MESHGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MESHGATE_HTTP_ADDR.
const EnvPrefix = "MESHGATE"

// Link types understood by the transport factory.
const (
	LinkUDP    = "udp"
	LinkSerial = "serial"
	LinkSim    = "sim"
)

// Config is the complete gateway configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Link     LinkConfig     `mapstructure:"link"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Log      LogConfig      `mapstructure:"log"`
}

// HTTPConfig configures the web API.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LinkConfig selects and configures the radio link.
type LinkConfig struct {
	Type       string   `mapstructure:"type"`
	NodeID     string   `mapstructure:"node_id"`
	Listen     string   `mapstructure:"listen"`
	Peers      []string `mapstructure:"peers"`
	SerialPort string   `mapstructure:"serial_port"`
	Baud       int      `mapstructure:"baud"`
	LossRate   float64  `mapstructure:"loss_rate"`
}

// TransferConfig tunes the file transfer engine.
type TransferConfig struct {
	PacingInterval time.Duration `mapstructure:"pacing_interval"`
	StallTimeout   time.Duration `mapstructure:"stall_timeout"`
}

// ArchiveConfig controls the completed file archive.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":5000")
	v.SetDefault("link.type", LinkSim)
	v.SetDefault("link.node_id", "!00000001")
	v.SetDefault("link.listen", "0.0.0.0:4403")
	v.SetDefault("link.peers", []string{})
	v.SetDefault("link.serial_port", "/dev/ttyUSB0")
	v.SetDefault("link.baud", 115200)
	v.SetDefault("link.loss_rate", 0.0)
	v.SetDefault("transfer.pacing_interval", 500*time.Millisecond)
	v.SetDefault("transfer.stall_timeout", 5*time.Minute)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "./data/archive")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads meshgate.yaml from dir (or the working directory when dir is
// empty). A .env file next to it is loaded first; variables already set in
// the environment win. A missing config file is not an error.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = "."
	}
	loadDotEnv(filepath.Join(dir, ".env"))

	v := viper.New()
	v.SetConfigName("meshgate")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"dir":      dir,
		}).Info("No config file found, using defaults and environment")
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"file":     v.ConfigFileUsed(),
		}).Info("Loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func loadDotEnv(path string) {
	err := godotenv.Load(path)
	switch {
	case err == nil:
		logrus.WithFields(logrus.Fields{
			"function": "loadDotEnv",
			"file":     path,
		}).Debug("Loaded .env file")
	case errors.Is(err, fs.ErrNotExist):
	default:
		logrus.WithFields(logrus.Fields{
			"function": "loadDotEnv",
			"file":     path,
			"error":    err.Error(),
		}).Warn("Could not parse .env file, using system environment")
	}
}
