// Package config holds the custsvcd daemon configuration.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, read from a YAML file.
type Config struct {
	// Name is the advertised device name.
	Name string `yaml:"name"`

	HCIShim   string `yaml:"hci_shim"`
	L2capShim string `yaml:"l2cap_shim"`
	// Device is the controller the shims open, e.g. "hci0".
	Device string `yaml:"device"`

	UserDescriptions bool   `yaml:"user_descriptions"`
	StartHandle      uint16 `yaml:"start_handle"`

	LogLevel          string        `yaml:"log_level"`
	MaxMTU            int           `yaml:"max_mtu"`
	IndicationTimeout time.Duration `yaml:"indication_timeout"`

	Feed Feed `yaml:"feed"`
}

// Feed configures the synthetic ECG feed.
type Feed struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// Samples per notification round.
	Samples int `yaml:"samples"`
	BPM     int `yaml:"bpm"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Name:              "custsvc",
		HCIShim:           "hci-ble",
		L2capShim:         "l2cap-ble",
		Device:            "hci0",
		StartHandle:       0x0800,
		LogLevel:          "info",
		MaxMTU:            517,
		IndicationTimeout: 30 * time.Second,
		Feed: Feed{
			Interval: time.Second,
			Samples:  250,
			BPM:      72,
		},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Name == "":
		return errors.New("name must not be empty")
	case c.HCIShim == "" || c.L2capShim == "":
		return errors.New("hci_shim and l2cap_shim are required")
	case c.StartHandle < 0x000A:
		return errors.Errorf("start_handle 0x%04X overlaps the GAP and GATT services", c.StartHandle)
	case c.MaxMTU < 23 || c.MaxMTU > 517:
		return errors.Errorf("max_mtu %d out of range [23, 517]", c.MaxMTU)
	case c.IndicationTimeout <= 0:
		return errors.Errorf("indication_timeout %v must be positive", c.IndicationTimeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	if c.Feed.Enabled {
		if c.Feed.Interval <= 0 {
			return errors.Errorf("feed interval %v must be positive", c.Feed.Interval)
		}
		if c.Feed.Samples <= 0 {
			return errors.Errorf("feed samples %d must be positive", c.Feed.Samples)
		}
		if c.Feed.BPM < 20 || c.Feed.BPM > 300 {
			return errors.Errorf("feed bpm %d out of range [20, 300]", c.Feed.BPM)
		}
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}
