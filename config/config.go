package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const CONFILE = "potchain.yml"

const (
	BridgeMCP2210  = "mcp2210"
	BridgeRPIO     = "rpio"
	BridgeSimulate = "simulate"
)

// channels and maxResolutionBits mirror the frame package; config stays free
// of the codec package.
const (
	channels          = 10
	maxResolutionBits = 12
)

type Config struct {
	Configfile string          `yaml:"-"`
	Bridge     BridgeConfig    `yaml:"Bridge"`
	Chain      ChainConfig     `yaml:"Chain"`
	Simulator  SimulatorConfig `yaml:"Simulator"`
	Monitor    MonitorConfig   `yaml:"Monitor"`
	Watch      WatchConfig     `yaml:"Watch"`
	Logging    LoggingConfig   `yaml:"Logging"`
}

type BridgeConfig struct {
	Type       string `yaml:"Type"`
	VendorID   uint16 `yaml:"VendorID"`
	ProductID  uint16 `yaml:"ProductID"`
	Index      int    `yaml:"Index"`
	Serial     string `yaml:"Serial"`
	ChipSelect int    `yaml:"ChipSelect"`
}

type ChainConfig struct {
	ResponseOffset int `yaml:"ResponseOffset"`
	ResolutionBits int `yaml:"ResolutionBits"`
}

// MaxValue is the largest value the configured wiper resolution accepts. An
// unset or invalid resolution means the full 12-bit wire field.
func (c ChainConfig) MaxValue() uint16 {
	if c.ResolutionBits < 1 || c.ResolutionBits > maxResolutionBits {
		return uint16(1)<<maxResolutionBits - 1
	}
	return uint16(1)<<c.ResolutionBits - 1
}

type SimulatorConfig struct {
	Memory []uint16 `yaml:"Memory"`
	Locked bool     `yaml:"Locked"`
}

type MonitorConfig struct {
	PollInterval time.Duration `yaml:"PollInterval"`
	History      int           `yaml:"History"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"Debounce"`
}

type LoggingConfig struct {
	Level      string `yaml:"Level"`
	Format     string `yaml:"Format"`
	File       string `yaml:"File"`
	MaxSizeMB  int    `yaml:"MaxSizeMB"`
	MaxBackups int    `yaml:"MaxBackups"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Type:      BridgeMCP2210,
			VendorID:  0x04D8,
			ProductID: 0x00DE,
		},
		Chain: ChainConfig{
			ResponseOffset: 0,
			ResolutionBits: 12,
		},
		Monitor: MonitorConfig{
			PollInterval: 500 * time.Millisecond,
			History:      120,
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:      "WARN",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// ReadConfig loads cfile on top of the defaults and validates the result.
func ReadConfig(cfile string) (*Config, error) {
	f, err := os.Open(cfile)
	if err != nil {
		return nil, fmt.Errorf("can't open config file %s: %w", cfile, err)
	}
	defer f.Close()

	conf := Default()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(conf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}
	conf.Configfile = cfile

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", cfile, err)
	}
	return conf, nil
}

// Validate checks ranges and cross-field constraints. It does not mutate the
// configuration.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Bridge.Type) {
	case BridgeMCP2210, BridgeRPIO, BridgeSimulate:
	default:
		return fmt.Errorf("Bridge.Type %q must be one of %s, %s, %s",
			c.Bridge.Type, BridgeMCP2210, BridgeRPIO, BridgeSimulate)
	}
	if c.Bridge.Index < 0 {
		return fmt.Errorf("Bridge.Index must not be negative, got %d", c.Bridge.Index)
	}
	// MCP2210 has nine GP pins; the Pi's SPI0 has two chip enables.
	maxCS := 8
	if strings.ToLower(c.Bridge.Type) == BridgeRPIO {
		maxCS = 1
	}
	if c.Bridge.ChipSelect < 0 || c.Bridge.ChipSelect > maxCS {
		return fmt.Errorf("Bridge.ChipSelect must be between 0 and %d, got %d", maxCS, c.Bridge.ChipSelect)
	}

	if c.Chain.ResponseOffset != 0 && c.Chain.ResponseOffset != 2*channels {
		return fmt.Errorf("Chain.ResponseOffset must be 0 or %d, got %d", 2*channels, c.Chain.ResponseOffset)
	}
	if c.Chain.ResolutionBits < 1 || c.Chain.ResolutionBits > maxResolutionBits {
		return fmt.Errorf("Chain.ResolutionBits must be between 1 and %d, got %d", maxResolutionBits, c.Chain.ResolutionBits)
	}

	if n := len(c.Simulator.Memory); n != 0 && n != channels {
		return fmt.Errorf("Simulator.Memory must list %d values, got %d", channels, n)
	}
	for i, v := range c.Simulator.Memory {
		if v > c.Chain.MaxValue() {
			return fmt.Errorf("Simulator.Memory[%d] must be between 0 and %d, got %d", i, c.Chain.MaxValue(), v)
		}
	}

	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("Monitor.PollInterval must be positive, got %s", c.Monitor.PollInterval)
	}
	if c.Monitor.History < 1 {
		return fmt.Errorf("Monitor.History must be at least 1, got %d", c.Monitor.History)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("Watch.Debounce must not be negative, got %s", c.Watch.Debounce)
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("Logging.Level %q must be one of DEBUG, INFO, WARN, ERROR", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("Logging.Format %q must be text or json", c.Logging.Format)
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("Logging.MaxSizeMB must be at least 1 when Logging.File is set, got %d", c.Logging.MaxSizeMB)
	}
	return nil
}
