package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the contents of the optional configuration file. Durations are
// whole milliseconds.
type Config struct {
	Engine  EngineConfig  `toml:"engine" yaml:"engine"`
	Serial  SerialConfig  `toml:"serial" yaml:"serial"`
	Network NetworkConfig `toml:"network" yaml:"network"`
	Cache   CacheConfig   `toml:"cache" yaml:"cache"`
}

type EngineConfig struct {
	TimeoutMS    int `toml:"timeout_ms" yaml:"timeout_ms"`
	Retries      int `toml:"retries" yaml:"retries"`
	RetryDelayMS int `toml:"retry_delay_ms" yaml:"retry_delay_ms"`
	RequestTTLMS int `toml:"request_ttl_ms" yaml:"request_ttl_ms"`
}

type SerialConfig struct {
	BaudRates      []int    `toml:"baud_rates" yaml:"baud_rates"`
	PollIntervalMS int      `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	BootSettleMS   int      `toml:"boot_settle_ms" yaml:"boot_settle_ms"`
	Exclude        []string `toml:"exclude" yaml:"exclude"`
	BlockedUSB     []string `toml:"blocked_usb" yaml:"blocked_usb"`
}

type NetworkConfig struct {
	Devices []string `toml:"devices" yaml:"devices"`
}

type CacheConfig struct {
	// Path of the SQLite device cache. Empty uses nfdbg/devices.db in the
	// user cache directory; ":memory:" keeps it in memory.
	Path string `toml:"path" yaml:"path"`
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c EngineConfig) Timeout() time.Duration    { return ms(c.TimeoutMS) }
func (c EngineConfig) RetryDelay() time.Duration { return ms(c.RetryDelayMS) }
func (c EngineConfig) RequestTTL() time.Duration { return ms(c.RequestTTLMS) }

func (c SerialConfig) PollInterval() time.Duration { return ms(c.PollIntervalMS) }
func (c SerialConfig) BootSettle() time.Duration   { return ms(c.BootSettleMS) }

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			TimeoutMS:    1000,
			Retries:      3,
			RetryDelayMS: 100,
			RequestTTLMS: 20000,
		},
		Serial: SerialConfig{
			BaudRates:      []int{921600, 460800, 115200},
			PollIntervalMS: 200,
			BootSettleMS:   1000,
		},
	}
}

var fileNames = []string{"config.toml", "config.yaml", "config.yml"}

// Find returns the first config file in the user config directory, or ""
// when there is none.
func Find() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	for _, name := range fileNames {
		p := filepath.Join(dir, "nfdbg", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads path over the defaults. An empty path returns the defaults.
// Keys missing from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("config %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the engine cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.TimeoutMS <= 0 {
		errs = append(errs, errors.New("engine.timeout_ms must be positive"))
	}
	if c.Engine.Retries < 1 {
		errs = append(errs, errors.New("engine.retries must be at least 1"))
	}
	if c.Engine.RetryDelayMS < 0 || c.Serial.PollIntervalMS < 0 || c.Serial.BootSettleMS < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	for _, b := range c.Serial.BaudRates {
		if b <= 0 {
			errs = append(errs, fmt.Errorf("serial.baud_rates: invalid rate %d", b))
		}
	}
	for _, id := range c.Serial.BlockedUSB {
		if vid, pid, ok := strings.Cut(id, ":"); !ok || vid == "" || pid == "" {
			errs = append(errs, fmt.Errorf("serial.blocked_usb: %q is not VID:PID", id))
		}
	}
	return errors.Join(errs...)
}

// Marshal renders the config as TOML.
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
