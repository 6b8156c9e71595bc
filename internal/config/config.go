package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"rfchat/internal/logging"
	"rfchat/internal/sdp"
)

// DefaultPath is read when Load is given no explicit path.
const DefaultPath = "~/.rfchat/config.toml"

type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Service ServiceConfig `toml:"service"`
	Radio   RadioConfig   `toml:"radio"`
	Chat    ChatConfig    `toml:"chat"`
	Logging LoggingConfig `toml:"logging"`
}

type DeviceConfig struct {
	Name    string `toml:"name"`
	DataDir string `toml:"data_dir"`
}

type ServiceConfig struct {
	Name string `toml:"name"`
}

// RadioConfig selects the shared directory of the simulated radio and the
// link protection this device requires.
type RadioConfig struct {
	Dir        string `toml:"dir"`
	Protection string `toml:"protection"`
}

type ChatConfig struct {
	MaxMessageSize int      `toml:"max_message_size"` // 0 = full 32-bit range
	WriteTimeout   Duration `toml:"write_timeout"`    // 0 = block until written
	History        bool     `toml:"history"`
	HistoryLimit   int      `toml:"history_limit"` // 0 = unbounded
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"` // empty: <data_dir>/rfchat.log
}

// Duration is a time.Duration written as a Go duration string ("1.5s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "rfchat"
	}
	return &Config{
		Device: DeviceConfig{
			Name:    hostname,
			DataDir: "~/.rfchat",
		},
		Service: ServiceConfig{
			Name: sdp.DefaultServiceName,
		},
		Radio: RadioConfig{
			Dir:        filepath.Join(os.TempDir(), "rfchat-radio"),
			Protection: "encrypted",
		},
		Chat: ChatConfig{
			MaxMessageSize: 1 << 20,
			History:        true,
			HistoryLimit:   1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file over Defaults. With an empty path the file
// at DefaultPath is used if it exists. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome(DefaultPath)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing config: unknown keys: %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a session.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Device.Name) == "" {
		errs = append(errs, errors.New("device.name must not be empty"))
	}
	if strings.TrimSpace(c.Device.DataDir) == "" {
		errs = append(errs, errors.New("device.data_dir must not be empty"))
	}
	if _, err := (sdp.Descriptor{Name: c.Service.Name}).Encode(); err != nil {
		errs = append(errs, fmt.Errorf("service.name: %w", err))
	}
	if strings.TrimSpace(c.Radio.Dir) == "" {
		errs = append(errs, errors.New("radio.dir must not be empty"))
	}
	switch c.Radio.Protection {
	case "encrypted", "plain":
	default:
		errs = append(errs, fmt.Errorf("radio.protection must be \"encrypted\" or \"plain\", got %q", c.Radio.Protection))
	}
	if c.Chat.MaxMessageSize < 0 {
		errs = append(errs, fmt.Errorf("chat.max_message_size must be >= 0, got %d", c.Chat.MaxMessageSize))
	}
	if c.Chat.WriteTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("chat.write_timeout must be >= 0, got %s", c.Chat.WriteTimeout))
	}
	if c.Chat.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("chat.history_limit must be >= 0, got %d", c.Chat.HistoryLimit))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// DataDir is Device.DataDir with ~ expanded.
func (c *Config) DataDir() string {
	return expandHome(c.Device.DataDir)
}

// LogFile is the log destination with ~ expanded, defaulting into DataDir.
func (c *Config) LogFile() string {
	if c.Logging.File == "" {
		return filepath.Join(c.DataDir(), "rfchat.log")
	}
	return expandHome(c.Logging.File)
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
