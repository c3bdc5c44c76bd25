// Package config holds the settings shared by every front-end. Values are
// layered: built-in defaults, then the TOML file, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/fmueller/voxserve/internal/capture"
	"github.com/fmueller/voxserve/internal/whisper"
)

const (
	EngineCLI = "cli"
	EngineCPP = "cpp"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Model        string `toml:"model"`
	ModelDir     string `toml:"model_dir"`
	AutoDownload bool   `toml:"auto_download"`
	Engine       string `toml:"engine"`
	Device       string `toml:"device"`
	Threads      int    `toml:"threads"`
	Language     string `toml:"language"`

	Microphone      int           `toml:"microphone"`
	MinDuration     time.Duration `toml:"min_duration"`
	MaxDuration     time.Duration `toml:"max_duration"`
	DefaultDuration time.Duration `toml:"default_duration"`

	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	Listen         string `toml:"listen"`
	SpoolDir       string `toml:"spool_dir"`

	SilenceGate          bool    `toml:"silence_gate"`
	SilenceThresholdDBFS float64 `toml:"silence_threshold_dbfs"`
}

// Default returns the built-in settings. ModelDir and SpoolDir stay empty and
// resolve to per-user data directories.
func Default() Config {
	return Config{
		Model:                "small",
		AutoDownload:         true,
		Engine:               EngineCLI,
		Device:               whisper.DeviceAuto,
		Language:             "pt",
		Microphone:           capture.DefaultDevice,
		MinDuration:          time.Second,
		MaxDuration:          60 * time.Second,
		DefaultDuration:      5 * time.Second,
		MaxUploadBytes:       25 << 20,
		Listen:               ":5000",
		SilenceThresholdDBFS: -65,
	}
}

// Load reads the TOML file at path and fills every key it does not set from
// Default. A missing file is an error unless optional is true.
func Load(path string, optional bool) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data string) (Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}

	explicit := cfg
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("merge defaults: %w", err)
	}

	// mergo treats false and 0 as unset; a value written in the file wins.
	if md.IsDefined("auto_download") {
		cfg.AutoDownload = explicit.AutoDownload
	}
	if md.IsDefined("microphone") {
		cfg.Microphone = explicit.Microphone
	}
	if md.IsDefined("silence_gate") {
		cfg.SilenceGate = explicit.SilenceGate
	}
	if md.IsDefined("silence_threshold_dbfs") {
		cfg.SilenceThresholdDBFS = explicit.SilenceThresholdDBFS
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	switch c.Engine {
	case EngineCLI, EngineCPP:
	default:
		errs = append(errs, fmt.Errorf("engine must be %s or %s, got %q", EngineCLI, EngineCPP, c.Engine))
	}
	switch c.Device {
	case whisper.DeviceAuto, whisper.DeviceCPU, whisper.DeviceGPU:
	default:
		errs = append(errs, fmt.Errorf("device must be auto, cpu or gpu, got %q", c.Device))
	}
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model is empty"))
	}
	if strings.TrimSpace(c.Language) == "" {
		errs = append(errs, errors.New("language is empty"))
	}
	if c.Threads < 0 {
		errs = append(errs, fmt.Errorf("threads must not be negative, got %d", c.Threads))
	}
	if c.MinDuration <= 0 || c.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("duration bounds must be positive, got %s..%s", c.MinDuration, c.MaxDuration))
	} else if c.MinDuration > c.MaxDuration {
		errs = append(errs, fmt.Errorf("min_duration %s exceeds max_duration %s", c.MinDuration, c.MaxDuration))
	} else if err := c.CheckDuration(c.DefaultDuration); err != nil {
		errs = append(errs, fmt.Errorf("default_duration: %w", err))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// CheckDuration reports whether d lies within the capture bounds.
func (c Config) CheckDuration(d time.Duration) error {
	if d < c.MinDuration || d > c.MaxDuration {
		return fmt.Errorf("duration %s outside %s..%s", d, c.MinDuration, c.MaxDuration)
	}
	return nil
}
