// Package config loads scanout settings from a YAML file, SCANOUT_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/staging"
	"github.com/rook-computer/scanout/internal/surface"
)

const EnvPrefix = "SCANOUT"

type Config struct {
	Device    string `mapstructure:"device" yaml:"device" json:"device"`
	Connector uint32 `mapstructure:"connector" yaml:"connector" json:"connector"`
	Mode      string `mapstructure:"mode" yaml:"mode" json:"mode"`
	Refresh   uint32 `mapstructure:"refresh" yaml:"refresh" json:"refresh"`

	Backend        string        `mapstructure:"backend" yaml:"backend" json:"backend"`
	PresentMode    string        `mapstructure:"present_mode" yaml:"present_mode" json:"present_mode"`
	PinPolicy      string        `mapstructure:"pin_policy" yaml:"pin_policy" json:"pin_policy"`
	ReportInterval time.Duration `mapstructure:"report_interval" yaml:"report_interval" json:"report_interval"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty" yaml:"log_pretty" json:"log_pretty"`
	StdioLog  string `mapstructure:"stdio_log" yaml:"stdio_log" json:"stdio_log"`
	Listen    string `mapstructure:"listen" yaml:"listen" json:"listen"`

	Source     string `mapstructure:"source" yaml:"source" json:"source"`
	SourcePath string `mapstructure:"source_path" yaml:"source_path" json:"source_path"`
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
	FPS        int    `mapstructure:"fps" yaml:"fps" json:"fps"`
	// Frames stops the loop after that many frames; 0 runs until interrupted.
	Frames uint64 `mapstructure:"frames" yaml:"frames" json:"frames"`

	Overlay  bool    `mapstructure:"overlay" yaml:"overlay" json:"overlay"`
	FontPath string  `mapstructure:"font_path" yaml:"font_path" json:"font_path"`
	FontSize float64 `mapstructure:"font_size" yaml:"font_size" json:"font_size"`
	// ExitKey names the evdev key that stops the loop, "" for none.
	ExitKey string `mapstructure:"exit_key" yaml:"exit_key" json:"exit_key"`
	TTY     string `mapstructure:"tty" yaml:"tty" json:"tty"`
}

// Parsed holds the enum settings resolved to their package types.
type Parsed struct {
	Backend     surface.Kind
	PresentMode surface.PresentMode
	PinPolicy   staging.PinPolicy
	Format      pixfmt.Format
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("device", "")
	v.SetDefault("connector", 0)
	v.SetDefault("mode", "")
	v.SetDefault("refresh", 0)
	v.SetDefault("backend", "auto")
	v.SetDefault("present_mode", "pageflip")
	v.SetDefault("pin_policy", "per-frame")
	v.SetDefault("report_interval", 2*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("stdio_log", "")
	v.SetDefault("listen", "")
	v.SetDefault("source", "pattern")
	v.SetDefault("source_path", "")
	v.SetDefault("format", "rgba8")
	v.SetDefault("fps", 0)
	v.SetDefault("frames", 0)
	v.SetDefault("overlay", true)
	v.SetDefault("font_path", "")
	v.SetDefault("font_size", 18.0)
	v.SetDefault("exit_key", "esc")
	v.SetDefault("tty", "/dev/tty0")
}

// Flags registers one flag per key. Flag names use dashes for underscores.
func Flags(fs *pflag.FlagSet) {
	fs.String("device", "", "DRM card: path, number, or empty for the first usable card")
	fs.Uint32("connector", 0, "connector id, 0 for the first connected one")
	fs.String("mode", "", "display mode as WIDTHxHEIGHT or mode name, empty for preferred")
	fs.Uint32("refresh", 0, "refresh rate in Hz, 0 for any")
	fs.String("backend", "auto", "scanout backend: auto, swapchain, dumb")
	fs.String("present-mode", "pageflip", "dumb backend presentation: pageflip, modeset")
	fs.String("pin-policy", "per-frame", "accelerator registration: per-frame, persistent")
	fs.Duration("report-interval", 2*time.Second, "frame rate log interval, 0 disables")
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.Bool("log-pretty", false, "human-readable console logs")
	fs.String("stdio-log", "", "redirect stdout and stderr, including panics, to this file")
	fs.String("listen", "", "serve the status API on this address, e.g. :8080")
	fs.String("source", "pattern", "frame source: pattern, still")
	fs.String("source-path", "", "image file for the still source")
	fs.String("format", "rgba8", "pixel format the pattern source emits: rgba8, rgb8")
	fs.Int("fps", 0, "cap the render loop rate, 0 for display rate")
	fs.Uint64("frames", 0, "stop after this many frames, 0 runs until interrupted")
	fs.Bool("overlay", true, "draw the stats overlay")
	fs.String("font-path", "", "OpenType or TrueType font for the overlay")
	fs.Float64("font-size", 18, "overlay font size in points")
	fs.String("exit-key", "esc", "key that stops rendering, empty disables")
	fs.String("tty", "/dev/tty0", "console switched to graphics mode while rendering, empty skips")
}

// Load reads the config file (optional when path is empty), the environment and
// any flags bound through fs.
func Load(v *viper.Viper, path string, fs *pflag.FlagSet) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
		}
	} else {
		v.SetConfigName("scanout")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/scanout")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if _, err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse resolves and validates the enum and range settings.
func (c *Config) Parse() (Parsed, error) {
	var p Parsed
	var err error
	if p.Backend, err = surface.ParseKind(c.Backend); err != nil {
		return p, err
	}
	if p.PresentMode, err = surface.ParsePresentMode(c.PresentMode); err != nil {
		return p, err
	}
	if p.PinPolicy, err = staging.ParsePinPolicy(c.PinPolicy); err != nil {
		return p, err
	}
	if p.Format, err = pixfmt.Parse(c.Format); err != nil {
		return p, err
	}
	if p.Format != pixfmt.RGB8 && p.Format != pixfmt.RGBA8 {
		return p, fmt.Errorf("source format %s: want rgb8 or rgba8", p.Format)
	}
	if c.FPS < 0 {
		return p, fmt.Errorf("fps %d is negative", c.FPS)
	}
	if c.ReportInterval < 0 {
		return p, fmt.Errorf("report_interval %s is negative", c.ReportInterval)
	}
	switch strings.ToLower(c.Source) {
	case "", "pattern":
	case "still", "image":
		if c.SourcePath == "" {
			return p, errors.New("source still needs source_path")
		}
	default:
		return p, fmt.Errorf("unknown source %q", c.Source)
	}
	return p, nil
}
