// Package config provides configuration management for LapseForge.
// Defaults are overlaid by an optional TOML file and then by environment
// variables; the result is validated before use.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort            = 8787
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "auto"
	DefaultDataDir         = ".lapseforge"
	DefaultExportFPS       = 30
	DefaultExportChunkSize = 10
	DefaultFFmpegPath      = "ffmpeg"
	DefaultFFprobePath     = "ffprobe"
	DefaultJobPollInterval = 5 * time.Second

	// Environment variable names
	EnvConfigPath      = "LAPSEFORGE_CONFIG"
	EnvPort            = "LAPSEFORGE_PORT"
	EnvLogLevel        = "LAPSEFORGE_LOG_LEVEL"
	EnvLogFormat       = "LAPSEFORGE_LOG_FORMAT"
	EnvDataDir         = "LAPSEFORGE_DATA_DIR"
	EnvExportFPS       = "LAPSEFORGE_EXPORT_FPS"
	EnvExportChunkSize = "LAPSEFORGE_EXPORT_CHUNK_SIZE"
	EnvImportWorkers   = "LAPSEFORGE_IMPORT_WORKERS"
	EnvFFmpegPath      = "LAPSEFORGE_FFMPEG"
	EnvFFprobePath     = "LAPSEFORGE_FFPROBE"
	EnvJobPollInterval = "LAPSEFORGE_JOB_POLL_INTERVAL"
	EnvHeadless        = "LAPSEFORGE_HEADLESS"

	// File names under the data directory
	ConfigFilename = "config.toml"
	DBFilename     = "lapseforge.db"
	LockFilename   = "lapseforge.lock"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	LockPath() string
	FramesDir() string
	ScratchDir() string
	ExportsDir() string
	ExportFPS() int
	ExportChunkSize() int
	ImportWorkers() int
	FFmpegPath() string
	FFprobePath() string
	JobPollInterval() time.Duration
	Headless() bool
}

// settings mirrors the TOML file layout.
type settings struct {
	Port      int    `toml:"port"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	DataDir   string `toml:"data_dir"`
	Headless  bool   `toml:"headless"`

	Export struct {
		FPS       int `toml:"fps"`
		ChunkSize int `toml:"chunk_size"`
	} `toml:"export"`

	Import struct {
		Workers int `toml:"workers"`
	} `toml:"import"`

	Tools struct {
		FFmpeg  string `toml:"ffmpeg"`
		FFprobe string `toml:"ffprobe"`
	} `toml:"tools"`

	Jobs struct {
		PollInterval string `toml:"poll_interval"`
	} `toml:"jobs"`
}

// EnvConfig is the effective configuration after all layers are applied.
type EnvConfig struct {
	s            settings
	pollInterval time.Duration
	path         string
	fromFile     bool
}

func defaults() settings {
	var s settings
	s.Port = DefaultPort
	s.LogLevel = DefaultLogLevel
	s.LogFormat = DefaultLogFormat
	s.DataDir = defaultDataDir()
	s.Export.FPS = DefaultExportFPS
	s.Export.ChunkSize = DefaultExportChunkSize
	s.Import.Workers = runtime.NumCPU()
	s.Tools.FFmpeg = DefaultFFmpegPath
	s.Tools.FFprobe = DefaultFFprobePath
	s.Jobs.PollInterval = DefaultJobPollInterval.String()
	return s
}

// New builds the configuration. An empty path means LAPSEFORGE_CONFIG or
// ~/.lapseforge/config.toml; a missing file is not an error.
func New(path string) (*EnvConfig, error) {
	cfg := &EnvConfig{s: defaults()}

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = filepath.Join(defaultDataDir(), ConfigFilename)
	}
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	cfg.path = path

	if err := cfg.loadFile(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile() error {
	file, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&c.s); err != nil {
		return fmt.Errorf("parse config %s: %w", c.path, err)
	}
	c.fromFile = true
	return nil
}

func (c *EnvConfig) applyEnv() error {
	ints := []struct {
		env string
		dst *int
	}{
		{EnvPort, &c.s.Port},
		{EnvExportFPS, &c.s.Export.FPS},
		{EnvExportChunkSize, &c.s.Export.ChunkSize},
		{EnvImportWorkers, &c.s.Import.Workers},
	}
	for _, v := range ints {
		raw := os.Getenv(v.env)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", v.env, err)
		}
		*v.dst = n
	}

	strs := []struct {
		env string
		dst *string
	}{
		{EnvLogLevel, &c.s.LogLevel},
		{EnvLogFormat, &c.s.LogFormat},
		{EnvDataDir, &c.s.DataDir},
		{EnvFFmpegPath, &c.s.Tools.FFmpeg},
		{EnvFFprobePath, &c.s.Tools.FFprobe},
		{EnvJobPollInterval, &c.s.Jobs.PollInterval},
	}
	for _, v := range strs {
		if raw := os.Getenv(v.env); raw != "" {
			*v.dst = raw
		}
	}

	if raw := os.Getenv(EnvHeadless); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.s.Headless = b
	}
	return nil
}

func (c *EnvConfig) normalize() error {
	c.s.LogLevel = strings.ToLower(strings.TrimSpace(c.s.LogLevel))
	c.s.LogFormat = strings.ToLower(strings.TrimSpace(c.s.LogFormat))

	dataDir, err := expandPath(c.s.DataDir)
	if err != nil {
		return err
	}
	c.s.DataDir = dataDir

	interval, err := time.ParseDuration(c.s.Jobs.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid jobs.poll_interval: %w", err)
	}
	c.pollInterval = interval
	return nil
}

// Validate checks ranges of the effective values.
func (c *EnvConfig) Validate() error {
	if c.s.Port < 1 || c.s.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.s.Port)
	}
	if c.s.Export.FPS < 1 || c.s.Export.FPS > 240 {
		return fmt.Errorf("invalid export.fps %d: must be between 1 and 240", c.s.Export.FPS)
	}
	if c.s.Export.ChunkSize < 1 {
		return fmt.Errorf("invalid export.chunk_size %d: must be at least 1", c.s.Export.ChunkSize)
	}
	if c.s.Import.Workers < 1 {
		return fmt.Errorf("invalid import.workers %d: must be at least 1", c.s.Import.Workers)
	}
	switch c.s.LogFormat {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q: must be auto, json or text", c.s.LogFormat)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid jobs.poll_interval %s: must be positive", c.pollInterval)
	}
	if c.s.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	return nil
}

// Marshal renders the effective configuration as TOML.
func (c *EnvConfig) Marshal() ([]byte, error) {
	return toml.Marshal(c.s)
}

// Path returns the config file location and whether it was read.
func (c *EnvConfig) Path() (string, bool) {
	return c.path, c.fromFile
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.s.Port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.s.LogLevel
}

// LogFormat returns auto, json or text
func (c *EnvConfig) LogFormat() string {
	return c.s.LogFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.s.DataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.s.DataDir, DBFilename)
}

func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.s.DataDir, LockFilename)
}

// FramesDir holds one directory per sequence.
func (c *EnvConfig) FramesDir() string {
	return filepath.Join(c.s.DataDir, "frames")
}

// ScratchDir holds intermediate chunk files; it is cleared by the sweep.
func (c *EnvConfig) ScratchDir() string {
	return filepath.Join(c.s.DataDir, "scratch")
}

func (c *EnvConfig) ExportsDir() string {
	return filepath.Join(c.s.DataDir, "exports")
}

func (c *EnvConfig) ExportFPS() int {
	return c.s.Export.FPS
}

func (c *EnvConfig) ExportChunkSize() int {
	return c.s.Export.ChunkSize
}

func (c *EnvConfig) ImportWorkers() int {
	return c.s.Import.Workers
}

func (c *EnvConfig) FFmpegPath() string {
	return c.s.Tools.FFmpeg
}

func (c *EnvConfig) FFprobePath() string {
	return c.s.Tools.FFprobe
}

func (c *EnvConfig) JobPollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) Headless() bool {
	return c.s.Headless
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", path, err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
