package config

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tdh8316/nameprobe/internal/data"
	"github.com/tdh8316/nameprobe/internal/httpx"
	"github.com/tdh8316/nameprobe/internal/log"
	"github.com/tdh8316/nameprobe/internal/scan"
)

const (
	DefaultThreads      = scan.DefaultConcurrency
	DefaultProbeTimeout = scan.DefaultProbeTimeout
	DefaultBatchPause   = scan.DefaultBatchPause
	DefaultDataURL      = data.DefaultDataURL
	DefaultDataFile     = "social_sites.json"
	DefaultListenAddr   = "0.0.0.0:3003"
	DefaultResultsDir   = "."
	DefaultOutput       = "txt"

	// DefaultFile is picked up from the working directory when no path is given.
	DefaultFile = "nameprobe.yaml"
	EnvFile     = "NAMEPROBE_CONFIG"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Threads    int           `yaml:"threads"`
	Strategy   string        `yaml:"strategy"`
	Timeout    time.Duration `yaml:"timeout"`
	BatchPause time.Duration `yaml:"batch_pause"`
	UserAgent  string        `yaml:"user_agent"`

	DataFile string   `yaml:"data_file"`
	DataURL  string   `yaml:"data_url"`
	Sites    []string `yaml:"sites"`

	Output     string `yaml:"output"`
	ResultsDir string `yaml:"results"`

	Tor      bool   `yaml:"tor"`
	TorProxy string `yaml:"tor_proxy"`

	Listen    string `yaml:"listen"`
	LogFormat string `yaml:"log_format"`
	NoColor   bool   `yaml:"no_color"`
	Verbose   bool   `yaml:"verbose"`
}

func Default() Config {
	return Config{
		Threads:    DefaultThreads,
		Strategy:   string(scan.StrategyBatch),
		Timeout:    DefaultProbeTimeout,
		BatchPause: DefaultBatchPause,
		UserAgent:  httpx.DefaultUserAgent,
		DataFile:   DefaultDataFile,
		DataURL:    DefaultDataURL,
		Output:     DefaultOutput,
		ResultsDir: DefaultResultsDir,
		TorProxy:   httpx.DefaultTorProxyURL,
		Listen:     DefaultListenAddr,
		LogFormat:  log.FormatText,
	}
}

// Resolve picks the config file path: explicit, then $NAMEPROBE_CONFIG, then
// nameprobe.yaml if present. Empty means no file.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvFile)); env != "" {
		return env
	}
	if info, err := os.Stat(DefaultFile); err == nil && !info.IsDir() {
		return DefaultFile
	}
	return ""
}

// Load overlays the YAML file at path onto the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %q", path)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %q", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Threads < 1 || c.Threads > scan.MaxConcurrency {
		return errors.Wrapf(ErrInvalid, "threads must be between 1 and %d, got %d", scan.MaxConcurrency, c.Threads)
	}
	switch scan.Strategy(c.Strategy) {
	case scan.StrategyBatch, scan.StrategyPool:
	default:
		return errors.Wrapf(ErrInvalid, "unknown strategy %q", c.Strategy)
	}
	switch c.Output {
	case "txt", "json", "web":
	default:
		return errors.Wrapf(ErrInvalid, "output must be txt, json or web, got %q", c.Output)
	}
	if c.Timeout <= 0 {
		return errors.Wrapf(ErrInvalid, "timeout must be positive, got %s", c.Timeout)
	}
	if c.BatchPause < 0 {
		return errors.Wrapf(ErrInvalid, "batch pause must not be negative, got %s", c.BatchPause)
	}
	if c.DataFile == "" {
		return errors.Wrap(ErrInvalid, "data file is required")
	}
	if _, err := log.ParseFormat(c.LogFormat); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	return nil
}

func (c Config) ScanConfig() scan.Config {
	cfg := scan.DefaultConfig()
	cfg.UserAgent = c.UserAgent
	cfg.Concurrency = c.Threads
	cfg.Strategy = scan.Strategy(c.Strategy)
	cfg.ProbeTimeout = c.Timeout
	cfg.BatchPause = c.BatchPause
	return cfg
}

func (c Config) ClientConfig() httpx.ClientConfig {
	return httpx.ClientConfig{
		// the per-probe deadline is enforced by the scanner
		Timeout:         httpx.DefaultClientTimeout,
		WithTor:         c.Tor,
		TorProxyURL:     c.TorProxy,
		MaxConnsPerHost: c.Threads,
	}
}
