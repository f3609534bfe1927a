package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultLogLevel      = "info"
	defaultLogFormat     = "line"
	defaultBaseURL       = "https://api-7.whoop.com"
	defaultAPITimeout    = 10 * time.Second
	defaultHRWindow      = 480 * time.Second
	defaultHRStep        = 6 * time.Second
	defaultCycleWindow   = 120 * time.Hour
	defaultOutputSink    = "stdout"
	defaultOutputTimeout = 5 * time.Second
	defaultServeListen   = "127.0.0.1:8077"
	defaultServePath     = "/scrape"
	defaultPprofListen   = "127.0.0.1:6060"

	// EnvUsername and EnvPassword override empty [auth] fields.
	EnvUsername = "WHOOP_USERNAME"
	EnvPassword = "WHOOP_PASSWORD"
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root scraper configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Auth   AuthConfig   `toml:"auth"`
	API    APIConfig    `toml:"api"`
	Log    LogConfig    `toml:"log"`
	Output OutputConfig `toml:"output"`
	Serve  ServeConfig  `toml:"serve"`
	Pprof  PprofConfig  `toml:"pprof"`
}

// AuthConfig contains Whoop account credentials.
// Params: username/password from TOML or WHOOP_USERNAME/WHOOP_PASSWORD env.
// Returns: login credentials for the vendor API.
type AuthConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// APIConfig contains vendor API endpoint and polling window settings.
// Params: base URL, request timeout, and per-metric window options.
// Returns: vendor API client settings.
type APIConfig struct {
	BaseURL         string   `toml:"base_url"`
	Timeout         Duration `toml:"timeout"`
	HeartrateWindow Duration `toml:"heartrate_window"`
	HeartrateStep   Duration `toml:"heartrate_step"`
	CycleWindow     Duration `toml:"cycle_window"`
	StartDate       string   `toml:"start_date"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// OutputConfig defines where encoded line-protocol records go.
// Params: sink selector plus file path or HTTP write endpoint options.
// Returns: output sink settings.
type OutputConfig struct {
	Sink    string   `toml:"sink"`
	Path    string   `toml:"path"`
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// ServeConfig defines the optional HTTP serve mode.
// Params: enabled flag, listen address, and request path.
// Returns: serve mode settings.
type ServeConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	Path    string `toml:"path"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files; empty
// path selects defaults plus environment credentials.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	var cfg Config

	if strings.TrimSpace(path) != "" {
		raw, err := readConfigSource(path)
		if err != nil {
			return nil, err
		}

		expanded := os.ExpandEnv(string(raw))
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode TOML %q: %w", path, err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: none.
func (c *Config) applyDefaults() {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Auth.Username) == "" {
		c.Auth.Username = os.Getenv(EnvUsername)
	}
	if strings.TrimSpace(c.Auth.Password) == "" {
		c.Auth.Password = os.Getenv(EnvPassword)
	}

	if strings.TrimSpace(c.API.BaseURL) == "" {
		c.API.BaseURL = defaultBaseURL
	}
	if c.API.Timeout.Duration <= 0 {
		c.API.Timeout.Duration = defaultAPITimeout
	}
	if c.API.HeartrateWindow.Duration <= 0 {
		c.API.HeartrateWindow.Duration = defaultHRWindow
	}
	if c.API.HeartrateStep.Duration <= 0 {
		c.API.HeartrateStep.Duration = defaultHRStep
	}
	if c.API.CycleWindow.Duration <= 0 {
		c.API.CycleWindow.Duration = defaultCycleWindow
	}

	c.Output.Sink = lowerOrDefault(c.Output.Sink, defaultOutputSink)
	if c.Output.Timeout.Duration <= 0 {
		c.Output.Timeout.Duration = defaultOutputTimeout
	}

	if c.Serve.Enabled {
		if strings.TrimSpace(c.Serve.Listen) == "" {
			c.Serve.Listen = defaultServeListen
		}
		if strings.TrimSpace(c.Serve.Path) == "" {
			c.Serve.Path = defaultServePath
		}
	}
	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}
}

// validate checks configuration invariants after defaulting.
// Params: receiver config pointer.
// Returns: first invariant violation or nil.
func (c *Config) validate() error {
	if err := validateLogSink("log.console", c.Log.Console); err != nil {
		return err
	}
	if err := validateLogSink("log.file", c.Log.File); err != nil {
		return err
	}
	if c.Log.File.Enabled && strings.TrimSpace(c.Log.File.Path) == "" {
		return fmt.Errorf("log.file.path is required when file sink is enabled")
	}

	if !c.Serve.Enabled {
		if strings.TrimSpace(c.Auth.Username) == "" {
			return fmt.Errorf("auth.username is required (set it or %s)", EnvUsername)
		}
		if strings.TrimSpace(c.Auth.Password) == "" {
			return fmt.Errorf("auth.password is required (set it or %s)", EnvPassword)
		}
	}

	if err := validateHTTPURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if date := strings.TrimSpace(c.API.StartDate); date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return fmt.Errorf("api.start_date must be YYYY-MM-DD: %w", err)
		}
	}

	switch c.Output.Sink {
	case "stdout":
	case "file":
		if strings.TrimSpace(c.Output.Path) == "" {
			return fmt.Errorf("output.path is required when output.sink is file")
		}
	case "http":
		if err := validateHTTPURL("output.url", c.Output.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("output.sink must be one of stdout, file, http: got %q", c.Output.Sink)
	}

	if c.Serve.Enabled {
		if err := validateListenAddr("serve.listen", c.Serve.Listen); err != nil {
			return err
		}
		if !strings.HasPrefix(c.Serve.Path, "/") {
			return fmt.Errorf("serve.path must start with /: got %q", c.Serve.Path)
		}
	}
	if c.Pprof.Enabled {
		if err := validateListenAddr("pprof.listen", c.Pprof.Listen); err != nil {
			return err
		}
	}

	return nil
}

// validateLogSink checks one logging sink level/format selector.
// Params: field prefix for error text; sink settings.
// Returns: error on unsupported level or format.
func validateLogSink(field string, sink LogSinkConfig) error {
	switch sink.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level must be one of debug, info, warn, error: got %q", field, sink.Level)
	}

	switch sink.Format {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format must be line or json: got %q", field, sink.Format)
	}

	return nil
}

// validateHTTPURL checks one absolute http(s) URL field.
// Params: field name for error text; raw URL value.
// Returns: error on empty, unparsable, or non-http URL.
func validateHTTPURL(field string, raw string) error {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme: got %q", field, value)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must contain host: got %q", field, value)
	}

	return nil
}

// validateListenAddr checks one host:port listen field.
// Params: field name for error text; raw listen value.
// Returns: error when value is not host:port.
func validateListenAddr(field string, raw string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("%s must be host:port: %w", field, err)
	}
	return nil
}

// lowerOrDefault lowercases a value or substitutes a default for blanks.
// Params: raw value and fallback.
// Returns: normalized value.
func lowerOrDefault(value string, fallback string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
