package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds lookup configuration.
type Config struct {
	APIURL          string
	InputFile       string
	OutputFile      string
	OutputFormat    string // json, csv, yaml, or dual
	Timeout         time.Duration
	Delay           time.Duration
	UserAgent       string
	ContinueOnError bool
	Progress        string // lines or bar
	RepeatWindow    int
	MetricsAddr     string
	Verbose         bool
}

// DefaultConfig returns the defaults used when the tool runs without arguments.
func DefaultConfig() *Config {
	return &Config{
		APIURL:          "https://www.googleapis.com/books/v1/volumes",
		InputFile:       "books.txt",
		OutputFile:      "books.json",
		OutputFormat:    "json",
		Timeout:         10 * time.Second,
		Delay:           0,
		UserAgent:       "go-book-lookup/1.0",
		ContinueOnError: false,
		Progress:        "lines",
		RepeatWindow:    1024,
		MetricsAddr:     "",
		Verbose:         false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("api URL must include a host")
	}

	if strings.TrimSpace(c.InputFile) == "" {
		return fmt.Errorf("input file cannot be empty")
	}
	if strings.TrimSpace(c.OutputFile) == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "json", "csv", "yaml", "dual":
	default:
		return fmt.Errorf("output format must be json, csv, yaml, or dual")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Progress != "lines" && c.Progress != "bar" {
		return fmt.Errorf("progress must be lines or bar")
	}
	if c.RepeatWindow <= 0 {
		return fmt.Errorf("repeat window must be positive")
	}

	return nil
}

// Keys bound in viper. Flag names match so cobra flags can be bound directly.
const (
	KeyAPIURL          = "api-url"
	KeyInput           = "input"
	KeyOutput          = "output"
	KeyFormat          = "format"
	KeyTimeout         = "timeout"
	KeyDelay           = "delay"
	KeyUserAgent       = "user-agent"
	KeyContinueOnError = "continue-on-error"
	KeyProgress        = "progress"
	KeyRepeatWindow    = "repeat-window"
	KeyMetricsAddr     = "metrics-addr"
	KeyVerbose         = "verbose"
)

// EnvPrefix is the prefix for environment overrides, e.g. BOOKLOOKUP_OUTPUT.
const EnvPrefix = "BOOKLOOKUP"

// SetDefaults registers DefaultConfig values on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(KeyAPIURL, d.APIURL)
	v.SetDefault(KeyInput, d.InputFile)
	v.SetDefault(KeyOutput, d.OutputFile)
	v.SetDefault(KeyFormat, d.OutputFormat)
	v.SetDefault(KeyTimeout, d.Timeout)
	v.SetDefault(KeyDelay, d.Delay)
	v.SetDefault(KeyUserAgent, d.UserAgent)
	v.SetDefault(KeyContinueOnError, d.ContinueOnError)
	v.SetDefault(KeyProgress, d.Progress)
	v.SetDefault(KeyRepeatWindow, d.RepeatWindow)
	v.SetDefault(KeyMetricsAddr, d.MetricsAddr)
	v.SetDefault(KeyVerbose, d.Verbose)
}

// BindEnv makes every key overridable through BOOKLOOKUP_* variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// FromViper builds a Config from the values resolved by v and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		APIURL:          v.GetString(KeyAPIURL),
		InputFile:       v.GetString(KeyInput),
		OutputFile:      v.GetString(KeyOutput),
		OutputFormat:    strings.ToLower(v.GetString(KeyFormat)),
		Timeout:         v.GetDuration(KeyTimeout),
		Delay:           v.GetDuration(KeyDelay),
		UserAgent:       v.GetString(KeyUserAgent),
		ContinueOnError: v.GetBool(KeyContinueOnError),
		Progress:        strings.ToLower(v.GetString(KeyProgress)),
		RepeatWindow:    v.GetInt(KeyRepeatWindow),
		MetricsAddr:     v.GetString(KeyMetricsAddr),
		Verbose:         v.GetBool(KeyVerbose),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
