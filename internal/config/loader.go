// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/rcwatch/internal/videolog"
)

// Loader merges configuration sources with precedence
// flags > environment > file > defaults.
type Loader struct {
	configPath string
	flags      *pflag.FlagSet
	// ConsumedEnvKeys records every environment key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. configPath may be empty.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// WithFlags makes flags the highest precedence source. Only flags the user
// set explicitly override lower layers.
func (l *Loader) WithFlags(fs *pflag.FlagSet) *Loader {
	l.flags = fs
	return l
}

// Load returns the merged configuration without validating it.
// Callers validate with Validate once they know what the command needs.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return AppConfig{}, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}
	l.mergeEnv(&cfg)
	if err := l.mergeFlags(&cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *AppConfig) error {
	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) env(key string) string {
	full := EnvPrefix + key
	l.ConsumedEnvKeys[full] = struct{}{}
	return full
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.Host = ParseString(l.env("HOST"), cfg.Host)
	cfg.SessionID = ParseString(l.env("SESSION_ID"), cfg.SessionID)
	cfg.CSRFToken = ParseString(l.env("CSRF_TOKEN"), cfg.CSRFToken)
	cfg.XTBZ = ParseString(l.env("XTBZ"), cfg.XTBZ)
	cfg.ClassroomID = ParseInt64(l.env("CLASSROOM_ID"), cfg.ClassroomID)

	cfg.Backdate = ParseDuration(l.env("BACKDATE"), cfg.Backdate)
	cfg.MaxRetries = ParseInt(l.env("MAX_RETRIES"), cfg.MaxRetries)
	cfg.Concurrency = ParseInt(l.env("CONCURRENCY"), cfg.Concurrency)
	cfg.RoundDelayBase = ParseDuration(l.env("ROUND_DELAY_BASE"), cfg.RoundDelayBase)
	cfg.RoundDelayPerVideo = ParseDuration(l.env("ROUND_DELAY_PER_VIDEO"), cfg.RoundDelayPerVideo)

	cfg.Timeout = ParseDuration(l.env("TIMEOUT"), cfg.Timeout)
	cfg.HTTPRetries = ParseInt(l.env("HTTP_RETRIES"), cfg.HTTPRetries)
	cfg.RateLimit = ParseFloat(l.env("RATE_LIMIT"), cfg.RateLimit)
	cfg.RateBurst = ParseInt(l.env("RATE_BURST"), cfg.RateBurst)

	cfg.LOB = videolog.LOB(ParseString(l.env("LOB"), string(cfg.LOB)))
	cfg.CDNHost = ParseString(l.env("CDN_HOST"), cfg.CDNHost)

	cfg.LogLevel = strings.ToLower(ParseString(l.env("LOG_LEVEL"), cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(ParseString(l.env("LOG_FORMAT"), cfg.LogFormat))
	cfg.ReportPath = ParseString(l.env("REPORT"), cfg.ReportPath)
	cfg.MetricsListen = ParseString(l.env("METRICS_LISTEN"), cfg.MetricsListen)

	cfg.Tracing.Enabled = ParseBool(l.env("TRACING_ENABLED"), cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = ParseString(l.env("TRACING_EXPORTER"), cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = ParseString(l.env("TRACING_ENDPOINT"), cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = ParseFloat(l.env("TRACING_SAMPLING_RATE"), cfg.Tracing.SamplingRate)
}

// Flag names understood by mergeFlags.
const (
	FlagHost          = "host"
	FlagSessionID     = "session-id"
	FlagCSRFToken     = "csrf-token"
	FlagClassroom     = "classroom"
	FlagMaxRetries    = "max-retries"
	FlagConcurrency   = "concurrency"
	FlagBackdate      = "backdate"
	FlagReport        = "report"
	FlagMetricsListen = "metrics-listen"
	FlagLogLevel      = "log-level"
	FlagLogFormat     = "log-format"
)

// RegisterFlags adds the override flags to fs with defaults shown for help.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String(FlagHost, def.Host, "platform host")
	fs.String(FlagSessionID, "", "sessionid cookie of a logged-in browser session")
	fs.String(FlagCSRFToken, "", "csrftoken cookie of the same session")
	fs.Int64(FlagClassroom, 0, "classroom id to watch")
	fs.Int(FlagMaxRetries, def.MaxRetries, "submission rounds after the initial progress poll")
	fs.Int(FlagConcurrency, def.Concurrency, "max concurrent calls per batch")
	fs.Duration(FlagBackdate, def.Backdate, "shift synthesized timestamps into the past")
	fs.String(FlagReport, "", "write a JSON run report to this path")
	fs.String(FlagMetricsListen, "", "serve /metrics and /healthz on this address")
	fs.String(FlagLogLevel, def.LogLevel, "log level (trace, debug, info, warn, error)")
	fs.String(FlagLogFormat, def.LogFormat, "log format (json, console)")
}

func (l *Loader) mergeFlags(cfg *AppConfig) error {
	fs := l.flags
	if fs == nil {
		return nil
	}
	var errs []error
	str := func(name string, dst *string) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, err := fs.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, err := fs.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str(FlagHost, &cfg.Host)
	str(FlagSessionID, &cfg.SessionID)
	str(FlagCSRFToken, &cfg.CSRFToken)
	str(FlagReport, &cfg.ReportPath)
	str(FlagMetricsListen, &cfg.MetricsListen)
	str(FlagLogLevel, &cfg.LogLevel)
	str(FlagLogFormat, &cfg.LogFormat)
	integer(FlagMaxRetries, &cfg.MaxRetries)
	integer(FlagConcurrency, &cfg.Concurrency)

	if f := fs.Lookup(FlagClassroom); f != nil && f.Changed {
		v, err := fs.GetInt64(FlagClassroom)
		errs = append(errs, err)
		cfg.ClassroomID = v
	}
	if f := fs.Lookup(FlagBackdate); f != nil && f.Changed {
		v, err := fs.GetDuration(FlagBackdate)
		errs = append(errs, err)
		cfg.Backdate = v
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	return nil
}
