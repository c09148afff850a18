// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the rcwatch configuration from defaults, an optional
// YAML file, RCWATCH_* environment variables and command line flags.
package config

import (
	"time"

	"github.com/ManuGH/rcwatch/internal/videolog"
)

// DefaultHost is the platform front end used by the web client.
const DefaultHost = "changjiang.yuketang.cn"

// AppConfig is the merged runtime configuration.
type AppConfig struct {
	Host        string `yaml:"host" validate:"required"`
	SessionID   string `yaml:"session_id" validate:"required"`
	CSRFToken   string `yaml:"csrf_token" validate:"required"`
	XTBZ        string `yaml:"xtbz" validate:"required"`
	ClassroomID int64  `yaml:"classroom_id" validate:"gte=0"`

	Backdate           time.Duration `yaml:"backdate" validate:"gte=0"`
	MaxRetries         int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	Concurrency        int           `yaml:"concurrency" validate:"gte=1,lte=32"`
	RoundDelayBase     time.Duration `yaml:"round_delay_base" validate:"gte=0"`
	RoundDelayPerVideo time.Duration `yaml:"round_delay_per_video" validate:"gte=0"`

	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	HTTPRetries int           `yaml:"http_retries" validate:"gte=0,lte=10"`
	RateLimit   float64       `yaml:"rate_limit" validate:"gt=0"`
	RateBurst   int           `yaml:"rate_burst" validate:"gte=1"`

	LOB     videolog.LOB `yaml:"lob" validate:"oneof=plat2 plat xt ykt cloud zyk mtc"`
	CDNHost string       `yaml:"cdn_host" validate:"required"`

	LogLevel  string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json console"`

	ReportPath    string `yaml:"report"`
	MetricsListen string `yaml:"metrics_listen" validate:"omitempty,hostname_port"`

	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"oneof=grpc http"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Host:               DefaultHost,
		XTBZ:               "ykt",
		Backdate:           30 * time.Minute,
		MaxRetries:         3,
		Concurrency:        4,
		RoundDelayBase:     2 * time.Second,
		RoundDelayPerVideo: time.Second,
		Timeout:            15 * time.Second,
		HTTPRetries:        2,
		RateLimit:          5,
		RateBurst:          10,
		LOB:                videolog.DefaultLOB,
		CDNHost:            videolog.DefaultCDNHost,
		LogLevel:           "info",
		LogFormat:          "json",
		Tracing: TracingConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
