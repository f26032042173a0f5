package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: [Default] values, overlaid with
// the YAML file at path (skipped when path is empty), overlaid with the
// process environment, then validated. It is the single entry point used by
// the server binary.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeInto(cfg, f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays well-known environment variables onto cfg. Set variables
// always win over file values, matching how the proxy was driven before it
// grew a config file.
func ApplyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: parse PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv("UPSTREAM_URL"); ok {
		cfg.Upstream.URL = v
	}
	if v, ok := os.LookupEnv("UPSTREAM_TOKEN"); ok {
		cfg.Upstream.Token = v
	}
	if v, ok := os.LookupEnv("UPSTREAM_AGENT"); ok {
		cfg.Upstream.Agent = v
	}
	return nil
}

// Validate checks cfg for coherence and reports every problem at once as a
// joined error, so a bad config file needs only one edit round.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Upstream
	if cfg.Upstream.URL == "" {
		errs = append(errs, errors.New("upstream.url is required"))
	} else if u, err := url.Parse(cfg.Upstream.URL); err != nil {
		errs = append(errs, fmt.Errorf("upstream.url %q is not a valid URL: %w", cfg.Upstream.URL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("upstream.url %q must use http or https", cfg.Upstream.URL))
	}
	if cfg.Upstream.Agent == "" {
		errs = append(errs, errors.New("upstream.agent is required"))
	}

	// Timing
	timing := []struct {
		name  string
		value int
	}{
		{"timing.debounce_ms", cfg.Timing.DebounceMS},
		{"timing.keep_alive_interval_ms", cfg.Timing.KeepAliveIntervalMS},
		{"timing.keep_alive_idle_ms", cfg.Timing.KeepAliveIdleMS},
		{"timing.min_buffer_speech_ms", cfg.Timing.MinBufferSpeechMS},
		{"timing.dedup_window_ms", cfg.Timing.DedupWindowMS},
	}
	for _, t := range timing {
		if t.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", t.name, t.value))
		}
	}
	if cfg.Timing.KeepAliveIdleMS > cfg.Timing.KeepAliveIntervalMS {
		slog.Warn("timing.keep_alive_idle_ms exceeds timing.keep_alive_interval_ms; keep-alives will skip ticks",
			"idle_ms", cfg.Timing.KeepAliveIdleMS, "interval_ms", cfg.Timing.KeepAliveIntervalMS)
	}

	// Conversations
	if cfg.Conversations.Max <= 0 {
		errs = append(errs, fmt.Errorf("conversations.max must be positive, got %d", cfg.Conversations.Max))
	}

	return errors.Join(errs...)
}
