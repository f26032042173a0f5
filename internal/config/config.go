// Package config provides the configuration schema, loader, and file watcher
// for the voxgate proxy.
package config

import (
	"fmt"
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the voxgate server. The zero value is
// not valid; [Default] picks info.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l names one of the four supported levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto its slog level. Unrecognised values map to Info, so a
// stale watcher callback can never silence the process.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for voxgate.
// It is typically produced by [Load], which layers an optional YAML file and
// the process environment over [Default].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Timing        TimingConfig        `yaml:"timing"`
	Conversations ConversationsConfig `yaml:"conversations"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Port is the TCP port the proxy listens on. Overridable with the PORT
	// environment variable.
	Port int `yaml:"port"`

	// LogLevel sets log verbosity: debug, info, warn or error.
	LogLevel LogLevel `yaml:"log_level"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// UpstreamConfig describes the LLM gateway the proxy forwards turns to.
type UpstreamConfig struct {
	// URL is the gateway's chat-completions endpoint. Overridable with
	// UPSTREAM_URL.
	URL string `yaml:"url"`

	// Token is the bearer token sent to the gateway. When empty the
	// Authorization header is omitted. Overridable with UPSTREAM_TOKEN.
	Token string `yaml:"token"`

	// Agent is the gateway agent id, used both in the rewritten model name
	// and in the agent header. Overridable with UPSTREAM_AGENT.
	Agent string `yaml:"agent"`
}

// TimingConfig holds the latency knobs of the turn pipeline, all in
// milliseconds. The defaults are tuned for a live voice call and rarely need
// changing outside tests.
type TimingConfig struct {
	// DebounceMS is how long a turn waits for a newer transcript of the
	// same utterance before it is allowed to reach the model.
	DebounceMS int `yaml:"debounce_ms"`

	// KeepAliveIntervalMS is the keep-alive ticker period.
	KeepAliveIntervalMS int `yaml:"keep_alive_interval_ms"`

	// KeepAliveIdleMS is the minimum stream idle time before a ticker
	// firing actually emits a keep-alive phrase.
	KeepAliveIdleMS int `yaml:"keep_alive_idle_ms"`

	// MinBufferSpeechMS is the time reserved for the TTS to finish
	// speaking the last filler phrase before the first model token is
	// forwarded.
	MinBufferSpeechMS int `yaml:"min_buffer_speech_ms"`

	// DedupWindowMS is how long a finished response keeps answering a
	// replay of the same turn.
	DedupWindowMS int `yaml:"dedup_window_ms"`
}

// Debounce returns DebounceMS as a duration.
func (t TimingConfig) Debounce() time.Duration { return msToDuration(t.DebounceMS) }

// KeepAliveInterval returns KeepAliveIntervalMS as a duration.
func (t TimingConfig) KeepAliveInterval() time.Duration { return msToDuration(t.KeepAliveIntervalMS) }

// KeepAliveIdle returns KeepAliveIdleMS as a duration.
func (t TimingConfig) KeepAliveIdle() time.Duration { return msToDuration(t.KeepAliveIdleMS) }

// MinBufferSpeech returns MinBufferSpeechMS as a duration.
func (t TimingConfig) MinBufferSpeech() time.Duration { return msToDuration(t.MinBufferSpeechMS) }

// DedupWindow returns DedupWindowMS as a duration.
func (t TimingConfig) DedupWindow() time.Duration { return msToDuration(t.DedupWindowMS) }

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ConversationsConfig bounds the in-memory conversation log.
type ConversationsConfig struct {
	// Max is the number of sessions kept before the oldest is evicted.
	Max int `yaml:"max"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8013,
			LogLevel: LogInfo,
		},
		Upstream: UpstreamConfig{
			URL:   "http://127.0.0.1:18789/v1/chat/completions",
			Agent: "main",
		},
		Timing: TimingConfig{
			DebounceMS:          1500,
			KeepAliveIntervalMS: 10000,
			KeepAliveIdleMS:     9000,
			MinBufferSpeechMS:   2500,
			DedupWindowMS:       15000,
		},
		Conversations: ConversationsConfig{
			Max: 50,
		},
	}
}
