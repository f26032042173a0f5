package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileSig identifies one observed state of the config file. The mtime gates
// the cheap change check; the checksum catches editors that rewrite the file
// with a fresh timestamp but identical bytes.
type fileSig struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a config file and reports effective-config changes through a
// callback. Polling (rather than inotify and friends) keeps behaviour uniform
// across the small sidecar hosts the proxy runs on; a few seconds of delay on
// a log-level flip is acceptable.
//
// Every reload rebuilds the effective config the same way startup does:
// defaults, then file, then environment overrides, then validation. A file
// edit can never shadow a value pinned by an environment variable, and an
// invalid edit leaves the previous config in place.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    fileSig

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the default 5-second polling interval.
// Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config file once, then keeps polling it in the
// background until [Watcher.Stop]. The initial load must succeed; after that,
// load failures are logged and the last good config stays current.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sig, err := w.build()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, sig

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

// reload re-reads the file when its mtime moved and swaps the effective
// config in when the bytes actually changed.
func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, sig, err := w.build()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if sig.sum == w.seen.sum {
		// Touched, not changed.
		w.seen.mtime = sig.mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.seen = cfg, sig
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// The callback runs outside the lock so it may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// build produces the effective config from the file on disk, plus the file
// signature it was built from.
func (w *Watcher) build() (*Config, fileSig, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileSig{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileSig{}, err
	}

	cfg := Default()
	if err := decodeInto(cfg, bytes.NewReader(data)); err != nil {
		return nil, fileSig{}, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, fileSig{}, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fileSig{}, err
	}

	return cfg, fileSig{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
