package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultSettleDelay  = 100 * time.Millisecond
)

// Watcher reloads the config file whenever it changes and hands every new
// valid configuration to a callback. Changes are picked up from file system
// notifications, with periodic polling as a backstop for file systems that
// do not deliver them. A file that fails to load or validate is reported and
// the previous configuration stays current.
type Watcher struct {
	path     string
	interval time.Duration
	settle   time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// fileStamp identifies one version of the file's content.
type fileStamp struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithSettleDelay sets how long the watcher waits after a file event before
// reading the file, so that an editor's write-rename sequence is read once
// it is complete. Default: 100ms.
func WithSettleDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// NewWatcher loads and validates the config at path. Watching starts with
// [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		interval: defaultPollInterval,
		settle:   defaultSettleDelay,
		onChange: onChange,
	}
	for _, o := range opts {
		o(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: initial load: %w", err)
	}
	w.current, w.stamp = cfg, stamp
	return w, nil
}

// Current returns the configuration most recently accepted.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the file until ctx is cancelled and always returns nil. The
// change callback runs on Run's goroutine, one reload at a time.
func (w *Watcher) Run(ctx context.Context) error {
	events, stop := w.subscribe()
	defer stop()

	poll := time.NewTicker(w.interval)
	defer poll.Stop()

	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-events:
			settled = time.After(w.settle)
		case <-settled:
			settled = nil
			w.reload()
		case <-poll.C:
			if w.modified() {
				w.reload()
			}
		}
	}
}

// subscribe watches the file's directory, since editors often replace the
// file rather than write it in place. It returns a nil channel when
// notifications are unavailable, leaving polling alone.
func (w *Watcher) subscribe() (<-chan struct{}, func()) {
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		err = fsw.Add(filepath.Dir(w.path))
		if err != nil {
			fsw.Close()
		}
	}
	if err != nil {
		slog.Warn("config watcher: file notifications unavailable, polling only",
			"path", w.path, "interval", w.interval, "err", err)
		return nil, func() {}
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != w.path || !ev.Op.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher: notification error", "path", w.path, "err", err)
			}
		}
	}()
	return out, func() {
		fsw.Close()
		<-done
	}
}

// modified reports whether the file's modification time moved since the
// last read.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.stamp.modTime)
}

// reload reads the file and, if its content changed and is valid, makes it
// current and calls the change callback.
func (w *Watcher) reload() {
	cfg, stamp, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
		// Report a broken file once per edit rather than on every poll.
		if info, statErr := os.Stat(w.path); statErr == nil {
			w.mu.Lock()
			w.stamp.modTime = info.ModTime()
			w.mu.Unlock()
		}
		return
	}

	w.mu.Lock()
	if stamp.sum == w.stamp.sum {
		w.stamp.modTime = stamp.modTime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
