package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/socgovd/internal/errors"
	"codeberg.org/mutker/socgovd/internal/logger"
	"github.com/fsnotify/fsnotify"
)

const settleDelay = 200 * time.Millisecond

// Watcher reloads the config file whenever it changes on disk and hands
// every result to a Sink. Invalid content yields the defaults plus the
// error text. A deleted file is recreated from the defaults.
type Watcher struct {
	path string
	opts []Option
	sink Sink
	log  logger.Logger
}

// NewWatcher reloads path with the same opts the daemon started with, so
// environment and flag overrides survive every reload.
func NewWatcher(path string, sink Sink, opts ...Option) *Watcher {
	path = filepath.Clean(path)

	return &Watcher{
		path: path,
		opts: append(append([]Option(nil), opts...), WithConfigFile(path)),
		sink: sink,
		log:  logger.New("config"),
	}
}

// Watch blocks until ctx is done.
func (w *Watcher) Watch(ctx context.Context) error {
	errFactory := errors.New()

	if _, err := os.Stat(w.path); os.IsNotExist(err) {
		w.recreate()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errFactory.Wrap(errors.ErrWatchConfig, err)
	}
	defer fw.Close()

	// Watch the directory: editors and rename-over writes replace the inode.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return errFactory.Wrap(errors.ErrWatchConfig, err).WithData(w.path)
	}

	w.log.Info().Str("path", w.path).Msg("Watching configuration")

	var settle <-chan time.Time
	removed := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				removed = true
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				removed = false
			}
			settle = time.After(settleDelay)

		case <-settle:
			settle = nil
			if removed {
				if _, err := os.Stat(w.path); os.IsNotExist(err) {
					w.recreate()
					removed = false
					continue
				}
				removed = false
			}
			w.Reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// Reload reads the file once, publishes the outcome and re-applies the
// log level.
func (w *Watcher) Reload() {
	cfg, err := LoadOrDefault(w.opts...)
	w.apply(*cfg, err)
}

func (w *Watcher) apply(cfg Config, err error) {
	logger.ApplyLevel(cfg.LogLevel, cfg.Debug, cfg.Verbose)

	if err != nil {
		w.log.Warn().Err(err).Msg("Invalid configuration, using defaults")
		w.sink.ReplaceConfig(cfg, err.Error())
		return
	}

	w.log.Info().Str("path", w.path).Msg("Configuration reloaded")
	w.sink.ReplaceConfig(cfg, "")
}

func (w *Watcher) recreate() {
	def := defaultsFor(w.opts)

	if err := WriteDefault(w.path); err != nil {
		w.log.Warn().Err(err).Msg("Failed to recreate configuration file")
		w.sink.ReplaceConfig(def, err.Error())
		return
	}

	w.log.Info().Str("path", w.path).Msg("Configuration file recreated with defaults")
	logger.ApplyLevel(def.LogLevel, def.Debug, def.Verbose)
	w.sink.ReplaceConfig(def, "")
}
