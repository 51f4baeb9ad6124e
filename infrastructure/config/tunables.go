package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Tunables are the runtime-changeable knobs: traversal caps and the
// stream throttle window. They live in a small YAML file so operators can
// adjust them on a running instance without a restart.
type Tunables struct {
	MaxSubgraphDepth int `yaml:"maxSubgraphDepth"`
	MaxSubgraphNodes int `yaml:"maxSubgraphNodes"`
	StreamThrottleMS int `yaml:"streamThrottleMs"`
}

// DefaultTunables returns the built-in values used when no tunables file
// is configured.
func DefaultTunables() Tunables {
	return Tunables{
		MaxSubgraphDepth: 10,
		MaxSubgraphNodes: 500,
		StreamThrottleMS: 1000,
	}
}

// StreamThrottleDuration returns the throttle window as a duration
func (t Tunables) StreamThrottleDuration() time.Duration {
	return time.Duration(t.StreamThrottleMS) * time.Millisecond
}

func (t Tunables) validate() error {
	if t.MaxSubgraphDepth <= 0 {
		return fmt.Errorf("maxSubgraphDepth must be positive")
	}
	if t.MaxSubgraphNodes <= 0 {
		return fmt.Errorf("maxSubgraphNodes must be positive")
	}
	if t.StreamThrottleMS <= 0 {
		return fmt.Errorf("streamThrottleMs must be positive")
	}
	return nil
}

// TunablesWatcher watches the tunables file and serves the latest valid
// snapshot. A broken or invalid file keeps the previous snapshot.
type TunablesWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu      sync.RWMutex
	current Tunables

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTunablesWatcher loads the file and begins watching it. The watcher
// also watches the parent directory so atomic saves (write to temp file,
// rename over) are picked up.
func NewTunablesWatcher(path string, logger *zap.Logger) (*TunablesWatcher, error) {
	current, err := loadTunables(path)
	if err != nil {
		return nil, fmt.Errorf("load tunables: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch tunables file: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("Failed to watch tunables directory", zap.Error(err))
	}

	w := &TunablesWatcher{
		path:    path,
		watcher: watcher,
		logger:  logger,
		current: current,
		stopCh:  make(chan struct{}),
	}
	go w.watchLoop()

	logger.Info("Tunables watcher started",
		zap.String("path", path),
		zap.Int("maxSubgraphDepth", current.MaxSubgraphDepth),
		zap.Int("maxSubgraphNodes", current.MaxSubgraphNodes),
		zap.Int("streamThrottleMs", current.StreamThrottleMS),
	)
	return w, nil
}

// Current returns the latest valid tunables snapshot
func (w *TunablesWatcher) Current() Tunables {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop stops watching
func (w *TunablesWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}

func (w *TunablesWatcher) watchLoop() {
	var debounce *time.Timer
	const debounceWindow = 100 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Tunables watcher error", zap.Error(err))
		}
	}
}

func (w *TunablesWatcher) reload() {
	next, err := loadTunables(w.path)
	if err != nil {
		w.logger.Error("Failed to reload tunables, keeping current",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	if prev != next {
		w.logger.Info("Tunables reloaded",
			zap.Int("maxSubgraphDepth", next.MaxSubgraphDepth),
			zap.Int("maxSubgraphNodes", next.MaxSubgraphNodes),
			zap.Int("streamThrottleMs", next.StreamThrottleMS),
		)
	}
}

func loadTunables(path string) (Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tunables{}, fmt.Errorf("read tunables file: %w", err)
	}

	tunables := DefaultTunables()
	if err := yaml.Unmarshal(data, &tunables); err != nil {
		return Tunables{}, fmt.Errorf("parse tunables YAML: %w", err)
	}
	if err := tunables.validate(); err != nil {
		return Tunables{}, err
	}
	return tunables, nil
}
