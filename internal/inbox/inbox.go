// Package inbox imports design files dropped into a watched directory.
//
// Each top-level entry of the inbox becomes one CREATE_BOARD request: a
// single file (a zip archive or one layer), or a directory whose regular
// files are imported together. Entries are picked up once they have been
// quiet for the debounce interval, then moved into the processed directory.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/pcbview/boardworker/internal/pipeline"
	"github.com/pcbview/boardworker/internal/worker"
)

// Submitter accepts requests for the worker.
type Submitter interface {
	Submit(ctx context.Context, req worker.Request) error
}

// Config holds configuration for the inbox.
type Config struct {
	// DebounceInterval is how long an entry must be quiet before it is imported.
	// Copying a folder of files produces a burst of events; this batches them.
	DebounceInterval time.Duration

	// ProcessedDir receives imported entries. Relative paths are resolved
	// against the inbox directory.
	ProcessedDir string

	// MaxFileBytes skips larger files.
	MaxFileBytes int64

	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceInterval: 500 * time.Millisecond,
		ProcessedDir:     ".imported",
		MaxFileBytes:     128 << 20,
		Logger:           zerolog.Nop(),
	}
}

// Inbox watches a directory and submits dropped designs.
type Inbox struct {
	dir       string
	processed string
	submitter Submitter
	config    Config
	logger    zerolog.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // top-level entry -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an inbox with the default configuration.
func New(dir string, sub Submitter) (*Inbox, error) {
	return NewWithConfig(dir, sub, DefaultConfig())
}

// NewWithConfig creates an inbox with custom configuration.
func NewWithConfig(dir string, sub Submitter, cfg Config) (*Inbox, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if sub == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}

	def := DefaultConfig()
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = def.DebounceInterval
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = def.ProcessedDir
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = def.MaxFileBytes
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	processed := cfg.ProcessedDir
	if !filepath.IsAbs(processed) {
		processed = filepath.Join(abs, processed)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Inbox{
		dir:         abs,
		processed:   processed,
		submitter:   sub,
		config:      cfg,
		logger:      cfg.Logger.With().Str("component", "inbox").Str("dir", abs).Logger(),
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Run queues the entries already present, then watches for new ones.
// It blocks until ctx is cancelled or Stop is called.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.processed, 0o755); err != nil {
		return fmt.Errorf("failed to create processed directory: %w", err)
	}
	if err := in.watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	if err := in.scan(); err != nil {
		return err
	}

	in.logger.Info().Msg("watching inbox")

	in.wg.Add(2)
	go in.watchFileEvents()
	go in.processChangeQueue()

	select {
	case <-ctx.Done():
		return in.Stop()
	case <-in.ctx.Done():
		return nil
	}
}

// Stop shuts the inbox down. Entries still waiting out the debounce are dropped.
func (in *Inbox) Stop() error {
	in.cancel()

	if err := in.watcher.Close(); err != nil {
		in.logger.Warn().Err(err).Msg("error closing watcher")
	}

	in.wg.Wait()
	return nil
}

func (in *Inbox) scan() error {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(in.dir, e.Name())
		if in.ignored(path) {
			continue
		}
		if e.IsDir() {
			_ = in.watcher.Add(path)
		}
		in.queueChange(path)
	}
	return nil
}

func (in *Inbox) watchFileEvents() {
	defer in.wg.Done()

	for {
		select {
		case <-in.ctx.Done():
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			entry, ok := in.entryOf(event.Name)
			if !ok || in.ignored(entry) {
				continue
			}

			// Watch dropped folders so files copied into them extend the debounce.
			if entry == event.Name && event.Has(fsnotify.Create) {
				if info, err := os.Stat(entry); err == nil && info.IsDir() {
					_ = in.watcher.Add(entry)
				}
			}

			in.logger.Debug().Str("op", event.Op.String()).Str("path", event.Name).Msg("file event")
			in.queueChange(entry)

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// entryOf maps a path to the top-level inbox entry containing it.
func (in *Inbox) entryOf(path string) (string, bool) {
	rel, err := filepath.Rel(in.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	first := strings.Split(rel, string(filepath.Separator))[0]
	return filepath.Join(in.dir, first), true
}

// ignored skips hidden and editor temp files and the processed directory.
func (in *Inbox) ignored(path string) bool {
	if path == in.processed {
		return true
	}
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") || strings.HasSuffix(base, ".part")
}

func (in *Inbox) queueChange(path string) {
	in.changeQueueMu.Lock()
	defer in.changeQueueMu.Unlock()

	in.changeQueue[path] = time.Now()
}

func (in *Inbox) processChangeQueue() {
	defer in.wg.Done()

	ticker := time.NewTicker(in.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-in.ctx.Done():
			return

		case <-ticker.C:
			in.processPendingChanges()
		}
	}
}

// processPendingChanges imports entries that have been quiet long enough.
func (in *Inbox) processPendingChanges() {
	now := time.Now()

	in.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range in.changeQueue {
		if now.Sub(queuedAt) < in.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(in.changeQueue, path)
	}
	in.changeQueueMu.Unlock()

	for _, path := range ready {
		if err := in.importEntry(path); err != nil {
			in.logger.Warn().Err(err).Str("entry", path).Msg("failed to import entry")
		}
	}
}

func (in *Inbox) importEntry(path string) error {
	files, err := in.collect(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	req, err := worker.NewRequest(worker.CreateBoard, files)
	if err != nil {
		return err
	}
	if err := in.submitter.Submit(in.ctx, req); err != nil {
		return fmt.Errorf("failed to submit %s: %w", path, err)
	}

	in.logger.Info().Str("entry", filepath.Base(path)).Int("files", len(files)).Msg("imported entry")
	return in.archive(path)
}

// collect reads an entry: a regular file, or the regular files directly in a folder.
func (in *Inbox) collect(path string) ([]pipeline.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if !info.IsDir() {
		f, ok, err := in.readFile(path, info)
		if err != nil || !ok {
			return nil, err
		}
		return []pipeline.File{f}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var files []pipeline.File
	for _, e := range entries {
		if e.IsDir() || in.ignored(e.Name()) {
			continue
		}
		child := filepath.Join(path, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		f, ok, err := in.readFile(child, info)
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, f)
		}
	}
	return files, nil
}

func (in *Inbox) readFile(path string, info os.FileInfo) (pipeline.File, bool, error) {
	if !info.Mode().IsRegular() {
		return pipeline.File{}, false, nil
	}
	if info.Size() == 0 {
		return pipeline.File{}, false, nil
	}
	if info.Size() > in.config.MaxFileBytes {
		in.logger.Warn().Str("file", path).Int64("bytes", info.Size()).Msg("skipping oversized file")
		return pipeline.File{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.File{}, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return pipeline.File{Name: filepath.Base(path), Data: data}, true, nil
}

// archive moves an imported entry out of the inbox. An existing name gets a
// timestamp suffix.
func (in *Inbox) archive(path string) error {
	_ = in.watcher.Remove(path)

	dest := filepath.Join(in.processed, filepath.Base(path))
	if _, err := os.Lstat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(dest, ext), time.Now().UnixNano(), ext)
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", path, dest, err)
	}
	return nil
}
