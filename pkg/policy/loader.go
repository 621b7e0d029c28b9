package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay debounces bursts of policy file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// parseFunc turns the content of one policy file into policies.
type parseFunc func(path string, data []byte) ([]Policy, error)

// parsers is keyed by file extension. Files with other extensions are not
// policy sources.
var parsers = map[string]parseFunc{
	".rego": parseRegoFile,
	".json": parseJSONFile,
}

func isPolicyFile(path string) bool {
	_, ok := parsers[filepath.Ext(path)]
	return ok
}

type cacheEntry struct {
	modTime  time.Time
	size     int64
	policies []Policy
}

// Loader reads guardrail policies from .rego files and JSON policy files or
// bundles. Parsed files are cached until their size or mtime changes.
type Loader struct {
	logger zerolog.Logger
	delay  time.Duration

	mu      sync.Mutex
	cache   map[string]cacheEntry
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		delay:  DefaultReloadDelay,
		cache:  make(map[string]cacheEntry),
	}
}

// LoadFromPaths loads every policy under paths, which may name files or
// directories. A missing path is an error; an unreadable file inside a
// directory is logged and skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, p := range paths {
		policies, err := l.loadFromPath(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", p, err)
		}
		out = append(out, policies...)
	}

	l.logger.Info().Int("policies", len(out)).Strs("paths", paths).Msg("Policies loaded")
	return out, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}
	return l.loadFromFile(ctx, path)
}

// loadFromDirectory walks root in lexical order. Hidden directories are
// skipped.
func (l *Loader) loadFromDirectory(ctx context.Context, root string) ([]Policy, error) {
	var out []Policy
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isPolicyFile(path) {
			return nil
		}

		policies, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			return nil
		}
		out = append(out, policies...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) loadFromFile(_ context.Context, path string) ([]Policy, error) {
	parse, ok := parsers[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("%s: not a policy file (want .rego or .json)", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	entry, hit := l.cache[path]
	l.mu.Unlock()
	if hit && entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
		return append([]Policy(nil), entry.policies...), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	policies, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	for i := range policies {
		if policies[i].Metadata == nil {
			policies[i].Metadata = make(map[string]interface{})
		}
		policies[i].Metadata["source"] = path
	}

	l.mu.Lock()
	l.cache[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), policies: policies}
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Int("policies", len(policies)).Msg("Parsed policy file")
	return append([]Policy(nil), policies...), nil
}

// parseRegoFile names the policy after the file and takes its description
// from the leading comment block.
func parseRegoFile(path string, data []byte) ([]Policy, error) {
	return []Policy{{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: regoDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityError,
		Enabled:     true,
	}}, nil
}

// parseJSONFile accepts either a single Policy object or a Bundle.
func parseJSONFile(path string, data []byte) ([]Policy, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var policies []Policy
	if _, isBundle := shape["policies"]; isBundle {
		b, err := decodeBundle(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		policies = b.Policies
	} else {
		var p Policy
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		policies = []Policy{p}
	}

	for i := range policies {
		if policies[i].Name == "" {
			return nil, fmt.Errorf("%s: policy #%d has no name", path, i)
		}
		if policies[i].Severity == "" {
			policies[i].Severity = SeverityError
		}
	}
	return policies, nil
}

func decodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("invalid bundle: %w", err)
	}
	return &b, nil
}

// regoDescription joins the comment lines that precede the first statement.
func regoDescription(content string) string {
	var parts []string
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			if len(parts) > 0 {
				break
			}
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		if text := strings.TrimSpace(strings.TrimLeft(line, "#")); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// LoadBundle reads a JSON bundle file.
func (l *Loader) LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := decodeBundle(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Info().
		Str("bundle", b.Name).
		Str("version", b.Version).
		Int("policies", len(b.Policies)).
		Msg("Policy bundle loaded")
	return b, nil
}

// Watch reloads every policy under paths after a change and hands the full
// set to reloadFn. A failed reload is logged and the engine keeps its current
// policies. Watching stops when ctx is cancelled or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watched := 0
	for _, p := range paths {
		n, err := addWatchTree(watcher, p)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", p).Msg("Cannot watch policy path")
		}
		watched += n
	}
	if watched == 0 {
		_ = watcher.Close()
		return fmt.Errorf("none of %v can be watched", paths)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().Strs("paths", paths).Int("watches", watched).Msg("Watching policy paths")
	return nil
}

// addWatchTree watches path itself when it is a file, or every non-hidden
// directory beneath it.
func addWatchTree(w *fsnotify.Watcher, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 1, w.Add(path)
	}

	n := 0
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if p != path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if _, err := addWatchTree(watcher, event.Name); err != nil {
						l.logger.Warn().Err(err).Str("path", event.Name).Msg("Cannot watch new policy directory")
					}
					continue
				}
			}
			if !isPolicyFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}

			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")

			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(l.delay, func() { l.reload(ctx, paths, reloadFn) })

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	if ctx.Err() != nil {
		return
	}

	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		l.logger.Error().Err(err).Msg("Policy reload failed, keeping current policies")
		return
	}
	if err := reloadFn(policies); err != nil {
		l.logger.Error().Err(err).Msg("Reloaded policies rejected, keeping current policies")
		return
	}
	l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
}

// StopWatching stops a running Watch.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}

// ClearCache forgets every parsed file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]cacheEntry)
	l.mu.Unlock()
}
