package policy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"

	"github.com/pageflow/pageflow/pkg/engine"
)

// Loader reads host policies from .rego files. Each file is one policy named
// after the file; names must be unique across all paths.
type Loader struct {
	logger      zerolog.Logger
	reloadDelay time.Duration

	mu      sync.Mutex
	digest  [sha256.Size]byte
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "policy-loader").Logger(),
		reloadDelay: 500 * time.Millisecond,
	}
}

// LoadFromPaths reads every policy file under paths. Directories are walked
// recursively; Rego test modules (*_test.rego) are skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	files, err := l.files(ctx, paths)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	policies := make([]Policy, 0, len(files))
	seen := make(map[string]string, len(files))
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read policy %s", path), err)
		}
		p, err := parsePolicy(path, src)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[p.Name]; dup {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("policy name %s is used by both %s and %s", p.Name, prev, path), nil)
		}
		seen[p.Name] = path

		h.Write([]byte(path))
		h.Write(src)
		policies = append(policies, p)
	}

	l.mu.Lock()
	copy(l.digest[:], h.Sum(nil))
	l.mu.Unlock()

	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Policies loaded")
	return policies, nil
}

// files lists policy files under paths in a stable order.
func (l *Loader) files(ctx context.Context, paths []string) ([]string, error) {
	var out []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("policy path %s", root), err)
		}
		if !info.IsDir() {
			if filepath.Ext(root) != ".rego" {
				return nil, engine.NewConfigurationError(fmt.Sprintf("policy file %s must have a .rego extension", root), nil)
			}
			out = append(out, root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.IsDir() && isPolicyFile(path) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}
	sort.Strings(out)
	return out, nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") && !strings.HasSuffix(path, "_test.rego")
}

// parsePolicy checks that src is a pageflow.auth module. The comment block
// above the package clause becomes the description.
func parsePolicy(path string, src []byte) (Policy, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	module, err := ast.ParseModule(path, string(src))
	if err != nil {
		return Policy{}, engine.NewConfigurationError(fmt.Sprintf("failed to parse policy %s", path), err)
	}
	if got := module.Package.Path.String(); got != PackagePath {
		return Policy{}, engine.NewConfigurationError(
			fmt.Sprintf("policy %s declares %s, expected package pageflow.auth", path, got), nil)
	}

	var desc []string
	for _, c := range module.Comments {
		if c.Location.Row >= module.Package.Location.Row {
			break
		}
		if text := string(bytes.TrimSpace(c.Text)); text != "" && text != "METADATA" {
			desc = append(desc, text)
		}
	}

	return Policy{
		Name:        name,
		Description: strings.Join(desc, " "),
		Rego:        string(src),
		Enabled:     true,
		Source:      path,
		LoadedAt:    time.Now(),
	}, nil
}

// Watch calls reloadFn with a fresh policy set whenever a policy file under
// paths changes. Bursts of events are coalesced, and a reload whose files
// are byte-identical to the last load is skipped. Watching stops when ctx is
// done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dirs := make(map[string]struct{})
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", root).Msg("Policy path not watched")
			continue
		}
		if !info.IsDir() {
			// Editors replace files on save, so watch the parent.
			dirs[filepath.Dir(root)] = struct{}{}
			continue
		}
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				dirs[path] = struct{}{}
			}
			return nil
		})
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			l.logger.Warn().Err(err).Str("dir", dir).Msg("Policy directory not watched")
		}
	}
	if len(watcher.WatchList()) == 0 {
		_ = watcher.Close()
		return engine.NewConfigurationError("none of the policy paths can be watched", nil)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.run(ctx, watcher, paths, reloadFn)

	l.logger.Info().Int("dirs", len(watcher.WatchList())).Msg("Watching host policies")
	return nil
}

func (l *Loader) run(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&relevant == 0 || !isPolicyFile(ev.Name) {
				continue
			}
			l.logger.Debug().Str("file", ev.Name).Stringer("op", ev.Op).Msg("Policy file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(l.reloadDelay, func() {
				l.reload(ctx, paths, reloadFn)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	l.mu.Lock()
	before := l.digest
	l.mu.Unlock()

	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		l.logger.Error().Err(err).Msg("Policy reload failed, keeping active policies")
		return
	}

	l.mu.Lock()
	unchanged := l.digest == before
	l.mu.Unlock()
	if unchanged {
		return
	}

	if err := reloadFn(policies); err != nil {
		l.logger.Error().Err(err).Msg("Reloaded policies rejected, keeping active policies")
		return
	}
	l.logger.Info().Int("policies", len(policies)).Msg("Host policies reloaded")
}

// StopWatching stops a running Watch.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	w := l.watcher
	l.watcher = nil
	l.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
