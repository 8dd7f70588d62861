package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Grants is the operator-managed permission table loaded from a grants
// file. Defaults seed new sessions; Subjects maps principal subjects to
// additional grants.
type Grants struct {
	Defaults []string            `json:"defaults"`
	Subjects map[string][]string `json:"subjects"`
}

// For returns the grants for a subject: the defaults plus any
// subject-specific entries.
func (g Grants) For(subject string) []string {
	out := append([]string(nil), g.Defaults...)
	return append(out, g.Subjects[subject]...)
}

// GrantsFile loads a JSON grants file and, when watched, reloads it on
// change so operators can adjust grants without a restart.
type GrantsFile struct {
	path string
	log  *slog.Logger

	mu     sync.RWMutex
	grants Grants

	onReload func(Grants)
}

// GrantsFileOption configures a GrantsFile.
type GrantsFileOption func(*GrantsFile)

// WithReloadHook registers fn to run after every successful reload,
// including the initial load. Typical use: pushing the new defaults into
// sessions.Store.SetDefaultPermissions.
func WithReloadHook(fn func(Grants)) GrantsFileOption {
	return func(g *GrantsFile) { g.onReload = fn }
}

// WithGrantsLogger sets the slog handler used by the watcher.
func WithGrantsLogger(h slog.Handler) GrantsFileOption {
	return func(g *GrantsFile) {
		if h != nil {
			g.log = slog.New(h)
		}
	}
}

// LoadGrantsFile reads path and returns a GrantsFile positioned for
// watching.
func LoadGrantsFile(path string, opts ...GrantsFileOption) (*GrantsFile, error) {
	g := &GrantsFile{
		path: path,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Grants returns the current table.
func (g *GrantsFile) Grants() Grants {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.grants
}

// Reload re-reads the file. On a malformed file the previous table is kept
// and the error returned.
func (g *GrantsFile) Reload() error {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("auth: reading grants file: %w", err)
	}
	var grants Grants
	if err := json.Unmarshal(data, &grants); err != nil {
		return fmt.Errorf("auth: parsing grants file %s: %w", g.path, err)
	}

	g.mu.Lock()
	g.grants = grants
	hook := g.onReload
	g.mu.Unlock()

	if hook != nil {
		hook(grants)
	}
	return nil
}

// Watch reloads the grants file whenever it changes, until ctx is
// cancelled. Editors and config tools often replace files by rename, so
// the parent directory is watched rather than the file itself.
func (g *GrantsFile) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("auth: creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(g.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("auth: watching %s: %w", filepath.Dir(g.path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(g.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := g.Reload(); err != nil {
					g.log.WarnContext(ctx, "grants file reload failed", slog.String("err", err.Error()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.log.WarnContext(ctx, "grants file watcher error", slog.String("err", err.Error()))
			}
		}
	}()

	return nil
}
