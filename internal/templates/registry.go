package templates

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dirigent-ai/dirigent/internal/metrics"
)

// Entry is one registered template plus its provenance.
type Entry struct {
	Key         string
	Template    *Template
	SourcePath  string
	ContentHash string
	LoadedAt    time.Time
}

// Summary is the listing shape: enough to identify a template without
// handing out the full step graph.
type Summary struct {
	Name        string
	Version     string
	Key         string
	ContentHash string
	SourcePath  string
}

// Registry holds validated templates keyed by MakeKey(name, version).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// MakeKey canonicalizes a name/version pair into a registry key.
// A blank version yields the bare name.
func MakeKey(name, version string) string {
	name = strings.TrimSpace(name)
	if v := strings.TrimSpace(version); v != "" {
		return name + "@" + v
	}
	return name
}

// LoadDirectory walks dir and registers every .yaml/.yml file found.
// A file that fails to decode, validate, or collide-check is recorded
// and skipped rather than aborting the walk; the collected failures
// come back as a *LoadError. A missing or non-directory path is a hard
// error.
func (r *Registry) LoadDirectory(dir string) error {
	st, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat template directory %s: %w", dir, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("template path %s is not a directory", dir)
	}

	var failed []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		switch {
		case walkErr != nil:
			failed = append(failed, fmt.Sprintf("%s: %v", path, walkErr))
		case d.IsDir():
		case !hasYAMLExt(path):
		default:
			if loadErr := r.register(path); loadErr != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", path, loadErr))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk template directory %s: %w", dir, err)
	}
	if len(failed) > 0 {
		return &LoadError{Failures: failed}
	}
	return nil
}

func (r *Registry) register(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	tpl, err := LoadTemplate(bytes.NewReader(raw))
	if err != nil {
		metrics.TemplateValidationErrors.WithLabelValues("decode").Inc()
		return err
	}
	if err := ValidateTemplate(tpl); err != nil {
		countValidationFailure(err)
		return err
	}

	sum := sha256.Sum256(raw)
	key := MakeKey(tpl.Name, tpl.Version)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, taken := r.entries[key]; taken {
		metrics.TemplateValidationErrors.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("duplicate template key '%s' (already loaded from %s)", key, prev.SourcePath)
	}
	r.entries[key] = Entry{
		Key:         key,
		Template:    tpl,
		SourcePath:  path,
		ContentHash: hex.EncodeToString(sum[:]),
		LoadedAt:    time.Now().UTC(),
	}
	metrics.TemplatesLoaded.WithLabelValues(tpl.Name).Inc()
	return nil
}

func countValidationFailure(err error) {
	vErr, ok := err.(*ValidationError)
	if !ok {
		metrics.TemplateValidationErrors.WithLabelValues("validate").Inc()
		return
	}
	for _, issue := range vErr.Issues {
		metrics.TemplateValidationErrors.WithLabelValues(issue.Code).Inc()
	}
}

// Get looks up an entry by exact key.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Find resolves a template by name. An explicit version must match
// exactly; a blank version picks the highest version registered under
// that name.
func (r *Registry) Find(name, version string) (Entry, bool) {
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return Entry{}, false
	}
	if e, ok := r.Get(MakeKey(name, version)); ok {
		return e, true
	}
	if version != "" {
		return Entry{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Entry
	found := false
	for _, e := range r.entries {
		if e.Template.Name != name {
			continue
		}
		if !found || e.Template.Version > best.Template.Version {
			best = e
			found = true
		}
	}
	return best, found
}

// List returns summaries of every entry, ordered by name then version.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Summary{
			Name:        e.Template.Name,
			Version:     e.Template.Version,
			Key:         e.Key,
			ContentHash: e.ContentHash,
			SourcePath:  e.SourcePath,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

func hasYAMLExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadError carries the per-file failures from one LoadDirectory call.
type LoadError struct {
	Failures []string
}

func (e *LoadError) Error() string {
	if len(e.Failures) == 0 {
		return "template load failed"
	}
	return fmt.Sprintf("%d template(s) failed to load: %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

// IsLoadError reports whether err is an aggregated per-file load error,
// as opposed to a hard failure like a missing directory.
func IsLoadError(err error) bool {
	_, ok := err.(*LoadError)
	return ok
}
