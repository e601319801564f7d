package skills

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// NewRegistry returns an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[string][]Entry)}
}

// LoadDirectory recursively ingests every *.md file under root except
// README.md. A missing root is not an error: skill overlays are
// optional and most deployments run without one.
func (r *Registry) LoadDirectory(root string) error {
	st, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat skill directory %s: %w", root, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() == "README.md" || filepath.Ext(path) != ".md" {
			return nil
		}
		return r.ingest(path)
	})
}

func (r *Registry) ingest(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read skill file %s: %w", path, err)
	}
	skill, err := LoadSkill(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse skill from %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, prev := range r.versions[skill.Name] {
		if prev.Skill.Version == skill.Version {
			return fmt.Errorf("duplicate skill %s@%s found in %s (already loaded from %s)",
				skill.Name, skill.Version, path, prev.SourcePath)
		}
	}
	r.versions[skill.Name] = append(r.versions[skill.Name], Entry{
		Key:         skill.Name + "@" + skill.Version,
		Skill:       skill,
		SourcePath:  path,
		ContentHash: CalculateContentHash(raw),
		LoadedAt:    time.Now(),
	})
	return nil
}

// latestLocked picks the highest version registered under name.
func (r *Registry) latestLocked(name string) (Entry, bool) {
	entries := r.versions[name]
	if len(entries) == 0 {
		return Entry{}, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if CompareVersions(e.Skill.Version, best.Skill.Version) > 0 {
			best = e
		}
	}
	return best, true
}

// Get resolves "name@version" to that exact version, or a bare name to
// its latest version.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, version, versioned := strings.Cut(key, "@")
	if !versioned {
		return r.latestLocked(key)
	}
	for _, e := range r.versions[name] {
		if e.Skill.Version == version {
			return e, true
		}
	}
	return Entry{}, false
}

// List summarizes the latest version of every skill, sorted by name.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.versions))
	for name := range r.versions {
		if latest, ok := r.latestLocked(name); ok {
			out = append(out, summaryOf(latest))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListByCategory summarizes skills whose latest version carries the
// given category, sorted by name.
func (r *Registry) ListByCategory(category string) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Summary
	for name := range r.versions {
		latest, ok := r.latestLocked(name)
		if ok && latest.Skill.Category == category {
			out = append(out, summaryOf(latest))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Categories returns the sorted set of categories in use.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for name := range r.versions {
		if latest, ok := r.latestLocked(name); ok && latest.Skill.Category != "" {
			seen[latest.Skill.Category] = true
		}
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// Count reports the number of distinct skill names.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.versions)
}

// GetVersions returns every version of a skill, highest first, or nil
// for an unknown name.
func (r *Registry) GetVersions(name string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.versions[name]
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		return CompareVersions(out[i].Skill.Version, out[j].Skill.Version) > 0
	})
	return out
}

func summaryOf(e Entry) Summary {
	return Summary{
		Name:        e.Skill.Name,
		Version:     e.Skill.Version,
		Category:    e.Skill.Category,
		Description: e.Skill.Description,
		Tags:        e.Skill.Tags,
		Enabled:     e.Skill.Enabled,
	}
}
