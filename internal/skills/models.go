// Package skills loads markdown skill files and installs them as tools.
//
// A skill is a markdown file with YAML frontmatter: the frontmatter names
// and describes the skill, the body is the system prompt its tool sends to
// the inference service along with the caller's input.
package skills

import (
	"sync"
	"time"
)

// Skill represents a parsed skill definition from a markdown file.
type Skill struct {
	Name        string   `yaml:"name" json:"name"`
	Version     string   `yaml:"version" json:"version"`
	Author      string   `yaml:"author" json:"author,omitempty"`
	Category    string   `yaml:"category" json:"category"`
	Description string   `yaml:"description" json:"description"`
	Tags        []string `yaml:"tags" json:"tags,omitempty"`
	Model       string   `yaml:"model" json:"model,omitempty"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Content     string   `yaml:"-" json:"content,omitempty"` // Markdown body after frontmatter
}

// Registry holds every loaded skill, all versions side by side, keyed
// by skill name. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]Entry
}

// Entry wraps a skill with loading metadata.
type Entry struct {
	Key         string
	Skill       *Skill
	SourcePath  string
	ContentHash string // SHA256 of file content
	LoadedAt    time.Time
}

// Summary is a lightweight representation for API responses.
type Summary struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Enabled     bool     `json:"enabled"`
}
