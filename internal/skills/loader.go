package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxSkillBytes caps one skill file; prompts are text, anything bigger
// is a mistake.
const maxSkillBytes = 2 * 1024 * 1024

// LoadSkill parses one markdown skill file: an opening "---" line, YAML
// frontmatter, a closing "---" line, then the markdown body that becomes
// the skill's prompt.
func LoadSkill(reader io.Reader) (*Skill, error) {
	raw, err := io.ReadAll(io.LimitReader(reader, maxSkillBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	if len(raw) > maxSkillBytes {
		return nil, fmt.Errorf("skill file exceeds %d bytes", maxSkillBytes)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("skill file is empty")
	}

	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	if got := strings.TrimSpace(lines[0]); got != "---" {
		return nil, fmt.Errorf("skill file must start with YAML frontmatter (---), got: %q", got)
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("unterminated YAML frontmatter (missing closing ---)")
	}

	// Enabled defaults to true; the zero value would disable every skill
	// that never mentions the field.
	skill := Skill{Enabled: true}
	meta := strings.Join(lines[1:end], "\n")
	if err := yaml.Unmarshal([]byte(meta), &skill); err != nil {
		return nil, fmt.Errorf("parse YAML frontmatter: %w", err)
	}
	skill.Content = strings.TrimSpace(strings.Join(lines[end+1:], "\n"))

	if err := checkSkill(&skill); err != nil {
		return nil, err
	}
	return &skill, nil
}

// checkSkill enforces required fields and fills defaults in place.
func checkSkill(skill *Skill) error {
	if skill.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if idx := strings.IndexFunc(skill.Name, isBadNameRune); idx >= 0 {
		bad := []rune(skill.Name[idx:])[0]
		return fmt.Errorf("skill name contains invalid character: %q (allowed: a-z, 0-9, -, _)", bad)
	}
	if skill.Version == "" {
		skill.Version = "1.0.0"
	}
	if skill.Content == "" {
		return fmt.Errorf("skill content is empty")
	}
	return nil
}

func isBadNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case r == '-', r == '_':
		return false
	}
	return true
}

// CalculateContentHash returns the hex SHA-256 of a skill file's bytes.
func CalculateContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ParseVersion reads up to three dot-separated numbers from a semver
// string. Missing or malformed components come back as zero.
func ParseVersion(version string) (major, minor, patch int) {
	_, _ = fmt.Sscanf(version, "%d.%d.%d", &major, &minor, &patch)
	return
}

// CompareVersions orders two semver strings: -1, 0, or 1 as a sorts
// below, equal to, or above b.
func CompareVersions(a, b string) int {
	var av, bv [3]int
	av[0], av[1], av[2] = ParseVersion(a)
	bv[0], bv[1], bv[2] = ParseVersion(b)
	for i := range av {
		if av[i] < bv[i] {
			return -1
		}
		if av[i] > bv[i] {
			return 1
		}
	}
	return 0
}
