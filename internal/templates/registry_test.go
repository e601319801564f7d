package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemplateFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write template %s: %v", name, err)
	}
}

func TestRegistryLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "triage.yaml", `name: triage
version: v1
type: sequential
defaults:
  agent: agent-default
  timeout_ms: 4000
steps:
  - id: collect
    function: echo
  - id: summarize
    agent: agent-writer
    function: text_processing
    depends_on: [collect]
`)

	reg := NewRegistry()
	if err := reg.LoadDirectory(dir); err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}

	entry, ok := reg.Get(MakeKey("triage", "v1"))
	if !ok {
		t.Fatalf("expected template entry to be present")
	}
	if entry.Template.Name != "triage" {
		t.Fatalf("unexpected template name: %s", entry.Template.Name)
	}
	if entry.Template.Version != "v1" {
		t.Fatalf("unexpected template version: %s", entry.Template.Version)
	}
	if entry.ContentHash == "" {
		t.Fatalf("expected content hash to be populated")
	}
	if len(entry.Template.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(entry.Template.Steps))
	}
	step := entry.Template.StepByID("summarize")
	if step == nil || len(step.DependsOn) != 1 || step.DependsOn[0] != "collect" {
		t.Fatalf("unexpected summarize step: %+v", step)
	}
	if entry.Template.StepByID("ghost") != nil {
		t.Fatalf("StepByID should return nil for unknown ids")
	}

	summaries := reg.List()
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].Key != "triage@v1" {
		t.Fatalf("unexpected summary key: %s", summaries[0].Key)
	}
}

func TestRegistryDuplicateTemplate(t *testing.T) {
	dir := t.TempDir()
	body := `name: duplicate
defaults:
  agent: agent-default
steps:
  - id: only
    function: echo
`
	writeTemplateFile(t, dir, "a.yaml", body)
	writeTemplateFile(t, dir, "b.yaml", body)

	reg := NewRegistry()
	err := reg.LoadDirectory(dir)
	if err == nil {
		t.Fatalf("expected duplicate error")
	}
	if !IsLoadError(err) {
		t.Fatalf("expected LoadError, got %T", err)
	}
	if !strings.Contains(err.Error(), "duplicate template key") {
		t.Fatalf("expected duplicate key failure, got %v", err)
	}

	// The first copy still loads; only the collision is reported.
	if _, ok := reg.Get("duplicate"); !ok {
		t.Fatalf("expected first copy to remain registered")
	}
}

func TestRegistryCollectsPerFileFailures(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "good.yaml", `name: good
defaults:
  agent: agent-default
steps:
  - id: only
    function: echo
`)
	// Unknown keys are rejected by the strict decoder.
	writeTemplateFile(t, dir, "typo.yaml", `name: typo
stepz:
  - id: only
`)
	// Valid YAML, invalid template.
	writeTemplateFile(t, dir, "cyclic.yaml", `name: cyclic
defaults:
  agent: agent-default
steps:
  - id: a
    function: echo
    depends_on: [b]
  - id: b
    function: echo
    depends_on: [a]
`)
	// Non-YAML files are ignored entirely.
	writeTemplateFile(t, dir, "notes.txt", "not a template")

	reg := NewRegistry()
	err := reg.LoadDirectory(dir)
	if !IsLoadError(err) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	lErr := err.(*LoadError)
	if len(lErr.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d: %v", len(lErr.Failures), lErr.Failures)
	}

	if _, ok := reg.Get("good"); !ok {
		t.Fatalf("valid template should load despite sibling failures")
	}
	if _, ok := reg.Get("typo"); ok {
		t.Fatalf("strict decode should reject unknown keys")
	}
	if _, ok := reg.Get("cyclic"); ok {
		t.Fatalf("cyclic template should be rejected")
	}
}

func TestRegistryMissingDirectory(t *testing.T) {
	reg := NewRegistry()
	if err := reg.LoadDirectory(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected stat error for missing directory")
	}
}

func TestRegistryFindByName(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "v1.yaml", `name: sample
version: v1
defaults:
  agent: agent-default
steps:
  - id: only
    function: echo
`)
	writeTemplateFile(t, dir, "v2.yaml", `name: sample
version: v2
defaults:
  agent: agent-default
steps:
  - id: only
    function: echo
`)

	reg := NewRegistry()
	if err := reg.LoadDirectory(dir); err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}

	if _, ok := reg.Find("sample", "v1"); !ok {
		t.Fatalf("expected to find sample@v1")
	}
	entry, ok := reg.Find("sample", "")
	if !ok {
		t.Fatalf("expected to find sample with latest version")
	}
	if entry.Template.Version != "v2" {
		t.Fatalf("expected latest version v2, got %s", entry.Template.Version)
	}
	if _, ok := reg.Find("absent", ""); ok {
		t.Fatalf("expected no match for unknown name")
	}
}

func TestMakeKey(t *testing.T) {
	if got := MakeKey("name", "v1"); got != "name@v1" {
		t.Fatalf("MakeKey with version: %q", got)
	}
	if got := MakeKey(" name ", ""); got != "name" {
		t.Fatalf("MakeKey without version should trim: %q", got)
	}
}
