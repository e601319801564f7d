package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirigent-ai/dirigent/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewRuntimeWiresComponents(t *testing.T) {
	rt, err := New(Options{Listen: "127.0.0.1:0"})
	require.NoError(t, err)

	require.NotNil(t, rt.Engine())
	require.NotNil(t, rt.Agents())
	require.NotNil(t, rt.Tools())
	require.NotNil(t, rt.Handler())

	// Built-ins are registered before anything else touches the registry.
	assert.True(t, rt.Tools().Has("calculator"))
	assert.True(t, rt.Tools().Has("web_search"))

	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRuntimeLoadsTemplatesAndSkills(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "templates", "triage.yaml"), `
name: triage
version: v1
type: sequential
defaults:
  agent: default
steps:
  - id: collect
    function: echo
  - id: summarize
    function: echo
    depends_on: [collect]
`)
	// A template with an unknown key must not hold back the valid one.
	writeFile(t, filepath.Join(dir, "templates", "broken.yaml"), `
name: broken
stepz:
  - id: a
`)

	writeFile(t, filepath.Join(dir, "skills", "summarize.md"), `---
name: summarize
version: 1.0.0
category: writing
description: Summarize text
---

Summarize the input in three sentences.
`)
	writeFile(t, filepath.Join(dir, "skills", "retired.md"), `---
name: retired
enabled: false
---

Obsolete prompt.
`)

	cfgPath := filepath.Join(dir, "dirigent.yaml")
	writeFile(t, cfgPath, `
service:
  listen: "127.0.0.1:0"
orchestrator:
  templates_dir: `+filepath.Join(dir, "templates")+`
agents:
  skills_dir: `+filepath.Join(dir, "skills")+`
`)

	rt, err := New(Options{ConfigPath: cfgPath})
	require.NoError(t, err)

	defs := rt.Engine().Workflows()
	require.Len(t, defs, 1)
	assert.Equal(t, "triage", defs[0].Name)
	assert.Len(t, defs[0].Steps, 2)

	assert.True(t, rt.Tools().Has("summarize"))
	assert.False(t, rt.Tools().Has("retired"))
}

func TestNewRuntimeDisabledDirectoriesStayOff(t *testing.T) {
	rt, err := New(Options{Listen: "127.0.0.1:0"})
	require.NoError(t, err)

	assert.Empty(t, rt.Engine().Workflows())
}

func TestNewRuntimeBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dirigent.yaml")
	writeFile(t, cfgPath, "service: [not a map\n")

	_, err := New(Options{ConfigPath: cfgPath})
	require.Error(t, err)

	var cfgErr *config.Error
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNewRuntimeListenOverride(t *testing.T) {
	rt, err := New(Options{Listen: "127.0.0.1:9191"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9191", rt.http.Addr)
}
