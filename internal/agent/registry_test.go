package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRoster(t *testing.T) {
	r := NewRegistry()

	agents := r.List()
	require.NotEmpty(t, agents)

	def := r.Default()
	require.NotNil(t, def)
	assert.Equal(t, "dev", def.ID)
	assert.True(t, def.IsDefault)
}

func TestGetNormalizesToken(t *testing.T) {
	r := NewRegistry()

	a, ok := r.Get("  DEV ")
	require.True(t, ok)
	assert.Equal(t, "dev", a.ID)

	_, ok = r.Get("nobody")
	assert.False(t, ok)
}

func TestForRole(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, "sentinel", r.ForRole(RoleSecurity).ID)
	assert.Equal(t, "inspector", r.ForRole(RoleQA).ID)
	assert.Equal(t, "dev", r.ForRole(Role("unknown")).ID, "unknown roles fall back to the default agent")
}

func TestLoadFileReplacesRoster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	roster := `agents:
  - id: Coder
    name: Coder
    role: implementer
    is_default: true
  - id: reviewer
    name: Reviewer
    role: qa
`
	require.NoError(t, os.WriteFile(path, []byte(roster), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadFile(path))

	agents := r.List()
	require.Len(t, agents, 2)
	assert.Equal(t, "coder", agents[0].ID, "ids are normalized to lowercase")
	assert.Equal(t, "coder", r.Default().ID)
}

func TestLoadFileErrorKeepsRoster(t *testing.T) {
	r := NewRegistry()
	before := len(r.List())

	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Len(t, r.List(), before)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("agents: []"), 0o644))
	assert.Error(t, r.LoadFile(bad), "an empty roster is rejected")
	assert.Len(t, r.List(), before)
}

func TestDeleteProtectsDefaultAgent(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Delete("inspector"))
	_, ok := r.Get("inspector")
	assert.False(t, ok)

	assert.Error(t, r.Delete("dev"), "the default agent cannot be deleted")
	assert.Error(t, r.Delete("ghost"))
}
