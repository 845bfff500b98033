package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAndLookup(t *testing.T) {
	path := writeCatalog(t, `models:
  - id: gpt-4o
    name: GPT-4o
    subject: inference.request.gpt4o
    context_window: 128000
  - id: claude-sonnet
    name: Claude Sonnet
    subject: inference.request.sonnet
    context_window: 200000
`)
	cat, err := Load(path)
	require.NoError(t, err)

	m, ok := cat.Lookup("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "GPT-4o", m.Name)
	assert.Equal(t, "inference.request.gpt4o", m.Subject)
	assert.Equal(t, 128000, m.ContextWindow)

	_, ok = cat.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestDisabledModelIsInvisible(t *testing.T) {
	path := writeCatalog(t, `models:
  - id: live
    name: Live
    subject: inference.request.live
  - id: retired
    name: Retired
    subject: inference.request.retired
    enabled: false
`)
	cat, err := Load(path)
	require.NoError(t, err)

	_, ok := cat.Lookup("retired")
	assert.False(t, ok, "disabled models must not resolve")

	list := cat.List()
	require.Len(t, list, 1)
	assert.Equal(t, "live", list[0].ID)
}

func TestListIsSortedByID(t *testing.T) {
	path := writeCatalog(t, `models:
  - id: zeta
    name: Zeta
    subject: inference.request.zeta
  - id: alpha
    name: Alpha
    subject: inference.request.alpha
`)
	cat, err := Load(path)
	require.NoError(t, err)

	list := cat.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "zeta", list[1].ID)
}

func TestReloadSwapsSnapshot(t *testing.T) {
	path := writeCatalog(t, `models:
  - id: first
    name: First
    subject: inference.request.first
`)
	cat, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`models:
  - id: second
    name: Second
    subject: inference.request.second
`), 0644))
	require.NoError(t, cat.Reload())

	_, ok := cat.Lookup("first")
	assert.False(t, ok)
	_, ok = cat.Lookup("second")
	assert.True(t, ok)
}

func TestReloadRejectsBadFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", "models:\n  - name: Anonymous\n"},
		{"duplicate id", "models:\n  - id: dup\n  - id: dup\n"},
		{"malformed yaml", "models: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeCatalog(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	path := writeCatalog(t, `models:
  - id: stable
    name: Stable
    subject: inference.request.stable
`)
	cat, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("models: [broken\n"), 0644))
	require.Error(t, cat.Reload())

	_, ok := cat.Lookup("stable")
	assert.True(t, ok, "a failed reload must not clobber the working snapshot")
}
