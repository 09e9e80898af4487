package panel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCorps(t *testing.T) {
	p := Default()
	require.Len(t, p, 16)
	require.NoError(t, p.Validate())

	byName := make(map[string]bool)
	var untagged int
	for _, a := range p {
		byName[a.Name] = true
		assert.NotEmpty(t, a.Persona, a.Name)
		assert.NotEmpty(t, a.Model, a.Name)
		assert.Greater(t, a.BaseWeight, 0.0, a.Name)
		if len(a.DomainTags) == 0 {
			untagged++
		}
	}
	assert.True(t, byName["contrarian"])
	assert.Equal(t, 1, untagged, "only the contrarian carries no domain tags")
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Len(t, p, 16)
}

func TestLoadPanelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"name": "alpha", "persona": "You are alpha.", "model": "gemma:2b", "base_weight": 1.5, "domain_tags": ["energy"]},
		{"name": "beta", "persona": "You are beta.", "model": "phi3:mini"}
	]`), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	require.Len(t, p, 2)

	assert.Equal(t, "alpha", p[0].Name)
	assert.InDelta(t, 1.5, p[0].BaseWeight, 1e-9)
	assert.True(t, p[0].HasDomain("energy"))

	// Missing weight defaults to 1.0.
	assert.InDelta(t, 1.0, p[1].BaseWeight, 1e-9)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `[{`},
		{"empty panel", `[]`},
		{"duplicate names", `[
			{"name": "alpha", "persona": "a", "model": "gemma:2b"},
			{"name": "alpha", "persona": "b", "model": "phi3:mini"}
		]`},
		{"missing model", `[{"name": "alpha", "persona": "a"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "panel.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
