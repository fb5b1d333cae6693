package python

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envWithSite(t *testing.T, entries ...string) *Env {
	t.Helper()
	site := t.TempDir()
	for _, name := range entries {
		require.NoError(t, os.MkdirAll(filepath.Join(site, name), 0755))
	}
	return NewEnv("/opt/missing").WithSiteDir(site)
}

func TestListInstalled(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    []string
	}{
		{
			name:    "dist info with version",
			entries: []string{"requests-2.31.0.dist-info", "requests"},
			want:    []string{"requests"},
		},
		{
			name:    "egg info",
			entries: []string{"legacy_pkg-0.9.egg-info"},
			want:    []string{"legacy_pkg"},
		},
		{
			name:    "case insensitive dedupe",
			entries: []string{"Pillow-10.0.0.dist-info", "pillow-9.0.0.egg-info"},
			want:    []string{"Pillow"},
		},
		{
			name:    "ignores plain dirs",
			entries: []string{"requests", "urllib3", "__pycache__"},
			want:    nil,
		},
		{
			name:    "name with dash keeps non-version segment",
			entries: []string{"typing-extensions-4.9.0.dist-info"},
			want:    []string{"typing-extensions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := envWithSite(t, tt.entries...)
			assert.Equal(t, tt.want, env.ListInstalled())
		})
	}
}

func TestListInstalledMissingSiteDir(t *testing.T) {
	env := NewEnv("/opt/missing").WithSiteDir("/definitely/not/here")
	assert.Nil(t, env.ListInstalled())
}

func TestIsInstalled(t *testing.T) {
	env := envWithSite(t, "requests-2.31.0.dist-info", "typing_extensions-4.9.0.dist-info")

	assert.True(t, env.IsInstalled("requests"))
	assert.True(t, env.IsInstalled("Requests"))
	assert.True(t, env.IsInstalled("typing-extensions"))
	assert.False(t, env.IsInstalled("numpy"))
}

func TestInstalledVersion(t *testing.T) {
	env := envWithSite(t, "requests-2.31.0.dist-info")

	assert.Equal(t, "2.31.0", env.InstalledVersion("requests"))
	assert.Equal(t, "", env.InstalledVersion("numpy"))
}

func TestUninstallRemovesPackageAndMetadata(t *testing.T) {
	env := envWithSite(t, "requests", "requests-2.31.0.dist-info", "urllib3", "urllib3-2.0.0.dist-info")

	removed, err := env.Uninstall("requests")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"requests", "requests-2.31.0.dist-info"}, removed)

	assert.False(t, env.IsInstalled("requests"))
	assert.True(t, env.IsInstalled("urllib3"))
}

func TestUninstallAbsentPackageSucceeds(t *testing.T) {
	env := envWithSite(t, "urllib3-2.0.0.dist-info")

	removed, err := env.Uninstall("requests")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestParsePipShow(t *testing.T) {
	output := `Name: requests
Version: 2.31.0
Summary: Python HTTP for Humans.
Requires: certifi, charset-normalizer, idna, urllib3
Required-by:
`
	info := ParsePipShow(output)
	require.NotNil(t, info)
	assert.Equal(t, "requests", info["Name"])
	assert.Equal(t, "2.31.0", info["Version"])
	assert.Equal(t, "certifi, charset-normalizer, idna, urllib3", info["Requires"])
	assert.Equal(t, "", info["Required-by"])
}

func TestParsePipShowEmpty(t *testing.T) {
	assert.Nil(t, ParsePipShow(""))
	assert.Nil(t, ParsePipShow("WARNING: Package(s) not found: nope"))
}

func TestEnvPaths(t *testing.T) {
	env := NewEnv("/opt/pyengine/python")
	assert.Equal(t, filepath.Join("/opt/pyengine/python", "Lib", "site-packages"), env.SiteDir())
	assert.Contains(t, env.Executable(), "python")
}
