package runner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XERGER/EmbedPython/internal/protocol"
	"github.com/XERGER/EmbedPython/internal/python"
)

func TestClassifyStage(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"Collecting requests", "Collecting package information..."},
		{"Downloading requests-2.31.0-py3-none-any.whl (62 kB)", "Downloading package..."},
		{"Installing collected packages: requests", "Installing package..."},
		{"Successfully installed requests-2.31.0", "Successfully installed requests-2.31.0"},
		{"Using cached urllib3-2.0.0.whl", "Using cached urllib3-2.0.0.whl"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStage(tt.line), tt.line)
	}
}

func TestPipArgs(t *testing.T) {
	r := testRunner(t, "req-1.0.dist-info")
	site := r.env.SiteDir()

	tests := []struct {
		op   protocol.OperationType
		id   string
		want []string
	}{
		{protocol.OpInstall, "requests", []string{"-m", "pip", "install", "requests", "--no-cache-dir", "--target", site}},
		{protocol.OpReinstall, "requests", []string{"-m", "pip", "install", "--force-reinstall", "requests", "--no-cache-dir", "--target", site}},
		{protocol.OpUpdate, "requests", []string{"-m", "pip", "install", "--upgrade", "requests", "--no-cache-dir", "--target", site}},
		{protocol.OpInstallLocal, "/pkg/dir", []string{"-m", "pip", "install", "/pkg/dir", "--no-cache-dir", "--target", site}},
		{protocol.OpUpdateLocal, "/pkg/dir", []string{"-m", "pip", "install", "--upgrade", "/pkg/dir", "--no-cache-dir", "--target", site}},
		{protocol.OpSearch, "http", []string{"-m", "pip", "search", "http"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, r.pipArgs(tt.op, tt.id), tt.op.String())
	}
}

func TestMutatesSite(t *testing.T) {
	mutating := []protocol.OperationType{
		protocol.OpInstall, protocol.OpReinstall, protocol.OpUpdate,
		protocol.OpInstallLocal, protocol.OpUpdateLocal,
		protocol.OpUninstall, protocol.OpUpgradeAll,
	}
	for _, op := range mutating {
		assert.True(t, mutatesSite(op), op.String())
	}
	assert.False(t, mutatesSite(protocol.OpSearch))
	assert.False(t, mutatesSite(protocol.OpScript))
}

// testRunner builds a Runner over a temp site directory seeded with
// metadata entries. The interpreter path is fake; tests exercising it
// never reach a spawn.
func testRunner(t *testing.T, entries ...string) *Runner {
	t.Helper()
	site := t.TempDir()
	for _, name := range entries {
		require.NoError(t, os.MkdirAll(filepath.Join(site, name), 0755))
	}
	env := python.NewEnv(t.TempDir()).WithSiteDir(site)
	return New(env, time.Minute)
}

func TestRunPackageInstallAlreadyInstalled(t *testing.T) {
	r := testRunner(t, "requests-2.31.0.dist-info")

	res := r.RunPackage("E1", protocol.OpInstall, "requests", nil)
	assert.True(t, res.Success)
	assert.Contains(t, res.Stdout, "already installed")
}

func TestRunPackageUpdateNotInstalled(t *testing.T) {
	r := testRunner(t)

	res := r.RunPackage("E1", protocol.OpUpdate, "requests", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Stderr, "not installed; cannot update")
}

func TestRunPackageUninstall(t *testing.T) {
	r := testRunner(t, "requests", "requests-2.31.0.dist-info")

	var stages []string
	res := r.RunPackage("E1", protocol.OpUninstall, "requests", func(_ string, _ protocol.OperationType, stage string) {
		stages = append(stages, stage)
	})

	require.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Stdout, "Uninstalled package: requests"))
	assert.NotEmpty(t, stages)
	assert.False(t, r.env.IsInstalled("requests"))
}

func TestRunPackageUninstallAbsent(t *testing.T) {
	r := testRunner(t)

	res := r.RunPackage("E1", protocol.OpUninstall, "requests", nil)
	assert.True(t, res.Success)
	assert.Contains(t, res.Stdout, "Uninstalled package: requests")
}

func TestRunPackageUpgradeAllEmpty(t *testing.T) {
	r := testRunner(t)

	res := r.RunPackage("E1", protocol.OpUpgradeAll, "", nil)
	assert.True(t, res.Success)
	assert.Contains(t, res.Stdout, "No packages installed")
}

func TestCancelUnknownExecution(t *testing.T) {
	r := testRunner(t)
	assert.False(t, r.Cancel("nope"))
}
