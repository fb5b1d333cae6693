package broker

import (
	"time"

	"github.com/XERGER/EmbedPython/internal/protocol"
	"github.com/XERGER/EmbedPython/internal/runner"
)

// Operations is the supervisor surface the dispatcher drives. Tests
// substitute a stub; production wires the runner.
type Operations interface {
	RunScript(id, script string, args []any, timeout time.Duration) runner.Result
	CheckSyntax(id, script string, timeout time.Duration) runner.Result
	RunPackage(id string, op protocol.OperationType, identifier string, progress runner.ProgressFunc) runner.Result
	Cancel(id string) bool
	PackageInfo(name string) (map[string]string, error)
	ListInstalled() []string
	IsInstalled(name string) bool
	InstalledVersion(name string) string
}

// runnerOps adapts a runner plus its environment to the Operations
// surface.
type runnerOps struct {
	*runner.Runner
}

// NewOperations wraps a runner for use by the broker.
func NewOperations(r *runner.Runner) Operations {
	return runnerOps{r}
}

func (o runnerOps) ListInstalled() []string {
	return o.Env().ListInstalled()
}

func (o runnerOps) IsInstalled(name string) bool {
	return o.Env().IsInstalled(name)
}

func (o runnerOps) InstalledVersion(name string) string {
	return o.Env().InstalledVersion(name)
}
