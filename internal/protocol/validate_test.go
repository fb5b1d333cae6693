package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr string
	}{
		{
			name:    "missing command",
			cmd:     Command{ExecutionID: "E1"},
			wantErr: "command is missing",
		},
		{
			name:    "missing execution id",
			cmd:     Command{Command: CmdExecute, Script: "print(1)"},
			wantErr: "execution ID is empty",
		},
		{
			name:    "execute empty script",
			cmd:     Command{Command: CmdExecute, ExecutionID: "E1"},
			wantErr: "script is empty",
		},
		{
			name: "execute ok",
			cmd:  Command{Command: CmdExecute, ExecutionID: "E1", Script: "print(1)"},
		},
		{
			name:    "install empty package",
			cmd:     Command{Command: CmdInstallPackage, ExecutionID: "E2"},
			wantErr: "package is empty",
		},
		{
			name: "install ok",
			cmd:  Command{Command: CmdInstallPackage, ExecutionID: "E2", Package: "requests"},
		},
		{
			name:    "install local empty path",
			cmd:     Command{Command: CmdInstallLocalPackage, ExecutionID: "E3"},
			wantErr: "packagePath is empty",
		},
		{
			name:    "search empty query",
			cmd:     Command{Command: CmdSearchPackage, ExecutionID: "E4"},
			wantErr: "query is empty",
		},
		{
			name: "cancel needs only id",
			cmd:  Command{Command: CmdCancel, ExecutionID: "E5"},
		},
		{
			name: "list needs only id",
			cmd:  Command{Command: CmdListInstalled, ExecutionID: "E6"},
		},
		{
			name: "unknown command passes validation",
			cmd:  Command{Command: "bogus", ExecutionID: "E7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cmd)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want bool
	}{
		{"success", Response{Status: StatusSuccess}, true},
		{"error", Response{Status: StatusError}, true},
		{"cancelled", Response{Status: StatusCancelled}, true},
		{"started", Response{Status: StatusStarted}, false},
		{"progress", Response{Status: "installing", UpdateEvent: true}, false},
		{"terminal status with update flag", Response{Status: StatusSuccess, UpdateEvent: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.IsTerminal())
		})
	}
}

func TestOperationFromStatus(t *testing.T) {
	tests := []struct {
		status string
		want   OperationType
	}{
		{"installing", OpInstall},
		{"reinstalling", OpReinstall},
		{"updating", OpUpdate},
		{"installingLocal", OpInstallLocal},
		{"updatingLocal", OpUpdateLocal},
		{"uninstalling", OpUninstall},
		{"upgradingAll", OpUpgradeAll},
		{"searching", OpSearch},
		{"somethingElse", OpSearch},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, OperationFromStatus(tt.status), tt.status)
	}
}

func TestProgressStatusRoundTrip(t *testing.T) {
	for _, op := range []OperationType{OpInstall, OpReinstall, OpUpdate, OpInstallLocal, OpUpdateLocal, OpUninstall, OpUpgradeAll, OpSearch} {
		assert.Equal(t, op, OperationFromStatus(op.ProgressStatus()))
	}
}
