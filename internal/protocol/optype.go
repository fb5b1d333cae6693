package protocol

// OperationType identifies the kind of a tracked execution.
type OperationType int

const (
	OpScript OperationType = iota
	OpInstall
	OpReinstall
	OpUpdate
	OpInstallLocal
	OpUpdateLocal
	OpUninstall
	OpUpgradeAll
	OpSearch
	OpSyntaxCheck
)

var opNames = map[OperationType]string{
	OpScript:       "script",
	OpInstall:      "install",
	OpReinstall:    "reinstall",
	OpUpdate:       "update",
	OpInstallLocal: "installLocal",
	OpUpdateLocal:  "updateLocal",
	OpUninstall:    "uninstall",
	OpUpgradeAll:   "upgradeAll",
	OpSearch:       "search",
	OpSyntaxCheck:  "syntaxCheck",
}

func (t OperationType) String() string {
	if name, ok := opNames[t]; ok {
		return name
	}
	return "unknown"
}

// progressStatus maps an operation type to the status string carried on
// its progress events.
var progressStatus = map[OperationType]string{
	OpInstall:      "installing",
	OpReinstall:    "reinstalling",
	OpUpdate:       "updating",
	OpInstallLocal: "installingLocal",
	OpUpdateLocal:  "updatingLocal",
	OpUninstall:    "uninstalling",
	OpUpgradeAll:   "upgradingAll",
	OpSearch:       "searching",
}

// ProgressStatus returns the status string used on progress events for
// the operation.
func (t OperationType) ProgressStatus() string {
	if s, ok := progressStatus[t]; ok {
		return s
	}
	return "processing"
}

// OperationFromStatus maps a progress status string back to its
// operation type. Unknown strings default to OpSearch.
func OperationFromStatus(status string) OperationType {
	for op, s := range progressStatus {
		if s == status {
			return op
		}
	}
	return OpSearch
}
