package protocol

import "fmt"

// payloadField names the command-specific field that must be non-empty,
// keyed by command name. Commands absent from the map require only an
// executionId.
var payloadField = map[string]func(*Command) (name string, value string){
	CmdExecute:             func(c *Command) (string, string) { return "script", c.Script },
	CmdCheckSyntax:         func(c *Command) (string, string) { return "script", c.Script },
	CmdInstallPackage:      func(c *Command) (string, string) { return "package", c.Package },
	CmdReinstallPackage:    func(c *Command) (string, string) { return "package", c.Package },
	CmdUpdatePackage:       func(c *Command) (string, string) { return "package", c.Package },
	CmdUninstallPackage:    func(c *Command) (string, string) { return "package", c.Package },
	CmdInstallLocalPackage: func(c *Command) (string, string) { return "packagePath", c.PackagePath },
	CmdUpdateLocalPackage:  func(c *Command) (string, string) { return "packagePath", c.PackagePath },
	CmdGetPackageInfo:      func(c *Command) (string, string) { return "package", c.Package },
	CmdIsPackageInstalled:  func(c *Command) (string, string) { return "package", c.Package },
	CmdGetPackageVersion:   func(c *Command) (string, string) { return "package", c.Package },
	CmdSearchPackage:       func(c *Command) (string, string) { return "query", c.Query },
}

// Validate checks the structural requirements of an incoming command:
// a non-empty command name, a non-empty executionId, and the
// command-specific payload field where one is required.
func Validate(c *Command) error {
	if c.Command == "" {
		return fmt.Errorf("command is missing")
	}
	if c.ExecutionID == "" {
		return fmt.Errorf("execution ID is empty")
	}
	if check, ok := payloadField[c.Command]; ok {
		if name, value := check(c); value == "" {
			return fmt.Errorf("%s is empty", name)
		}
	}
	return nil
}
