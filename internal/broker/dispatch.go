package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/XERGER/EmbedPython/internal/protocol"
	"github.com/XERGER/EmbedPython/internal/runner"
)

// handleMessage decodes one plaintext payload and routes it.
func (s *Server) handleMessage(c *conn, raw []byte) {
	var cmd protocol.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.sendError(c, "JSON parse error: "+err.Error(), "")
		return
	}

	if cmd.Command == "" {
		s.sendError(c, "Command is missing.", cmd.ExecutionID)
		return
	}
	if err := protocol.Validate(&cmd); err != nil {
		s.sendError(c, err.Error()+".", cmd.ExecutionID)
		return
	}

	handler, ok := s.handlers[cmd.Command]
	if !ok {
		s.log.Warn("unknown command", "command", cmd.Command)
		s.sendError(c, "Unknown command.", cmd.ExecutionID)
		return
	}
	handler(c, &cmd)
}

func (s *Server) initHandlers() {
	s.handlers = map[string]func(*conn, *protocol.Command){
		protocol.CmdExecute:     s.handleExecute,
		protocol.CmdCheckSyntax: s.handleCheckSyntax,
		protocol.CmdCancel:      s.handleCancel,

		protocol.CmdInstallPackage:      s.packageHandler(protocol.OpInstall, pkgByName),
		protocol.CmdReinstallPackage:    s.packageHandler(protocol.OpReinstall, pkgByName),
		protocol.CmdUpdatePackage:       s.packageHandler(protocol.OpUpdate, pkgByName),
		protocol.CmdUninstallPackage:    s.packageHandler(protocol.OpUninstall, pkgByName),
		protocol.CmdInstallLocalPackage: s.packageHandler(protocol.OpInstallLocal, pkgByPath),
		protocol.CmdUpdateLocalPackage:  s.packageHandler(protocol.OpUpdateLocal, pkgByPath),
		protocol.CmdUpgradeAllPackages:  s.packageHandler(protocol.OpUpgradeAll, pkgNone),
		protocol.CmdSearchPackage:       s.handleSearch,

		protocol.CmdListInstalled:      s.handleListInstalled,
		protocol.CmdGetPackageInfo:     s.handleGetPackageInfo,
		protocol.CmdIsPackageInstalled: s.handleIsPackageInstalled,
		protocol.CmdGetPackageVersion:  s.handleGetPackageVersion,
	}
}

// sendError emits an immediate terminal error on the originating
// connection.
func (s *Server) sendError(c *conn, message, executionID string) {
	c.send(&protocol.Response{
		Status:      protocol.StatusError,
		ExecutionID: executionID,
		IsScript:    false,
		Stdout:      message,
		Message:     message,
	})
}

// sendStarted acknowledges acceptance of a long-running command.
func (s *Server) sendStarted(c *conn, executionID, message string) {
	c.send(&protocol.Response{
		Status:      protocol.StatusStarted,
		ExecutionID: executionID,
		Message:     message,
	})
}

// terminalResponse converts a supervisor result into the wire
// envelope.
func terminalResponse(res runner.Result, isScript bool) *protocol.Response {
	resp := &protocol.Response{
		ExecutionID:   res.ExecutionID,
		IsScript:      isScript,
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		ExecutionTime: res.Duration.Milliseconds(),
	}
	switch {
	case res.Cancelled:
		resp.Status = protocol.StatusCancelled
	case res.Success:
		resp.Status = protocol.StatusSuccess
	default:
		resp.Status = protocol.StatusError
	}
	if res.ExitCode != 0 {
		code := res.ExitCode
		resp.ErrorCode = &code
	}
	return resp
}

// finish broadcasts the terminal response, records history, and drops
// the registry record. Exactly one terminal per executionId.
func (s *Server) finish(rec *record, res runner.Result, isScript bool) {
	resp := terminalResponse(res, isScript)
	s.record(rec.op, res, resp.Status)
	s.broadcast(resp)
	s.registry.remove(rec.executionID)
}

// progressFunc returns the sink converting supervisor stages into
// broadcast progress events.
func (s *Server) progressFunc() runner.ProgressFunc {
	return func(executionID string, op protocol.OperationType, stage string) {
		s.broadcast(&protocol.Response{
			Status:      op.ProgressStatus(),
			ExecutionID: executionID,
			UpdateEvent: true,
			Stage:       stage,
		})
	}
}

func (s *Server) handleExecute(c *conn, cmd *protocol.Command) {
	rec, err := s.registry.add(cmd.ExecutionID, protocol.OpScript, c)
	if err != nil {
		s.sendError(c, err.Error()+".", cmd.ExecutionID)
		return
	}

	s.sendStarted(c, cmd.ExecutionID, "Script execution started.")

	timeout := time.Duration(cmd.Timeout) * time.Millisecond
	script, args := cmd.Script, cmd.Arguments

	s.spawn(func() {
		res := s.ops.RunScript(cmd.ExecutionID, script, args, timeout)
		s.finish(rec, res, true)
	})
}

func (s *Server) handleCheckSyntax(c *conn, cmd *protocol.Command) {
	rec, err := s.registry.add(cmd.ExecutionID, protocol.OpSyntaxCheck, c)
	if err != nil {
		s.sendError(c, err.Error()+".", cmd.ExecutionID)
		return
	}

	s.sendStarted(c, cmd.ExecutionID, "Syntax check started.")

	timeout := time.Duration(cmd.Timeout) * time.Millisecond
	script := cmd.Script

	s.spawn(func() {
		res := s.ops.CheckSyntax(cmd.ExecutionID, script, timeout)
		s.finish(rec, res, true)
	})
}

func (s *Server) handleCancel(c *conn, cmd *protocol.Command) {
	if _, ok := s.registry.get(cmd.ExecutionID); !ok {
		s.sendError(c, fmt.Sprintf("No execution found with ID '%s'.", cmd.ExecutionID), cmd.ExecutionID)
		return
	}
	if !s.ops.Cancel(cmd.ExecutionID) {
		// Registered but no live child: a synchronous section is still
		// running; the terminal event will follow from its goroutine.
		s.log.Debug("cancel found no live child", "executionId", cmd.ExecutionID)
	}
	// The cancelled terminal event is emitted by the execution's own
	// goroutine.
}

// identifier selection for the shared package handler.
type pkgIdent int

const (
	pkgByName pkgIdent = iota
	pkgByPath
	pkgNone
)

func (s *Server) packageHandler(op protocol.OperationType, ident pkgIdent) func(*conn, *protocol.Command) {
	return func(c *conn, cmd *protocol.Command) {
		var identifier string
		switch ident {
		case pkgByName:
			identifier = cmd.Package
		case pkgByPath:
			identifier = cmd.PackagePath
			if info, err := os.Stat(identifier); err != nil || !info.IsDir() {
				s.sendError(c, fmt.Sprintf("Package path does not exist or is not a directory: %s", identifier), cmd.ExecutionID)
				return
			}
		}

		rec, err := s.registry.add(cmd.ExecutionID, op, c)
		if err != nil {
			s.sendError(c, err.Error()+".", cmd.ExecutionID)
			return
		}

		s.sendStarted(c, cmd.ExecutionID, startedMessage(op, identifier))

		s.spawn(func() {
			res := s.ops.RunPackage(cmd.ExecutionID, op, identifier, s.progressFunc())
			s.finish(rec, res, false)
		})
	}
}

func startedMessage(op protocol.OperationType, identifier string) string {
	switch op {
	case protocol.OpInstall:
		return fmt.Sprintf("Installation of package '%s' started.", identifier)
	case protocol.OpReinstall:
		return fmt.Sprintf("Reinstallation of package '%s' started.", identifier)
	case protocol.OpUpdate:
		return fmt.Sprintf("Update of package '%s' started.", identifier)
	case protocol.OpInstallLocal:
		return fmt.Sprintf("Installation of local package from '%s' started.", identifier)
	case protocol.OpUpdateLocal:
		return fmt.Sprintf("Update of local package '%s' started.", identifier)
	case protocol.OpUninstall:
		return fmt.Sprintf("Uninstallation of package '%s' started.", identifier)
	case protocol.OpUpgradeAll:
		return "Upgrade of all packages started."
	case protocol.OpSearch:
		return "Package search started."
	default:
		return "Operation started."
	}
}

func (s *Server) handleSearch(c *conn, cmd *protocol.Command) {
	rec, err := s.registry.add(cmd.ExecutionID, protocol.OpSearch, c)
	if err != nil {
		s.sendError(c, err.Error()+".", cmd.ExecutionID)
		return
	}

	s.sendStarted(c, cmd.ExecutionID, startedMessage(protocol.OpSearch, cmd.Query))

	query := cmd.Query
	s.spawn(func() {
		res := s.ops.RunPackage(cmd.ExecutionID, protocol.OpSearch, query, s.progressFunc())

		resp := terminalResponse(res, false)
		resp.Results = nonEmptyLines(res.Stdout)
		s.record(rec.op, res, resp.Status)
		s.broadcast(resp)
		s.registry.remove(rec.executionID)
	})
}

func (s *Server) handleListInstalled(c *conn, cmd *protocol.Command) {
	packages := s.ops.ListInstalled()
	c.send(&protocol.Response{
		Status:            protocol.StatusSuccess,
		ExecutionID:       cmd.ExecutionID,
		InstalledPackages: packages,
	})
}

func (s *Server) handleGetPackageInfo(c *conn, cmd *protocol.Command) {
	info, err := s.ops.PackageInfo(cmd.Package)
	if err != nil {
		s.sendError(c, fmt.Sprintf("Failed to retrieve information for package '%s'.", cmd.Package), cmd.ExecutionID)
		return
	}
	c.send(&protocol.Response{
		Status:      protocol.StatusSuccess,
		ExecutionID: cmd.ExecutionID,
		PackageInfo: info,
	})
}

func (s *Server) handleIsPackageInstalled(c *conn, cmd *protocol.Command) {
	installed := s.ops.IsInstalled(cmd.Package)
	c.send(&protocol.Response{
		Status:      protocol.StatusSuccess,
		ExecutionID: cmd.ExecutionID,
		Installed:   &installed,
	})
}

func (s *Server) handleGetPackageVersion(c *conn, cmd *protocol.Command) {
	version := s.ops.InstalledVersion(cmd.Package)
	if version == "" {
		s.sendError(c, fmt.Sprintf("Package '%s' is not installed.", cmd.Package), cmd.ExecutionID)
		return
	}
	c.send(&protocol.Response{
		Status:      protocol.StatusSuccess,
		ExecutionID: cmd.ExecutionID,
		Version:     version,
	})
}

func nonEmptyLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := s[start:i]
			if line != "" {
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	return lines
}
