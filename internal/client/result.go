package client

import "github.com/XERGER/EmbedPython/internal/protocol"

// Result is the terminal outcome delivered to the host application for
// one executionId.
type Result struct {
	ExecutionID   string
	Success       bool
	Cancelled     bool
	Stdout        string
	Stderr        string
	ExecutionTime int64 // milliseconds
	ErrorCode     *int

	// Query payloads, populated for the corresponding commands.
	InstalledPackages []string
	PackageInfo       map[string]string
	SearchResults     []string
	Installed         *bool
	Version           string
}

func resultFromResponse(resp *protocol.Response) Result {
	return Result{
		ExecutionID:   resp.ExecutionID,
		Success:       resp.Status == protocol.StatusSuccess,
		Cancelled:     resp.Status == protocol.StatusCancelled,
		Stdout:        resp.Stdout,
		Stderr:        resp.Stderr,
		ExecutionTime: resp.ExecutionTime,
		ErrorCode:     resp.ErrorCode,

		InstalledPackages: resp.InstalledPackages,
		PackageInfo:       resp.PackageInfo,
		SearchResults:     resp.Results,
		Installed:         resp.Installed,
		Version:           resp.Version,
	}
}

// Notifications carries the host application's callbacks. Nil fields
// are skipped.
type Notifications struct {
	ConnectedToServer        func()
	DisconnectedFromServer   func()
	ScriptExecutionFinished  func(Result)
	PackageOperationFinished func(Result)
	PackageOperationProgress func(op protocol.OperationType, stage, executionID string)
}
