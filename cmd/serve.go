package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/XERGER/EmbedPython/internal/broker"
	"github.com/XERGER/EmbedPython/internal/config"
	"github.com/XERGER/EmbedPython/internal/history"
	"github.com/XERGER/EmbedPython/internal/lock"
	"github.com/XERGER/EmbedPython/internal/logx"
	"github.com/XERGER/EmbedPython/internal/monitor"
	"github.com/XERGER/EmbedPython/internal/python"
	"github.com/XERGER/EmbedPython/internal/runner"
	"github.com/XERGER/EmbedPython/internal/wire"
)

var (
	serveConfigFile string
	servePythonHome string
	serveMonitor    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker daemon",
	Long: `Run the pyengine broker daemon that:
  - Listens on the per-host encrypted local socket
  - Executes Python scripts on request
  - Performs package operations against the bundled interpreter tree
  - Streams progress and results back to connected clients`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "", "Path to config file")
	serveCmd.Flags().StringVarP(&servePythonHome, "python-home", "p", "", "Path to the bundled interpreter tree")
	serveCmd.Flags().StringVarP(&serveMonitor, "monitor", "m", "", "Loopback address for the debug monitor endpoint")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(append([]string{serveConfigFile}, config.SearchPaths()...)...)
	if err != nil {
		logx.Setup("", "DEBUG")
		logx.Fatal("invalid configuration", "error", err)
	}

	if servePythonHome != "" {
		cfg.PythonHome = servePythonHome
	}
	if serveMonitor != "" {
		cfg.MonitorListen = serveMonitor
	}

	logPath := cfg.LogPath
	if logPath == "" {
		logPath = logx.EngineLogPath()
	}
	logx.Setup(logPath, cfg.LogLevel)
	logx.Debug("engine starting")

	// A second broker that finds a live endpoint fails fast.
	socketPath := wire.SocketPath()
	if err := wire.EnsureSocketDir(filepath.Dir(socketPath)); err != nil {
		logx.Fatal("socket directory is unusable", "error", err)
	}
	pidLock, err := lock.Acquire(socketPath + ".lock")
	if err != nil {
		logx.Fatal("another broker instance owns the endpoint", "error", err)
	}
	defer pidLock.Release()

	env := python.NewEnv(cfg.PythonHome)
	if cfg.SiteDir != "" {
		env = env.WithSiteDir(cfg.SiteDir)
	}
	if !env.Exists() {
		logx.Warning("python executable not found", "path", env.Executable())
	}

	run := runner.New(env, cfg.PipTimeout())

	var opts []broker.Option

	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = filepath.Join(filepath.Dir(logPath), "history.db")
	}
	store, err := history.Open(historyPath)
	if err != nil {
		logx.Warning("history store unavailable", "error", err)
	} else {
		defer store.Close()
		opts = append(opts, broker.WithRecorder(store))
	}

	var mon *monitor.Monitor
	if cfg.MonitorListen != "" {
		mon = monitor.New(cfg.MonitorListen, nil)
		opts = append(opts, broker.WithEventSink(mon))
	}

	srv := broker.New(socketPath, wire.SecretKey(), broker.NewOperations(run), opts...)

	if mon != nil {
		mon.SetActiveCount(srv.ActiveExecutions)
		if err := mon.Start(); err != nil {
			logx.Warning("monitor disabled", "error", err)
			mon = nil
		}
	}

	if err := srv.Listen(); err != nil {
		logx.Fatal("unable to start the server", "error", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logx.Debug("shutting down")
		if mon != nil {
			mon.Stop()
		}
		srv.Shutdown()
		pidLock.Release()
		os.Exit(0)
	}()

	if err := srv.Serve(); err != nil {
		logx.Fatal("serve failed", "error", err)
	}
}
