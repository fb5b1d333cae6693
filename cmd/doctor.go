package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/XERGER/EmbedPython/internal/config"
	"github.com/XERGER/EmbedPython/internal/history"
	"github.com/XERGER/EmbedPython/internal/logx"
	"github.com/XERGER/EmbedPython/internal/python"
	"github.com/XERGER/EmbedPython/internal/wire"
)

var doctorHistory int

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the engine environment",
	Long: `Inspect the local engine installation: endpoint name, interpreter
tree, installed packages, and recent execution history.`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().IntVar(&doctorHistory, "history", 0, "Show the last N execution records")
}

func runDoctor(cmd *cobra.Command, args []string) {
	logx.Setup("", "WARNING")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}

	fmt.Printf("endpoint:    %s\n", wire.SocketPath())

	env := python.NewEnv(cfg.PythonHome)
	if cfg.SiteDir != "" {
		env = env.WithSiteDir(cfg.SiteDir)
	}

	status := "missing"
	if env.Exists() {
		status = "ok"
	}
	fmt.Printf("interpreter: %s (%s)\n", env.Executable(), status)
	fmt.Printf("site dir:    %s\n", env.SiteDir())

	packages := env.ListInstalled()
	fmt.Printf("packages:    %d installed\n", len(packages))
	for _, pkg := range packages {
		fmt.Printf("  %s %s\n", pkg, env.InstalledVersion(pkg))
	}

	if doctorHistory > 0 {
		historyPath := cfg.HistoryPath
		if historyPath == "" {
			historyPath = filepath.Join(filepath.Dir(logx.EngineLogPath()), "history.db")
		}
		store, err := history.Open(historyPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "history: %v\n", err)
			return
		}
		defer store.Close()

		entries, err := store.Recent(doctorHistory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "history: %v\n", err)
			return
		}
		fmt.Printf("history:     %d records\n", len(entries))
		for _, e := range entries {
			fmt.Printf("  %s  %-11s %-9s %5dms  %s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Kind, e.Status, e.DurationMS, e.ExecutionID)
		}
	}
}
