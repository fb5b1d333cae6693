package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/XERGER/EmbedPython/internal/client"
	"github.com/XERGER/EmbedPython/internal/logx"
)

var (
	runScript    string
	runFile      string
	runTimeoutMs int
	runSyntax    bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- arg...]",
	Short: "Execute a Python script through the broker",
	Long: `Submit a script to a running broker, wait for the terminal result,
and print captured stdout/stderr.

Example:
  pyengine run -e 'print(10+20)'
  pyengine run -f script.py --timeout 5000 -- alpha 42 true`,
	Run: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runScript, "eval", "e", "", "Script source to execute")
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "Script file to execute")
	runCmd.Flags().IntVarP(&runTimeoutMs, "timeout", "t", 0, "Timeout in milliseconds (0 = none)")
	runCmd.Flags().BoolVar(&runSyntax, "check", false, "Only check syntax, do not execute")
}

func runRun(cmd *cobra.Command, args []string) {
	logx.Setup("", "WARNING")

	script := runScript
	if script == "" && runFile != "" {
		data, err := os.ReadFile(runFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot read script file: %v\n", err)
			os.Exit(1)
		}
		script = string(data)
	}
	if script == "" {
		fmt.Fprintln(os.Stderr, "Error: no script specified (use -e or -f)")
		os.Exit(1)
	}

	arguments := make([]any, len(args))
	for i, a := range args {
		arguments[i] = a
	}

	executionID := client.NewExecutionID()
	done := make(chan client.Result, 1)

	c := client.New(client.Notifications{
		ScriptExecutionFinished: func(r client.Result) {
			if r.ExecutionID == executionID {
				done <- r
			}
		},
	})
	defer c.Close()

	if !c.WaitForServerReady() {
		fmt.Fprintln(os.Stderr, "Error: broker is not reachable")
		os.Exit(1)
	}

	var err error
	if runSyntax {
		err = c.CheckSyntax(executionID, script)
	} else {
		err = c.Execute(executionID, script, arguments, runTimeoutMs)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var result client.Result
	select {
	case result = <-done:
	case <-time.After(waitForResult(runTimeoutMs)):
		fmt.Fprintln(os.Stderr, "Error: no result from broker")
		os.Exit(1)
	}

	fmt.Print(result.Stdout)
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
	if !result.Success {
		if result.ErrorCode != nil {
			os.Exit(*result.ErrorCode)
		}
		os.Exit(1)
	}
}

// waitForResult bounds the client-side wait: the script timeout plus
// slack, or a day when no timeout is set.
func waitForResult(timeoutMs int) time.Duration {
	if timeoutMs <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(timeoutMs)*time.Millisecond + 10*time.Second
}
