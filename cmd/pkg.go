package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/XERGER/EmbedPython/internal/client"
	"github.com/XERGER/EmbedPython/internal/logx"
	"github.com/XERGER/EmbedPython/internal/protocol"
)

var pkgQuiet bool

var pkgCmd = &cobra.Command{
	Use:   "pkg",
	Short: "Manage Python packages through the broker",
}

func init() {
	rootCmd.AddCommand(pkgCmd)
	pkgCmd.PersistentFlags().BoolVarP(&pkgQuiet, "quiet", "q", false, "Suppress progress output")

	pkgCmd.AddCommand(
		pkgActionCmd("install <package>", "Install a package", func(c *client.Client, id, arg string) error {
			return c.InstallPackage(id, arg)
		}),
		pkgActionCmd("reinstall <package>", "Force-reinstall a package", func(c *client.Client, id, arg string) error {
			return c.ReinstallPackage(id, arg)
		}),
		pkgActionCmd("update <package>", "Update a package", func(c *client.Client, id, arg string) error {
			return c.UpdatePackage(id, arg)
		}),
		pkgActionCmd("uninstall <package>", "Uninstall a package", func(c *client.Client, id, arg string) error {
			return c.UninstallPackage(id, arg)
		}),
		pkgActionCmd("install-local <path>", "Install a package from a local directory", func(c *client.Client, id, arg string) error {
			return c.InstallLocalPackage(id, arg)
		}),
		pkgActionCmd("update-local <path>", "Update a package from a local directory", func(c *client.Client, id, arg string) error {
			return c.UpdateLocalPackage(id, arg)
		}),
		pkgActionCmd("search <query>", "Search for packages", func(c *client.Client, id, arg string) error {
			return c.SearchPackage(id, arg)
		}),
		pkgActionCmd("info <package>", "Show package information", func(c *client.Client, id, arg string) error {
			return c.GetPackageInfo(id, arg)
		}),
		pkgActionCmd("version <package>", "Show the installed version of a package", func(c *client.Client, id, arg string) error {
			return c.GetPackageVersion(id, arg)
		}),
		pkgActionCmd("installed <package>", "Check whether a package is installed", func(c *client.Client, id, arg string) error {
			return c.IsPackageInstalled(id, arg)
		}),
		pkgListCmd(),
		pkgUpgradeAllCmd(),
	)
}

// pkgActionCmd builds a one-argument package subcommand sharing the
// submit/wait/print cycle.
func pkgActionCmd(use, short string, submit func(*client.Client, string, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runPackageOp(func(c *client.Client, id string) error {
				return submit(c, id, args[0])
			})
		},
	}
}

func pkgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runPackageOp(func(c *client.Client, id string) error {
				return c.ListInstalledPackages(id)
			})
		},
	}
}

func pkgUpgradeAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade-all",
		Short: "Upgrade every installed package",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runPackageOp(func(c *client.Client, id string) error {
				return c.UpgradeAllPackages(id)
			})
		},
	}
}

// runPackageOp drives one package command to its terminal result.
func runPackageOp(submit func(*client.Client, string) error) {
	logx.Setup("", "WARNING")

	executionID := client.NewExecutionID()
	done := make(chan client.Result, 1)

	c := client.New(client.Notifications{
		PackageOperationFinished: func(r client.Result) {
			if r.ExecutionID == executionID {
				done <- r
			}
		},
		PackageOperationProgress: func(op protocol.OperationType, stage, id string) {
			if id == executionID && !pkgQuiet {
				fmt.Println(stage)
			}
		},
	})
	defer c.Close()

	if !c.WaitForServerReady() {
		fmt.Fprintln(os.Stderr, "Error: broker is not reachable")
		os.Exit(1)
	}

	if err := submit(c, executionID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var result client.Result
	select {
	case result = <-done:
	case <-time.After(30 * time.Minute):
		fmt.Fprintln(os.Stderr, "Error: no result from broker")
		os.Exit(1)
	}

	printPackageResult(result)
	if !result.Success {
		os.Exit(1)
	}
}

func printPackageResult(r client.Result) {
	switch {
	case r.InstalledPackages != nil:
		for _, pkg := range r.InstalledPackages {
			fmt.Println(pkg)
		}
	case r.PackageInfo != nil:
		keys := make([]string, 0, len(r.PackageInfo))
		for k := range r.PackageInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s: %s\n", k, r.PackageInfo[k])
		}
	case r.SearchResults != nil:
		for _, line := range r.SearchResults {
			fmt.Println(line)
		}
	case r.Installed != nil:
		fmt.Println(*r.Installed)
	case r.Version != "":
		fmt.Println(r.Version)
	default:
		if r.Stdout != "" {
			fmt.Println(r.Stdout)
		}
		if r.Stderr != "" {
			fmt.Fprintln(os.Stderr, r.Stderr)
		}
	}
}
