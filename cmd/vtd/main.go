// Command vtd is the terminal multiplexing server's CLI entrypoint:
// `serve` starts the control API under the supervisor, `version` prints
// the build version, and `sessions list`/`sessions kill` talk to a
// running server over the control API for quick inspection without a
// browser.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "vtd",
		Short: "Terminal multiplexing server",
		Long:  "vtd spawns PTY-backed sessions, records their I/O, and streams them to remote viewers over HTTP.",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vtd version %s\n", version)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
