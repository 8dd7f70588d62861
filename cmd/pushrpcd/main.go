// pushrpcd serves a pushrpc server over WebSocket and plain HTTP, with
// Prometheus metrics, optional Redis-backed broadcast fanout, a hot-reloaded
// grants file, and optional OIDC login.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "pushrpcd",
	Short:        "JSON-RPC dispatch server with sessions and push",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), loadConfig())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
