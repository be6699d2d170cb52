// Command memogarden is the verb-client CLI: it speaks the same envelope
// the daemon's HTTP transport accepts, letting an operator issue verbs
// from a shell the way the teacher's `bd` CLI issues RPC calls to its
// daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memogarden/memogarden/internal/config"
)

var (
	flagAddr   string
	flagActor  string
	flagJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "memogarden",
	Short: "CLI client for a MemoGarden daemon",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "daemon HTTP address (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "operator", "actor name attached to dispatched verbs")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print raw JSON responses")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolvedAddr returns --addr, falling back to the configured http_addr.
func resolvedAddr() string {
	if flagAddr != "" {
		return flagAddr
	}
	cfg := config.Load()
	if cfg.HTTPAddr != "" {
		return cfg.HTTPAddr
	}
	return "127.0.0.1:8327"
}
