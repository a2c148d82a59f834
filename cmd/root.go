package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dPersist/cmd/bench"
	"github.com/ValentinKolb/dPersist/cmd/info"
	"github.com/ValentinKolb/dPersist/cmd/serve"
	"github.com/ValentinKolb/dPersist/cmd/state"
	"github.com/ValentinKolb/dPersist/cmd/timers"
	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dpersist",
		Short: "versioned entity state and durable timers",
		Long: fmt.Sprintf(`dPersist (v%s)

Versioned per-entity state with optimistic concurrency and a registry of
durable timers partitioned over a hash ring. Runs on a local engine or on
a RAFT replicated store.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dPersist",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dPersist v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(state.StateCommands)
	RootCmd.AddCommand(timers.TimerCommands)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(info.InfoCmd)
	RootCmd.AddCommand(versionCmd)

	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
