package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func configureLogger(dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newRootCmd() *cobra.Command {
	var dev bool

	root := &cobra.Command{
		Use:           "reconx",
		Short:         "Rule-driven reconnaissance orchestrator",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(configureLogger(dev))
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&dev, "dev", false, "use text log format instead of JSON")

	root.AddCommand(newPlanCmd())
	runCmd := newRunCmd("run")
	root.AddCommand(runCmd)
	// resume is an alias of run: same flags, same behavior. Re-running
	// against the same --out reuses _state.sqlite and only drains tasks
	// still pending.
	root.AddCommand(newRunCmd("resume"))

	return root
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		msg := err.Error()
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		os.Stderr.WriteString(msg)
		os.Exit(exitCode(err))
	}
}
