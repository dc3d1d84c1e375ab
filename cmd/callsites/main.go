package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
)

var version = "dev"

// cli carries what every subcommand shares.
type cli struct {
	out     io.Writer
	logger  log.Logger
	verbose bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:   "callsites",
		Short: "List JVM call sites and their dispatch kinds",
		Long: `callsites reads class files, jars and jmods and reports every invoke
instruction as a call site: its bytecode offset, its declared target and
whether it is bound statically or dispatched on the receiver.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			c.logger = log.NewLogfmtLogger(log.NewSyncWriter(errOut))
			// enable verbose logging if requested
			if !c.verbose {
				c.logger = level.NewFilter(c.logger, level.AllowInfo())
			}
			c.logger = log.With(c.logger, "ts", log.DefaultTimestampUTC)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetVersionTemplate("callsites version {{.Version}}\n")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newScanCmd(c),
		newPrimCmd(c),
		newSigCmd(c),
	)
	return rootCmd
}

func main() {
	os.Exit(checkError(newRootCmd(os.Stdout, os.Stderr).Execute()))
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
