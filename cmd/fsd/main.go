package main

import (
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"
	"github.com/moby/fsd/daemon/config"
	"github.com/moby/fsd/version"
	"github.com/spf13/cobra"
)

func newDaemonCommand() *cobra.Command {
	opts := newDaemonOptions(config.New())

	cmd := &cobra.Command{
		Use:           "fsd [OPTIONS] [PORT [ROOT]]",
		Short:         "Serve the files of a directory over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.flags = cmd.Flags()
			if err := opts.setPositional(args); err != nil {
				return err
			}
			return runDaemon(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	opts.installFlags(flags)
	installConfigFlags(opts.daemonConfig, flags)
	return cmd
}

// setPositional applies the PORT and ROOT arguments as if they had been
// given with --port and --root.
func (o *daemonOptions) setPositional(args []string) error {
	names := []string{"port", "root"}
	for i, arg := range args {
		if o.flags.Changed(names[i]) {
			return fmt.Errorf("%s given both as an argument and with --%s", names[i], names[i])
		}
		if err := o.flags.Set(names[i], arg); err != nil {
			return fmt.Errorf("invalid %s argument %q: %w", names[i], arg, err)
		}
	}
	return nil
}

func showVersion(w io.Writer) {
	fmt.Fprintf(w, "fsd version %s, build %s, built %s\n", version.Version, version.GitCommit, version.BuildTime)
}

func main() {
	log.L.Logger.SetOutput(os.Stderr)

	cmd := newDaemonCommand()
	cmd.SetOut(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
