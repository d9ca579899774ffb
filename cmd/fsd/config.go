package main

import (
	"github.com/moby/fsd/daemon/config"
	"github.com/spf13/pflag"
)

// installConfigFlags adds flags to the pflag.FlagSet to configure the server.
// Flag names match the keys of the configuration file.
func installConfigFlags(conf *config.Config, flags *pflag.FlagSet) {
	flags.StringVar(&conf.BindAddress, "bind", conf.BindAddress, `Address to listen on, or "fd://" for socket activation`)
	flags.IntVarP(&conf.Port, "port", "p", conf.Port, "TCP port to listen on (env "+config.EnvPort+")")
	flags.StringVarP(&conf.Root, "root", "d", conf.Root, "Directory to serve (env "+config.EnvRoot+")")

	flags.Var(&conf.IdleTimeout, "idle-timeout", "Close connections idle for longer than this")
	flags.Var(&conf.WriteTimeout, "write-timeout", "Abort responses when a write stalls for longer than this")
	flags.Var(&conf.ShutdownTimeout, "shutdown-timeout", "Grace period for in-flight responses on shutdown")
	flags.Var(&conf.MaxHeaderSize, "max-header-size", "Maximum size of a request head")
	flags.IntVar(&conf.MaxConnections, "max-connections", conf.MaxConnections, "Maximum number of simultaneous connections per listener (0 for unlimited)")
	flags.BoolVar(&conf.NoListing, "no-listing", conf.NoListing, "Do not generate listings for directories without an index file")

	flags.StringVar(&conf.MetricsAddress, "metrics-addr", "", "Set address and port to serve the metrics api on")
	flags.StringVar(&conf.Pidfile, "pidfile", "", "Path to use for the PID file")

	flags.BoolVarP(&conf.Debug, "debug", "D", false, "Enable debug mode")
	flags.StringVarP(&conf.LogLevel, "log-level", "l", conf.LogLevel, `Set the logging level ("debug"|"info"|"warn"|"error"|"fatal")`)
	flags.StringVar(&conf.LogFormat, "log-format", conf.LogFormat, `Set the logging format ("text"|"json")`)
	flags.BoolVar(&conf.RawLogs, "raw-logs", false, "Full timestamps without ANSI coloring")
}
