package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/moby/fsd/daemon/config"
	"github.com/moby/fsd/daemon/listeners"
	"github.com/moby/fsd/daemon/server"
	"github.com/moby/fsd/pkg/pidfile"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type daemonOptions struct {
	version      bool
	configFile   string
	envFile      string
	daemonConfig *config.Config
	flags        *pflag.FlagSet
}

func newDaemonOptions(conf *config.Config) *daemonOptions {
	return &daemonOptions{daemonConfig: conf}
}

// installFlags adds the flags that only exist on the command line.
func (o *daemonOptions) installFlags(flags *pflag.FlagSet) {
	flags.BoolVarP(&o.version, "version", "v", false, "Print version information and quit")
	flags.StringVar(&o.configFile, "config-file", "", "Server configuration file (.json or .toml)")
	flags.StringVar(&o.envFile, "env-file", "", "Load environment variables from a dotenv file")
}

// daemonCli runs the file server and the services around it.
type daemonCli struct {
	*config.Config
	out io.Writer

	// started is closed once every listener is being served.
	started  chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	stopping    bool
	srv         *server.Server
	metricsSrv  *http.Server
	metricsAddr net.Addr
}

func newDaemonCli(out io.Writer) *daemonCli {
	return &daemonCli{out: out, started: make(chan struct{})}
}

func runDaemon(ctx context.Context, opts *daemonOptions) error {
	if opts.version {
		showVersion(os.Stdout)
		return nil
	}

	cli := newDaemonCli(os.Stdout)

	stopc := make(chan struct{})
	defer close(stopc)
	trap(ctx, func() {
		cli.stop(ctx)
		<-stopc // wait for cli.start() to return
	})

	return cli.start(ctx, opts)
}

func (cli *daemonCli) start(ctx context.Context, opts *daemonOptions) (err error) {
	if cli.Config, err = loadDaemonCliConfig(opts); err != nil {
		return err
	}
	if err := configureDaemonLogs(cli.Config); err != nil {
		return err
	}
	log.G(ctx).WithField("root", cli.Root).Debug("starting fsd")

	if cli.Pidfile != "" {
		if err := pidfile.Write(cli.Pidfile, os.Getpid()); err != nil {
			return errors.Wrapf(err, "failed to start fsd, ensure it is not running or delete %s", cli.Pidfile)
		}
		defer func() {
			if err := pidfile.Remove(cli.Pidfile); err != nil {
				log.G(ctx).Error(err)
			}
		}()
	}

	srv, err := server.New(cli.Config)
	if err != nil {
		return errors.Wrap(err, "invalid document root")
	}
	ls, err := listeners.Init(ctx, cli.listenAddr(), cli.MaxConnections)
	if err != nil {
		log.G(ctx).WithError(err).Error("failed to bind")
		return err
	}
	metricsSrv, err := cli.startMetricsServer(ctx)
	if err != nil {
		closeListeners(ls)
		return err
	}

	cli.mu.Lock()
	stopping := cli.stopping
	if !stopping {
		cli.srv, cli.metricsSrv = srv, metricsSrv
	}
	cli.mu.Unlock()
	if stopping {
		// A signal arrived while starting up.
		closeListeners(ls)
		if metricsSrv != nil {
			metricsSrv.Close()
		}
		return nil
	}

	var g errgroup.Group
	for _, l := range ls {
		l := l
		g.Go(func() error {
			err := srv.Serve(ctx, l)
			if errors.Is(err, server.ErrServerClosed) {
				return nil
			}
			cli.stop(ctx)
			return errors.Wrapf(err, "serving %s", l.Addr())
		})
	}

	notifyReady()
	printBanner(cli.out, cli.BindAddress, ls[0].Addr())
	log.G(ctx).WithField("root", srv.Root()).Info("fsd has completed initialization")
	close(cli.started)

	err = g.Wait()
	notifyStopping()
	log.G(ctx).Info("fsd shutdown complete")
	return err
}

// stop shuts the server down, giving in-flight responses the configured
// grace period. It is safe to call more than once.
func (cli *daemonCli) stop(ctx context.Context) {
	cli.stopOnce.Do(func() {
		cli.mu.Lock()
		cli.stopping = true
		srv, metricsSrv := cli.srv, cli.metricsSrv
		cli.mu.Unlock()

		log.G(ctx).Info("shutting down")
		if srv != nil {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(cli.ShutdownTimeout))
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.G(ctx).WithError(err).Warn("error during shutdown")
			}
		}
		if metricsSrv != nil {
			if err := metricsSrv.Close(); err != nil {
				log.G(ctx).WithError(err).Warn("error closing metrics server")
			}
		}
	})
}

func closeListeners(ls []net.Listener) {
	for _, l := range ls {
		l.Close()
	}
}

// listenAddr returns the address handed to the listeners package: a socket
// activation address given with --bind is used as is.
func (cli *daemonCli) listenAddr() string {
	if strings.HasPrefix(cli.BindAddress, listeners.FDPrefix) {
		return cli.BindAddress
	}
	return cli.Address()
}

func loadDaemonCliConfig(opts *daemonOptions) (*config.Config, error) {
	conf := opts.daemonConfig
	flags := opts.flags

	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return nil, errors.Wrap(err, "unable to load environment file")
		}
	}
	if err := config.ApplyEnvironment(conf, flags, os.LookupEnv); err != nil {
		return nil, err
	}

	if opts.configFile != "" {
		c, err := config.MergeServerConfigurations(conf, flags, opts.configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to configure the server with file %s", opts.configFile)
		}
		conf = c
	} else if err := config.Validate(conf); err != nil {
		return nil, err
	}

	if conf.Debug {
		conf.LogLevel = "debug"
	}
	return conf, nil
}

func configureDaemonLogs(conf *config.Config) error {
	switch format := log.OutputFormat(conf.LogFormat); format {
	case log.JSONFormat:
		if err := log.SetFormat(format); err != nil {
			return err
		}
	case log.TextFormat, "":
		if err := log.SetFormat(log.TextFormat); err != nil {
			return err
		}
		if conf.RawLogs {
			if l, ok := log.L.Logger.Formatter.(*logrus.TextFormatter); ok {
				l.DisableColors = true
			}
		}
	default:
		return fmt.Errorf("unknown log format: %s", conf.LogFormat)
	}

	logLevel := conf.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	if err := log.SetLevel(logLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}
	return nil
}

// printBanner tells an interactive user where the files are served.
func printBanner(w io.Writer, bind string, addr net.Addr) {
	fmt.Fprintf(w, "Serving on %s\n", color.GreenString(bannerURL(bind, addr)))
	fmt.Fprintln(w, "Press Ctrl+C to stop the server")
}

func bannerURL(bind string, addr net.Addr) string {
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	host := "localhost"
	if bind != "" && !strings.HasPrefix(bind, listeners.FDPrefix) {
		if ip := net.ParseIP(bind); ip == nil || !ip.IsUnspecified() {
			host = bind
		}
	}
	return "http://" + net.JoinHostPort(host, port)
}
