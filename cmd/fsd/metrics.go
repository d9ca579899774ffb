package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/containerd/log"
	metrics "github.com/docker/go-metrics"
	"github.com/pkg/errors"
)

func (cli *daemonCli) startMetricsServer(ctx context.Context) (*http.Server, error) {
	if cli.MetricsAddress == "" {
		return nil, nil
	}

	l, err := net.Listen("tcp", cli.MetricsAddress)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start metrics server")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Minute, // "G112: Potential Slowloris Attack (gosec)"; not a real concern for our use, so setting a long timeout.
	}
	cli.mu.Lock()
	cli.metricsAddr = l.Addr()
	cli.mu.Unlock()

	go func() {
		log.G(ctx).Infof("metrics API listening on %s", l.Addr())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.G(ctx).WithError(err).Error("error serving metrics API")
		}
	}()
	return srv, nil
}
