// health-probe is a tiny sidecar that answers orchestrator health checks
// from a cache instead of hitting the server on every check. It polls the
// server's /readyz in the background and serves the last verdict over
// fasthttp.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/valyala/fasthttp"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/probe"
	"cipherfeed/pkg/shutdown"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	target := flag.String("target", "http://127.0.0.1:8080/readyz", "server readyz URL")
	interval := flag.Duration("interval", 5*time.Second, "poll interval")
	flag.Parse()

	logger.Init()
	defer logger.Sync()

	p := probe.New(probe.Config{Target: *target, Interval: *interval})
	p.Start()

	srv := &fasthttp.Server{
		Handler:            p.Handler(),
		Name:               "cipherfeed-health-probe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(*addr) }()
	logger.Info("health_probe_listening", "addr", *addr, "target", *target)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("serve_failed", "error", err)
		}
	}
	_ = srv.Shutdown()
	p.Stop()
}
