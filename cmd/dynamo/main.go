// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Command dynamo runs a budget-constrained, dynamically scaled tier of
// simulated web servers and databases, serving a request-dispatch and
// management API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yash-srivastava19/dynamo/lib/config"
	"github.com/yash-srivastava19/dynamo/lib/webtier"
	"github.com/yash-srivastava19/dynamo/sdk/go/ctxlog"
)

var version = "dev"

func main() {
	os.Exit(runCommand(os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}

func runCommand(prog string, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to YAML config `file` (default configuration if empty)")
	versionFlag := flags.Bool("version", false, "write version information to stdout and exit 0")
	simulate := flags.Duration("simulate", 0, "instead of serving, run simulated traffic for the given `duration`, then exit")
	maxRPS := flags.Int("requests-per-second", 20, "maximum request rate during -simulate")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *versionFlag {
		fmt.Fprintf(stdout, "%s %s\n", prog, version)
		return 0
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "error loading config: %s\n", err)
		return 1
	}
	logger := ctxlog.New(stderr, cfg.LogFormat, cfg.LogLevel)
	ctx, cancel := context.WithCancel(ctxlog.Context(context.Background(), logger))
	defer cancel()

	wt := &webtier.WebTier{
		Config:   cfg,
		Context:  ctx,
		Registry: prometheus.NewRegistry(),
	}
	wt.Start()
	defer wt.Close()

	if *simulate > 0 {
		simulateTraffic(ctx, wt, *simulate, *maxRPS)
		return 0
	}

	srv := &http.Server{Addr: cfg.Listen, Handler: wt}
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sig:
			logger.WithField("Signal", s.String()).Info("shutting down")
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.WithField("Listen", cfg.Listen).Infof("%s %s listening", prog, version)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logger.WithError(err).Error("server failed")
		return 1
	}
	return 0
}
