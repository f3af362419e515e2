// Package main runs the terminal dashboard for a running bookmark server.
//
// It polls the /status endpoint of the server's status listener and shows
// the token bucket level, the queued requests per priority lane, the circuit
// breaker state and the limiter counters.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pdmimpulse/raindrop-mcp/internal/dashboard"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

func main() {
	url := flag.String("url", "http://127.0.0.1:3000/status", "Status endpoint of the server")
	interval := flag.Duration("interval", time.Second, "Refresh interval")
	logPath := flag.String("log", "", "Write logs to this file (the terminal is taken by the dashboard)")
	flag.Parse()

	// Logs would corrupt the screen, so they are discarded unless a file is given.
	logger := utils.NewNopLogger()
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = utils.NewLogger(utils.DebugLevel, false, f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := dashboard.Run(ctx, dashboard.Config{
		URL:      *url,
		Interval: *interval,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dashboard error: %v\n", err)
		os.Exit(1)
	}
}
