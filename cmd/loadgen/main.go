package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/matchengine/internal/loadgen"
	"github.com/okian/matchengine/pkg/logger"
)

// Default configuration constants.
const (
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL       = flag.String("url", "http://localhost:9080", "Base URL of the service")
		mutations     = flag.Int("mutations", loadgen.DefaultMutations, "Number of mutation events to submit")
		students      = flag.Int("students", loadgen.DefaultStudents, "Size of the student id space")
		opportunities = flag.Int("opportunities", loadgen.DefaultOpportunities, "Size of the opportunity id space")
		dupRatio      = flag.Float64("dup", 0.05, "Share of events that replay an earlier event id")
		workers       = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		timeout       = flag.Duration("timeout", loadgen.DefaultTimeout, "HTTP request timeout")
		idle          = flag.Duration("idle", loadgen.DefaultIdleTimeout, "Bound on the wait for the queue to empty")
		topN          = flag.Int("top", loadgen.DefaultTopN, "Scores read per student during verification")
		verbose       = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	_, err := loadgen.Run(ctx, &loadgen.Config{
		BaseURL:        *baseURL,
		Students:       *students,
		Opportunities:  *opportunities,
		Mutations:      *mutations,
		DuplicateRatio: *dupRatio,
		Workers:        *workers,
		Timeout:        *timeout,
		IdleTimeout:    *idle,
		TopN:           *topN,
		Verbose:        *verbose,
	})
	if err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1) //nolint:gocritic // logger already synced
	}
}
