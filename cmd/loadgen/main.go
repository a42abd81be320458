package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/blitzrec/internal/loadgen"
	"github.com/okian/blitzrec/pkg/logger"
)

const (
	defaultObservations    = 10000
	defaultRecommendations = 1000
	defaultAccounts        = 2000
	defaultTanks           = 300
	defaultWorkers         = 2 // multiplier for runtime.NumCPU()
	defaultTimeout         = 30 * time.Second
	defaultSettle          = 5 * time.Second
	defaultRunTimeout      = 10 * time.Minute
)

func main() {
	var (
		baseURL         = flag.String("url", "http://localhost:9080", "Base URL of the service")
		observations    = flag.Int("observations", defaultObservations, "Observations to submit")
		recommendations = flag.Int("recommendations", defaultRecommendations, "Recommendation requests")
		accounts        = flag.Int("accounts", defaultAccounts, "Synthetic accounts")
		tanks           = flag.Int("tanks", defaultTanks, "Synthetic vehicles")
		workers         = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent workers")
		timeout         = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle          = flag.Duration("settle", defaultSettle, "Pause before verification")
		seed            = flag.Uint64("seed", 1, "Population seed")
		verbose         = flag.Bool("verbose", false, "Log failed requests")
		help            = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}
	if *accounts <= 0 || *tanks <= 0 || *workers <= 0 {
		os.Stderr.WriteString("accounts, tanks and workers must be positive\n")
		os.Exit(2)
	}

	if err := logger.InitWithWriter(os.Stdout, "text"); err != nil {
		os.Stderr.WriteString("failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:         *baseURL,
		Observations:    *observations,
		Recommendations: *recommendations,
		Accounts:        *accounts,
		Tanks:           *tanks,
		Workers:         *workers,
		Timeout:         *timeout,
		Settle:          *settle,
		Seed:            *seed,
		Verbose:         *verbose,
	}
	if _, err := loadgen.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("load run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
