// Package loadgen drives a running match engine with mutation traffic and
// checks the scores it serves afterwards.
package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/matchengine/pkg/logger"
)

// Run executes the complete load run.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	cfg.Normalize()
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("mutations", cfg.Mutations),
		logger.Int("students", cfg.Students),
		logger.Int("opportunities", cfg.Opportunities),
		logger.Int("workers", cfg.Workers),
		logger.Float64("duplicateRatio", cfg.DuplicateRatio))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate and submit mutations
	mutations := generateMutations(ctx, cfg, stats)
	if err := submitMutations(ctx, cfg, client, mutations, stats); err != nil {
		return stats, fmt.Errorf("mutation submission failed: %w", err)
	}

	// Step 3: Wait for the queue to empty
	queue, err := waitForIdle(ctx, cfg, client)
	if err != nil {
		return stats, err
	}
	stats.FailedTasks = queue.FailedLast24h

	// Step 4: Verify served scores
	if err := verifyScores(ctx, cfg, client, stats); err != nil {
		return stats, fmt.Errorf("score verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	status, err := client.getJSON(ctx, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	// Accept any 200 response as healthy (the service returns Prometheus metrics)
	if status != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", status)
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var acceptRate, perSecond float64
	if stats.Submitted > 0 {
		acceptRate = float64(stats.Accepted) / float64(stats.Submitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("mutationsGenerated", stats.MutationsGenerated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
		logger.Int("failedTasks", stats.FailedTasks),
		logger.Int("studentsVerified", stats.StudentsVerified),
		logger.Int("scoresRead", stats.ScoresRead),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("mutationsPerSecond", perSecond))
}
