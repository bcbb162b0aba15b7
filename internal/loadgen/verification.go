package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/matchengine/pkg/logger"
)

// Verification errors.
var (
	ErrNotIdle    = errors.New("queue did not drain in time")
	ErrUnordered  = errors.New("scores not ordered by overall")
	ErrOutOfRange = errors.New("score outside [0, 1]")
)

// waitForIdle polls GET /queue until nothing is pending or processing.
func waitForIdle(ctx context.Context, cfg *Config, client *HTTPClient) (QueueStatus, error) {
	deadline := time.Now().Add(cfg.IdleTimeout)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var last QueueStatus
	for {
		status, err := client.getJSON(ctx, "/queue", &last)
		if err == nil && status == http.StatusOK && last.Pending() == 0 && last.Processing == 0 {
			return last, nil
		}
		if time.Now().After(deadline) {
			return last, fmt.Errorf("%w: pending %d processing %d", ErrNotIdle, last.Pending(), last.Processing)
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// verifyScores reads the top scores of every student and checks that each
// list is ordered and in range.
func verifyScores(ctx context.Context, cfg *Config, client *HTTPClient, stats *Stats) error {
	var verified, read atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < cfg.Students; i++ {
		id := StudentID(i)
		g.Go(func() error {
			var scores []ScoreEntry
			status, err := client.getJSON(gctx, fmt.Sprintf("/scores/%s?limit=%d", id, cfg.TopN), &scores)
			if err != nil {
				return fmt.Errorf("scores of %s: %w", id, err)
			}
			if status != http.StatusOK {
				return fmt.Errorf("scores of %s: status %d", id, status)
			}
			if err := checkOrdering(scores); err != nil {
				return fmt.Errorf("scores of %s: %w", id, err)
			}
			verified.Add(1)
			read.Add(int64(len(scores)))
			return nil
		})
	}
	err := g.Wait()
	stats.StudentsVerified = int(verified.Load())
	stats.ScoresRead = int(read.Load())
	if err == nil {
		logger.Get().Info(ctx, "score verification completed",
			logger.Int("students", stats.StudentsVerified),
			logger.Int("scores", stats.ScoresRead))
	}
	return err
}

func checkOrdering(scores []ScoreEntry) error {
	for i, s := range scores {
		if s.Overall < 0 || s.Overall > 1 {
			return fmt.Errorf("%w: %s has %.4f", ErrOutOfRange, s.OpportunityID, s.Overall)
		}
		if i > 0 && s.Overall > scores[i-1].Overall {
			return fmt.Errorf("%w: entry %d above entry %d", ErrUnordered, i, i-1)
		}
	}
	return nil
}
