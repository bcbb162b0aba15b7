package loadgen

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/matchengine/pkg/logger"
)

// Mutation kinds sent to the service.
const (
	kindStudentChanged     = "student_changed"
	kindOpportunityChanged = "opportunity_changed"
)

// opportunityShare is the fraction of events that touch an opportunity.
const opportunityShare = 0.1

const randomFloatDivisor = 1_000_000

// getRandomFloat returns a random float64 in [0, 1) using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// randomIndex returns a random int in [0, n).
func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}
	v, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(v.Int64())
}

// StudentID names the i-th student of the load id space.
func StudentID(i int) string { return "student-" + strconv.Itoa(i) }

// OpportunityID names the i-th opportunity of the load id space.
func OpportunityID(i int) string { return "opportunity-" + strconv.Itoa(i) }

// generateMutations builds cfg.Mutations events over the configured id
// space. A share of them replays an earlier event id to exercise
// idempotency.
func generateMutations(ctx context.Context, cfg *Config, stats *Stats) []Mutation {
	out := make([]Mutation, 0, cfg.Mutations)
	ts := time.Now().UTC().Format(time.RFC3339)
	for i := 0; i < cfg.Mutations; i++ {
		if i > 0 && getRandomFloat() < cfg.DuplicateRatio {
			out = append(out, out[randomIndex(len(out))])
			continue
		}
		m := Mutation{EventID: uuid.NewString(), TS: ts}
		if getRandomFloat() < opportunityShare {
			m.Kind = kindOpportunityChanged
			m.OpportunityID = OpportunityID(randomIndex(cfg.Opportunities))
		} else {
			m.Kind = kindStudentChanged
			m.StudentID = StudentID(randomIndex(cfg.Students))
		}
		out = append(out, m)
	}
	stats.MutationsGenerated = len(out)
	logger.Get().Info(ctx, "generated mutations", logger.Int("count", len(out)))
	return out
}
