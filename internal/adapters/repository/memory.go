package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/pkg/metrics"
)

const defaultShardCount = 32

// shard holds the scores of every student hashed onto it, so all scores
// of one student live in one shard.
type shard struct {
	mu     sync.RWMutex
	scores map[string]map[string]model.MatchScore // student -> opportunity -> score
}

// MemoryStore is an in-memory Store sharded by student id.
type MemoryStore struct {
	shardCount int
	shards     []*shard
	count      atomic.Int64
}

// NewMemoryStore creates a sharded in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{shardCount: defaultShardCount}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{scores: make(map[string]map[string]model.MatchScore)}
	}
	return s
}

func (s *MemoryStore) shardFor(studentID string) *shard {
	return s.shards[xxhash.Sum64String(studentID)%uint64(len(s.shards))]
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, pair model.PairKey) (model.MatchScore, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("get", float64(time.Since(start).Microseconds())/1000)
	}()

	sh := s.shardFor(pair.StudentID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	score, ok := sh.scores[pair.StudentID][pair.OpportunityID]
	if !ok {
		return model.MatchScore{}, fmt.Errorf("%s: %w", pair, ErrNotFound)
	}
	return score, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, score model.MatchScore) error { //nolint:gocritic // stored by value
	if score.StudentID == "" || score.OpportunityID == "" {
		return fmt.Errorf("%w: empty pair", ErrInvalidScore)
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("put", float64(time.Since(start).Microseconds())/1000)
	}()

	sh := s.shardFor(score.StudentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byOpp, ok := sh.scores[score.StudentID]
	if !ok {
		byOpp = make(map[string]model.MatchScore)
		sh.scores[score.StudentID] = byOpp
	}
	if _, exists := byOpp[score.OpportunityID]; !exists {
		s.count.Add(1)
	}
	byOpp[score.OpportunityID] = score
	return nil
}

// TopN implements Store.
func (s *MemoryStore) TopN(_ context.Context, studentID string, n int) ([]model.MatchScore, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	sh := s.shardFor(studentID)
	sh.mu.RLock()
	out := make([]model.MatchScore, 0, len(sh.scores[studentID]))
	for _, score := range sh.scores[studentID] {
		out = append(out, score)
	}
	sh.mu.RUnlock()

	sortScores(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) int {
	return int(s.count.Load())
}

// sortScores orders by overall desc, then opportunity id asc.
func sortScores(scores []model.MatchScore) {
	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i].Components.Overall, scores[j].Components.Overall
		if a != b {
			return a > b
		}
		return scores[i].OpportunityID < scores[j].OpportunityID
	})
}
