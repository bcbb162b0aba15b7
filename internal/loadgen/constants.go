package loadgen

import "time"

// Defaults applied by Normalize.
const (
	DefaultStudents      = 1000
	DefaultOpportunities = 50
	DefaultMutations     = 5000
	DefaultTimeout       = 10 * time.Second
	DefaultIdleTimeout   = 2 * time.Minute
	DefaultPollInterval  = 250 * time.Millisecond
	DefaultTopN          = 10
	PercentageMultiplier = 100
)

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.Students <= 0 {
		c.Students = DefaultStudents
	}
	if c.Opportunities <= 0 {
		c.Opportunities = DefaultOpportunities
	}
	if c.Mutations <= 0 {
		c.Mutations = DefaultMutations
	}
	if c.DuplicateRatio < 0 || c.DuplicateRatio >= 1 {
		c.DuplicateRatio = 0
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.TopN <= 0 {
		c.TopN = DefaultTopN
	}
}
