package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchengine/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.TaskTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.RetryInitialBackoff(), convey.ShouldEqual, 100*time.Millisecond)
			convey.So(cfg.RetryMaxBackoff(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.DrainTimeout(), convey.ShouldEqual, 15*time.Second)
			convey.So(cfg.SweepInterval(), convey.ShouldEqual, time.Duration(0))
			convey.So(cfg.SnapshotCacheTTL(), convey.ShouldEqual, 10*time.Minute)
			convey.So(cfg.LockTTL(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs that break one rule each", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"no workers", func(c *config.Config) { c.WorkerCount = 0 }},
			{"empty low bucket", func(c *config.Config) { c.QueueLowCapacity = 0 }},
			{"no attempts", func(c *config.Config) { c.MaxAttempts = 0 }},
			{"backoff max below min", func(c *config.Config) { c.RetryMaxBackoffMS = 10 }},
			{"no task budget", func(c *config.Config) { c.TaskTimeoutMS = 0 }},
			{"negative sweep", func(c *config.Config) { c.SweepIntervalS = -1 }},
			{"zero target", func(c *config.Config) { c.ExperienceTargetMonths = 0 }},
			{"no shards", func(c *config.Config) { c.StoreShardCount = 0 }},
			{"lock shorter than task", func(c *config.Config) {
				c.RedisAddr = "localhost:6379"
				c.LockTTLMS = c.TaskTimeoutMS
			}},
		}

		for _, tc := range cases {
			cfg := config.New()
			tc.mutate(cfg)

			convey.Convey("Then "+tc.name+" is rejected", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})

	convey.Convey("Given a short lock ttl without redis", t, func() {
		cfg := config.New()
		cfg.LockTTLMS = 1

		convey.Convey("Then it is accepted", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
