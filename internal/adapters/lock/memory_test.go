package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/matchengine/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemoryLocker(t *testing.T) {
	pair := model.PairKey{StudentID: "s1", OpportunityID: "o1"}

	Convey("Given a memory locker", t, func() {
		l := NewMemoryLocker(4)

		Convey("When the pair is held", func() {
			release, err := l.Lock(context.Background(), pair)
			So(err, ShouldBeNil)

			Convey("Then a second caller waits until its context ends", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
				defer cancel()
				_, err := l.Lock(ctx, pair)
				So(errors.Is(err, ErrLockNotAcquired), ShouldBeTrue)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				release()
				So(l.Held(), ShouldEqual, 0)
			})

			Convey("Then another pair is not blocked", func() {
				other, err := l.Lock(context.Background(), model.PairKey{StudentID: "s2", OpportunityID: "o1"})
				So(err, ShouldBeNil)
				other()
				release()
			})

			Convey("Then releasing twice is harmless", func() {
				release()
				release()
				again, err := l.Lock(context.Background(), pair)
				So(err, ShouldBeNil)
				again()
				So(l.Held(), ShouldEqual, 0)
			})
		})

		Convey("When many goroutines contend for one pair", func() {
			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := l.Lock(context.Background(), pair)
					if err != nil {
						return
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inside, -1)
					release()
				}()
			}
			wg.Wait()

			Convey("Then at most one holds it at a time", func() {
				So(maxInside, ShouldEqual, 1)
				So(l.Held(), ShouldEqual, 0)
			})
		})
	})
}
