package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/splitlab/splitlab/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSeenAndRecord(t *testing.T) {
	Convey("Given an in-memory deduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		ctx := context.Background()

		Convey("When recording a new event id", func() {
			seen := d.SeenAndRecord(ctx, "evt-1")

			Convey("Then it reports the id as new", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And a repeat submission is flagged as duplicate", func() {
				So(d.SeenAndRecord(ctx, "evt-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When unrecording after a failed enqueue", func() {
			d.SeenAndRecord(ctx, "evt-2")
			d.Unrecord(ctx, "evt-2")

			Convey("Then the id can be retried", func() {
				So(d.SeenAndRecord(ctx, "evt-2"), ShouldBeFalse)
			})
		})

		Convey("When unrecording an unknown id", func() {
			d.Unrecord(ctx, "never-seen")

			Convey("Then size is unaffected", func() {
				So(d.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestBoundedEviction(t *testing.T) {
	Convey("Given a deduper bounded to 3 ids", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		ctx := context.Background()

		Convey("When recording more ids than the bound", func() {
			for i := 0; i < 5; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", i))
			}

			Convey("Then the size stays at the bound", func() {
				So(d.Size(), ShouldEqual, 3)
			})

			Convey("And the oldest ids were evicted", func() {
				So(d.SeenAndRecord(ctx, "evt-0"), ShouldBeFalse) // evicted, so new again
			})

			Convey("And the newest ids are still tracked", func() {
				So(d.SeenAndRecord(ctx, "evt-4"), ShouldBeTrue)
			})
		})
	})
}

func TestConcurrentAccess(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		ctx := context.Background()

		Convey("When 10 goroutines race on the same 100 ids", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			newCount := 0

			for g := 0; g < 10; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						if !d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", i)) {
							mu.Lock()
							newCount++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each id was recorded exactly once", func() {
				So(newCount, ShouldEqual, 100)
				So(d.Size(), ShouldEqual, 100)
			})
		})
	})
}
