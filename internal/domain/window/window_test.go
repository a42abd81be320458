package window_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/window"
)

type fakeSource struct {
	mu    sync.Mutex
	items []model.TrainItem
	calls int
	err   error
}

func (f *fakeSource) append(items ...model.TrainItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		it.ID = int64(len(f.items) + 1)
		f.items = append(f.items, it)
	}
}

func (f *fakeSource) PullTrainItems(_ context.Context, q window.Query) ([]model.TrainItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []model.TrainItem
	for _, it := range f.items {
		if it.ID <= q.After || it.LastBattleTime.Before(q.Since) {
			continue
		}
		if q.Realm != "" && it.Realm != q.Realm {
			continue
		}
		out = append(out, it)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func item(account, tank uint32, at time.Time) model.TrainItem {
	return model.TrainItem{
		Realm:          "ru",
		AccountID:      model.AccountID(account),
		TankID:         model.TankID(tank),
		LastBattleTime: at,
		NBattles:       2,
		NWins:          1,
	}
}

func TestWindowRefresh(t *testing.T) {
	convey.Convey("Given a window over a source", t, func() {
		ctx := context.Background()
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		src := &fakeSource{}
		w := window.New(src, window.WithPeriod(24*time.Hour), window.WithPageSize(2), window.WithRealm("ru"))

		src.append(
			item(1, 10, now.Add(-time.Hour)),
			item(2, 10, now.Add(-2*time.Hour)),
			item(3, 20, now.Add(-48*time.Hour)),
			item(4, 20, now.Add(-3*time.Hour)),
			item(5, 30, now.Add(-4*time.Hour)),
		)

		convey.Convey("When refreshing for the first time", func() {
			stats, err := w.Refresh(ctx, now)

			convey.Convey("Then recent items should be pulled across pages", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stats.Pulled, convey.ShouldEqual, 4)
				convey.So(w.Len(), convey.ShouldEqual, 4)
				convey.So(w.Watermark(), convey.ShouldEqual, 5)
				convey.So(src.calls, convey.ShouldEqual, 3)
			})

			convey.Convey("And refreshing again without new data", func() {
				before := w.Items()
				stats, err := w.Refresh(ctx, now)

				convey.Convey("Then the window should be unchanged", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(stats.Pulled, convey.ShouldEqual, 0)
					convey.So(stats.Evicted, convey.ShouldEqual, 0)
					convey.So(w.Items(), convey.ShouldResemble, before)
					convey.So(w.Watermark(), convey.ShouldEqual, 5)
				})
			})

			convey.Convey("And time moves past some items", func() {
				later := now.Add(22*time.Hour + 30*time.Minute)
				src.append(item(6, 10, later))
				stats, err := w.Refresh(ctx, later)

				convey.Convey("Then expired items should be evicted and new ones appended", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(stats.Evicted, convey.ShouldEqual, 3)
					convey.So(stats.Pulled, convey.ShouldEqual, 1)
					convey.So(w.Len(), convey.ShouldEqual, 2)
					convey.So(w.Watermark(), convey.ShouldEqual, 6)
				})
			})

			convey.Convey("And the source fails", func() {
				src.err = errors.New("connection refused")
				src.append(item(7, 10, now))
				_, err := w.Refresh(ctx, now)

				convey.Convey("Then the watermark should be kept for the retry", func() {
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(w.Watermark(), convey.ShouldEqual, 5)
					convey.So(w.Len(), convey.ShouldEqual, 4)
				})

				convey.Convey("And the source recovers", func() {
					src.err = nil
					stats, err := w.Refresh(ctx, now)

					convey.Convey("Then the missed item should be pulled", func() {
						convey.So(err, convey.ShouldBeNil)
						convey.So(stats.Pulled, convey.ShouldEqual, 1)
						convey.So(w.Watermark(), convey.ShouldEqual, 6)
					})
				})
			})
		})

		convey.Convey("When items from another realm are present", func() {
			eu := item(9, 40, now)
			eu.Realm = "eu"
			src.append(eu)
			_, err := w.Refresh(ctx, now)

			convey.Convey("Then they should be filtered out", func() {
				convey.So(err, convey.ShouldBeNil)
				for _, it := range w.Items() {
					convey.So(it.Realm, convey.ShouldEqual, "ru")
				}
			})
		})
	})
}

func TestWindowCommutes(t *testing.T) {
	convey.Convey("Given the same source refreshed at different paces", t, func() {
		ctx := context.Background()
		t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		t1 := t0.Add(30 * time.Hour)

		build := func() *fakeSource {
			src := &fakeSource{}
			src.append(
				item(1, 10, t0),
				item(2, 10, t0.Add(10*time.Hour)),
				item(3, 20, t0.Add(20*time.Hour)),
			)
			return src
		}

		convey.Convey("When one window refreshes at both times and another only at the end", func() {
			a := window.New(build(), window.WithPeriod(24*time.Hour))
			_, err := a.Refresh(ctx, t0)
			convey.So(err, convey.ShouldBeNil)
			_, err = a.Refresh(ctx, t1)
			convey.So(err, convey.ShouldBeNil)

			b := window.New(build(), window.WithPeriod(24*time.Hour))
			_, err = b.Refresh(ctx, t1)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then both should hold the same items and watermark", func() {
				convey.So(a.Items(), convey.ShouldResemble, b.Items())
				convey.So(a.Watermark(), convey.ShouldEqual, b.Watermark())
			})
		})
	})
}
