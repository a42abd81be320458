package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/blitzrec/internal/domain/model"
)

type fakeAppender struct {
	mu    sync.Mutex
	items []model.TrainItem
	err   error
}

func (f *fakeAppender) AppendTrainItems(_ context.Context, items []model.TrainItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, items...)
	return nil
}

type fakeSink struct {
	mu   sync.Mutex
	seen []model.Observation
	err  error
}

func (f *fakeSink) SubmitObservation(_ context.Context, obs model.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.seen = append(f.seen, obs)
	return nil
}

const validPayload = `{"realm":"ru","account_id":42,"tank_id":3329,"last_battle_time":1709294400,"n_battles":3,"n_wins":2}`

func TestDecode(t *testing.T) {
	Convey("Given crawler feed payloads", t, func() {
		Convey("When the payload is valid", func() {
			m, err := Decode([]byte(validPayload))

			Convey("Then it should convert to a train item", func() {
				So(err, ShouldBeNil)
				it := m.TrainItem()
				So(it.AccountID, ShouldEqual, model.AccountID(42))
				So(it.TankID, ShouldEqual, model.TankID(3329))
				So(it.LastBattleTime.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(it.NBattles, ShouldEqual, 3)
				So(it.NWins, ShouldEqual, 2)
			})
		})

		cases := []struct{ name, payload string }{
			{"malformed json", `{"realm":`},
			{"missing timestamp", `{"realm":"ru","account_id":42,"tank_id":1,"n_battles":1,"n_wins":0}`},
			{"missing tank id", `{"realm":"ru","account_id":42,"last_battle_time":1709294400,"n_battles":1,"n_wins":0}`},
			{"more wins than battles", `{"realm":"ru","account_id":42,"tank_id":1,"last_battle_time":1709294400,"n_battles":1,"n_wins":2}`},
			{"no battles", `{"realm":"ru","account_id":42,"tank_id":1,"last_battle_time":1709294400,"n_battles":0,"n_wins":0}`},
			{"wrong field type", `{"realm":"ru","account_id":"x","tank_id":1,"last_battle_time":1709294400,"n_battles":1}`},
		}
		for _, tc := range cases {
			Convey("When the payload has "+tc.name, func() {
				_, err := Decode([]byte(tc.payload))

				Convey("Then it should be an invalid message", func() {
					So(errors.Is(err, ErrInvalidMessage), ShouldBeTrue)
				})
			})
		}
	})
}

func TestHandle(t *testing.T) {
	Convey("Given a consumer with working sinks", t, func() {
		ctx := context.Background()
		app := &fakeAppender{}
		sink := &fakeSink{}
		c := NewConsumer(nil, app, sink)

		Convey("When a valid message without event id arrives", func() {
			action, err := c.Handle(ctx, []byte(validPayload), "BLITZREC:17")

			Convey("Then it should be stored, forwarded and acked", func() {
				So(err, ShouldBeNil)
				So(action, ShouldEqual, Ack)
				So(app.items, ShouldHaveLength, 1)
				So(sink.seen, ShouldHaveLength, 1)
				So(sink.seen[0].EventID, ShouldEqual, "BLITZREC:17")
			})
		})

		Convey("When the message is invalid", func() {
			action, err := c.Handle(ctx, []byte(`{}`), "BLITZREC:18")

			Convey("Then it should be terminated without side effects", func() {
				So(errors.Is(err, ErrInvalidMessage), ShouldBeTrue)
				So(action, ShouldEqual, Term)
				So(app.items, ShouldBeEmpty)
				So(sink.seen, ShouldBeEmpty)
			})
		})

		Convey("When the train item store fails", func() {
			app.err = errors.New("database is locked")
			action, err := c.Handle(ctx, []byte(validPayload), "")

			Convey("Then the message should be redelivered", func() {
				So(err, ShouldNotBeNil)
				So(action, ShouldEqual, Nak)
				So(sink.seen, ShouldBeEmpty)
			})
		})

		Convey("When the factor path rejects the observation", func() {
			sink.err = errors.New("queue full")
			action, err := c.Handle(ctx, []byte(validPayload), "")

			Convey("Then the stored item should still be acked", func() {
				So(err, ShouldBeNil)
				So(action, ShouldEqual, Ack)
				So(app.items, ShouldHaveLength, 1)
			})
		})

		Convey("When the factor path is cancelled after the item is stored", func() {
			sink.err = context.Canceled
			first, err := c.Handle(ctx, []byte(validPayload), "BLITZREC:21")

			Convey("Then the message should be acked so it is not redelivered", func() {
				So(err, ShouldBeNil)
				So(first, ShouldEqual, Ack)
				So(app.items, ShouldHaveLength, 1)
			})

			Convey("And the next message should be stored once", func() {
				sink.err = nil
				second, err := c.Handle(ctx, []byte(validPayload), "BLITZREC:22")
				So(err, ShouldBeNil)
				So(second, ShouldEqual, Ack)
				So(app.items, ShouldHaveLength, 2)
				So(sink.seen, ShouldHaveLength, 1)
			})
		})
	})

	Convey("Given a consumer without a factor path", t, func() {
		app := &fakeAppender{}
		c := NewConsumer(nil, app, nil, WithStream("S"), WithSubject("s.x"), WithDurable("d"))

		Convey("When a valid message arrives", func() {
			action, err := c.Handle(context.Background(), []byte(validPayload), "")

			Convey("Then it should only be stored", func() {
				So(err, ShouldBeNil)
				So(action, ShouldEqual, Ack)
				So(app.items, ShouldHaveLength, 1)
				So(c.stream, ShouldEqual, "S")
				So(c.subject, ShouldEqual, "s.x")
				So(c.durable, ShouldEqual, "d")
			})
		})
	})
}
