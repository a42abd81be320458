package types_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/types"
)

func TestObservationRequest(t *testing.T) {
	Convey("Given an observation request", t, func() {
		req := types.ObservationRequest{
			EventID:   "evt-1",
			Realm:     "eu",
			AccountID: 7,
			TankID:    3329,
			NBattles:  4,
			NWins:     3,
			TS:        "2024-03-01T12:00:00+02:00",
		}

		Convey("When converting it", func() {
			obs := req.Observation()

			Convey("Then the ids and sample should carry over and time be UTC", func() {
				So(obs.EventID, ShouldEqual, "evt-1")
				So(obs.AccountID, ShouldEqual, model.AccountID(7))
				So(obs.TankID, ShouldEqual, model.TankID(3329))
				So(obs.NBattles, ShouldEqual, 4)
				So(obs.NWins, ShouldEqual, 3)
				So(obs.TS, ShouldEqual, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
			})
		})
	})
}

func TestNewVehicle(t *testing.T) {
	Convey("Given a stored model without similar vehicles", t, func() {
		m := model.VehicleModel{TankID: 1, VictoryRatio: 0.5}

		Convey("When converting it", func() {
			v := types.NewVehicle(m)

			Convey("Then the similar list should encode as an empty array", func() {
				So(v.Similar, ShouldNotBeNil)
				So(v.Similar, ShouldBeEmpty)
				So(v.TankID, ShouldEqual, 1)
			})
		})
	})
}
