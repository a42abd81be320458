package recommend_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/blitzrec/internal/domain/aggregate"
	"github.com/okian/blitzrec/internal/domain/estimator"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/recommend"
	"github.com/okian/blitzrec/internal/domain/similarity"
)

type fakeStore struct {
	models map[model.TankID]model.VehicleModel
	err    error
	asked  []model.TankID
}

func (f *fakeStore) GetVehicleModels(_ context.Context, ids []model.TankID) (map[model.TankID]model.VehicleModel, error) {
	f.asked = ids
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[model.TankID]model.VehicleModel)
	for _, id := range ids {
		if m, ok := f.models[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func residual(tank model.TankID, r float64) recommend.Known {
	return recommend.Known{TankID: tank, Residual: r, HasResidual: true}
}

func TestRecommend(t *testing.T) {
	Convey("Given a store with vehicle models", t, func() {
		ctx := context.Background()
		store := &fakeStore{models: map[model.TankID]model.VehicleModel{
			1: {TankID: 1, VictoryRatio: 0.5},
			2: {TankID: 2, VictoryRatio: 0.45},
			3: {TankID: 3, VictoryRatio: 0.5, Similar: []model.Similar{{TankID: 1, Similarity: 0.5}, {TankID: 2, Similarity: 0.25}, {TankID: 4, Similarity: 0.9}}},
			5: {TankID: 5, VictoryRatio: 0.3, Similar: []model.Similar{{TankID: 1, Similarity: 1}}},
			6: {TankID: 6, VictoryRatio: 0.5, Similar: []model.Similar{{TankID: 9, Similarity: 1}}},
		}}
		r := recommend.New(store, estimator.Estimator{Z: 1.96, Correction: 0.5})

		Convey("When the caller knows nothing", func() {
			got := r.Recommend(ctx, nil, []model.TankID{3})

			Convey("Then the result should be empty", func() {
				So(got, ShouldBeEmpty)
				So(got, ShouldNotBeNil)
			})
		})

		Convey("When residuals are given directly", func() {
			got := r.Recommend(ctx,
				[]recommend.Known{residual(1, 0.1), residual(2, 0.4)},
				[]model.TankID{6, 3, 7, 5, 3},
			)

			Convey("Then predictions should be weighted averages plus the target baseline", func() {
				So(got, ShouldHaveLength, 2)
				So(got[0].TankID, ShouldEqual, model.TankID(3))
				So(got[0].P, ShouldAlmostEqual, 0.7, 1e-12)
				So(got[1].TankID, ShouldEqual, model.TankID(5))
				So(got[1].P, ShouldAlmostEqual, 0.4, 1e-12)
			})

			Convey("Then the store should be asked once for every distinct id", func() {
				So(store.asked, ShouldResemble, []model.TankID{1, 2, 3, 5, 6, 7})
			})
		})

		Convey("When samples are given", func() {
			est := estimator.Estimator{Z: 1.96, Correction: 0.5}
			v, err := est.VictoryRatio(model.Sample{NBattles: 20, NWins: 14})
			So(err, ShouldBeNil)

			got := r.Recommend(ctx,
				[]recommend.Known{{TankID: 1, Sample: model.Sample{NBattles: 20, NWins: 14}}, {TankID: 2, Sample: model.Sample{}}},
				[]model.TankID{5, 3},
			)

			Convey("Then the residual should be the estimate minus the stored baseline", func() {
				So(got, ShouldHaveLength, 2)
				for _, p := range got {
					switch p.TankID {
					case 5:
						So(p.P, ShouldAlmostEqual, v-0.5+0.3, 1e-12)
					case 3:
						So(p.P, ShouldAlmostEqual, v-0.5+0.5, 1e-12)
					}
				}
			})
		})

		Convey("When the store fails", func() {
			store.err = errors.New("database is locked")
			got := r.Recommend(ctx, []recommend.Known{residual(1, 0.1)}, []model.TankID{3})

			Convey("Then the request should degrade to no predictions", func() {
				So(got, ShouldBeEmpty)
			})
		})
	})
}

func TestRecommendEndToEnd(t *testing.T) {
	Convey("Given models trained from the reference scenario", t, func() {
		items := []model.TrainItem{
			{AccountID: 1, TankID: 1, NBattles: 3, NWins: 2},
			{AccountID: 2, TankID: 1, NBattles: 10, NWins: 5},
			{AccountID: 3, TankID: 1, NBattles: 2, NWins: 1},
			{AccountID: 1, TankID: 2, NBattles: 2, NWins: 1},
			{AccountID: 2, TankID: 2, NBattles: 1, NWins: 0},
			{AccountID: 4, TankID: 2, NBattles: 2, NWins: 2},
		}
		est, err := estimator.New(0.95, 0, 0.5)
		So(err, ShouldBeNil)
		agg := aggregate.Aggregate(items, est)
		res, err := similarity.NewEngine().Compute(context.Background(), similarity.BuildMatrix(agg.Baseline, agg.Observed))
		So(err, ShouldBeNil)

		store := &fakeStore{models: map[model.TankID]model.VehicleModel{}}
		for tank, base := range agg.Baseline {
			store.models[tank] = model.VehicleModel{TankID: tank, VictoryRatio: base, Similar: res.Similar[tank]}
		}

		Convey("When an account with only T1 history asks for T2", func() {
			got := recommend.New(store, est).Recommend(context.Background(),
				[]recommend.Known{{TankID: 1, Sample: model.Sample{NBattles: 2, NWins: 1}}},
				[]model.TankID{2},
			)

			Convey("Then a single prediction within [0,1] should be returned", func() {
				So(got, ShouldHaveLength, 1)
				So(got[0].TankID, ShouldEqual, model.TankID(2))
				So(got[0].P, ShouldBeBetweenOrEqual, 0, 1)
			})
		})
	})
}
