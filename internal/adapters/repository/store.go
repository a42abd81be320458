// Package repository provides the SQLite train-item source and vehicle
// model store, and the Badger latent factor store.
package repository

import (
	"context"

	"github.com/okian/blitzrec/internal/domain/factors"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/window"
)

// TrainItemStore is the append-only train item source.
type TrainItemStore interface {
	// AppendTrainItems inserts items; IDs are assigned by the store.
	AppendTrainItems(ctx context.Context, items []model.TrainItem) error
	// PullTrainItems returns up to q.Limit items with ID > q.After, ordered by ID.
	PullTrainItems(ctx context.Context, q window.Query) ([]model.TrainItem, error)
	// CountTrainItems returns the number of stored items.
	CountTrainItems(ctx context.Context) (int, error)
}

// VehicleModelStore holds one document per vehicle.
type VehicleModelStore interface {
	// UpsertVehicleModels replaces each model wholesale in one transaction.
	UpsertVehicleModels(ctx context.Context, models []model.VehicleModel) error
	// GetVehicleModels returns the models found; missing ids are absent.
	GetVehicleModels(ctx context.Context, ids []model.TankID) (map[model.TankID]model.VehicleModel, error)
	// GetVehicleModel returns ErrNotFound when the vehicle has no model.
	GetVehicleModel(ctx context.Context, id model.TankID) (model.VehicleModel, error)
	// CountVehicleModels returns the number of stored models.
	CountVehicleModels(ctx context.Context) (int, error)
}

var (
	_ TrainItemStore    = (*SQLiteStore)(nil)
	_ VehicleModelStore = (*SQLiteStore)(nil)
	_ window.Source     = (*SQLiteStore)(nil)
	_ factors.Store     = (*FactorStore)(nil)
)
