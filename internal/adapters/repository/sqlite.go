package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/internal/domain/window"
	"github.com/okian/blitzrec/pkg/logger"
	"github.com/okian/blitzrec/pkg/metrics"
)

const (
	memoryPath       = ":memory:"
	busyTimeoutMS    = 5000
	lookupChunkSize  = 500
	defaultOpenConns = 8
)

// SQLiteStore implements TrainItemStore and VehicleModelStore.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == memoryPath {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(defaultOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, logger: logger.Named("sqlite")}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()
	return fn(tx)
}

// AppendTrainItems inserts items in one transaction.
func (s *SQLiteStore) AppendTrainItems(ctx context.Context, items []model.TrainItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO train_items
			(realm, account_id, tank_id, last_battle_time, n_battles, n_wins)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, it := range items {
			if _, err := stmt.ExecContext(ctx, it.Realm, int64(it.AccountID), int64(it.TankID),
				it.LastBattleTime.Unix(), int64(it.NBattles), int64(it.NWins)); err != nil {
				return fmt.Errorf("failed to insert train item: %w", err)
			}
		}
		return nil
	})
}

// PullTrainItems implements window.Source.
func (s *SQLiteStore) PullTrainItems(ctx context.Context, q window.Query) ([]model.TrainItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, realm, account_id, tank_id, last_battle_time, n_battles, n_wins
		FROM train_items
		WHERE id > ? AND last_battle_time >= ? AND (? = '' OR realm = ?)
		ORDER BY id
		LIMIT ?`,
		q.After, q.Since.Unix(), q.Realm, q.Realm, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query train items: %w", err)
	}
	defer rows.Close()

	items := make([]model.TrainItem, 0, q.Limit)
	for rows.Next() {
		var (
			it  model.TrainItem
			lbt int64
		)
		if err := rows.Scan(&it.ID, &it.Realm, &it.AccountID, &it.TankID, &lbt, &it.NBattles, &it.NWins); err != nil {
			return nil, fmt.Errorf("failed to scan train item: %w", err)
		}
		it.LastBattleTime = time.Unix(lbt, 0).UTC()
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate train items: %w", err)
	}
	return items, nil
}

// CountTrainItems returns the number of stored train items.
func (s *SQLiteStore) CountTrainItems(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM train_items")
}

// CountVehicleModels returns the number of stored vehicle models.
func (s *SQLiteStore) CountVehicleModels(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM vehicle_models")
}

func (s *SQLiteStore) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// UpsertVehicleModels replaces every model in one transaction. Entries with
// non-positive similarity or pointing at the vehicle itself are not stored.
func (s *SQLiteStore) UpsertVehicleModels(ctx context.Context, models []model.VehicleModel) error {
	if len(models) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO vehicle_models (tank_id, victory_ratio, similar, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(tank_id) DO UPDATE SET
				victory_ratio = excluded.victory_ratio,
				similar = excluded.similar,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range models {
			doc, err := json.Marshal(positive(m))
			if err != nil {
				return fmt.Errorf("failed to encode vehicle %d: %w", m.TankID, err)
			}
			if _, err := stmt.ExecContext(ctx, int64(m.TankID), m.VictoryRatio, string(doc), m.UpdatedAt.Unix()); err != nil {
				return fmt.Errorf("failed to upsert vehicle %d: %w", m.TankID, err)
			}
		}
		return nil
	})
	if err == nil {
		metrics.RecordModelsPersisted(len(models))
	}
	return err
}

func positive(m model.VehicleModel) []model.Similar {
	out := make([]model.Similar, 0, len(m.Similar))
	for _, s := range m.Similar {
		if s.Similarity > 0 && s.TankID != m.TankID {
			out = append(out, s)
		}
	}
	return out
}

// GetVehicleModels loads the models for ids. Rows whose document cannot be
// decoded are logged and skipped.
func (s *SQLiteStore) GetVehicleModels(ctx context.Context, ids []model.TankID) (map[model.TankID]model.VehicleModel, error) {
	out := make(map[model.TankID]model.VehicleModel, len(ids))
	for start := 0; start < len(ids); start += lookupChunkSize {
		chunk := ids[start:min(start+lookupChunkSize, len(ids))]
		if err := s.loadChunk(ctx, chunk, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) loadChunk(ctx context.Context, ids []model.TankID, out map[model.TankID]model.VehicleModel) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	query := `SELECT tank_id, victory_ratio, similar, updated_at FROM vehicle_models WHERE tank_id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query vehicle models: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			if errors.Is(err, ErrInvalidRow) {
				s.logger.Warn(ctx, "skipping undecodable vehicle model", logger.Error(err))
				metrics.RecordErrorByComponent("sqlite", "decode")
				continue
			}
			return err
		}
		out[m.TankID] = m
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate vehicle models: %w", err)
	}
	return nil
}

// GetVehicleModel loads one model or returns ErrNotFound.
func (s *SQLiteStore) GetVehicleModel(ctx context.Context, id model.TankID) (model.VehicleModel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tank_id, victory_ratio, similar, updated_at FROM vehicle_models WHERE tank_id = ?`, int64(id))
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VehicleModel{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return m, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModel(r scanner) (model.VehicleModel, error) {
	var (
		m         model.VehicleModel
		doc       string
		updatedAt int64
	)
	if err := r.Scan(&m.TankID, &m.VictoryRatio, &doc, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, err
		}
		return m, fmt.Errorf("failed to scan vehicle model: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &m.Similar); err != nil {
		return m, fmt.Errorf("%w: vehicle %d: %w", ErrInvalidRow, m.TankID, err)
	}
	m.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return m, nil
}
