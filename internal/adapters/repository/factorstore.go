package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/blitzrec/internal/domain/factors"
	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/pkg/logger"
	"github.com/okian/blitzrec/pkg/metrics"
)

// Key prefixes for latent vectors.
const (
	accountKeyPrefix = "account:"
	vehicleKeyPrefix = "vehicle:"
)

// FactorStore implements factors.Store on BadgerDB. Account vectors expire
// after the configured TTL; vehicle vectors never do.
type FactorStore struct {
	db     *badger.DB
	ttl    time.Duration
	logger logger.Logger
}

// OpenFactorStore opens the Badger directory at path. An empty path opens an
// in-memory instance.
func OpenFactorStore(path string, ttl time.Duration) (*FactorStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open factor store: %w", err)
	}
	return &FactorStore{db: db, ttl: ttl, logger: logger.Named("factorstore")}, nil
}

// Close closes the underlying database.
func (s *FactorStore) Close() error {
	return s.db.Close()
}

func accountKey(id model.AccountID) []byte {
	return []byte(accountKeyPrefix + strconv.FormatUint(uint64(id), 10))
}

func vehicleKey(id model.TankID) []byte {
	return []byte(vehicleKeyPrefix + strconv.FormatUint(uint64(id), 10))
}

// LoadAccount returns the persisted vector of an account.
func (s *FactorStore) LoadAccount(_ context.Context, id model.AccountID) ([]float64, error) {
	var vec []float64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return factors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get account %d: %w", id, err)
		}
		return item.Value(func(val []byte) error {
			v, err := decodeVector(val)
			if err != nil {
				return fmt.Errorf("account %d: %w", id, err)
			}
			vec = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// LoadVehicles returns every persisted vehicle vector, or factors.ErrNotFound
// when none were ever written. Undecodable entries are logged, skipped and
// deleted so the remaining vectors stay loadable.
func (s *FactorStore) LoadVehicles(ctx context.Context) (map[model.TankID][]float64, error) {
	out := make(map[model.TankID][]float64)
	var corrupt [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(vehicleKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id, err := strconv.ParseUint(string(item.Key()[len(prefix):]), 10, 32)
			if err != nil {
				s.logger.Warn(ctx, "skipping vehicle vector with bad key", logger.String("key", string(item.Key())))
				corrupt = append(corrupt, item.KeyCopy(nil))
				continue
			}
			err = item.Value(func(val []byte) error {
				v, err := decodeVector(val)
				if err != nil {
					return err
				}
				out[model.TankID(id)] = v
				return nil
			})
			if errors.Is(err, factors.ErrCorrupt) {
				s.logger.Warn(ctx, "skipping undecodable vehicle vector", logger.Uint32("tank_id", uint32(id)), logger.Error(err))
				corrupt = append(corrupt, item.KeyCopy(nil))
				continue
			}
			if err != nil {
				return fmt.Errorf("vehicle %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(corrupt) > 0 {
		if err := s.deleteKeys(corrupt); err != nil {
			s.logger.Warn(ctx, "failed to delete corrupt vehicle vectors", logger.Int("keys", len(corrupt)), logger.Error(err))
		}
		metrics.RecordFactorReinit("corrupt")
	}
	if len(out) == 0 {
		return nil, factors.ErrNotFound
	}
	return out, nil
}

func (s *FactorStore) deleteKeys(keys [][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete %q: %w", k, err)
		}
	}
	return wb.Flush()
}

// SaveAccounts writes every vector with the account TTL in one batch.
func (s *FactorStore) SaveAccounts(_ context.Context, vecs map[model.AccountID][]float64) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for id, v := range vecs {
		e := badger.NewEntry(accountKey(id), encodeVector(v))
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		if err := wb.SetEntry(e); err != nil {
			return fmt.Errorf("set account %d: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush accounts: %w", err)
	}
	return nil
}

// SaveVehicles writes every vehicle vector in one batch.
func (s *FactorStore) SaveVehicles(_ context.Context, vecs map[model.TankID][]float64) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for id, v := range vecs {
		if err := wb.Set(vehicleKey(id), encodeVector(v)); err != nil {
			return fmt.Errorf("set vehicle %d: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush vehicles: %w", err)
	}
	return nil
}

// encodeVector lays v out as little-endian float64 words.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float64, error) {
	if len(buf) == 0 || len(buf)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", factors.ErrCorrupt, len(buf))
	}
	v := make([]float64, len(buf)/8)
	for i := range v {
		f := math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite component %d", factors.ErrCorrupt, i)
		}
		v[i] = f
	}
	return v, nil
}
