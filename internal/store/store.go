package store

import (
	"context"
	"sort"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"riskguard/internal/state"
	"riskguard/pkg/conn"
)

// Store persists ledger snapshots in PostgreSQL.
type Store struct {
	db     *gorm.DB
	retain int
}

// Open connects to dsn and migrates the snapshot tables.
func Open(ctx context.Context, dsn string) (*Store, *conn.Client, error) {
	client, err := conn.New(conn.Option{ConnString: dsn})
	if err != nil {
		return nil, nil, errors.Wrap(err, "open postgres")
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "ping postgres")
	}
	s := New(client.DB())
	if err := s.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return s, client, nil
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SetRetention makes SaveSnapshot prune all but the newest keep snapshots.
// Zero disables pruning.
func (s *Store) SetRetention(keep int) {
	s.retain = keep
}

// Migrate creates or updates the snapshot tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&SnapshotRecord{}, &PositionRecord{}); err != nil {
		return errors.Wrap(err, "migrate snapshot tables")
	}
	return nil
}

// SaveSnapshot inserts the snapshot and its positions in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot state.Snapshot) error {
	rec := toRecord(snapshot)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		return errors.Wrap(err, "save snapshot").With("instance", snapshot.InstanceID)
	}
	if s.retain > 0 {
		if _, err := s.Prune(ctx, s.retain); err != nil {
			return err
		}
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot of any instance. ok is
// false when nothing has been saved yet.
func (s *Store) LatestSnapshot(ctx context.Context) (state.Snapshot, bool, error) {
	var recs []SnapshotRecord
	err := s.db.WithContext(ctx).
		Preload("Positions").
		Order("taken_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return state.Snapshot{}, false, errors.Wrap(err, "load latest snapshot")
	}
	if len(recs) == 0 {
		return state.Snapshot{}, false, nil
	}
	rec := recs[0]
	snapshot := fromRecord(rec)
	sort.Slice(snapshot.Positions, func(i, j int) bool {
		return snapshot.Positions[i].Symbol < snapshot.Positions[j].Symbol
	})
	return snapshot, true, nil
}

// Prune keeps the newest keep snapshots and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var cutoff []SnapshotRecord
	err := s.db.WithContext(ctx).Order("taken_at DESC").Order("id DESC").Offset(keep - 1).Limit(1).Find(&cutoff).Error
	if err != nil {
		return 0, errors.Wrap(err, "find prune cutoff")
	}
	if len(cutoff) == 0 {
		return 0, nil
	}
	takenAt := cutoff[0].TakenAt

	var deleted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&SnapshotRecord{}).Select("id").Where("taken_at < ?", takenAt)
		if err := tx.Where("snapshot_id IN (?)", old).Delete(&PositionRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("taken_at < ?", takenAt).Delete(&SnapshotRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, errors.Wrap(err, "prune snapshots")
	}
	return deleted, nil
}
