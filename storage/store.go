// Package storage persists versioned entity records. Tables mirror the
// record models; the primary key of each table is (natural key, is_current,
// tx_hash) so history accumulates per key, with an index supporting O(1)
// current-row lookup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"melodex/core/pool"
	"melodex/core/records"
	"melodex/core/types"
)

// Store is the gorm-backed durable side of the engine.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to postgres and prepares the schema.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewWithDB(ctx, db, logger)
}

// NewWithDB wraps an existing gorm connection (tests use an in-memory
// sqlite DB) and runs migrations.
func NewWithDB(ctx context.Context, db *gorm.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&records.User{},
		&records.Track{},
		&records.Playlist{},
		&records.Follow{},
		&records.Save{},
		&records.Repost{},
		&records.Subscription{},
		&records.DeveloperApp{},
		&records.Delegation{},
		&records.ContestEvent{},
		&records.EncryptedEmail{},
		&JobLock{},
	)
}

// DB exposes the underlying connection for query-layer consumers.
func (s *Store) DB() *gorm.DB { return s.db }

// FetchCurrent returns the current row for every probe whose natural key
// exists, batched per kind.
func (s *Store) FetchCurrent(ctx context.Context, probes []records.Record) ([]records.Record, error) {
	groups := make(map[types.EntityKind][]records.Record)
	for _, p := range probes {
		groups[p.Kind()] = append(groups[p.Kind()], p)
	}

	var out []records.Record
	for kind, group := range groups {
		var (
			batch []records.Record
			err   error
		)
		switch kind {
		case types.KindUser:
			batch, err = fetchBatch[records.User](ctx, s.db, group)
		case types.KindTrack:
			batch, err = fetchBatch[records.Track](ctx, s.db, group)
		case types.KindPlaylist:
			batch, err = fetchBatch[records.Playlist](ctx, s.db, group)
		case types.KindFollow:
			batch, err = fetchBatch[records.Follow](ctx, s.db, group)
		case types.KindSave:
			batch, err = fetchBatch[records.Save](ctx, s.db, group)
		case types.KindRepost:
			batch, err = fetchBatch[records.Repost](ctx, s.db, group)
		case types.KindSubscription:
			batch, err = fetchBatch[records.Subscription](ctx, s.db, group)
		case types.KindDeveloperApp:
			batch, err = fetchBatch[records.DeveloperApp](ctx, s.db, group)
		case types.KindDelegation:
			batch, err = fetchBatch[records.Delegation](ctx, s.db, group)
		case types.KindContest:
			batch, err = fetchBatch[records.ContestEvent](ctx, s.db, group)
		case types.KindEmail:
			batch, err = fetchBatch[records.EncryptedEmail](ctx, s.db, group)
		default:
			err = fmt.Errorf("fetch current: unhandled kind %q", kind)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func fetchBatch[T any](ctx context.Context, db *gorm.DB, probes []records.Record) ([]records.Record, error) {
	cond := db.Where(probes[0].KeyConds())
	for _, p := range probes[1:] {
		cond = cond.Or(p.KeyConds())
	}
	var rows []*T
	err := db.WithContext(ctx).
		Where("is_current = ?", true).
		Where(cond).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch current batch: %w", err)
	}
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, any(row).(records.Record))
	}
	return out, nil
}

// UserByWallet returns the current user owning a wallet, if any.
func (s *Store) UserByWallet(ctx context.Context, wallet string) (*records.User, bool, error) {
	var user records.User
	err := s.db.WithContext(ctx).
		Where("wallet = ? AND is_current = ?", types.NormalizeAddress(wallet), true).
		Order("user_id").
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("user by wallet: %w", err)
	}
	return &user, true, nil
}

// AppByAddress returns the current developer app at an address, if any.
func (s *Store) AppByAddress(ctx context.Context, address string) (*records.DeveloperApp, bool, error) {
	var app records.DeveloperApp
	err := s.db.WithContext(ctx).
		Where("address = ? AND is_current = ?", types.NormalizeAddress(address), true).
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("app by address: %w", err)
	}
	return &app, true, nil
}

// DelegationsBySharedAddress returns the current delegation rows targeting a
// shared address, across all delegating users.
func (s *Store) DelegationsBySharedAddress(ctx context.Context, address string) ([]*records.Delegation, error) {
	var rows []*records.Delegation
	err := s.db.WithContext(ctx).
		Where("shared_address = ? AND is_current = ?", types.NormalizeAddress(address), true).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("delegations by shared address: %w", err)
	}
	return rows, nil
}

// AppsByOwner returns the current, non-deleted apps owned by the given
// users.
func (s *Store) AppsByOwner(ctx context.Context, ownerIDs []uint64) ([]*records.DeveloperApp, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}
	var apps []*records.DeveloperApp
	err := s.db.WithContext(ctx).
		Where("owner_user_id IN ? AND is_current = ? AND is_delete = ?", ownerIDs, true, false).
		Find(&apps).Error
	if err != nil {
		return nil, fmt.Errorf("apps by owner: %w", err)
	}
	return apps, nil
}

// CommitBlock persists a pool snapshot transactionally. The prior current
// row of each key is demoted, every pending version is inserted with only
// the final one current, and re-processing the same block is a no-op: rows
// from the block being committed are never demoted and conflicting inserts
// are skipped. Keys whose current row already comes from a newer block are
// left untouched, so replaying a stale block can never yield a second
// current row.
func (s *Store) CommitBlock(ctx context.Context, ref types.BlockRef, entries []pool.PendingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			last := entry.Versions[len(entry.Versions)-1]
			var newer int64
			err := tx.Model(emptyOf(last)).
				Where(last.KeyConds()).
				Where("is_current = ? AND block_number > ?", true, ref.Number).
				Count(&newer).Error
			if err != nil {
				return fmt.Errorf("check current %s %q: %w", entry.Key.Kind, entry.Key.Key, err)
			}
			if newer > 0 {
				s.logger.Warn("skipping stale write",
					"kind", entry.Key.Kind, "key", entry.Key.Key, "block", ref.Number)
				continue
			}
			demote := tx.Model(emptyOf(last)).
				Where(last.KeyConds()).
				Where("is_current = ? AND block_number < ?", true, ref.Number).
				Update("is_current", false)
			if demote.Error != nil {
				return fmt.Errorf("demote %s %q: %w", entry.Key.Kind, entry.Key.Key, demote.Error)
			}
			for i, version := range entry.Versions {
				version.Base().IsCurrent = i == len(entry.Versions)-1
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(version)
				if res.Error != nil {
					return fmt.Errorf("insert %s %q: %w", entry.Key.Kind, entry.Key.Key, res.Error)
				}
			}
		}
		return nil
	})
}

// InsertCurrent writes records directly as current rows, bypassing the
// pool. Used to seed referential fixtures (users, tracks) whose write path
// lives outside this engine.
func (s *Store) InsertCurrent(ctx context.Context, recs ...records.Record) error {
	for _, rec := range recs {
		rec.Base().IsCurrent = true
		if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
			return fmt.Errorf("insert %s %q: %w", rec.Kind(), rec.Key(), err)
		}
	}
	return nil
}

// CurrentVersion loads the current row for a probe's natural key.
func (s *Store) CurrentVersion(ctx context.Context, probe records.Record) (records.Record, bool, error) {
	recs, err := s.FetchCurrent(ctx, []records.Record{probe})
	if err != nil {
		return nil, false, err
	}
	if len(recs) == 0 {
		return nil, false, nil
	}
	return recs[0], true, nil
}

func emptyOf(rec records.Record) any {
	switch rec.(type) {
	case *records.User:
		return &records.User{}
	case *records.Track:
		return &records.Track{}
	case *records.Playlist:
		return &records.Playlist{}
	case *records.Follow:
		return &records.Follow{}
	case *records.Save:
		return &records.Save{}
	case *records.Repost:
		return &records.Repost{}
	case *records.Subscription:
		return &records.Subscription{}
	case *records.DeveloperApp:
		return &records.DeveloperApp{}
	case *records.Delegation:
		return &records.Delegation{}
	case *records.ContestEvent:
		return &records.ContestEvent{}
	case *records.EncryptedEmail:
		return &records.EncryptedEmail{}
	default:
		return rec
	}
}
