package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobLock is the mutual-exclusion row for scheduled maintenance jobs that
// share this storage. A lock is TTL-bounded so a crashed worker cannot
// wedge a job forever.
type JobLock struct {
	Name      string    `gorm:"column:name;primaryKey;size:64"`
	Owner     string    `gorm:"column:owner;size:36"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (JobLock) TableName() string { return "job_locks" }

// Locks hands out non-blocking, TTL-bounded job locks keyed by job name.
type Locks struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Locks returns the job-lock facade over the store's connection.
func (s *Store) Locks() *Locks {
	return &Locks{db: s.db, logger: s.logger, now: time.Now}
}

// SetNowFunc overrides the clock for expiry tests.
func (l *Locks) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.now = now
}

// TryAcquire attempts to take the named lock without blocking. It returns
// the owner token on success; callers skip the run entirely when the lock
// is already held.
func (l *Locks) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	owner := uuid.NewString()
	now := l.now()
	lock := JobLock{
		Name:      name,
		Owner:     owner,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}

	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return "", false, fmt.Errorf("acquire lock %q: %w", name, res.Error)
	}
	if res.RowsAffected == 1 {
		return owner, true, nil
	}

	// The lock row exists; take it over only if the holder's TTL lapsed.
	var held JobLock
	if err := l.db.WithContext(ctx).Where("name = ?", name).First(&held).Error; err != nil {
		return "", false, fmt.Errorf("inspect lock %q: %w", name, err)
	}
	takeover := l.db.WithContext(ctx).Model(&JobLock{}).
		Where("name = ? AND expires_at <= ?", name, now).
		Updates(map[string]any{
			"owner":      owner,
			"expires_at": now.Add(ttl),
			"updated_at": now,
		})
	if takeover.Error != nil {
		return "", false, fmt.Errorf("take over lock %q: %w", name, takeover.Error)
	}
	if takeover.RowsAffected == 1 {
		l.logger.Warn("took over expired job lock",
			slog.String("job", name),
			slog.String("previous_owner", held.Owner))
		return owner, true, nil
	}
	return "", false, nil
}

// Release frees the lock if the caller still owns it. Releasing a lock lost
// to takeover is not an error.
func (l *Locks) Release(ctx context.Context, name, owner string) error {
	err := l.db.WithContext(ctx).
		Where("name = ? AND owner = ?", name, owner).
		Delete(&JobLock{}).Error
	if err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	return nil
}
