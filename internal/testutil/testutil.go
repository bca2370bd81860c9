// Package testutil sets up throwaway databases and fixtures for tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"opinion-poll/internal/core/database"
	"opinion-poll/internal/domain"
	"opinion-poll/internal/repo"
	"opinion-poll/pkg/utils"
)

// NewDB opens a private in-memory SQLite database with the schema
// migrated. One connection keeps every statement on the same database
// and serializes transactions the way row locks would.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", utils.ShortID(16))
	db, err := database.NewGorm(database.Opts{
		Driver:       "sqlite",
		DSN:          dsn,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// NewFileDB opens an SQLite file in WAL mode behind a pool of several
// connections, so concurrent transactions really overlap. Writers take
// the lock at BEGIN and wait on the busy timeout.
func NewFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "poll.db") +
		"?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate&_foreign_keys=on"
	db, err := database.NewGorm(database.Opts{
		Driver:       "sqlite",
		DSN:          dsn,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func NewStore(db *gorm.DB) *repo.Store {
	return repo.NewStore(db, zap.NewNop(), repo.StoreOpts{
		TxTimeout:  5 * time.Second,
		MaxRetries: 5,
		Backoff:    time.Millisecond,
	})
}

func CreateUser(t *testing.T, db *gorm.DB, username string) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, Kind: domain.UserRegistered, Role: domain.RoleUser}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreatePoll stores an active poll owned by creatorID.
func CreatePoll(t *testing.T, db *gorm.DB, creatorID uint64, title string, options ...string) *domain.Poll {
	t.Helper()
	p := &domain.Poll{Title: title, CreatorID: creatorID}
	for _, o := range options {
		p.Options = append(p.Options, domain.PollOption{OptionText: o})
	}
	require.NoError(t, repo.NewPollRepo(db).Create(context.Background(), p))
	return p
}

func LoadPoll(t *testing.T, db *gorm.DB, id uint64) *domain.Poll {
	t.Helper()
	p, err := repo.NewPollRepo(db).Find(context.Background(), id)
	require.NoError(t, err)
	return p
}

// OptionVotes maps option text to its vote_count.
func OptionVotes(p *domain.Poll) map[string]int64 {
	out := make(map[string]int64, len(p.Options))
	for _, o := range p.Options {
		out[o.OptionText] = o.VoteCount
	}
	return out
}

// AssertNoDrift fails if any denormalized counter disagrees with the
// relation tables.
func AssertNoDrift(t *testing.T, db *gorm.DB, pollID uint64) {
	t.Helper()
	c, err := repo.NewPollRepo(db).Audit(context.Background(), pollID)
	require.NoError(t, err)
	require.False(t, c.Drift, "counter drift: %+v", c)
}
