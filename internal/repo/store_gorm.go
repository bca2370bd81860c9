package repo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"opinion-poll/internal/core/metrics"
	"opinion-poll/internal/domain"
)

type StoreOpts struct {
	TxTimeout  time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Store implements domain.Store on gorm. Each attempt gets its own
// deadline and is detached from the caller's cancellation: once a
// mutation is submitted it commits or aborts on its own.
type Store struct {
	db   *gorm.DB
	log  *zap.Logger
	opts StoreOpts
}

func NewStore(db *gorm.DB, l *zap.Logger, o StoreOpts) *Store {
	if o.TxTimeout <= 0 {
		o.TxTimeout = 3 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = 20 * time.Millisecond
	}
	return &Store{db: db, log: l, opts: o}
}

func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.TxRetries.Inc()
			time.Sleep(s.backoff(attempt))
		}
		err = s.attempt(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		s.log.Debug("tx contention", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	metrics.TxExhausted.Inc()
	s.log.Warn("tx retries exhausted", zap.Int("retries", s.opts.MaxRetries), zap.Error(err))
	return fmt.Errorf("%w: %v", domain.ErrContention, err)
}

func (s *Store) attempt(ctx context.Context, fn func(tx domain.Tx) error) error {
	actx, cancel := context.WithTimeout(ctx, s.opts.TxTimeout)
	defer cancel()
	return s.db.WithContext(actx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

// backoff grows linearly with full jitter.
func (s *Store) backoff(attempt int) time.Duration {
	d := s.opts.Backoff * time.Duration(attempt)
	return d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
}

type gormTx struct{ db *gorm.DB }

var forUpdate = clause.Locking{Strength: "UPDATE"}

func (t *gormTx) LockPoll(id uint64) (*domain.Poll, error) {
	var p domain.Poll
	err := t.db.Clauses(forUpdate).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *gormTx) FindOption(pollID, optionID uint64) (*domain.PollOption, error) {
	var o domain.PollOption
	err := t.db.Where("id = ? AND poll_id = ?", optionID, pollID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *gormTx) LockVote(userID, pollID uint64) (*domain.Vote, error) {
	var v domain.Vote
	err := t.db.Clauses(forUpdate).
		Where("user_id = ? AND poll_id = ?", userID, pollID).
		Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *gormTx) InsertVote(v *domain.Vote) error {
	err := t.db.Create(v).Error
	if isDupKey(err) {
		// a concurrent first vote by the same identity won; rerun the
		// transaction so it takes the revote branch
		return errRetry
	}
	return err
}

func (t *gormTx) MoveVote(voteID, from, to uint64) error {
	res := t.db.Model(&domain.Vote{}).
		Where("id = ? AND option_id = ?", voteID, from).
		Update("option_id", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return errRetry
	}
	return nil
}

func (t *gormTx) AddOptionVotes(optionID uint64, delta int64) (int64, error) {
	err := t.db.Model(&domain.PollOption{}).
		Where("id = ?", optionID).
		UpdateColumn("vote_count", gorm.Expr("vote_count + ?", delta)).Error
	if err != nil {
		return 0, err
	}
	var o domain.PollOption
	if err := t.db.Select("id", "vote_count").First(&o, "id = ?", optionID).Error; err != nil {
		return 0, err
	}
	return o.VoteCount, nil
}

func (t *gormTx) BumpPoll(pollID uint64, votesDelta, likesDelta int64) (*domain.Poll, error) {
	err := t.db.Model(&domain.Poll{}).
		Where("id = ?", pollID).
		UpdateColumns(map[string]any{
			"total_votes": gorm.Expr("total_votes + ?", votesDelta),
			"total_likes": gorm.Expr("total_likes + ?", likesDelta),
			"version":     gorm.Expr("version + 1"),
			"updated_at":  time.Now(),
		}).Error
	if err != nil {
		return nil, err
	}
	var p domain.Poll
	if err := t.db.First(&p, "id = ?", pollID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *gormTx) HasLike(userID, pollID uint64) (bool, error) {
	var n int64
	err := t.db.Model(&domain.Like{}).
		Where("user_id = ? AND poll_id = ?", userID, pollID).
		Count(&n).Error
	return n > 0, err
}

func (t *gormTx) InsertLike(userID, pollID uint64) error {
	err := t.db.Create(&domain.Like{UserID: userID, PollID: pollID}).Error
	if isDupKey(err) {
		return domain.ErrAlreadyLiked
	}
	return err
}

func (t *gormTx) DeleteLike(userID, pollID uint64) error {
	res := t.db.Where("user_id = ? AND poll_id = ?", userID, pollID).Delete(&domain.Like{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotLiked
	}
	return nil
}
