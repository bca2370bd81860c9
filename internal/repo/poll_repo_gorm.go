package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"opinion-poll/internal/domain"
)

type PollRepo struct{ db *gorm.DB }

func NewPollRepo(db *gorm.DB) *PollRepo { return &PollRepo{db: db} }

// Create inserts the poll and its options in one transaction.
func (r *PollRepo) Create(ctx context.Context, p *domain.Poll) error {
	p.IsActive = true
	p.Version = 1
	p.TotalVotes, p.TotalLikes = 0, 0
	for i := range p.Options {
		p.Options[i].Position = i
		p.Options[i].VoteCount = 0
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit("Creator").Create(p).Error
	})
}

func (r *PollRepo) ListActive(ctx context.Context, skip, limit int) ([]domain.PollSummary, error) {
	out := make([]domain.PollSummary, 0, limit)
	err := r.db.WithContext(ctx).
		Table("polls AS p").
		Select("p.id, p.title, p.description, p.created_at, p.total_votes, p.total_likes, " +
			"COALESCE(u.username, 'anonymous') AS creator_username").
		Joins("LEFT JOIN users u ON u.id = p.creator_id").
		Where("p.is_active = ?", true).
		Order("p.created_at DESC, p.id DESC").
		Offset(skip).Limit(limit).
		Scan(&out).Error
	return out, err
}

func (r *PollRepo) FindActive(ctx context.Context, id uint64) (*domain.Poll, error) {
	p, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, domain.ErrPollInactive
	}
	return p, nil
}

func (r *PollRepo) Find(ctx context.Context, id uint64) (*domain.Poll, error) {
	var p domain.Poll
	err := r.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Preload("Creator").
		First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PollRepo) Update(ctx context.Context, id uint64, patch domain.PollPatch) (*domain.Poll, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p domain.Poll
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrPollNotFound
			}
			return err
		}
		cols := map[string]any{}
		if patch.Title != nil {
			cols["title"] = *patch.Title
		}
		if patch.Description != nil {
			cols["description"] = *patch.Description
		}
		if patch.IsActive != nil {
			cols["is_active"] = *patch.IsActive
		}
		if len(cols) == 0 {
			return nil
		}
		cols["updated_at"] = time.Now()
		return tx.Model(&domain.Poll{}).Where("id = ?", id).UpdateColumns(cols).Error
	})
	if err != nil {
		return nil, err
	}
	return r.Find(ctx, id)
}

type optionTally struct {
	OptionID uint64
	N        int64
}

// Audit recomputes the denormalized counters from the relation tables.
func (r *PollRepo) Audit(ctx context.Context, id uint64) (*domain.Counters, error) {
	var c *domain.Counters
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		c, err = audit(tx, id, false)
		return err
	})
	return c, err
}

// Reconcile rewrites the counters from the relation tables under the
// poll row lock and returns the report as it stood before the rewrite.
func (r *PollRepo) Reconcile(ctx context.Context, id uint64) (*domain.Counters, error) {
	var c *domain.Counters
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		c, err = audit(tx, id, true)
		if err != nil || !c.Drift {
			return err
		}
		for optID, n := range c.ExpectedByOpt {
			if err := tx.Model(&domain.PollOption{}).Where("id = ?", optID).
				UpdateColumn("vote_count", n).Error; err != nil {
				return err
			}
		}
		return tx.Model(&domain.Poll{}).Where("id = ?", id).UpdateColumns(map[string]any{
			"total_votes": c.ExpectedVotes,
			"total_likes": c.ExpectedLikes,
			"version":     gorm.Expr("version + 1"),
			"updated_at":  time.Now(),
		}).Error
	})
	return c, err
}

func audit(tx *gorm.DB, id uint64, lock bool) (*domain.Counters, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p domain.Poll
	if err := q.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPollNotFound
		}
		return nil, err
	}
	var opts []domain.PollOption
	if err := tx.Where("poll_id = ?", id).Find(&opts).Error; err != nil {
		return nil, err
	}
	var tallies []optionTally
	if err := tx.Model(&domain.Vote{}).
		Select("option_id, COUNT(*) AS n").
		Where("poll_id = ?", id).
		Group("option_id").
		Scan(&tallies).Error; err != nil {
		return nil, err
	}
	c := &domain.Counters{
		PollID:        id,
		TotalVotes:    p.TotalVotes,
		TotalLikes:    p.TotalLikes,
		OptionVotes:   make(map[uint64]int64, len(opts)),
		ExpectedByOpt: make(map[uint64]int64, len(opts)),
	}
	for _, o := range opts {
		c.OptionVotes[o.ID] = o.VoteCount
		c.ExpectedByOpt[o.ID] = 0
	}
	for _, t := range tallies {
		c.ExpectedByOpt[t.OptionID] = t.N
	}
	if err := tx.Model(&domain.Vote{}).Where("poll_id = ?", id).
		Distinct("user_id").Count(&c.ExpectedVotes).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&domain.Like{}).Where("poll_id = ?", id).Count(&c.ExpectedLikes).Error; err != nil {
		return nil, err
	}
	c.Drift = c.ExpectedVotes != c.TotalVotes || c.ExpectedLikes != c.TotalLikes
	for optID, n := range c.ExpectedByOpt {
		if c.OptionVotes[optID] != n {
			c.Drift = true
		}
	}
	return c, nil
}
