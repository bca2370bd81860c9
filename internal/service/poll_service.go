package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"opinion-poll/internal/core/cache"
	"opinion-poll/internal/core/metrics"
	"opinion-poll/internal/domain"
)

// Publisher receives events after their transaction committed.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

const (
	maxTextLen   = 200
	minOptions   = 2
	maxOptions   = 20
	DefaultLimit = 100
	MaxLimit     = 100

	invalidateTimeout = 500 * time.Millisecond
)

type CreatePollInput struct {
	Title       string
	Description *string
	Options     []string
}

type PollServiceDeps struct {
	Polls    domain.PollRepository
	Engine   *Engine
	Identity *IdentityResolver
	Hub      Publisher
	Cache    *cache.Cache // nil disables the read-through cache
	CacheTTL time.Duration
	Log      *zap.Logger
}

// PollService runs poll operations and publishes their committed effects.
type PollService struct {
	polls    domain.PollRepository
	engine   *Engine
	ids      *IdentityResolver
	hub      Publisher
	cache    *cache.Cache
	cacheTTL time.Duration
	log      *zap.Logger
}

func NewPollService(d PollServiceDeps) *PollService {
	if d.CacheTTL <= 0 {
		d.CacheTTL = 30 * time.Second
	}
	return &PollService{
		polls:    d.Polls,
		engine:   d.Engine,
		ids:      d.Identity,
		hub:      d.Hub,
		cache:    d.Cache,
		cacheTTL: d.CacheTTL,
		log:      d.Log,
	}
}

func (s *PollService) Create(ctx context.Context, id *Identity, in CreatePollInput) (*domain.Poll, error) {
	if err := s.ids.CanWrite(id); err != nil {
		return nil, err
	}
	p, err := newPoll(id.UserID, in)
	if err != nil {
		return nil, err
	}
	if err := s.polls.Create(ctx, p); err != nil {
		s.observe("create", err)
		return nil, domain.Internal("create poll", err)
	}
	s.observe("create", nil)

	p.Creator = &domain.User{ID: id.UserID, Username: id.Username, Kind: id.Kind, Role: id.Role}
	opts := make([]domain.OptionCount, 0, len(p.Options))
	for _, o := range p.Options {
		opts = append(opts, domain.OptionCount{ID: o.ID, OptionText: o.OptionText, VoteCount: 0})
	}
	s.hub.Publish(ctx, domain.Event{
		Type:    domain.EventPollCreated,
		PollID:  p.ID,
		Version: p.Version,
		Data: domain.CreatedData{
			PollID: p.ID,
			Poll: domain.CreatedPoll{
				ID:              p.ID,
				Title:           p.Title,
				Description:     p.Description,
				CreatorUsername: id.Username,
				Options:         opts,
			},
		},
	})
	s.log.Info("poll created", zap.Uint64("poll_id", p.ID), zap.Uint64("uid", id.UserID), zap.Int("options", len(p.Options)))
	return p, nil
}

func (s *PollService) List(ctx context.Context, skip, limit int) ([]domain.PollSummary, error) {
	if skip < 0 {
		return nil, domain.Validation("skip must not be negative")
	}
	if limit <= 0 || limit > MaxLimit {
		return nil, domain.Validation("limit must be between 1 and %d", MaxLimit)
	}
	out, err := s.polls.ListActive(ctx, skip, limit)
	if err != nil {
		return nil, domain.Internal("list polls", err)
	}
	return out, nil
}

// Get returns an active poll with options and creator.
func (s *PollService) Get(ctx context.Context, pollID uint64) (*domain.Poll, error) {
	load := func(ctx context.Context) (*domain.Poll, error) { return s.polls.FindActive(ctx, pollID) }
	var (
		p   *domain.Poll
		err error
	)
	if s.cache != nil {
		p, err = cache.GetOrLoadJSON(s.cache, ctx, pollKey(pollID), s.cacheTTL, load)
	} else {
		p, err = load(ctx)
	}
	if err != nil {
		return nil, wrapInternal("get poll", err)
	}
	if p == nil {
		return nil, domain.ErrPollNotFound
	}
	return p, nil
}

// Update edits poll metadata. Only the creator or an admin may do so;
// inactive polls stay editable so they can be reopened.
func (s *PollService) Update(ctx context.Context, id *Identity, pollID uint64, patch domain.PollPatch) (*domain.Poll, error) {
	if err := s.ids.CanWrite(id); err != nil {
		return nil, err
	}
	if err := checkPatch(&patch); err != nil {
		return nil, err
	}
	p, err := s.polls.Find(ctx, pollID)
	if err != nil {
		return nil, wrapInternal("load poll", err)
	}
	if p.CreatorID != id.UserID && id.Role != domain.RoleAdmin {
		return nil, domain.ErrNotCreator
	}
	p, err = s.polls.Update(ctx, pollID, patch)
	if err != nil {
		return nil, wrapInternal("update poll", err)
	}
	s.invalidate(ctx, pollID)
	return p, nil
}

// Deactivate soft-deletes a poll.
func (s *PollService) Deactivate(ctx context.Context, pollID uint64) error {
	off := false
	if _, err := s.polls.Update(ctx, pollID, domain.PollPatch{IsActive: &off}); err != nil {
		return wrapInternal("deactivate poll", err)
	}
	s.invalidate(ctx, pollID)
	s.log.Info("poll deactivated", zap.Uint64("poll_id", pollID))
	return nil
}

func (s *PollService) Vote(ctx context.Context, id *Identity, pollID, optionID uint64) (*VoteResult, error) {
	if err := s.ids.CanWrite(id); err != nil {
		return nil, err
	}
	res, err := s.engine.Cast(ctx, id.UserID, pollID, optionID)
	s.observe("vote", err)
	if err != nil {
		return nil, wrapInternal("cast vote", err)
	}
	if !res.Changed {
		return res, nil
	}
	s.hub.Publish(ctx, domain.Event{
		Type:    domain.EventPollVote,
		PollID:  pollID,
		Version: res.Version,
		Data: domain.VoteData{
			PollID:            pollID,
			OptionID:          res.OptionID,
			OptionText:        res.OptionText,
			VoteCount:         res.VoteCount,
			TotalVotes:        res.TotalVotes,
			PreviousOptionID:  res.PreviousOptionID,
			PreviousVoteCount: res.PreviousVoteCount,
		},
	})
	s.invalidate(ctx, pollID)
	return res, nil
}

func (s *PollService) Like(ctx context.Context, id *Identity, pollID uint64) (*LikeResult, error) {
	if err := s.ids.CanWrite(id); err != nil {
		return nil, err
	}
	res, err := s.engine.Like(ctx, id.UserID, pollID)
	return s.afterLike(ctx, "like", res, err)
}

func (s *PollService) Unlike(ctx context.Context, id *Identity, pollID uint64) (*LikeResult, error) {
	if err := s.ids.CanWrite(id); err != nil {
		return nil, err
	}
	res, err := s.engine.Unlike(ctx, id.UserID, pollID)
	return s.afterLike(ctx, "unlike", res, err)
}

func (s *PollService) afterLike(ctx context.Context, kind string, res *LikeResult, err error) (*LikeResult, error) {
	s.observe(kind, err)
	if err != nil {
		return nil, wrapInternal(kind, err)
	}
	s.hub.Publish(ctx, domain.Event{
		Type:    domain.EventPollLike,
		PollID:  res.PollID,
		Version: res.Version,
		Data:    domain.LikeData{PollID: res.PollID, TotalLikes: res.TotalLikes, Liked: res.Liked},
	})
	s.invalidate(ctx, res.PollID)
	return res, nil
}

func (s *PollService) Audit(ctx context.Context, pollID uint64) (*domain.Counters, error) {
	c, err := s.polls.Audit(ctx, pollID)
	if err != nil {
		return nil, wrapInternal("audit poll", err)
	}
	return c, nil
}

// Reconcile rewrites drifted counters. Subscribers are not notified; the
// next mutation carries the corrected totals.
func (s *PollService) Reconcile(ctx context.Context, pollID uint64) (*domain.Counters, error) {
	c, err := s.polls.Reconcile(ctx, pollID)
	if err != nil {
		return nil, wrapInternal("reconcile poll", err)
	}
	if c.Drift {
		s.invalidate(ctx, pollID)
		s.log.Warn("poll counters reconciled", zap.Uint64("poll_id", pollID),
			zap.Int64("total_votes", c.TotalVotes), zap.Int64("expected_votes", c.ExpectedVotes),
			zap.Int64("total_likes", c.TotalLikes), zap.Int64("expected_likes", c.ExpectedLikes))
	}
	return c, nil
}

// invalidate runs after Publish so a slow Redis never delays live events.
func (s *PollService) invalidate(ctx context.Context, pollID uint64) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := s.cache.Del(ctx, pollKey(pollID)); err != nil {
		s.log.Warn("cache invalidate", zap.Uint64("poll_id", pollID), zap.Error(err))
	}
}

func (s *PollService) observe(kind string, err error) {
	if err == nil {
		metrics.Mutations.WithLabelValues(kind).Inc()
		return
	}
	reason := "internal"
	var de *domain.Error
	if errors.As(err, &de) {
		reason = de.Reason
	}
	metrics.MutationErrors.WithLabelValues(kind, reason).Inc()
}

func pollKey(id uint64) string { return "poll:" + strconv.FormatUint(id, 10) }

// wrapInternal keeps business errors and hides everything else.
func wrapInternal(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Internal(op, err)
}

func newPoll(creatorID uint64, in CreatePollInput) (*domain.Poll, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTextLen {
		return nil, domain.Validation("title must be 1-%d characters", maxTextLen)
	}
	if n := len(in.Options); n < minOptions || n > maxOptions {
		return nil, domain.Validation("a poll needs %d-%d options", minOptions, maxOptions)
	}
	p := &domain.Poll{Title: title, Description: trimOptional(in.Description), CreatorID: creatorID}
	for i, o := range in.Options {
		o = strings.TrimSpace(o)
		if o == "" || utf8.RuneCountInString(o) > maxTextLen {
			return nil, domain.Validation("option %d must be 1-%d characters", i+1, maxTextLen)
		}
		p.Options = append(p.Options, domain.PollOption{OptionText: o})
	}
	return p, nil
}

func checkPatch(p *domain.PollPatch) error {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" || utf8.RuneCountInString(t) > maxTextLen {
			return domain.Validation("title must be 1-%d characters", maxTextLen)
		}
		p.Title = &t
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		p.Description = &d
	}
	return nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
