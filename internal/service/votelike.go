package service

import (
	"context"

	"opinion-poll/internal/domain"
)

// VoteResult is the post-commit state of a Cast.
type VoteResult struct {
	PollID     uint64
	OptionID   uint64
	OptionText string
	VoteCount  int64
	TotalVotes int64
	Version    uint64
	// Previous* are set when an existing vote moved to another option.
	PreviousOptionID  *uint64
	PreviousVoteCount *int64
	// Changed is false for a repeat vote on the same option.
	Changed bool
}

type LikeResult struct {
	PollID     uint64
	TotalLikes int64
	Liked      bool
	Version    uint64
}

// Engine is the per-(user, poll) vote and like state machine. Every
// transition reads its branch and applies its counter changes in one
// store transaction.
type Engine struct {
	store domain.Store
}

func NewEngine(s domain.Store) *Engine { return &Engine{store: s} }

func (e *Engine) Cast(ctx context.Context, userID, pollID, optionID uint64) (*VoteResult, error) {
	var res *VoteResult
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		res = nil
		poll, err := lockActive(tx, pollID)
		if err != nil {
			return err
		}
		opt, err := tx.FindOption(pollID, optionID)
		if err != nil {
			return err
		}
		prev, err := tx.LockVote(userID, pollID)
		if err != nil {
			return err
		}

		switch {
		case prev == nil:
			if err := tx.InsertVote(&domain.Vote{UserID: userID, PollID: pollID, OptionID: optionID}); err != nil {
				return err
			}
			n, err := tx.AddOptionVotes(optionID, 1)
			if err != nil {
				return err
			}
			p, err := tx.BumpPoll(pollID, 1, 0)
			if err != nil {
				return err
			}
			res = &VoteResult{VoteCount: n, TotalVotes: p.TotalVotes, Version: p.Version, Changed: true}

		case prev.OptionID == optionID:
			res = &VoteResult{VoteCount: opt.VoteCount, TotalVotes: poll.TotalVotes, Version: poll.Version}

		default:
			if err := tx.MoveVote(prev.ID, prev.OptionID, optionID); err != nil {
				return err
			}
			oldN, err := tx.AddOptionVotes(prev.OptionID, -1)
			if err != nil {
				return err
			}
			n, err := tx.AddOptionVotes(optionID, 1)
			if err != nil {
				return err
			}
			p, err := tx.BumpPoll(pollID, 0, 0)
			if err != nil {
				return err
			}
			prevID := prev.OptionID
			res = &VoteResult{
				VoteCount: n, TotalVotes: p.TotalVotes, Version: p.Version, Changed: true,
				PreviousOptionID: &prevID, PreviousVoteCount: &oldN,
			}
		}
		res.PollID, res.OptionID, res.OptionText = pollID, optionID, opt.OptionText
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) Like(ctx context.Context, userID, pollID uint64) (*LikeResult, error) {
	var res *LikeResult
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := lockActive(tx, pollID); err != nil {
			return err
		}
		liked, err := tx.HasLike(userID, pollID)
		if err != nil {
			return err
		}
		if liked {
			return domain.ErrAlreadyLiked
		}
		// a concurrent like that commits first trips the unique index here
		if err := tx.InsertLike(userID, pollID); err != nil {
			return err
		}
		p, err := tx.BumpPoll(pollID, 0, 1)
		if err != nil {
			return err
		}
		res = &LikeResult{PollID: pollID, TotalLikes: p.TotalLikes, Liked: true, Version: p.Version}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) Unlike(ctx context.Context, userID, pollID uint64) (*LikeResult, error) {
	var res *LikeResult
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := lockActive(tx, pollID); err != nil {
			return err
		}
		if err := tx.DeleteLike(userID, pollID); err != nil {
			return err
		}
		p, err := tx.BumpPoll(pollID, 0, -1)
		if err != nil {
			return err
		}
		res = &LikeResult{PollID: pollID, TotalLikes: p.TotalLikes, Liked: false, Version: p.Version}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func lockActive(tx domain.Tx, pollID uint64) (*domain.Poll, error) {
	p, err := tx.LockPoll(pollID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, domain.ErrPollInactive
	}
	return p, nil
}
