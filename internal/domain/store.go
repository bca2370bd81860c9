package domain

import "context"

// Store runs fn inside a single transaction. Contention failures are
// retried a bounded number of times; any other error from fn rolls the
// transaction back and is returned unchanged.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of row operations the vote/like state machine needs.
// Implementations lock rows for the transaction where the dialect allows.
type Tx interface {
	// LockPoll fails with ErrPollNotFound.
	LockPoll(id uint64) (*Poll, error)
	// FindOption fails with ErrOptionNotFound when the option does not
	// belong to the poll.
	FindOption(pollID, optionID uint64) (*PollOption, error)
	// LockVote returns nil when the user has not voted on the poll.
	LockVote(userID, pollID uint64) (*Vote, error)
	InsertVote(v *Vote) error
	// MoveVote repoints the vote only if it still points at from.
	MoveVote(voteID, from, to uint64) error
	// AddOptionVotes applies delta and returns the new count.
	AddOptionVotes(optionID uint64, delta int64) (int64, error)
	// BumpPoll applies the counter deltas, increments the version and
	// returns the updated row.
	BumpPoll(pollID uint64, votesDelta, likesDelta int64) (*Poll, error)
	HasLike(userID, pollID uint64) (bool, error)
	// InsertLike fails with ErrAlreadyLiked on a duplicate.
	InsertLike(userID, pollID uint64) error
	// DeleteLike fails with ErrNotLiked when no row was removed.
	DeleteLike(userID, pollID uint64) error
}
