package domain

// Event types pushed to live subscribers.
const (
	EventPollCreated = "poll_created"
	EventPollVote    = "poll_vote"
	EventPollLike    = "poll_like"
)

// Event is the envelope delivered on the live channel. Version is the
// poll's mutation counter after the commit that produced the event.
type Event struct {
	Type    string `json:"type"`
	PollID  uint64 `json:"-"`
	Version uint64 `json:"version"`
	Data    any    `json:"data"`
}

type CreatedData struct {
	PollID uint64      `json:"poll_id"`
	Poll   CreatedPoll `json:"poll"`
}

type CreatedPoll struct {
	ID              uint64        `json:"id"`
	Title           string        `json:"title"`
	Description     *string       `json:"description"`
	TotalVotes      int64         `json:"total_votes"`
	TotalLikes      int64         `json:"total_likes"`
	CreatorUsername string        `json:"creator_username"`
	Options         []OptionCount `json:"options"`
}

type OptionCount struct {
	ID         uint64 `json:"id"`
	OptionText string `json:"option_text"`
	VoteCount  int64  `json:"vote_count"`
}

type VoteData struct {
	PollID            uint64  `json:"poll_id"`
	OptionID          uint64  `json:"option_id"`
	OptionText        string  `json:"option_text"`
	VoteCount         int64   `json:"vote_count"`
	TotalVotes        int64   `json:"total_votes"`
	PreviousOptionID  *uint64 `json:"previous_option_id,omitempty"`
	PreviousVoteCount *int64  `json:"previous_vote_count,omitempty"`
}

type LikeData struct {
	PollID     uint64 `json:"poll_id"`
	TotalLikes int64  `json:"total_likes"`
	Liked      bool   `json:"liked"`
}
