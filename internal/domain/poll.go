package domain

import (
	"context"
	"time"
)

type Poll struct {
	ID          uint64       `gorm:"primaryKey;autoIncrement" json:"id"`
	Title       string       `gorm:"size:200;not null" json:"title"`
	Description *string      `gorm:"type:text" json:"description"`
	CreatorID   uint64       `gorm:"not null;index" json:"creator_id"`
	Creator     *User        `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	IsActive    bool         `gorm:"not null;default:true;index" json:"is_active"`
	TotalVotes  int64        `gorm:"not null;default:0" json:"total_votes"`
	TotalLikes  int64        `gorm:"not null;default:0" json:"total_likes"`
	Version     uint64       `gorm:"not null;default:1" json:"version"`
	Options     []PollOption `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"options"`
	CreatedAt   time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Poll) TableName() string { return "polls" }

type PollOption struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	PollID     uint64 `gorm:"not null;index" json:"poll_id"`
	OptionText string `gorm:"size:200;not null" json:"option_text"`
	Position   int    `gorm:"not null;default:0" json:"position"`
	VoteCount  int64  `gorm:"not null;default:0" json:"vote_count"`
}

func (PollOption) TableName() string { return "poll_options" }

// Vote is unique per (user, poll); the option may change on revote.
type Vote struct {
	ID        uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64      `gorm:"not null;uniqueIndex:uk_vote_user_poll,priority:1" json:"user_id"`
	PollID    uint64      `gorm:"not null;uniqueIndex:uk_vote_user_poll,priority:2;index" json:"poll_id"`
	OptionID  uint64      `gorm:"not null;index" json:"option_id"`
	Poll      *Poll       `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
	Option    *PollOption `gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Vote) TableName() string { return "votes" }

// Like is unique per (user, poll). Rows are created and deleted, never updated.
type Like struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"not null;uniqueIndex:uk_like_user_poll,priority:1" json:"user_id"`
	PollID    uint64    `gorm:"not null;uniqueIndex:uk_like_user_poll,priority:2;index" json:"poll_id"`
	Poll      *Poll     `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Like) TableName() string { return "likes" }

// Models lists every table for auto migration.
func Models() []any {
	return []any{&User{}, &Poll{}, &PollOption{}, &Vote{}, &Like{}}
}

// PollSummary is the list projection of an active poll.
type PollSummary struct {
	ID              uint64    `json:"id"`
	Title           string    `json:"title"`
	Description     *string   `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
	TotalVotes      int64     `json:"total_votes"`
	TotalLikes      int64     `json:"total_likes"`
	CreatorUsername string    `json:"creator_username"`
}

// PollPatch carries the creator-editable metadata. Nil fields are untouched.
type PollPatch struct {
	Title       *string
	Description *string
	IsActive    *bool
}

// Counters is the drift report for one poll.
type Counters struct {
	PollID        uint64           `json:"poll_id"`
	TotalVotes    int64            `json:"total_votes"`
	TotalLikes    int64            `json:"total_likes"`
	OptionVotes   map[uint64]int64 `json:"option_votes"`
	ExpectedVotes int64            `json:"expected_votes"`
	ExpectedLikes int64            `json:"expected_likes"`
	ExpectedByOpt map[uint64]int64 `json:"expected_option_votes"`
	Drift         bool             `json:"drift"`
}

type PollRepository interface {
	Create(ctx context.Context, p *Poll) error
	ListActive(ctx context.Context, skip, limit int) ([]PollSummary, error)
	// FindActive loads a poll with options and creator. Inactive polls fail
	// with ErrPollInactive.
	FindActive(ctx context.Context, id uint64) (*Poll, error)
	Find(ctx context.Context, id uint64) (*Poll, error)
	Update(ctx context.Context, id uint64, patch PollPatch) (*Poll, error)
	Audit(ctx context.Context, id uint64) (*Counters, error)
	Reconcile(ctx context.Context, id uint64) (*Counters, error)
}
