package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"opinion-poll/internal/domain"
	"opinion-poll/internal/service"
	"opinion-poll/internal/transport/http/ez"
)

type PollHandler struct {
	polls *service.PollService
	ids   *service.IdentityResolver
}

func NewPollHandler(polls *service.PollService, ids *service.IdentityResolver) *PollHandler {
	return &PollHandler{polls: polls, ids: ids}
}

// ---- 入参 ----

type pollURI struct {
	ID uint64 `uri:"id" binding:"required"`
}

type optionIn struct {
	OptionText string `json:"option_text" binding:"required,max=200"`
}

type createPollIn struct {
	Title       string     `json:"title" binding:"required,max=200"`
	Description *string    `json:"description"`
	Options     []optionIn `json:"options" binding:"required,min=2,max=20,dive"`
}

type listPollsIn struct {
	Skip  int `form:"skip,default=0" binding:"min=0"`
	Limit int `form:"limit,default=100" binding:"min=1,max=100"`
}

type updatePollIn struct {
	pollURI
	Title       *string `json:"title" binding:"omitempty,max=200"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

type voteIn struct {
	pollURI
	OptionID uint64 `json:"option_id" binding:"required"`
}

// ---- 出参 ----

type OptionOut struct {
	ID         uint64 `json:"id"`
	OptionText string `json:"option_text"`
	VoteCount  int64  `json:"vote_count"`
}

type CreatorOut struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

type PollOut struct {
	ID              uint64      `json:"id"`
	Title           string      `json:"title"`
	Description     *string     `json:"description"`
	IsActive        bool        `json:"is_active"`
	TotalVotes      int64       `json:"total_votes"`
	TotalLikes      int64       `json:"total_likes"`
	Version         uint64      `json:"version"`
	CreatorUsername string      `json:"creator_username"`
	Creator         *CreatorOut `json:"creator,omitempty"`
	Options         []OptionOut `json:"options"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type VoteOut struct {
	Message    string `json:"message"`
	OptionID   uint64 `json:"option_id"`
	VoteCount  int64  `json:"vote_count"`
	TotalVotes int64  `json:"total_votes"`
	Changed    bool   `json:"changed"`
}

type LikeOut struct {
	Message    string `json:"message"`
	TotalLikes int64  `json:"total_likes"`
	Liked      bool   `json:"liked"`
}

func toPollOut(p *domain.Poll) PollOut {
	out := PollOut{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		IsActive:    p.IsActive,
		TotalVotes:  p.TotalVotes,
		TotalLikes:  p.TotalLikes,
		Version:     p.Version,
		Options:     make([]OptionOut, 0, len(p.Options)),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Creator != nil {
		out.CreatorUsername = p.Creator.Username
		out.Creator = &CreatorOut{ID: p.Creator.ID, Username: p.Creator.Username}
	}
	for _, o := range p.Options {
		out.Options = append(out.Options, OptionOut{ID: o.ID, OptionText: o.OptionText, VoteCount: o.VoteCount})
	}
	return out
}

func (h *PollHandler) Priority() int { return 20 }

func (h *PollHandler) Mount(e ez.EZ) {
	ez.RegisterAction(e, ez.Action[createPollIn, PollOut]{
		Method:  http.MethodPost,
		Path:    "/polls",
		Binder:  ez.BindJSON,
		Status:  http.StatusCreated,
		Handler: h.create,
	})
	ez.RegisterAction(e, ez.Action[listPollsIn, []domain.PollSummary]{
		Method: http.MethodGet,
		Path:   "/polls",
		Binder: ez.BindQuery,
		Handler: func(c *gin.Context, in *listPollsIn) ([]domain.PollSummary, error) {
			return h.polls.List(c.Request.Context(), in.Skip, in.Limit)
		},
	})
	ez.RegisterAction(e, ez.Action[pollURI, PollOut]{
		Method: http.MethodGet,
		Path:   "/polls/:id",
		Binder: ez.BindURI,
		Handler: func(c *gin.Context, in *pollURI) (PollOut, error) {
			p, err := h.polls.Get(c.Request.Context(), in.ID)
			if err != nil {
				return PollOut{}, err
			}
			return toPollOut(p), nil
		},
	})
	ez.RegisterAction(e, ez.Action[updatePollIn, PollOut]{
		Method:  http.MethodPatch,
		Path:    "/polls/:id",
		Binder:  ez.BindJSON,
		Params:  true,
		Handler: h.update,
	})
	ez.RegisterAction(e, ez.Action[voteIn, VoteOut]{
		Method:  http.MethodPost,
		Path:    "/polls/:id/vote",
		Binder:  ez.BindJSON,
		Params:  true,
		Handler: h.vote,
	})
	ez.RegisterAction(e, ez.Action[pollURI, LikeOut]{
		Method: http.MethodPost,
		Path:   "/polls/:id/like",
		Binder: ez.BindURI,
		Handler: func(c *gin.Context, in *pollURI) (LikeOut, error) {
			id, err := identify(c, h.ids)
			if err != nil {
				return LikeOut{}, err
			}
			res, err := h.polls.Like(c.Request.Context(), id, in.ID)
			if err != nil {
				return LikeOut{}, err
			}
			return LikeOut{Message: "Poll liked successfully", TotalLikes: res.TotalLikes, Liked: true}, nil
		},
	})
	ez.RegisterAction(e, ez.Action[pollURI, LikeOut]{
		Method: http.MethodDelete,
		Path:   "/polls/:id/like",
		Binder: ez.BindURI,
		Handler: func(c *gin.Context, in *pollURI) (LikeOut, error) {
			id, err := identify(c, h.ids)
			if err != nil {
				return LikeOut{}, err
			}
			res, err := h.polls.Unlike(c.Request.Context(), id, in.ID)
			if err != nil {
				return LikeOut{}, err
			}
			return LikeOut{Message: "Poll unliked successfully", TotalLikes: res.TotalLikes, Liked: false}, nil
		},
	})
}

func (h *PollHandler) create(c *gin.Context, in *createPollIn) (PollOut, error) {
	id, err := identify(c, h.ids)
	if err != nil {
		return PollOut{}, err
	}
	opts := make([]string, 0, len(in.Options))
	for _, o := range in.Options {
		opts = append(opts, o.OptionText)
	}
	p, err := h.polls.Create(c.Request.Context(), id, service.CreatePollInput{
		Title:       in.Title,
		Description: in.Description,
		Options:     opts,
	})
	if err != nil {
		return PollOut{}, err
	}
	return toPollOut(p), nil
}

func (h *PollHandler) update(c *gin.Context, in *updatePollIn) (PollOut, error) {
	id, err := identify(c, h.ids)
	if err != nil {
		return PollOut{}, err
	}
	p, err := h.polls.Update(c.Request.Context(), id, in.ID, domain.PollPatch{
		Title:       in.Title,
		Description: in.Description,
		IsActive:    in.IsActive,
	})
	if err != nil {
		return PollOut{}, err
	}
	return toPollOut(p), nil
}

func (h *PollHandler) vote(c *gin.Context, in *voteIn) (VoteOut, error) {
	id, err := identify(c, h.ids)
	if err != nil {
		return VoteOut{}, err
	}
	res, err := h.polls.Vote(c.Request.Context(), id, in.ID, in.OptionID)
	if err != nil {
		return VoteOut{}, err
	}
	msg := "Vote recorded successfully"
	if !res.Changed {
		msg = "Vote unchanged"
	}
	return VoteOut{
		Message:    msg,
		OptionID:   res.OptionID,
		VoteCount:  res.VoteCount,
		TotalVotes: res.TotalVotes,
		Changed:    res.Changed,
	}, nil
}
