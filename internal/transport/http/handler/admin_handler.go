package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"opinion-poll/internal/domain"
	"opinion-poll/internal/service"
	"opinion-poll/internal/transport/http/ez"
)

// AdminHandler serves /admin/v1. The group is guarded by AuthJWT("admin").
type AdminHandler struct {
	polls *service.PollService
	auth  *service.AuthService
}

func NewAdminHandler(polls *service.PollService, a *service.AuthService) *AdminHandler {
	return &AdminHandler{polls: polls, auth: a}
}

type listUsersIn struct {
	Offset int    `form:"offset,default=0" binding:"min=0"`
	Limit  int    `form:"limit,default=20"`
	Q      string `form:"q"` // 按用户名模糊搜
}

type ListUsersOut struct {
	Total int64     `json:"total"`
	Items []UserOut `json:"items"`
}

type DeactivateOut struct {
	ID       uint64 `json:"id"`
	IsActive bool   `json:"is_active"`
}

func (h *AdminHandler) Mount(e ez.EZ) {
	// --- 用户列表 ---
	ez.RegisterAction(e, ez.Action[listUsersIn, ListUsersOut]{
		Method: http.MethodGet,
		Path:   "/users",
		Binder: ez.BindQuery,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, in *listUsersIn) (ListUsersOut, error) {
			if in.Limit <= 0 || in.Limit > 100 {
				in.Limit = 20
			}
			us, total, err := h.auth.ListUsers(c.Request.Context(), strings.TrimSpace(in.Q), in.Offset, in.Limit)
			if err != nil {
				return ListUsersOut{}, err
			}
			out := ListUsersOut{Total: total, Items: make([]UserOut, 0, len(us))}
			for i := range us {
				out.Items = append(out.Items, toUserOut(&us[i]))
			}
			return out, nil
		},
	})

	// --- 下线投票（软删） ---
	ez.RegisterAction(e, ez.Action[pollURI, DeactivateOut]{
		Method: http.MethodPost,
		Path:   "/polls/:id/deactivate",
		Binder: ez.BindURI,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, in *pollURI) (DeactivateOut, error) {
			if err := h.polls.Deactivate(c.Request.Context(), in.ID); err != nil {
				return DeactivateOut{}, err
			}
			return DeactivateOut{ID: in.ID, IsActive: false}, nil
		},
	})

	// --- 计数核对 ---
	ez.RegisterAction(e, ez.Action[pollURI, *domain.Counters]{
		Method: http.MethodGet,
		Path:   "/polls/:id/audit",
		Binder: ez.BindURI,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, in *pollURI) (*domain.Counters, error) {
			return h.polls.Audit(c.Request.Context(), in.ID)
		},
	})
	ez.RegisterAction(e, ez.Action[pollURI, *domain.Counters]{
		Method: http.MethodPost,
		Path:   "/polls/:id/reconcile",
		Binder: ez.BindURI,
		Roles:  []string{domain.RoleAdmin},
		Handler: func(c *gin.Context, in *pollURI) (*domain.Counters, error) {
			return h.polls.Reconcile(c.Request.Context(), in.ID)
		},
	})
}
