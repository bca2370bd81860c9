package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"opinion-poll/internal/core/auth"
	"opinion-poll/internal/domain"
	"opinion-poll/internal/service"
	"opinion-poll/internal/transport/http/ez"
	mdw "opinion-poll/internal/transport/http/middleware"
)

type AuthHandler struct {
	auth  *service.AuthService
	jwter *auth.JWTer
}

func NewAuthHandler(a *service.AuthService, j *auth.JWTer) *AuthHandler {
	return &AuthHandler{auth: a, jwter: j}
}

type credentialsIn struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

type UserOut struct {
	ID        uint64    `json:"id"`
	Username  string    `json:"username"`
	Kind      string    `json:"kind"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type TokenOut struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	User        UserOut `json:"user"`
}

func toUserOut(u *domain.User) UserOut {
	return UserOut{ID: u.ID, Username: u.Username, Kind: u.Kind, Role: u.Role, CreatedAt: u.CreatedAt}
}

func toTokenOut(s *service.Session) TokenOut {
	return TokenOut{AccessToken: s.Token, TokenType: "bearer", User: toUserOut(s.User)}
}

func (h *AuthHandler) Priority() int { return 10 }

func (h *AuthHandler) Mount(e ez.EZ) {
	ez.RegisterAction(e, ez.Action[credentialsIn, TokenOut]{
		Method: http.MethodPost,
		Path:   "/auth/signup",
		Binder: ez.BindJSON,
		Status: http.StatusCreated,
		Handler: func(c *gin.Context, in *credentialsIn) (TokenOut, error) {
			s, err := h.auth.Signup(c.Request.Context(), in.Username, in.Password)
			if err != nil {
				return TokenOut{}, err
			}
			return toTokenOut(s), nil
		},
	})
	ez.RegisterAction(e, ez.Action[credentialsIn, TokenOut]{
		Method: http.MethodPost,
		Path:   "/auth/signin",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *credentialsIn) (TokenOut, error) {
			s, err := h.auth.Signin(c.Request.Context(), in.Username, in.Password)
			if err != nil {
				return TokenOut{}, err
			}
			return toTokenOut(s), nil
		},
	})

	// /auth/me 必须挂在带 AuthJWT 的分组
	me := e.Group("/auth", mdw.AuthJWT(h.jwter, ""))
	ez.RegisterAction(me, ez.Action[struct{}, UserOut]{
		Method: http.MethodGet,
		Path:   "/me",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (UserOut, error) {
			uid, err := CurrentUserID(c)
			if err != nil {
				return UserOut{}, err
			}
			u, err := h.auth.Me(c.Request.Context(), uid)
			if err != nil {
				return UserOut{}, err
			}
			return toUserOut(u), nil
		},
	})
}

// CurrentUserID reads the user id placed by AuthJWT.
func CurrentUserID(c *gin.Context) (uint64, error) {
	v, ok := c.Get(ez.KeyClaims)
	if !ok {
		return 0, domain.ErrAuthRequired
	}
	claims, ok := v.(*auth.Claims)
	if !ok {
		return 0, domain.ErrAuthRequired
	}
	uid, err := claims.UserID()
	if err != nil {
		return 0, domain.ErrInvalidToken
	}
	return uid, nil
}
