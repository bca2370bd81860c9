package service

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"opinion-poll/internal/domain"
	"opinion-poll/pkg/utils"
)

// Session is a signed-in user and its bearer token.
type Session struct {
	User  *domain.User
	Token string
}

type AuthService struct {
	users  domain.UserRepository
	auth   AuthProvider
	admins []string
	log    *zap.Logger
}

func NewAuthService(users domain.UserRepository, ap AuthProvider, admins []string, l *zap.Logger) *AuthService {
	return &AuthService{users: users, auth: ap, admins: admins, log: l}
}

func (s *AuthService) Signup(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if err := checkCredentials(username, password); err != nil {
		return nil, err
	}
	// 派生身份的前缀保留给匿名/测试用户
	if reservedName(username) {
		return nil, domain.Validation("username %q is reserved", username)
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, domain.Internal("hash password", err)
	}
	u := &domain.User{
		Username:     username,
		PasswordHash: hash,
		Kind:         domain.UserRegistered,
		Role:         s.roleFor(username),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if domain.KindOf(err) != domain.KindInternal {
			return nil, err
		}
		return nil, domain.Internal("create user", err)
	}
	s.log.Info("user signed up", zap.Uint64("uid", u.ID), zap.String("username", u.Username))
	return s.session(u)
}

func (s *AuthService) Signin(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, domain.Internal("load user", err)
	}
	if u == nil || !u.Registered() || !utils.CheckPassword(password, u.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	if role := s.roleFor(u.Username); role != u.Role {
		if err := s.users.SetRole(ctx, u.ID, role); err != nil {
			return nil, domain.Internal("set role", err)
		}
		u.Role = role
	}
	return s.session(u)
}

func (s *AuthService) Me(ctx context.Context, userID uint64) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, domain.Internal("load user", err)
	}
	if u == nil {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *AuthService) ListUsers(ctx context.Context, q string, offset, limit int) ([]domain.User, int64, error) {
	users, total, err := s.users.List(ctx, q, offset, limit)
	if err != nil {
		return nil, 0, domain.Internal("list users", err)
	}
	return users, total, nil
}

func (s *AuthService) session(u *domain.User) (*Session, error) {
	tok, err := s.auth.Issue(strconv.FormatUint(u.ID, 10), u.Role)
	if err != nil {
		return nil, domain.Internal("issue token", err)
	}
	return &Session{User: u, Token: tok}, nil
}

func (s *AuthService) roleFor(username string) string {
	if slices.Contains(s.admins, username) {
		return domain.RoleAdmin
	}
	return domain.RoleUser
}

func checkCredentials(username, password string) error {
	if l := len(username); l < 3 || l > 50 {
		return domain.Validation("username must be 3-50 characters")
	}
	if l := len(password); l < 6 || l > 72 {
		return domain.Validation("password must be 6-72 characters")
	}
	return nil
}

func reservedName(username string) bool {
	for _, p := range []string{"anonymous_", "anon_", "test_user_"} {
		if strings.HasPrefix(username, p) {
			return true
		}
	}
	return false
}
