package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"opinion-poll/internal/core/auth"
	"opinion-poll/internal/domain"
	"opinion-poll/pkg/utils"
)

// AuthProvider signs and verifies identity tokens.
type AuthProvider interface {
	Issue(uid, role string) (string, error)
	Parse(token string) (*auth.Claims, error)
}

// Anonymous identity modes.
const (
	ModeFingerprint = "fingerprint"
	ModeSession     = "session"
)

type IdentityOpts struct {
	Mode                 string
	Salt                 string
	AllowTestIdentity    bool
	AllowAnonymousWrites bool
}

// IdentityRequest is what the transport layer extracts from a request.
type IdentityRequest struct {
	Bearer        string
	AnonToken     string
	RemoteAddr    string
	UserAgent     string
	TestUser      string
	FreshIdentity bool
}

type Identity struct {
	UserID   uint64
	Username string
	Kind     string
	Role     string
	// IssuedToken is set when a new anonymous-session token was minted
	// for this request and should be handed back to the client.
	IssuedToken string
}

func (i *Identity) Registered() bool { return i.Kind == domain.UserRegistered }

var testUserRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type IdentityResolver struct {
	users domain.UserRepository
	auth  AuthProvider
	opts  IdentityOpts
	log   *zap.Logger
}

func NewIdentityResolver(users domain.UserRepository, ap AuthProvider, o IdentityOpts, l *zap.Logger) *IdentityResolver {
	if o.Mode != ModeSession {
		o.Mode = ModeFingerprint
	}
	return &IdentityResolver{users: users, auth: ap, opts: o, log: l}
}

// Resolve maps a request to a persisted user. Order: bearer credential,
// test identity, anonymous-session token, then the configured anonymous
// mode. A user row is created on first contact.
func (r *IdentityResolver) Resolve(ctx context.Context, req IdentityRequest) (*Identity, error) {
	if req.Bearer != "" {
		return r.fromBearer(ctx, req.Bearer)
	}
	if req.TestUser != "" {
		return r.fromTestUser(ctx, req.TestUser, req.FreshIdentity)
	}
	if req.AnonToken != "" {
		if id := r.fromAnonToken(ctx, req.AnonToken); id != nil {
			return id, nil
		}
	}
	var name string
	if r.opts.Mode == ModeSession {
		name = "anon_" + utils.NewID()
	} else {
		name = "anonymous_" + r.fingerprint(req.RemoteAddr, req.UserAgent)
	}
	u, err := r.users.GetOrCreate(ctx, &domain.User{
		Username: name,
		Kind:     domain.UserAnonymous,
		Role:     domain.RoleAnonymous,
	})
	if err != nil {
		return nil, domain.Internal("resolve anonymous identity", err)
	}
	id := toIdentity(u)
	tok, err := r.auth.Issue(strconv.FormatUint(u.ID, 10), domain.RoleAnonymous)
	if err != nil {
		// the identity is still usable for this request
		r.log.Warn("issue anonymous token", zap.Uint64("uid", u.ID), zap.Error(err))
	} else {
		id.IssuedToken = tok
	}
	return id, nil
}

// CanWrite gates mutating operations for non-registered identities.
func (r *IdentityResolver) CanWrite(id *Identity) error {
	if r.opts.AllowAnonymousWrites || id.Registered() {
		return nil
	}
	return domain.ErrAuthRequired
}

func (r *IdentityResolver) fromBearer(ctx context.Context, token string) (*Identity, error) {
	claims, err := r.auth.Parse(token)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	uid, err := claims.UserID()
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	u, err := r.users.FindByID(ctx, uid)
	if err != nil {
		return nil, domain.Internal("load user", err)
	}
	if u == nil {
		return nil, domain.ErrInvalidToken
	}
	return toIdentity(u), nil
}

func (r *IdentityResolver) fromTestUser(ctx context.Context, testUser string, fresh bool) (*Identity, error) {
	if !r.opts.AllowTestIdentity {
		return nil, domain.Validation("test identities are disabled")
	}
	if !testUserRe.MatchString(testUser) {
		return nil, domain.Validation("test_user must be 1-64 characters of [A-Za-z0-9_-]")
	}
	name := "test_user_" + testUser
	if fresh {
		name += "_" + utils.ShortID(12)
	}
	u, err := r.users.GetOrCreate(ctx, &domain.User{
		Username: name,
		Kind:     domain.UserTest,
		Role:     domain.RoleAnonymous,
	})
	if err != nil {
		return nil, domain.Internal("resolve test identity", err)
	}
	return toIdentity(u), nil
}

// fromAnonToken returns nil for any token that does not name an existing
// anonymous user; the caller falls through to derivation.
func (r *IdentityResolver) fromAnonToken(ctx context.Context, token string) *Identity {
	claims, err := r.auth.Parse(token)
	if err != nil || claims.Role != domain.RoleAnonymous {
		return nil
	}
	uid, err := claims.UserID()
	if err != nil {
		return nil
	}
	u, err := r.users.FindByID(ctx, uid)
	if err != nil || u == nil || u.Kind != domain.UserAnonymous {
		return nil
	}
	return toIdentity(u)
}

// fingerprint is HMAC-SHA256(salt, addr|ua) cut to 32 bits. Distinct
// clients behind one address with the same user agent collide.
func (r *IdentityResolver) fingerprint(addr, ua string) string {
	m := hmac.New(sha256.New, []byte(r.opts.Salt))
	m.Write([]byte(addr + "|" + ua))
	return hex.EncodeToString(m.Sum(nil)[:4])
}

func toIdentity(u *domain.User) *Identity {
	return &Identity{UserID: u.ID, Username: u.Username, Kind: u.Kind, Role: u.Role}
}
