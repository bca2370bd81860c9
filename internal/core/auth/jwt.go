// Package auth issues and verifies the HS256 tokens used for registered
// users, admins and anonymous sessions.
package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAnonymous = "anonymous"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UID  string `json:"uid"`
	Role string `json:"role"` // user / admin / anonymous
	jwt.RegisteredClaims
}

// UserID parses the numeric user id carried in UID.
func (c *Claims) UserID() (uint64, error) {
	return strconv.ParseUint(c.UID, 10, 64)
}

func (c *Claims) Anonymous() bool { return c.Role == RoleAnonymous }

type JWTer struct {
	Secret  []byte
	Issuer  string
	TTL     time.Duration
	AnonTTL time.Duration // 匿名会话 token，为 0 时沿用 TTL
	Leeway  time.Duration // 为 0 时 60s
}

func (j *JWTer) Issue(uid, role string) (string, error) {
	ttl := j.TTL
	if role == RoleAnonymous && j.AnonTTL > 0 {
		ttl = j.AnonTTL
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UID:  uid,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.Issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString(j.Secret)
}

// Parse verifies signature, issuer and expiry. Every failure wraps
// ErrInvalidToken so callers need not inspect jwt errors.
func (j *JWTer) Parse(tokenStr string) (*Claims, error) {
	leeway := j.Leeway
	if leeway == 0 {
		leeway = 60 * time.Second
	}
	var c Claims
	_, err := jwt.ParseWithClaims(tokenStr, &c, func(*jwt.Token) (interface{}, error) { return j.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if c.UID == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}
