package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"opinion-poll/internal/core/auth"
	"opinion-poll/internal/transport/http/ez"
	resp "opinion-poll/internal/transport/http/response"
)

// AuthJWT 强制鉴权；requireRole 为空时只校验 token
func AuthJWT(j *auth.JWTer, requireRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, resp.Reasoned(resp.CodeUnauthorized, "auth_required", "missing token"))
			return
		}
		claims, err := j.Parse(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, resp.Reasoned(resp.CodeUnauthorized, "invalid_token", "invalid token"))
			return
		}
		if requireRole != "" && claims.Role != requireRole {
			c.AbortWithStatusJSON(http.StatusForbidden, resp.Reasoned(resp.CodeForbidden, "forbidden", "forbidden"))
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth 有合法 token 就写入 claims，没有则放行（由身份解析决定匿名身份）
func OptionalAuth(j *auth.JWTer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok, ok := BearerToken(c); ok {
			if claims, err := j.Parse(tok); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

func BearerToken(c *gin.Context) (string, bool) {
	ah := c.GetHeader("Authorization")
	if !strings.HasPrefix(ah, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
	return tok, tok != ""
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ez.KeyClaims, claims)
	c.Set(ez.KeyRole, claims.Role)
	c.Set(ez.KeyUserID, claims.UID)
}
