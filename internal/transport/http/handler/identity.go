package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"opinion-poll/internal/service"
	mdw "opinion-poll/internal/transport/http/middleware"
)

// HeaderAnonToken carries the anonymous-session token in both directions.
const HeaderAnonToken = "X-Anon-Token"

func identityRequest(c *gin.Context) service.IdentityRequest {
	bearer, _ := mdw.BearerToken(c)
	fresh, _ := strconv.ParseBool(c.Query("fresh_identity"))
	return service.IdentityRequest{
		Bearer:        bearer,
		AnonToken:     c.GetHeader(HeaderAnonToken),
		RemoteAddr:    c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		TestUser:      c.Query("test_user"),
		FreshIdentity: fresh,
	}
}

// identify resolves the caller and hands a freshly minted anonymous
// token back through the response header.
func identify(c *gin.Context, ids *service.IdentityResolver) (*service.Identity, error) {
	id, err := ids.Resolve(c.Request.Context(), identityRequest(c))
	if err != nil {
		return nil, err
	}
	if id.IssuedToken != "" {
		c.Header(HeaderAnonToken, id.IssuedToken)
	}
	return id, nil
}
