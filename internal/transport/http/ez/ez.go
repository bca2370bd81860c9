// Package ez wires typed handler actions onto gin groups and maps
// domain errors to HTTP responses in one place.
package ez

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"opinion-poll/internal/domain"
	resp "opinion-poll/internal/transport/http/response"
)

type EZ struct {
	g   *gin.RouterGroup
	log *zap.Logger
}

func New(g *gin.RouterGroup, l *zap.Logger) EZ { return EZ{g: g, log: l} }

// Group 派生子分组，可附加中间件
func (e EZ) Group(path string, mws ...gin.HandlerFunc) EZ {
	return EZ{g: e.g.Group(path, mws...), log: e.log}
}

// 绑定方式
type Binder string

const (
	BindJSON  Binder = "json"  // 从 JSON 绑定
	BindQuery Binder = "query" // 从 URL ?a=b 绑定
	BindURI   Binder = "uri"   // 从路径参数绑定
	BindNone  Binder = "none"  // 不绑定，自己从 c.Param / c.PostForm 取
)

// 动作定义：I 入参，O 出参
type Action[I any, O any] struct {
	Method string   // "GET" | "POST" | "PATCH" | "DELETE"
	Path   string   // 例："/polls/:id/vote"
	Binder Binder   // 绑定方式
	Status int      // 成功时的 HTTP 状态，默认 200
	Roles  []string // 限定角色（可选，需前置 AuthJWT/OptionalAuth）
	// URI 与 body 同时需要时，先按 uri 标签绑定 Params
	Params  bool
	Handler func(c *gin.Context, in *I) (O, error)
}

// RegisterAction 在当前 EZ 下注册动作接口
func RegisterAction[I any, O any](e EZ, a Action[I, O]) {
	h := func(c *gin.Context) {
		// 1) 角色
		if len(a.Roles) > 0 {
			role := c.GetString(KeyRole)
			ok := false
			for _, r := range a.Roles {
				if role == r {
					ok = true
					break
				}
			}
			if !ok {
				c.AbortWithStatusJSON(http.StatusForbidden, resp.Reasoned(resp.CodeForbidden, "forbidden", ""))
				return
			}
		}

		// 2) 绑定入参
		var in I
		var bindErr error
		if a.Params {
			bindErr = c.ShouldBindUri(&in)
		}
		if bindErr == nil {
			switch a.Binder {
			case BindJSON:
				bindErr = c.ShouldBindJSON(&in)
			case BindQuery:
				bindErr = c.ShouldBindQuery(&in)
			case BindURI:
				bindErr = c.ShouldBindUri(&in)
			default: // BindNone: 不绑定
			}
		}
		if bindErr != nil {
			BadRequest(c, bindErr)
			return
		}

		// 3) 执行
		out, err := a.Handler(c, &in)

		// 4) 统一错误映射
		if err != nil {
			Fail(c, e.log, err)
			return
		}
		status := a.Status
		if status == 0 {
			status = http.StatusOK
		}
		c.JSON(status, resp.OK(out))
	}

	switch strings.ToUpper(a.Method) {
	case http.MethodGet:
		e.g.GET(a.Path, h)
	case http.MethodPut:
		e.g.PUT(a.Path, h)
	case http.MethodPatch:
		e.g.PATCH(a.Path, h)
	case http.MethodDelete:
		e.g.DELETE(a.Path, h)
	default: // 默认 POST
		e.g.POST(a.Path, h)
	}
}

// Status maps an error kind to its HTTP status.
func Status(k domain.Kind) int {
	switch k {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes err as a response. Internal details are logged, never sent.
func Fail(c *gin.Context, l *zap.Logger, err error) {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		l.Error("request failed",
			zap.String("rid", c.GetString(KeyRequestID)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			resp.Reasoned(resp.CodeServerError, "internal", "internal error"))
		return
	}
	if de.Kind == domain.KindUnavailable {
		c.Header("Retry-After", "1")
	}
	st := Status(de.Kind)
	c.AbortWithStatusJSON(st, resp.Reasoned(st, de.Reason, de.Msg))
}

// BadRequest answers a binding failure.
func BadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, resp.Reasoned(resp.CodeBadRequest, "validation_failed", err.Error()))
}

// context keys shared with middleware
const (
	KeyRequestID = "X-Request-ID"
	KeyClaims    = "claims"
	KeyRole      = "role"
	KeyUserID    = "userId"
)
