package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"opinion-poll/internal/transport/http/ez"
)

const KeyRequestID = ez.KeyRequestID

// RequestID echoes a well-formed client id or mints a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.Request.Header.Get(KeyRequestID)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(KeyRequestID, rid)
		c.Set(KeyRequestID, rid)
		c.Next()
	}
}

// 只接受可打印 ASCII，防止日志注入
func validRequestID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
