package response

import "net/http"

// 业务码与 HTTP 状态一致，0 表示成功
const (
	CodeOK           = 0
	CodeBadRequest   = http.StatusBadRequest
	CodeUnauthorized = http.StatusUnauthorized
	CodeForbidden    = http.StatusForbidden
	CodeNotFound     = http.StatusNotFound
	CodeConflict     = http.StatusConflict
	CodeTooLarge     = http.StatusRequestEntityTooLarge
	CodeTooMany      = http.StatusTooManyRequests
	CodeServerError  = http.StatusInternalServerError
	CodeUnavailable  = http.StatusServiceUnavailable
	CodeTimeout      = http.StatusGatewayTimeout
)

// Message is the default msg for code.
func Message(code int) string {
	if code == CodeOK {
		return "OK"
	}
	if s := http.StatusText(code); s != "" {
		return s
	}
	return "Error"
}
