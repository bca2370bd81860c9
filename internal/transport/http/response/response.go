package response

type Resp struct {
	Code   int         `json:"code"`
	Reason string      `json:"reason,omitempty"`
	Msg    string      `json:"msg"`
	Data   interface{} `json:"data"`
}

// New 构造函数（保证 data 不为 null）
func New(code int, msg string, data interface{}) Resp {
	if data == nil {
		data = struct{}{}
	}
	return Resp{Code: code, Msg: msg, Data: data}
}

// OK 成功响应
func OK(data interface{}) Resp {
	return New(CodeOK, Message(CodeOK), data)
}

// Error 失败响应（可以传自定义 msg 覆盖默认）
func Error(code int, customMsg string) Resp {
	msg := Message(code)
	if customMsg != "" {
		msg = customMsg
	}
	return New(code, msg, struct{}{})
}

// Reasoned 带机器可读 reason 的失败响应
func Reasoned(code int, reason, customMsg string) Resp {
	r := Error(code, customMsg)
	r.Reason = reason
	return r
}
