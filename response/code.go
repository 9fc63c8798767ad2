package response

import "net/http"

// Code 业务错误码.
type Code struct {
	Num        int    // 数字错误码
	Message    string // 默认错误消息
	HTTPStatus int    // 对应的 HTTP 状态码
}

// Error 实现 error 接口.
func (c Code) Error() string {
	return c.Message
}

// WithMessage 返回替换了消息的副本.
func (c Code) WithMessage(msg string) Code {
	c.Message = msg
	return c
}

// 预定义错误码.
//
//   - 0: 成功
//   - 2xxxx: 身份错误
//   - 3xxxx: 请求参数错误
//   - 4xxxx: 资源错误
//   - 5xxxx: 服务器内部错误
//   - 6xxxx: 下游错误
var (
	CodeSuccess = Code{0, "成功", http.StatusOK}

	CodeUnauthorized = Code{20001, "缺少用户身份", http.StatusUnauthorized}

	CodeInvalidParam     = Code{30001, "参数无效", http.StatusBadRequest}
	CodeValidationFailed = Code{30003, "参数验证失败", http.StatusBadRequest}

	CodeNotFound = Code{40001, "资源不存在", http.StatusNotFound}
	CodeConflict = Code{40003, "资源冲突", http.StatusConflict}

	CodeInternal = Code{50001, "服务器内部错误", http.StatusInternalServerError}

	CodeServiceUnavailable = Code{60001, "服务不可用", http.StatusServiceUnavailable}
)
