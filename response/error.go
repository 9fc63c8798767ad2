package response

import (
	"errors"
	"fmt"
)

// BusinessError 携带错误码的错误.
type BusinessError struct {
	Code    Code
	Message string
	Cause   error
}

// Error 实现 error 接口.
func (e *BusinessError) Error() string {
	msg := e.message()
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap 返回原始错误.
func (e *BusinessError) Unwrap() error {
	return e.Cause
}

func (e *BusinessError) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message
}

// Wrap 用错误码包装 err.
func Wrap(code Code, err error) *BusinessError {
	return &BusinessError{Code: code, Cause: err}
}

// WrapWithMessage 用错误码与自定义消息包装 err.
func WrapWithMessage(code Code, message string, err error) *BusinessError {
	return &BusinessError{Code: code, Message: message, Cause: err}
}

// ExtractCode 从错误中提取错误码，无法识别时返回 CodeInternal.
func ExtractCode(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var bizErr *BusinessError
	if errors.As(err, &bizErr) {
		return bizErr.Code
	}
	var code Code
	if errors.As(err, &code) {
		return code
	}
	return CodeInternal
}

// ExtractMessage 提取返回给客户端的消息.
//
// 5xxxx 与 6xxxx 错误只返回错误码的默认消息.
func ExtractMessage(err error) string {
	if err == nil {
		return CodeSuccess.Message
	}
	code := ExtractCode(err)
	if code.Num >= 50000 {
		return code.Message
	}
	var bizErr *BusinessError
	if errors.As(err, &bizErr) {
		if bizErr.Message != "" {
			return bizErr.Message
		}
		if bizErr.Cause != nil {
			return bizErr.Cause.Error()
		}
	}
	return code.Message
}
