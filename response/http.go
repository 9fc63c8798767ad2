package response

import (
	"encoding/json"
	"net/http"
)

// WriteJSON 写入 JSON 响应.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入 200 成功响应.
func WriteSuccess[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusOK, OK(data))
}

// WriteStatus 以指定状态码写入成功响应.
func WriteStatus[T any](w http.ResponseWriter, statusCode int, data T) error {
	return WriteJSON(w, statusCode, OK(data))
}

// WriteError 写入错误响应，状态码取自错误码.
func WriteError(w http.ResponseWriter, err error) error {
	return WriteJSON(w, ExtractCode(err).HTTPStatus, FailWithError(err))
}
