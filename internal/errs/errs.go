// Package errs 定义房间同步引擎的错误分类
package errs

import (
	"errors"
	"fmt"
)

// 错误码
const (
	CodeRoomFull            = "ROOM_FULL"
	CodeRoomNotFound        = "ROOM_NOT_FOUND"
	CodeNotAMember          = "NOT_A_MEMBER"
	CodeAlreadyJoined       = "ALREADY_JOINED"
	CodeMalformedMessage    = "MALFORMED_MESSAGE"
	CodeStoreWriteFailed    = "STORE_WRITE_FAILED"
	CodeTransportSendFailed = "TRANSPORT_SEND_FAILED"
	CodeEncodeFailed        = "ENCODE_FAILED" // 事件无法编码，与连接无关
	CodeInvariant           = "INVARIANT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidInput        = "INVALID_INPUT"
)

// AppError 带错误码的应用错误
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is 按错误码比较，便于 errors.Is(err, errs.ErrRoomFull)
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建错误
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap 包装底层错误
func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Code 提取错误码，非 AppError 返回空串
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode 判断错误链中是否含有指定错误码
func IsCode(err error, code string) bool {
	return Code(err) == code
}

// 预定义错误
var (
	ErrRoomFull         = New(CodeRoomFull, "room is full")
	ErrRoomNotFound     = New(CodeRoomNotFound, "room not found")
	ErrNotAMember       = New(CodeNotAMember, "participant is not in the room")
	ErrAlreadyJoined    = New(CodeAlreadyJoined, "participant already joined")
	ErrMalformedMessage = New(CodeMalformedMessage, "malformed message")
	ErrSendFailed       = New(CodeTransportSendFailed, "send failed")
	ErrUnauthorized     = New(CodeUnauthorized, "unauthorized")
)
