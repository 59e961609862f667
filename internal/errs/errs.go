package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind 表示错误分类，外层（HTTP 路由、协调器）根据分类决定
// 是否重试、是否记录冷却时间、返回什么状态码
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindProtocol
	KindSession
	KindConcurrency
	KindCancelled
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindSession:
		return "session"
	case KindConcurrency:
		return "concurrency"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error 带分类的错误，支持 errors.Is / errors.As 链式匹配
type Error struct {
	Kind Kind
	Op   string // 发生错误的操作，如 "tts.connect"
	Err  error  // 底层错误，可为 nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建分类错误
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf 创建带格式化消息的分类错误
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf 提取错误分类，非 *Error 返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is 判断错误是否属于指定分类
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsCancelled 取消类错误不进入重试路径，也不记录冷却时间
func IsCancelled(err error) bool {
	return Is(err, KindCancelled) || errors.Is(err, context.Canceled)
}
