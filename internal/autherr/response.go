package autherr

import "errors"

// ErrorInfo is the public part of a failure.
type ErrorInfo struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the uniform result envelope returned by every orchestrator
// operation. Exactly one of Data and Error is meaningful, chosen by Success.
type Response[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// OK wraps data in a successful response.
func OK[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

// Fail converts err to a failed response. Only the kind's generic message (or
// an explicit public message) is exposed; the cause stays internal.
func Fail[T any](err error) Response[T] {
	kind := KindOf(err)
	msg := kind.Message()
	var e *Error
	if errors.As(err, &e) && e.Public != "" {
		msg = e.Public
	}
	return Response[T]{Error: &ErrorInfo{Kind: kind, Code: kind.Code(), Message: msg}}
}

// Result returns OK(data) when err is nil and Fail(err) otherwise.
func Result[T any](data T, err error) Response[T] {
	if err != nil {
		return Fail[T](err)
	}
	return OK(data)
}

// ErrKind returns the failure kind, or -1 for a successful response.
func (r Response[T]) ErrKind() Kind {
	if r.Success || r.Error == nil {
		return -1
	}
	return r.Error.Kind
}
