package functions

import (
	"fmt"
)

// ErrCode classifies executor failures for the backend's tool-result payload.
type ErrCode string

const (
	CodeBlocked          ErrCode = "Blocked"
	CodeUnknownFunction  ErrCode = "UnknownFunction"
	CodeInvalidArguments ErrCode = "InvalidArguments"
	CodePathDenied       ErrCode = "PathDenied"
	CodeUrlDenied        ErrCode = "UrlDenied"
	CodeCommandDenied    ErrCode = "CommandDenied"
	CodeAppDenied        ErrCode = "AppDenied"
	CodeNotApproved      ErrCode = "NotApproved"
	CodeExecutionFailed  ErrCode = "ExecutionFailed"
)

// ExecError is the typed failure of a tool call.
type ExecError struct {
	Code    ErrCode
	Message string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func execErrorf(code ErrCode, format string, args ...any) *ExecError {
	return &ExecError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code, defaulting to ExecutionFailed.
func CodeOf(err error) ErrCode {
	if e, ok := err.(*ExecError); ok {
		return e.Code
	}
	return CodeExecutionFailed
}
