package usecase

import "fmt"

// ErrorCode is the short code shown to the device user as "[ERR:<code>]".
type ErrorCode string

const (
	ErrorConfig ErrorCode = "CONFIG"
	ErrorAI     ErrorCode = "AI"
	ErrorBusy   ErrorCode = "BUSY"
	ErrorRetry  ErrorCode = "RETRY"
	ErrorSend   ErrorCode = "SEND"
	ErrorSystem ErrorCode = "SYS"
	ErrorGarmin ErrorCode = "GARMIN"
)

// Kind says whether a failed turn is worth another attempt.
type Kind string

const (
	KindRetryable Kind = "retryable"
	KindPermanent Kind = "permanent"
)

var userMessages = map[ErrorCode]string{
	ErrorConfig: "System not configured. Admin: set Gemini API key parameter.",
	ErrorAI:     "AI failed. Try: shorter query, WIKI term, or NEWS instead.",
	ErrorBusy:   "AI overloaded. Wait 1-2min, resend same msg.",
	ErrorRetry:  "Failed 3x. Wait 5min, try simpler query or WIKI/NEWS.",
	ErrorSend:   "Reply failed. Resend your msg or try shorter query.",
	ErrorSystem: "System error. Resend msg. If persists, try WIKI term.",
	ErrorGarmin: "Garmin reply failed. Check link valid. Try resending original msg.",
}

type Error struct {
	Code   ErrorCode
	Reason string
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s, %s)", e.Code, e.Reason, e.Kind)
	}
	return fmt.Sprintf("usecase: %s (%s, %s): %v", e.Code, e.Reason, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindRetryable
}

// UserText renders the message sent to the device for this error.
func (e *Error) UserText() string {
	return UserText(e.Code)
}

// UserText renders "[ERR:<code>] <message>" for code.
func UserText(code ErrorCode) string {
	msg, ok := userMessages[code]
	if !ok {
		msg = userMessages[ErrorSystem]
	}
	return fmt.Sprintf("[ERR:%s] %s", code, msg)
}

func newError(code ErrorCode, kind Kind, reason string, err error) *Error {
	return &Error{Code: code, Kind: kind, Reason: reason, Err: err}
}
