package jobs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("job not found")

type ErrorType int

const (
	ErrTransport ErrorType = iota
	ErrBusiness
	ErrValidation
	ErrStale
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrTransport:
		return "Transport"
	case ErrBusiness:
		return "Business"
	case ErrValidation:
		return "Validation"
	case ErrStale:
		return "Stale"
	default:
		return "Unknown"
	}
}

// Error is a classified failure from the job service boundary.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, errorType ErrorType, message string) *Error {
	e := NewError(errorType, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// UserMessage is the text shown to a user: the message, plus the cause for
// transport failures.
func (e *Error) UserMessage() string {
	if e.Type == ErrTransport && e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func IsErrorType(err error, errorType ErrorType) bool {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Type == errorType
	}
	return false
}

// SafeCall runs one service call and folds every failure mode into an error:
// a returned error or a panic becomes ErrTransport, Success=false becomes
// ErrBusiness carrying the service's message.
func SafeCall(op string, fn func() (ActionResult, error)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = WrapError(fmt.Errorf("panic: %v", r), ErrTransport, op+" failed")
		}
	}()

	res, callErr := fn()
	if callErr != nil {
		return WrapError(callErr, ErrTransport, op+" failed")
	}
	if !res.Success {
		msg := strings.TrimSpace(res.Error)
		if msg == "" {
			msg = op + " failed"
		}
		return NewError(ErrBusiness, msg)
	}
	return nil
}

// Message extracts the user-facing text from any error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.UserMessage()
	}
	return err.Error()
}
