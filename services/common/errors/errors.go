package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an application error. The string values are part of the
// public API and are returned to callers verbatim.
type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindPermissionDenied   Kind = "permission-denied"
	KindInvalidArgument    Kind = "invalid-argument"
	KindNotFound           Kind = "not-found"
	KindFailedPrecondition Kind = "failed-precondition"
	KindRateLimited        Kind = "resource-exhausted"
	KindInternal           Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindUnauthenticated:    http.StatusUnauthorized,
	KindPermissionDenied:   http.StatusForbidden,
	KindInvalidArgument:    http.StatusBadRequest,
	KindNotFound:           http.StatusNotFound,
	KindFailedPrecondition: http.StatusPreconditionFailed,
	KindRateLimited:        http.StatusTooManyRequests,
	KindInternal:           http.StatusInternalServerError,
}

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"-"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// JSON returns the error body as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(gin.H{"error": e})
	return string(b)
}

// New creates a new Error of the given kind
func New(kind Kind, message string, err error) *Error {
	code, ok := kindStatus[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NotFound(message string) *Error { return New(KindNotFound, message, nil) }

func InvalidArgument(message string) *Error { return New(KindInvalidArgument, message, nil) }

func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message, nil) }

func PermissionDenied(message string) *Error { return New(KindPermissionDenied, message, nil) }

func FailedPrecondition(message string) *Error { return New(KindFailedPrecondition, message, nil) }

// Internal wraps an unexpected failure. The cause is kept for logging and
// never rendered to the caller.
func Internal(message string, err error) *Error { return New(KindInternal, message, err) }

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err is an application error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func toAppError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", err)
}

// HandleError writes err to a plain http.ResponseWriter.
func HandleError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Code)
	w.Write([]byte(appErr.JSON()))
}

// Abort renders err on the gin context and stops the handler chain.
func Abort(c *gin.Context, err error) {
	appErr := toAppError(err)
	c.AbortWithStatusJSON(appErr.Code, gin.H{"error": appErr})
}

// Error middleware for Gin
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			Abort(c, c.Errors.Last().Err)
		}
	}
}
