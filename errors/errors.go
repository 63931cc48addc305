package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/loomrender/renderworker/log"
)

// APIError is returned by the process-local HTTP surface (health endpoint).
type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) APIError {
	w.WriteHeader(status)

	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}
	return APIError{msg, status, err}
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPServiceUnavailable(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusServiceUnavailable, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

// ValidationError represents a precondition failure (§7): terminal for the
// job, never retried.
type ValidationError struct {
	msg string
}

func NewValidationError(msg string) error {
	return ValidationError{msg: msg}
}

func (e ValidationError) Error() string { return e.msg }

func IsValidationError(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// TransientError wraps network/queue/upload/remote-browser hiccups that are
// retried locally per the calling stage's policy. NewTransientError sets
// Remaining to -1 and the Retry combinator does not read it: Retry counts
// attempts itself and promotes the error to PermanentError once its policy
// is exhausted.
type TransientError struct {
	cause     error
	Remaining int
}

func NewTransientError(cause error) error {
	return TransientError{cause: cause, Remaining: -1}
}

func (e TransientError) Error() string {
	return fmt.Sprintf("transient error: %s", e.cause)
}

func (e TransientError) Unwrap() error { return e.cause }

func IsTransientError(err error) bool {
	var t TransientError
	return errors.As(err, &t)
}

// PermanentError is terminal for the job; the job is marked failed and the
// working directory is kept per the failure-retention policy.
type PermanentError struct {
	cause error
}

func NewPermanentError(cause error) error {
	if cause == nil {
		return nil
	}
	return PermanentError{cause: cause}
}

func (e PermanentError) Error() string { return e.cause.Error() }
func (e PermanentError) Unwrap() error { return e.cause }

func IsPermanentError(err error) bool {
	var p PermanentError
	return errors.As(err, &p)
}

// PromoteTransient converts an exhausted TransientError into a
// PermanentError, preserving the original cause.
func PromoteTransient(err error) error {
	var t TransientError
	if errors.As(err, &t) {
		return NewPermanentError(t.cause)
	}
	return err
}

// CancelledError is not an error in the usual sense: it is a distinguished
// terminal path taken when IsCancelled() observes a user-initiated cancel.
// It is never retried and never mapped to PermanentError.
type CancelledError struct{}

func NewCancelledError() error { return CancelledError{} }

func (e CancelledError) Error() string { return "render cancelled" }

func IsCancelledError(err error) bool {
	var c CancelledError
	return errors.As(err, &c)
}

// FatalProcessError indicates missing mandatory configuration at startup;
// the process must exit with a non-zero status before the worker loop
// begins. StorageAdapter and QueueAdapter also return it for some per-job
// failures (a rejected upload, an undecodable payload); the worker loop
// records those as job failures of kind fatal_process.
type FatalProcessError struct {
	cause error
}

func NewFatalProcessError(cause error) error {
	return FatalProcessError{cause: cause}
}

func (e FatalProcessError) Error() string { return fmt.Sprintf("fatal config error: %s", e.cause) }
func (e FatalProcessError) Unwrap() error { return e.cause }

func IsFatalProcessError(err error) bool {
	var f FatalProcessError
	return errors.As(err, &f)
}

// SceneRecordError wraps any failure during SceneRecorder's contract steps
// 1-5 (§4.2). The recorder itself never retries; ScenePipeline decides.
type SceneRecordError struct {
	cause error
}

func NewSceneRecordError(cause error) error {
	return SceneRecordError{cause: cause}
}

func (e SceneRecordError) Error() string { return fmt.Sprintf("scene record error: %s", e.cause) }
func (e SceneRecordError) Unwrap() error { return e.cause }

func IsSceneRecordError(err error) bool {
	var s SceneRecordError
	return errors.As(err, &s)
}
