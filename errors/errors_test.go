package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorIsDetected(t *testing.T) {
	err := NewValidationError("job has no scenes")
	require.True(t, IsValidationError(err))
	require.False(t, IsTransientError(err))
	require.Equal(t, "job has no scenes", err.Error())
}

func TestTransientErrorUnwrapsToCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewTransientError(cause)
	require.True(t, IsTransientError(err))
	require.ErrorIs(t, err, cause)
}

func TestPermanentErrorIsDetected(t *testing.T) {
	err := NewPermanentError(fmt.Errorf("encoder crashed"))
	require.True(t, IsPermanentError(err))
	require.False(t, IsTransientError(err))
}

func TestNewPermanentErrorWithNilCauseReturnsNil(t *testing.T) {
	require.NoError(t, NewPermanentError(nil))
}

func TestPromoteTransientConvertsExhaustedRetry(t *testing.T) {
	cause := fmt.Errorf("remote browser session timeout")
	transient := NewTransientError(cause)

	promoted := PromoteTransient(transient)
	require.True(t, IsPermanentError(promoted))
	require.False(t, IsTransientError(promoted))
	require.ErrorIs(t, promoted, cause)
}

func TestPromoteTransientLeavesOtherErrorsUnchanged(t *testing.T) {
	err := NewValidationError("bad input")
	require.Equal(t, err, PromoteTransient(err))
}

func TestCancelledErrorIsDistinctFromPermanent(t *testing.T) {
	err := NewCancelledError()
	require.True(t, IsCancelledError(err))
	require.False(t, IsPermanentError(err))
	require.False(t, IsTransientError(err))
}

func TestFatalProcessErrorUnwrapsToCause(t *testing.T) {
	cause := fmt.Errorf("missing DATABASE_URL")
	err := NewFatalProcessError(cause)
	require.True(t, IsFatalProcessError(err))
	require.ErrorIs(t, err, cause)
}

func TestSceneRecordErrorUnwrapsToCause(t *testing.T) {
	cause := fmt.Errorf("ffmpeg exited 1")
	err := NewSceneRecordError(cause)
	require.True(t, IsSceneRecordError(err))
	require.ErrorIs(t, err, cause)
}

func TestIsPredicatesRejectUnrelatedErrors(t *testing.T) {
	plain := errors.New("some other error")
	require.False(t, IsValidationError(plain))
	require.False(t, IsTransientError(plain))
	require.False(t, IsPermanentError(plain))
	require.False(t, IsCancelledError(plain))
	require.False(t, IsFatalProcessError(plain))
	require.False(t, IsSceneRecordError(plain))
}

func TestWriteHTTPNotFoundWritesStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	apiErr := WriteHTTPNotFound(rec, "no such route: /bogus", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, http.StatusNotFound, apiErr.Status)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "no such route: /bogus", body["error"])
	require.Empty(t, body["error_detail"])
}

func TestWriteHTTPServiceUnavailableIncludesErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	cause := fmt.Errorf("draining")
	apiErr := WriteHTTPServiceUnavailable(rec, "worker is draining", cause)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	require.Equal(t, cause, apiErr.Err)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "worker is draining", body["error"])
	require.Equal(t, "draining", body["error_detail"])
}

func TestWriteHTTPInternalServerErrorSetsStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTPInternalServerError(rec, "failed to encode health response", fmt.Errorf("broken pipe"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
