// Package requests generates correlation IDs this worker attaches to its
// own outbound HTTP calls (remote browser sessions, asset fetches), so
// the callee's logs can be cross-referenced with
// ours for a given render.
package requests

import (
	"net/http"

	"github.com/google/uuid"
)

const correlationIDHeader = "X-Request-Id"

// SetCorrelationID attaches a fresh correlation ID to an outbound request
// unless the caller already set one.
func SetCorrelationID(req *http.Request) string {
	if existing := req.Header.Get(correlationIDHeader); existing != "" {
		return existing
	}
	id := uuid.NewString()
	req.Header.Set(correlationIDHeader, id)
	return id
}
