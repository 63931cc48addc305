// Package recorder drives a headless browser (over a remote CDP session)
// to load a URL, wait for lazy-loaded widgets, and record a fixed-duration
// capture, returning the raw capture file plus a trim-hint offset (§4.2).
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/metrics"
	"github.com/loomrender/renderworker/requests"
)

// Session is a remote headless-browser session: an id plus the WebSocket
// URL for the Chrome DevTools Protocol (§6 Remote browser contract).
type Session struct {
	ID    string `json:"id"`
	WSURL string `json:"webSocketUrl"`
}

type createSessionRequest struct {
	Width          int  `json:"width"`
	Height         int  `json:"height"`
	Headless       bool `json:"headless"`
	ViewerDisabled bool `json:"viewerDisabled"`
	TimeoutSec     int  `json:"timeoutSeconds"`
}

// BrowserClient talks to the remote-browser service's session-create and
// session-release endpoints.
type BrowserClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewBrowserClient(baseURL, apiKey string) *BrowserClient {
	return &BrowserClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateSession requests a new session pinned to w×h at device-scale 1,
// bounded by timeout (§4.2 step 1).
func (c *BrowserClient) CreateSession(ctx context.Context, renderID string, w, h int, timeout time.Duration) (*Session, error) {
	start := time.Now()
	body := createSessionRequest{
		Width:          w,
		Height:         h,
		Headless:       true,
		ViewerDisabled: true,
		TimeoutSec:     int(timeout.Seconds()),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling session-create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sessions", strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("building session-create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	correlationID := requests.SetCorrelationID(req)

	resp, err := c.HTTPClient.Do(req)
	metrics.Metrics.RemoteBrowserClient.RequestDuration.WithLabelValues(c.BaseURL).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Metrics.RemoteBrowserClient.FailureCount.WithLabelValues(c.BaseURL, "dial").Inc()
		return nil, fmt.Errorf("creating remote browser session (request %s): %w", correlationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.Metrics.RemoteBrowserClient.FailureCount.WithLabelValues(c.BaseURL, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return nil, fmt.Errorf("remote browser session-create returned status %d (request %s)", resp.StatusCode, correlationID)
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decoding session-create response: %w", err)
	}

	if err := probeWebSocket(ctx, sess.WSURL); err != nil {
		log.LogError(renderID, "remote browser session websocket handshake probe failed, proceeding anyway", err, "ws_url", log.RedactURL(sess.WSURL))
	}

	return &sess, nil
}

// ReleaseSession releases a session unconditionally; this is always called
// from a deferred scoped-acquisition block regardless of how recording
// ended (§4.2 step 7).
func (c *BrowserClient) ReleaseSession(ctx context.Context, renderID, sessionID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/sessions/"+sessionID, nil)
	if err != nil {
		log.LogError(renderID, "failed to build session-release request", err)
		return
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.LogError(renderID, "failed to release remote browser session", err, "session_id", sessionID)
		return
	}
	defer resp.Body.Close()
}

// probeWebSocket performs a lightweight handshake-only connect to the
// session's debug-protocol WS URL before handing it to chromedp, so a dead
// session is caught here rather than deep inside chromedp's allocator.
func probeWebSocket(ctx context.Context, wsURL string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return err
	}
	return conn.Close()
}
