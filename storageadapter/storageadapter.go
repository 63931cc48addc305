// Package storageadapter implements StorageAdapter (§4.6): upload of the
// final artifact and thumbnail under a public identifier, and optional CDN
// purge. It is object-store-agnostic: the HTTP backend below satisfies the
// declared PUT contract directly, while the S3 backend (s3.go)
// is wired for deployments that prefer to write straight to a bucket.
package storageadapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/metrics"
)

// Adapter uploads artifacts to an HTTP object store at
// {BaseURL}/{Zone}/renders/{videos,thumbs}/{publicID}.{ext} with an opaque
// access-key header (§6 storage contract), and optionally purges a CDN
// pull zone afterward.
type Adapter struct {
	BaseURL          string
	Zone             string
	AccessKey        string
	CDNBaseURL       string
	PullZonePurgeURL string
	PullZonePurgeKey string
	HTTPClient       *http.Client
}

func New(baseURL, zone, accessKey, cdnBaseURL, purgeURL, purgeKey string) *Adapter {
	return &Adapter{
		BaseURL:          strings.TrimSuffix(baseURL, "/"),
		Zone:             zone,
		AccessKey:        accessKey,
		CDNBaseURL:       strings.TrimSuffix(cdnBaseURL, "/"),
		PullZonePurgeURL: purgeURL,
		PullZonePurgeKey: purgeKey,
		HTTPClient:       &http.Client{Timeout: 5 * time.Minute},
	}
}

// Upload streams finalPath and thumbPath to the store and returns their
// CDN URLs. Each file's upload is retried once inside Upload on a transient
// failure; what Upload returns is classified as Transient or Fatal.
func (a *Adapter) Upload(ctx context.Context, renderID, finalPath, thumbPath, publicID string) (finalURL, thumbURL string, err error) {
	videoKey := fmt.Sprintf("renders/videos/%s.mp4", publicID)
	thumbKey := fmt.Sprintf("renders/thumbs/%s.jpg", publicID)

	if err := a.put(ctx, renderID, finalPath, videoKey, "video/mp4"); err != nil {
		return "", "", err
	}
	if err := a.put(ctx, renderID, thumbPath, thumbKey, "image/jpeg"); err != nil {
		return "", "", err
	}

	return a.publicURL(videoKey), a.publicURL(thumbKey), nil
}

func (a *Adapter) publicURL(key string) string {
	base := a.CDNBaseURL
	if base == "" {
		base = a.BaseURL + "/" + a.Zone
	}
	return base + "/" + key
}

func (a *Adapter) put(ctx context.Context, renderID, localPath, key, contentType string) error {
	storeURL := fmt.Sprintf("%s/%s/%s", a.BaseURL, a.Zone, key)

	operation := func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return backoff.Permanent(renderworkererrors.NewFatalProcessError(fmt.Errorf("opening %s for upload: %w", localPath, err)))
		}
		defer f.Close()

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, storeURL, f)
		if err != nil {
			return backoff.Permanent(renderworkererrors.NewFatalProcessError(fmt.Errorf("building upload request: %w", err)))
		}
		req.Header.Set("Content-Type", contentType)
		if a.AccessKey != "" {
			req.Header.Set("AccessKey", a.AccessKey)
		}

		start := time.Now()
		resp, err := a.HTTPClient.Do(req)
		metrics.Metrics.StorageClient.RequestDuration.WithLabelValues(a.BaseURL).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.Metrics.StorageClient.FailureCount.WithLabelValues(a.BaseURL, "dial").Inc()
			return renderworkererrors.NewTransientError(fmt.Errorf("uploading %s: %w", log.RedactURL(storeURL), err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			metrics.Metrics.StorageClient.FailureCount.WithLabelValues(a.BaseURL, fmt.Sprintf("%d", resp.StatusCode)).Inc()
			return renderworkererrors.NewTransientError(fmt.Errorf("upload returned status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 300 {
			metrics.Metrics.StorageClient.FailureCount.WithLabelValues(a.BaseURL, fmt.Sprintf("%d", resp.StatusCode)).Inc()
			return backoff.Permanent(renderworkererrors.NewFatalProcessError(fmt.Errorf("upload rejected with status %d", resp.StatusCode)))
		}
		return nil
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 3 * time.Second
	backOff.MaxElapsedTime = 0

	// §4.6: one retry at the call site — here, a single extra attempt.
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 1)); err != nil {
		log.LogError(renderID, "failed to upload artifact after retry", err, "key", key)
		return err
	}
	return nil
}

// Purge invalidates the given URLs on the configured CDN pull zone;
// a no-op when pull-zone credentials aren't configured (§4.6).
func (a *Adapter) Purge(ctx context.Context, renderID string, urls []string) error {
	if a.PullZonePurgeURL == "" || a.PullZonePurgeKey == "" {
		return nil
	}

	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil {
			log.LogError(renderID, "skipping purge of unparseable url", err)
			continue
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.PullZonePurgeURL+"?url="+url.QueryEscape(u), nil)
		if err != nil {
			return renderworkererrors.NewTransientError(fmt.Errorf("building purge request: %w", err))
		}
		req.Header.Set("AccessKey", a.PullZonePurgeKey)

		resp, err := a.HTTPClient.Do(req)
		if err != nil {
			return renderworkererrors.NewTransientError(fmt.Errorf("purging %s: %w", path.Base(parsed.Path), err))
		}
		resp.Body.Close()
	}
	return nil
}
