// Command renderworker claims scene-render jobs from the queue, drives a
// remote browser to capture each scene, composites the facecam overlay,
// and uploads the final artifact, until told to shut down (§1, §4.7).
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loomrender/renderworker/cachestore"
	"github.com/loomrender/renderworker/config"
	"github.com/loomrender/renderworker/diskmanager"
	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/health"
	"github.com/loomrender/renderworker/jobcache"
	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/mediaops"
	"github.com/loomrender/renderworker/pprof"
	"github.com/loomrender/renderworker/progress"
	"github.com/loomrender/renderworker/queueadapter"
	"github.com/loomrender/renderworker/recorder"
	"github.com/loomrender/renderworker/requests"
	"github.com/loomrender/renderworker/scenepipeline"
	"github.com/loomrender/renderworker/storageadapter"
	"github.com/loomrender/renderworker/workerloop"
)

func main() {
	if err := run(); err != nil {
		log.LogNoRequestID("renderworker exiting with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli, err := config.Load()
	if err != nil {
		return renderworkererrors.NewFatalProcessError(fmt.Errorf("loading configuration: %w", err))
	}

	queue, err := queueadapter.Open(cli.DatabaseURL)
	if err != nil {
		return renderworkererrors.NewFatalProcessError(fmt.Errorf("connecting to queue database: %w", err))
	}

	storage, err := newStorageAdapter(cli)
	if err != nil {
		return renderworkererrors.NewFatalProcessError(err)
	}

	media := mediaops.New()

	browser := recorder.NewBrowserClient(cli.RemoteBrowserBaseURL, cli.RemoteBrowserAPIKey)
	sceneRecorder := recorder.New(browser, recorder.Params{
		Width:        1920,
		Height:       1080,
		RecordMargin: config.RecordMarginSec * time.Second,
	})

	cache := cachestore.New(cli.CacheDir, media.Prober)
	disk := diskmanager.New(cli.WorkingDir)
	disk.SuccessAfter = time.Duration(cli.SuccessRenderRetentionHours) * time.Hour
	disk.FailureAfter = time.Duration(cli.FailedRenderRetentionDays) * 24 * time.Hour
	disk.ReaperMaxAge = time.Duration(cli.CleanupMaxAgeDays) * 24 * time.Hour
	disk.CacheDir = cli.CacheDir
	disk.CacheTTL = cli.CacheTTL

	pipeline := scenepipeline.New(sceneRecorder, cache, media)

	tracker := jobcache.NewTracker()
	cap := config.NewConcurrencyCap(cli.MaxConcurrentJobs)

	loop := workerloop.New(queue, storage, httpFetcher{client: http.DefaultClient}, pipeline, cap, tracker, disk, cli.WorkingDir)
	loop.PollInterval = cli.PollInterval

	healthServer := health.New(tracker, cap.Get)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := healthServer.ListenAndServe(ctx, cli.HealthPort); err != nil {
		return renderworkererrors.NewFatalProcessError(fmt.Errorf("starting health server: %w", err))
	}

	if cli.PprofPort != 0 {
		go func() {
			if err := pprof.ListenAndServe(cli.PprofPort); err != nil {
				log.LogNoRequestID("pprof listener stopped", "error", err)
			}
		}()
	}

	stop := make(chan struct{})
	if cli.CleanupEnabled {
		go disk.RunReaperLoop(stop)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	select {
	case sig := <-sigCh:
		log.LogNoRequestID("received shutdown signal, draining", "signal", sig.String())
		cancel()
	case <-loopDone:
		return nil
	}

	select {
	case <-loopDone:
	case <-sigCh:
		log.LogNoRequestID("second shutdown signal received, forcing exit")
		os.Exit(1)
	}

	close(stop)
	return nil
}

func newStorageAdapter(cli config.Cli) (workerloop.Storage, error) {
	if cli.S3Bucket != "" {
		adapter, err := storageadapter.NewS3Adapter(context.Background(), storageadapter.S3Options{
			Bucket:   cli.S3Bucket,
			Region:   cli.S3Region,
			Endpoint: cli.S3Endpoint,
		}, cli.CDNBaseURL)
		if err != nil {
			return nil, fmt.Errorf("constructing S3 storage adapter: %w", err)
		}
		return adapter, nil
	}

	return storageadapter.New(cli.StorageBaseURL, cli.StorageZone, cli.StorageAccessKey, cli.CDNBaseURL, cli.PullZonePurgeURL, cli.PullZonePurgeKey), nil
}

// httpFetcher is the default workerloop.InputFetcher: a plain HTTP GET
// streamed to disk.
type httpFetcher struct {
	client *http.Client
}

func (f httpFetcher) Fetch(ctx context.Context, renderID, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	requests.SetCorrelationID(req)
	resp, err := f.client.Do(req)
	if err != nil {
		return renderworkererrors.NewTransientError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetching %s: unexpected status %d", log.RedactURL(url), resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	hasher := progress.NewReadHasher(resp.Body)
	written, err := io.Copy(out, hasher)
	if err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	log.Log(renderID, "fetched job input asset", "url", log.RedactURL(url), "bytes", written, "sha256", hasher.SHA256())
	return nil
}
