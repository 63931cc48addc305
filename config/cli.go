package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Cli is the typed, env-driven process configuration (§6 Process surface).
// Leaf settings are parsed with envconfig exactly once at startup;
// ConcurrencyCap, the one value re-read on a live interval, is modeled
// separately in concurrency.go since it comes from QueueAdapter, not the
// environment.
type Cli struct {
	PollInterval      time.Duration `env:"WORKER_POLL_INTERVAL,default=2s"`
	MaxConcurrentJobs int           `env:"MAX_CONCURRENT_JOBS,default=3"`
	HealthPort        int           `env:"HEALTH_PORT,default=3001"`
	PprofPort         int           `env:"PPROF_PORT,default=0"`

	CleanupEnabled              bool `env:"CLEANUP_ENABLED,default=true"`
	FailedRenderRetentionDays   int  `env:"FAILED_RENDER_RETENTION_DAYS,default=7"`
	SuccessRenderRetentionHours int  `env:"SUCCESS_RENDER_RETENTION_HOURS,default=1"`
	CleanupMaxAgeDays           int  `env:"CLEANUP_MAX_AGE_DAYS,default=30"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	StorageBaseURL   string `env:"STORAGE_BASE_URL,required"`
	StorageAccessKey string `env:"STORAGE_ACCESS_KEY,required"`
	StorageZone      string `env:"STORAGE_ZONE,default=production"`
	CDNBaseURL       string `env:"CDN_BASE_URL"`
	PullZonePurgeURL string `env:"PULL_ZONE_PURGE_URL"`
	PullZonePurgeKey string `env:"PULL_ZONE_PURGE_KEY"`

	S3Bucket   string `env:"S3_BUCKET"`
	S3Region   string `env:"S3_REGION,default=us-east-1"`
	S3Endpoint string `env:"S3_ENDPOINT"`

	RemoteBrowserBaseURL string `env:"REMOTE_BROWSER_BASE_URL,required"`
	RemoteBrowserAPIKey  string `env:"REMOTE_BROWSER_API_KEY"`

	WorkingDir string        `env:"RENDER_WORKING_DIR,default=/tmp/renderworker"`
	CacheDir   string        `env:"RENDER_CACHE_DIR,default=/tmp/renderworker-cache"`
	CacheTTL   time.Duration `env:"RENDER_CACHE_TTL,default=168h"`

	Verbose int `env:"VERBOSE,default=3"`
}

// Load populates Cli from the environment, applying the defaults above.
// A missing required variable is a FatalProcessError at the call site in
// cmd/renderworker, per §7.
func Load() (Cli, error) {
	ctx := context.Background()
	var cli Cli
	if err := envconfig.Process(ctx, &cli); err != nil {
		return Cli{}, err
	}
	return cli, nil
}
