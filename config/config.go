package config

import "time"

var Version string

// Clock lets tests generate fixed timestamps instead of time.Now().
var Clock TimestampGenerator = RealTimestampGenerator{}

// Default poll interval between idle WorkerLoop claim attempts.
const DefaultPollInterval = 2 * time.Second

// Default fleet-wide concurrency cap used before the first successful
// FetchConcurrencyCap call.
const DefaultMaxConcurrentJobs = 3

// Default local HTTP health port, with automatic next-free-port fallback.
const DefaultHealthPort = 3001

const DefaultSuccessRetention = 1 * time.Hour
const DefaultFailureRetention = 7 * 24 * time.Hour
const DefaultReaperMaxAge = 30 * 24 * time.Hour

// How often ConcurrencyCap is allowed to go stale before WorkerLoop
// refreshes it via QueueAdapter.FetchConcurrencyCap (§3).
const ConcurrencyCapRefreshInterval = 15 * time.Second

// Interval for the DiskManager reaper sweep (§4.5).
const ReaperSweepInterval = 24 * time.Hour

// Bounds from §5.
const MaxSceneDurationSec = 300
const MinSceneDurationSec = 1
const DefaultSessionTimeout = 600 * time.Second
const NetworkIdleTimeout = 5 * time.Second
const RecordMarginSec = 30
const MediaOpsTimeout = 10 * time.Minute
const HeartbeatStaleAfter = 60 * time.Second
const DefaultKillTimeout = 30 * time.Second
