package log

import (
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var default_logger_cache_expiry = 6 * time.Hour

// logDestination is where every logger built by newLogger writes.
var logDestination io.Writer = os.Stderr

func init() {
	loggerCache = cache.New(default_logger_cache_expiry, 10*time.Minute)
}

// AddContext permanently adds context to the logger for renderID. Any future
// logging for this render will include this context.
func AddContext(renderID string, keyvals ...interface{}) {
	logger := kitlog.With(getLogger(renderID), redactKeyvals(keyvals...)...)

	err := loggerCache.Replace(renderID, logger, default_logger_cache_expiry)
	if err != nil {
		_ = logger.Log("msg", "error replacing logger in cache: "+err.Error())
	}
}

func Log(renderID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(renderID), "msg", message).Log(redactKeyvals(keyvals...)...)
}

// LogNoRequestID logs in situations where we don't have a render ID, e.g.
// the health server or the disk reaper. Should be used sparingly.
func LogNoRequestID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(redactKeyvals(keyvals...)...)
}

func LogError(renderID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(renderID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(redactKeyvals(keyvals...)...)
}

func getLogger(renderID string) kitlog.Logger {
	logger, found := loggerCache.Get(renderID)
	if found {
		return logger.(kitlog.Logger)
	}

	newLogger := kitlog.With(newLogger(), "render_id", renderID)
	err := loggerCache.Add(renderID, newLogger, default_logger_cache_expiry)
	if err != nil {
		_ = newLogger.Log("msg", "error adding logger to cache", "render_id", renderID, "err", err.Error())
	}
	return newLogger
}

func newLogger() kitlog.Logger {
	newLogger := kitlog.NewLogfmtLogger(log.NewSyncWriter(logDestination))
	return kitlog.With(newLogger, "ts", kitlog.DefaultTimestampUTC, "component", "renderworker")
}

func redactKeyvals(keyvals ...interface{}) []interface{} {
	var res []interface{}
	for i := range keyvals {
		if i%2 == 1 {
			k, v := keyvals[i-1], keyvals[i]
			res = append(res, k)
			switch s := v.(type) {
			case string:
				res = append(res, RedactURL(s))
			case url.URL:
				res = append(res, s.Redacted())
			case *url.URL:
				if s != nil {
					res = append(res, s.Redacted())
				}
			default:
				res = append(res, v)
			}
		}
	}
	return res
}

// RedactURL strips credentials/query secrets from storage and remote-browser
// URLs before they hit stdout/stderr; job payloads carry signed URLs.
func RedactURL(str string) string {
	strLower := strings.ToLower(str)
	if !strings.HasPrefix(strLower, "http") && !strings.HasPrefix(strLower, "s3") && !strings.HasPrefix(strLower, "ws") {
		return str
	}

	u, err := url.Parse(str)
	if err != nil {
		return "REDACTED"
	}
	return u.Redacted()
}
