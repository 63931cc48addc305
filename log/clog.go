/*
Package log provides structured logging plus a context metadata helper
(clog) for the worker's background goroutines (reaper, disk sweep, health
server) where no render-id context exists.
*/
package log

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/golang/glog"
)

// unique type to prevent assignment.
type clogContextKeyType struct{}

var clogContextKey = clogContextKeyType{}

var defaultLogLevel glog.Level = 3

// metadata is immutable after creation, so callers don't need to lock.
type metadata map[string]any

func init() {
	vFlag := flag.Lookup("v")
	if vFlag != nil {
		// nolint:errcheck
		vFlag.Value.Set(fmt.Sprintf("%d", defaultLogLevel))
	}
}

type VerboseLogger struct {
	level glog.Level
}

// V returns a logger aware of glog -v=[0-9] verbosity levels.
func V(level glog.Level) *VerboseLogger {
	return &VerboseLogger{level: level}
}

func (m metadata) Flat() []any {
	out := []any{}
	for k, v := range m {
		out = append(out, k)
		out = append(out, v)
	}
	return out
}

// WithLogValues returns a new context, adding the provided key/value pairs
// to the logging metadata.
func WithLogValues(ctx context.Context, args ...string) context.Context {
	oldMetadata, _ := ctx.Value(clogContextKey).(metadata)
	if oldMetadata == nil {
		oldMetadata = metadata{}
	}
	newMetadata := metadata{}
	for k, v := range oldMetadata {
		newMetadata[k] = v
	}
	for i := range args {
		if i%2 == 0 {
			continue
		}
		newMetadata[args[i-1]] = args[i]
	}
	return context.WithValue(ctx, clogContextKey, newMetadata)
}

func (v *VerboseLogger) logCtx(ctx context.Context, message string, args ...any) {
	if !glog.V(v.level) {
		return
	}
	var renderID string
	meta, _ := ctx.Value(clogContextKey).(metadata)
	if meta != nil {
		renderID, _ = meta["render_id"].(string)
	}
	allArgs := append([]any{}, meta.Flat()...)
	allArgs = append(allArgs, args...)
	allArgs = append(allArgs, "caller", caller(3))
	if renderID == "" {
		LogNoRequestID(message, allArgs...)
	} else {
		Log(renderID, message, allArgs...)
	}
}

func (v *VerboseLogger) LogCtx(ctx context.Context, message string, args ...any) {
	v.logCtx(ctx, message, args...)
}

func LogCtx(ctx context.Context, message string, args ...any) {
	V(defaultLogLevel).logCtx(ctx, message, args...)
}

// caller returns a filename relative to the module root, e.g. workerloop/loop.go:58
func caller(depth int) string {
	_, myfile, _, _ := runtime.Caller(0)
	rootDir := filepath.Join(filepath.Dir(myfile), "..")
	_, file, line, _ := runtime.Caller(depth)
	rel, _ := filepath.Rel(rootDir, file)
	return rel + ":" + strconv.Itoa(line)
}
