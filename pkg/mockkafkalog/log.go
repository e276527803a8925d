// Package mockkafkalog is the cluster's logging facility, go-kit/log in the
// teacher's own idiom (cmd/tempo/main.go initializes a package-level
// log.Logger and filters it by a configured level).
package mockkafkalog

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the package-level structured logger every mockcluster component
// logs through. It defaults to info level with no caller filtering applied
// until InitLogger is called.
var Logger = newDefault()

func newDefault() log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return level.NewFilter(l, level.AllowInfo())
}

// InitLogger rebuilds Logger with the given minimum level ("debug", "info",
// "warn", "error"). An unrecognized level falls back to info, matching the
// teacher's fail-open posture for log configuration.
func InitLogger(levelStr string) {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var filter level.Option
	switch levelStr {
	case "debug":
		filter = level.AllowDebug()
	case "warn":
		filter = level.AllowWarn()
	case "error":
		filter = level.AllowError()
	default:
		filter = level.AllowInfo()
	}
	Logger = level.NewFilter(l, filter)
}
