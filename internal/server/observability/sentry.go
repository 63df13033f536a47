// Package observability wires error reporting.
package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryInit = sentry.Init

// InitSentry enables reporting when dsn is set; otherwise it is a no-op and
// sentry calls elsewhere go nowhere.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	return sentryInit(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
