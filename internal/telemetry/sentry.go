// Package telemetry wires optional Sentry error reporting.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init initializes the Sentry client. An empty DSN disables reporting and
// turns CaptureError and Flush into no-ops.
func Init(dsn, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	})
	if err != nil {
		return fmt.Errorf("initializing sentry: %w", err)
	}
	return nil
}

// CaptureError reports err to Sentry if a client is configured.
func CaptureError(err error) {
	if hub := sentry.CurrentHub(); hub.Client() != nil {
		hub.CaptureException(err)
	}
}

// Flush waits for buffered events to be delivered. Safe to call when
// Sentry is disabled.
func Flush() {
	if hub := sentry.CurrentHub(); hub.Client() != nil {
		sentry.Flush(2 * time.Second)
	}
}
