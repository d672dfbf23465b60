package main

import (
	"time"

	"github.com/printbridge/gateway/internal/metrics"
)

// runPendingRequestsSampler polls the multiplexer's pending-table depth
// into the gateway_pending_requests gauge once per second until stop is
// closed, the same 1Hz cadence tempstore.RunFillLoop runs on. A
// dedicated ticker rather than a hook inside RunFillLoop, since
// internal/tempstore has no business importing internal/multiplexer
// just to sample an unrelated gauge.
func runPendingRequestsSampler(stop <-chan struct{}, m metrics.PendingCounter) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			metrics.SamplePendingRequests(m)
		}
	}
}
