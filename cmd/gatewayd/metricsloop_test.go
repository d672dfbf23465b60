package main

import (
	"testing"
	"time"
)

type fakePendingCounter struct {
	count int
}

func (f *fakePendingCounter) PendingCount() int { return f.count }

func TestRunPendingRequestsSamplerStopsOnStopChannelClose(t *testing.T) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		runPendingRequestsSampler(stop, &fakePendingCounter{count: 3})
		close(done)
	}()

	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runPendingRequestsSampler did not return after stop was closed")
	}
}
