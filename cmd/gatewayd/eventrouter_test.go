package main

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/printbridge/gateway/internal/events"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	method string
	params json.RawMessage
}

func (f *fakeNotifier) BroadcastNotification(method string, params json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{method: method, params: append(json.RawMessage{}, params...)})
}

func (f *fakeNotifier) lastCall() (notifyCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return notifyCall{}, false
	}
	return f.calls[len(f.calls)-1], true
}

func waitForCall(t *testing.T, n *fakeNotifier) notifyCall {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if call, ok := n.lastCall(); ok {
			return call
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a forwarded notification")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRunEventRouterForwardsGcodeResponse(t *testing.T) {
	bus := events.New(nil)
	defer bus.Close()
	n := &fakeNotifier{}
	stop := make(chan struct{})
	go runEventRouter(stop, bus, n, testLogger())
	defer close(stop)

	if err := bus.Publish(events.TopicGcodeResponse, []byte(`"Hello"`)); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	call := waitForCall(t, n)
	if call.method != "notify_gcode_response" {
		t.Errorf("method = %q, want notify_gcode_response", call.method)
	}
	if string(call.params) != `"Hello"` {
		t.Errorf("params = %s, want \"Hello\"", call.params)
	}
}

func TestRunEventRouterForwardsFilelistChange(t *testing.T) {
	bus := events.New(nil)
	defer bus.Close()
	n := &fakeNotifier{}
	stop := make(chan struct{})
	go runEventRouter(stop, bus, n, testLogger())
	defer close(stop)

	payload := []byte(`[{"filename":"a.gcode","size":10}]`)
	if err := bus.Publish(events.TopicFilelistChange, payload); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	call := waitForCall(t, n)
	if call.method != "notify_filelist_changed" {
		t.Errorf("method = %q, want notify_filelist_changed", call.method)
	}
}

func TestRunEventRouterForwardsStatusUpdate(t *testing.T) {
	bus := events.New(nil)
	defer bus.Close()
	n := &fakeNotifier{}
	stop := make(chan struct{})
	go runEventRouter(stop, bus, n, testLogger())
	defer close(stop)

	payload := []byte(`{"toolhead":{"position":[0,0,0]}}`)
	if err := bus.Publish(events.TopicStatusUpdate, payload); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	call := waitForCall(t, n)
	if call.method != "notify_status_update" {
		t.Errorf("method = %q, want notify_status_update", call.method)
	}
}

func TestRunEventRouterUnwrapsKlippyStateIntoBareStringParam(t *testing.T) {
	bus := events.New(nil)
	defer bus.Close()
	n := &fakeNotifier{}
	stop := make(chan struct{})
	go runEventRouter(stop, bus, n, testLogger())
	defer close(stop)

	payload, _ := json.Marshal(map[string]string{"state": "ready"})
	if err := bus.Publish(events.TopicKlippyStateChange, payload); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	call := waitForCall(t, n)
	if call.method != "notify_klippy_state_changed" {
		t.Errorf("method = %q, want notify_klippy_state_changed", call.method)
	}
	if string(call.params) != `"ready"` {
		t.Errorf("params = %s, want \"ready\"", call.params)
	}
}

func TestRunEventRouterStopsOnStopChannelClose(t *testing.T) {
	bus := events.New(nil)
	defer bus.Close()
	n := &fakeNotifier{}
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- runEventRouter(stop, bus, n, testLogger()) }()

	close(stop)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error on stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runEventRouter did not return after stop was closed")
	}
}

func TestKlippyStateParamRejectsMalformedPayload(t *testing.T) {
	if _, err := klippyStateParam([]byte("not json")); err == nil {
		t.Error("expected an error for malformed payload")
	}
}
