package main

import (
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/printbridge/gateway/internal/auth"
	"github.com/printbridge/gateway/internal/multiplexer"
	"github.com/printbridge/gateway/internal/subscription"
	"github.com/printbridge/gateway/internal/tempstore"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type fakeRegistry struct{ method string }

func (f fakeRegistry) Lookup(endpoint string) (string, bool) { return f.method, true }

type fakeState struct{ ready bool }

func (f fakeState) Ready() bool { return f.ready }

type fakeSender struct {
	sent chan struct{}
}

func (f *fakeSender) Send(id uint64, remoteMethod string, args json.RawMessage) error {
	if f.sent != nil {
		f.sent <- struct{}{}
	}
	return nil
}

type fakeHandle struct {
	rejected chan error
}

func (h *fakeHandle) Resolve(result json.RawMessage) {}
func (h *fakeHandle) Reject(err error) {
	if h.rejected != nil {
		h.rejected <- err
	}
}

func TestApplyConfigSetsGateRequireAuthAndSubnets(t *testing.T) {
	gate := &auth.Gate{RequireAuth: true}
	mux := multiplexer.New(multiplexer.Config{}, fakeRegistry{}, fakeState{ready: true}, &fakeSender{})
	engine := subscription.New(subscription.Config{}, mux, tempstore.NewStore(), nil, testLogger())

	payload, _ := json.Marshal(map[string]interface{}{
		"require_auth":    false,
		"trusted_clients": []string{"10.0.0.0/24"},
	})

	applyConfig(payload, mux, engine, gate, testLogger())

	if gate.RequireAuth {
		t.Error("expected RequireAuth to be set to false")
	}
	if gate.Subnets == nil {
		t.Fatal("expected Subnets to be populated")
	}
	if !gate.Subnets.Contains(net.ParseIP("10.0.0.5")) {
		t.Error("expected 10.0.0.5 to fall inside the pushed 10.0.0.0/24 subnet")
	}
}

func TestApplyConfigRejectsInvalidTrustedClientsKeepsPreviousSubnets(t *testing.T) {
	existing, err := auth.NewTrustedSubnets([]string{"192.168.1.0/24"})
	if err != nil {
		t.Fatalf("unexpected error building initial subnets: %v", err)
	}
	gate := &auth.Gate{RequireAuth: true, Subnets: existing}
	mux := multiplexer.New(multiplexer.Config{}, fakeRegistry{}, fakeState{ready: true}, &fakeSender{})
	engine := subscription.New(subscription.Config{}, mux, tempstore.NewStore(), nil, testLogger())

	payload, _ := json.Marshal(map[string]interface{}{
		"trusted_clients": []string{"not-a-cidr"},
	})

	applyConfig(payload, mux, engine, gate, testLogger())

	if gate.Subnets != existing {
		t.Error("expected Subnets to remain the previously configured value after a rejected push")
	}
}

func TestApplyConfigUpdatesSubscriptionTierAssignment(t *testing.T) {
	gate := &auth.Gate{}
	mux := multiplexer.New(multiplexer.Config{}, fakeRegistry{}, fakeState{ready: true}, &fakeSender{})
	engine := subscription.New(subscription.Config{}, mux, tempstore.NewStore(), nil, testLogger())

	engine.Subscribe("conn-1", map[string]map[string]bool{"toolhead": {"position": true}})

	payload, _ := json.Marshal(map[string]interface{}{
		"tick_time":     0.5,
		"status_tier_2": []string{"toolhead"},
	})
	applyConfig(payload, mux, engine, gate, testLogger())

	current := engine.Current("conn-1")
	period, ok := current["toolhead"]
	if !ok {
		t.Fatal("expected toolhead subscription to survive the config push")
	}
	want := 500 * time.Millisecond * 2 // tick_time * 2^(tier-1) for tier 2
	if period != want {
		t.Errorf("toolhead poll period = %v, want %v", period, want)
	}
}

func TestApplyConfigAppliesMultiplexerTimeouts(t *testing.T) {
	gate := &auth.Gate{}
	sender := &fakeSender{sent: make(chan struct{}, 1)}
	mux := multiplexer.New(multiplexer.Config{}, fakeRegistry{method: "printer.gcode.script"}, fakeState{ready: true}, sender)
	engine := subscription.New(subscription.Config{}, mux, tempstore.NewStore(), nil, testLogger())

	payload, _ := json.Marshal(map[string]interface{}{
		"request_timeout": 0.02,
	})
	applyConfig(payload, mux, engine, gate, testLogger())

	handle := &fakeHandle{rejected: make(chan error, 1)}
	if _, err := mux.Submit("/printer/query", nil, handle); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	select {
	case <-sender.sent:
	case <-time.After(time.Second):
		t.Fatal("expected request to be forwarded to host")
	}

	select {
	case err := <-handle.rejected:
		if err == nil {
			t.Fatal("expected a timeout error")
		}
	case <-time.After(time.Second):
		t.Fatal("expected pushed request_timeout of 20ms to fire the timeout path")
	}
}

func TestApplyConfigMalformedPayloadDoesNotPanic(t *testing.T) {
	gate := &auth.Gate{}
	mux := multiplexer.New(multiplexer.Config{}, fakeRegistry{}, fakeState{ready: true}, &fakeSender{})
	engine := subscription.New(subscription.Config{}, mux, tempstore.NewStore(), nil, testLogger())

	applyConfig([]byte("not json"), mux, engine, gate, testLogger())
}

func TestSecondsToDuration(t *testing.T) {
	cases := map[float64]time.Duration{
		0:    0,
		5:    5 * time.Second,
		0.25: 250 * time.Millisecond,
		0.02: 20 * time.Millisecond,
	}
	for seconds, want := range cases {
		if got := secondsToDuration(seconds); got != want {
			t.Errorf("secondsToDuration(%v) = %v, want %v", seconds, got, want)
		}
	}
}
