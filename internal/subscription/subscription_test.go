package subscription

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/printbridge/gateway/internal/multiplexer"
	"github.com/printbridge/gateway/internal/tempstore"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	lastArg map[string]interface{}
	handle  multiplexer.ClientHandle
}

func (f *fakeSubmitter) Submit(endpoint string, args map[string]interface{}, handle multiplexer.ClientHandle) (uint64, error) {
	f.mu.Lock()
	f.calls++
	f.lastArg = args
	f.handle = handle
	f.mu.Unlock()
	return uint64(f.calls), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	connID  string
	objects map[string]json.RawMessage
}

func (f *fakeNotifier) NotifyStatusUpdate(connID string, objects map[string]json.RawMessage) {
	f.mu.Lock()
	f.calls = append(f.calls, notifyCall{connID: connID, objects: objects})
	f.mu.Unlock()
}

func newTestEngine() (*Engine, *fakeSubmitter, *fakeNotifier) {
	cfg := Config{
		TickTime: 100 * time.Millisecond,
		Tiers:    [6][]string{{"extruder"}, nil, nil, nil, nil, nil},
	}
	sub := &fakeSubmitter{}
	notif := &fakeNotifier{}
	e := New(cfg, sub, tempstore.NewStore(), notif, zerolog.Nop())
	return e, sub, notif
}

func TestTierPeriodDoubling(t *testing.T) {
	cfg := Config{TickTime: 250 * time.Millisecond}
	for tier, want := range map[int]time.Duration{
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		4: 2 * time.Second,
		5: 4 * time.Second,
		6: 8 * time.Second,
	} {
		if got := cfg.TierPeriod(tier); got != want {
			t.Errorf("TierPeriod(%d) = %v, want %v", tier, got, want)
		}
	}
}

func TestComputeObjectTiersFastestWins(t *testing.T) {
	cfg := Config{Tiers: [6][]string{
		{"extruder"},
		nil,
		{"extruder", "heater_bed"},
		nil,
		nil,
		nil,
	}}
	tiers := computeObjectTiers(cfg)
	if tiers["extruder"] != 1 {
		t.Errorf("extruder tier = %d, want 1", tiers["extruder"])
	}
	if tiers["heater_bed"] != 3 {
		t.Errorf("heater_bed tier = %d, want 3", tiers["heater_bed"])
	}
}

func TestUnnamedObjectDefaultsToTierFour(t *testing.T) {
	e, _, _ := newTestEngine()
	if got := e.tierFor("toolhead"); got != defaultTier {
		t.Errorf("tierFor(unnamed) = %d, want %d", got, defaultTier)
	}
}

func TestSubscribeRegistersObjectAtItsTier(t *testing.T) {
	e, _, _ := newTestEngine()
	e.Subscribe("conn1", map[string]map[string]bool{"extruder": {"temperature": true}})

	e.mu.Lock()
	_, polled := e.tierObjects[0]["extruder"]
	e.mu.Unlock()
	if !polled {
		t.Error("extruder not registered in tier 1's polled set")
	}

	current := e.Current("conn1")
	if current["extruder"] != e.cfg.TierPeriod(1) {
		t.Errorf("Current()[extruder] = %v, want tier 1 period", current["extruder"])
	}
}

func TestUnsubscribeAllClearsObjectWithNoRemainingSubscribers(t *testing.T) {
	e, _, _ := newTestEngine()
	e.Subscribe("conn1", map[string]map[string]bool{"extruder": {"temperature": true}})
	e.UnsubscribeAll("conn1")

	e.mu.Lock()
	_, polled := e.tierObjects[0]["extruder"]
	e.mu.Unlock()
	if polled {
		t.Error("extruder still in tier 1's polled set after last subscriber unsubscribed")
	}
	if e.Current("conn1") != nil {
		t.Error("Current() should be empty after UnsubscribeAll")
	}
}

func TestUnsubscribeAllKeepsObjectForOtherSubscribers(t *testing.T) {
	e, _, _ := newTestEngine()
	e.Subscribe("conn1", map[string]map[string]bool{"extruder": {"temperature": true}})
	e.Subscribe("conn2", map[string]map[string]bool{"extruder": {"temperature": true}})
	e.UnsubscribeAll("conn1")

	e.mu.Lock()
	_, polled := e.tierObjects[0]["extruder"]
	e.mu.Unlock()
	if !polled {
		t.Error("extruder dropped from tier 1 even though conn2 is still subscribed")
	}
}

func TestPollCoalescesWhileInFlight(t *testing.T) {
	e, sub, _ := newTestEngine()
	e.Subscribe("conn1", map[string]map[string]bool{"extruder": {"temperature": true}})

	e.poll(1)
	if sub.calls != 1 {
		t.Fatalf("calls after first poll = %d, want 1", sub.calls)
	}

	e.poll(1)
	if sub.calls != 1 {
		t.Errorf("calls after second poll while in-flight = %d, want 1 (coalesced)", sub.calls)
	}
}

func TestPollSkippedWhenNoObjectsSubscribed(t *testing.T) {
	e, sub, _ := newTestEngine()
	e.poll(2)
	if sub.calls != 0 {
		t.Errorf("calls = %d, want 0 for tier with no subscribed objects", sub.calls)
	}
}

func TestHandleTierResultRecordsTemperatureAndNotifies(t *testing.T) {
	e, sub, notif := newTestEngine()
	e.Subscribe("conn1", map[string]map[string]bool{"extruder": {"temperature": true}})
	e.poll(1)

	result := json.RawMessage(`{"extruder":{"temperature":205.5,"target":210}}`)
	sub.handle.Resolve(result)

	samples := e.temps.Samples("extruder")
	if len(samples) != 1 || samples[0] != 205.5 {
		t.Fatalf("Samples() = %v, want [205.5]", samples)
	}

	if len(notif.calls) != 1 {
		t.Fatalf("notify calls = %d, want 1", len(notif.calls))
	}
	if notif.calls[0].connID != "conn1" {
		t.Errorf("notified connID = %q, want conn1", notif.calls[0].connID)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(notif.calls[0].objects["extruder"], &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, hasTarget := got["target"]; hasTarget {
		t.Error("notification leaked attribute conn1 did not subscribe to")
	}
	if _, hasTemp := got["temperature"]; !hasTemp {
		t.Error("notification missing subscribed attribute temperature")
	}

	e.mu.Lock()
	inFlight := e.inFlight[0]
	e.mu.Unlock()
	if inFlight {
		t.Error("tier still marked in-flight after Resolve")
	}
}

func TestHandleTierResultDoesNotNotifyUninterestedConnection(t *testing.T) {
	e, sub, notif := newTestEngine()
	e.Subscribe("conn1", map[string]map[string]bool{"extruder": {"temperature": true}})
	e.Subscribe("conn2", map[string]map[string]bool{"heater_bed": {"temperature": true}})
	e.poll(1)

	sub.handle.Resolve(json.RawMessage(`{"extruder":{"temperature":205.5}}`))

	if len(notif.calls) != 1 {
		t.Fatalf("notify calls = %d, want 1", len(notif.calls))
	}
	if notif.calls[0].connID != "conn1" {
		t.Errorf("notified connID = %q, want conn1 only", notif.calls[0].connID)
	}
}

func TestRejectClearsInFlightWithoutNotifying(t *testing.T) {
	e, sub, notif := newTestEngine()
	e.Subscribe("conn1", map[string]map[string]bool{"extruder": {"temperature": true}})
	e.poll(1)

	sub.handle.Reject(apperrorsTimeout())

	if len(notif.calls) != 0 {
		t.Errorf("notify calls = %d, want 0 on reject", len(notif.calls))
	}
	e.mu.Lock()
	inFlight := e.inFlight[0]
	e.mu.Unlock()
	if inFlight {
		t.Error("tier still marked in-flight after Reject")
	}
}

func TestHandleTierResultSendsAllAttributesForEmptyAttrsSubscription(t *testing.T) {
	e, sub, notif := newTestEngine()
	e.Subscribe("conn1", map[string]map[string]bool{"extruder": {}})
	e.poll(1)

	sub.handle.Resolve(json.RawMessage(`{"extruder":{"temperature":205.5,"target":210}}`))

	if len(notif.calls) != 1 {
		t.Fatalf("notify calls = %d, want 1", len(notif.calls))
	}
	var got map[string]interface{}
	if err := json.Unmarshal(notif.calls[0].objects["extruder"], &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, hasTemp := got["temperature"]; !hasTemp {
		t.Error("expected all attributes for an empty-attrs subscription, missing temperature")
	}
	if _, hasTarget := got["target"]; !hasTarget {
		t.Error("expected all attributes for an empty-attrs subscription, missing target")
	}
}

func apperrorsTimeout() error {
	return &timeoutErr{}
}

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "request timed out" }
