// Package subscription implements the six-tier status polling engine
// described by spec.md §4.4: one periodic timer per tier, coalesced so
// at most one get_status request per tier is ever in flight, fanning
// out filtered notify_status_update payloads to the subscribers of
// each tier's objects. It is adapted from the teacher's
// internal/pty/manager.go map+mutex session-registry shape, repurposed
// from PTY session lifecycle to per-object subscriber-set lifecycle.
package subscription

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/printbridge/gateway/internal/metrics"
	"github.com/printbridge/gateway/internal/multiplexer"
	"github.com/printbridge/gateway/internal/tempstore"
)

const tierCount = 6
const defaultTier = 4
const defaultTickTime = 250 * time.Millisecond
const defaultStatusEndpoint = "/printer/objects/query"

// Config carries the tier-assignment inputs pushed by the host after
// connect: tick_time and the six status_tier_N object lists.
type Config struct {
	TickTime       time.Duration
	StatusEndpoint string
	Tiers          [tierCount][]string
}

func (c Config) withDefaults() Config {
	if c.TickTime <= 0 {
		c.TickTime = defaultTickTime
	}
	if c.StatusEndpoint == "" {
		c.StatusEndpoint = defaultStatusEndpoint
	}
	return c
}

// TierPeriod returns the polling period for tier (1-indexed, 1..6):
// tick_time * 2^(tier-1).
func (c Config) TierPeriod(tier int) time.Duration {
	return c.TickTime * time.Duration(1<<uint(tier-1))
}

// Submitter is the subset of *multiplexer.Multiplexer the engine needs
// to issue its own get_status requests.
type Submitter interface {
	Submit(endpoint string, args map[string]interface{}, handle multiplexer.ClientHandle) (uint64, error)
}

// Notifier delivers a filtered status update to one connection. The
// concrete implementation (internal/surface) wraps it as a JSON-RPC
// notify_status_update with params as a single-element array, per
// spec.md §4.5.
type Notifier interface {
	NotifyStatusUpdate(connID string, objects map[string]json.RawMessage)
}

// Engine is the subscription engine. One Engine serves the whole
// process; connections are identified by an opaque connID string
// (internal/surface uses the WS connection's uuid).
type Engine struct {
	cfg        Config
	objectTier map[string]int

	submitter Submitter
	temps     *tempstore.Store
	notifier  Notifier
	logger    zerolog.Logger

	mu          sync.Mutex
	conns       map[string]map[string]map[string]bool // connID -> object -> attrs
	refCount    map[string]int                         // object -> number of interested conns
	tierObjects [tierCount]map[string]bool
	inFlight    [tierCount]bool
}

// New creates an Engine from the host-pushed tier configuration.
func New(cfg Config, submitter Submitter, temps *tempstore.Store, notifier Notifier, logger zerolog.Logger) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		submitter: submitter,
		temps:     temps,
		notifier:  notifier,
		logger:    logger,
		conns:     make(map[string]map[string]map[string]bool),
		refCount:  make(map[string]int),
	}
	for i := range e.tierObjects {
		e.tierObjects[i] = make(map[string]bool)
	}
	e.objectTier = computeObjectTiers(cfg)
	return e
}

// SetConfig replaces the tier-assignment configuration, called when the
// host reconnects and re-pushes tick_time/status_tier_1..6. Every
// currently-subscribed object is re-assigned to its new tier so an
// in-flight subscription set survives a host reconnect.
func (e *Engine) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.objectTier = computeObjectTiers(cfg)
	for i := range e.tierObjects {
		e.tierObjects[i] = make(map[string]bool)
	}
	for object := range e.refCount {
		tier := e.tierFor(object)
		e.tierObjects[tier-1][object] = true
	}
}

// SetNotifier binds the notifier after construction, breaking the
// construction cycle between the engine and internal/surface (the
// engine is a constructor argument to surface.New, but the notifier it
// calls back into is the *Surface itself).
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// computeObjectTiers assigns each configured object its fastest tier:
// tiers are scanned 1..6 in order, and the first tier naming an object
// wins, since tier 1 is the fastest.
func computeObjectTiers(cfg Config) map[string]int {
	tiers := make(map[string]int)
	for tier := 1; tier <= tierCount; tier++ {
		for _, obj := range cfg.Tiers[tier-1] {
			if _, ok := tiers[obj]; !ok {
				tiers[obj] = tier
			}
		}
	}
	return tiers
}

func (e *Engine) tierFor(object string) int {
	if t, ok := e.objectTier[object]; ok {
		return t
	}
	return defaultTier
}

// Subscribe merges requests (object -> attrs of interest) into conn's
// subscription record and registers each newly-interesting object
// against its tier's polled set.
func (e *Engine) Subscribe(connID string, requests map[string]map[string]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.conns[connID]
	if !ok {
		record = make(map[string]map[string]bool)
		e.conns[connID] = record
	}

	for object, attrs := range requests {
		existing, hadObject := record[object]
		if !hadObject {
			existing = make(map[string]bool)
			record[object] = existing
			e.refCount[object]++
			tier := e.tierFor(object)
			e.tierObjects[tier-1][object] = true
		}
		for attr := range attrs {
			existing[attr] = true
		}
	}
}

// UnsubscribeAll drops every subscription held by connID, called on WS
// close. An object with no remaining subscribers stops being listed in
// the next poll for its tier.
func (e *Engine) UnsubscribeAll(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.conns[connID]
	if !ok {
		return
	}
	for object := range record {
		e.refCount[object]--
		if e.refCount[object] <= 0 {
			delete(e.refCount, object)
			tier := e.tierFor(object)
			delete(e.tierObjects[tier-1], object)
		}
	}
	delete(e.conns, connID)
}

// Current reports connID's subscribed objects and their effective poll
// period, computed from tier assignment.
func (e *Engine) Current(connID string) map[string]time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.conns[connID]
	if !ok {
		return nil
	}
	out := make(map[string]time.Duration, len(record))
	for object := range record {
		out[object] = e.cfg.TierPeriod(e.tierFor(object))
	}
	return out
}

// RunTier runs tier's periodic poller until stop is closed. This is the
// per-tier service entrypoint internal/supervisor runs as one of its six
// independent restartable tasks.
func (e *Engine) RunTier(tier int, stop <-chan struct{}) {
	period := e.cfg.TierPeriod(tier)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.poll(tier)
		}
	}
}

// poll issues one coalesced get_status request for tier, if no poll for
// that tier is already outstanding. per spec.md §4.4, a tick that fires
// while the previous poll is outstanding is dropped, not queued.
func (e *Engine) poll(tier int) {
	e.mu.Lock()
	if e.inFlight[tier-1] {
		e.mu.Unlock()
		return
	}

	objects := make([]string, 0, len(e.tierObjects[tier-1]))
	attrsByObject := make(map[string]map[string]bool, len(e.tierObjects[tier-1]))
	for object := range e.tierObjects[tier-1] {
		objects = append(objects, object)
		union := make(map[string]bool)
		for _, record := range e.conns {
			if attrs, ok := record[object]; ok {
				for attr := range attrs {
					union[attr] = true
				}
			}
		}
		attrsByObject[object] = union
	}
	if len(objects) == 0 {
		e.mu.Unlock()
		return
	}
	e.inFlight[tier-1] = true
	e.mu.Unlock()
	metrics.SetTierOutstanding(tier, true)

	query := make(map[string]interface{}, len(objects))
	for _, object := range objects {
		attrs := make([]string, 0, len(attrsByObject[object]))
		for attr := range attrsByObject[object] {
			attrs = append(attrs, attr)
		}
		query[object] = attrs
	}
	args := map[string]interface{}{"objects": query}

	_, err := e.submitter.Submit(e.cfg.StatusEndpoint, args, &tierHandle{engine: e, tier: tier})
	if err != nil {
		e.logger.Warn().Err(err).Int("tier", tier).Msg("tier poll submit failed")
		e.clearInFlight(tier)
	}
}

func (e *Engine) clearInFlight(tier int) {
	e.mu.Lock()
	e.inFlight[tier-1] = false
	e.mu.Unlock()
	metrics.SetTierOutstanding(tier, false)
}

// tierHandle implements multiplexer.ClientHandle for the engine's own
// get_status requests.
type tierHandle struct {
	engine *Engine
	tier   int
}

func (h *tierHandle) Resolve(result json.RawMessage) {
	h.engine.handleTierResult(h.tier, result)
	h.engine.clearInFlight(h.tier)
}

func (h *tierHandle) Reject(err error) {
	h.engine.logger.Warn().Err(err).Int("tier", h.tier).Msg("tier poll rejected")
	h.engine.clearInFlight(h.tier)
}

// handleTierResult records temperature samples into internal/tempstore
// and fans out a filtered notify_status_update to every connection whose
// subscription intersects the returned objects.
func (e *Engine) handleTierResult(tier int, result json.RawMessage) {
	var payload map[string]map[string]interface{}
	if err := json.Unmarshal(result, &payload); err != nil {
		e.logger.Warn().Err(err).Int("tier", tier).Msg("malformed get_status reply")
		return
	}

	for object, attrs := range payload {
		if temp, ok := numberAttr(attrs, "temperature"); ok {
			e.temps.Record(object, temp)
		}
	}

	e.mu.Lock()
	targets := make(map[string]map[string]map[string]bool)
	for connID, record := range e.conns {
		filtered := make(map[string]map[string]bool)
		for object := range payload {
			// An object present in the subscriber's record is of
			// interest regardless of how many attrs were requested:
			// an empty attrs set means "all attributes", not "none".
			if attrs, ok := record[object]; ok {
				filtered[object] = attrs
			}
		}
		if len(filtered) > 0 {
			targets[connID] = filtered
		}
	}
	e.mu.Unlock()

	for connID, filtered := range targets {
		out := make(map[string]json.RawMessage, len(filtered))
		for object, attrs := range filtered {
			subset := make(map[string]interface{}, len(attrs))
			if len(attrs) == 0 {
				for attr, value := range payload[object] {
					subset[attr] = value
				}
			} else {
				for attr := range attrs {
					if value, ok := payload[object][attr]; ok {
						subset[attr] = value
					}
				}
			}
			encoded, err := json.Marshal(subset)
			if err != nil {
				continue
			}
			out[object] = encoded
		}
		if e.notifier != nil {
			e.notifier.NotifyStatusUpdate(connID, out)
		}
	}
}

func numberAttr(attrs map[string]interface{}, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
