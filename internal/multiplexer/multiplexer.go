// Package multiplexer correlates client requests with host replies over
// the host-link. It is grounded on the teacher's CLI approval broker
// (internal/server/approval.go's ApprovalQueue): a pending map guarded by
// a mutex, one buffered response slot per entry, and a timer-driven
// timeout branch — generalized here from a single CLI-approval slot into
// the gateway's full endpoint-routed pending table.
package multiplexer

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/printbridge/gateway/internal/errors"
)

// ClientHandle is fulfilled exactly once, either with a successful result
// or an error. HTTPOnceHandle and wsHandle (internal/surface) both
// implement it.
type ClientHandle interface {
	Resolve(result json.RawMessage)
	Reject(err error)
}

// Registry resolves an endpoint path to the host's registered remote
// dispatch name. internal/hostlink owns the concrete implementation.
type Registry interface {
	Lookup(endpoint string) (remoteMethod string, ok bool)
}

// StateProvider reports whether the host-link is currently READY, the
// only server-state in which a request may be submitted.
type StateProvider interface {
	Ready() bool
}

// Sender enqueues an outbound frame addressed to the host. The concrete
// implementation (internal/hostlink) owns the single write-serializer
// queue.
type Sender interface {
	Send(id uint64, remoteMethod string, args json.RawMessage) error
}

// Config carries the timeout-resolution inputs pushed by the host after
// connect (request_timeout, long_running_requests, long_running_gcodes).
type Config struct {
	// BaseTimeout is request_timeout; zero defaults to 5s.
	BaseTimeout time.Duration

	// GcodeEndpoint is the path that gets gcode-specific timeout
	// resolution ("/printer/gcode").
	GcodeEndpoint string

	// LongRunningRequests maps endpoint path to an overriding timeout.
	LongRunningRequests map[string]time.Duration

	// LongRunningGcodes maps an uppercased gcode command token to an
	// overriding timeout.
	LongRunningGcodes map[string]time.Duration
}

const defaultBaseTimeout = 5 * time.Second

type pendingEntry struct {
	handle   ClientHandle
	endpoint string
	timer    *time.Timer
}

// Multiplexer is the request/response correlation table described by
// spec.md §4.3.
type Multiplexer struct {
	mu       sync.Mutex
	pending  map[uint64]*pendingEntry
	nextID   uint64
	cfg      Config
	registry Registry
	state    StateProvider
	sender   Sender
}

// New creates a Multiplexer. cfg may be replaced wholesale via SetConfig
// when the host pushes a fresh protocol configuration after reconnect.
func New(cfg Config, registry Registry, state StateProvider, sender Sender) *Multiplexer {
	return &Multiplexer{
		pending:  make(map[uint64]*pendingEntry),
		cfg:      cfg,
		registry: registry,
		state:    state,
		sender:   sender,
	}
}

// SetConfig replaces the timeout-resolution configuration, used when the
// host reconnects and re-pushes its protocol config.
func (m *Multiplexer) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Submit registers a pending entry and forwards the request to the host.
// Preconditions from spec.md §4.3: the host-link must be READY and the
// endpoint must be registered; both fail fast with no pending-table
// mutation.
func (m *Multiplexer) Submit(endpoint string, args map[string]interface{}, handle ClientHandle) (uint64, error) {
	if !m.state.Ready() {
		return 0, apperrors.HostDisconnected()
	}
	remoteMethod, ok := m.registry.Lookup(endpoint)
	if !ok {
		return 0, apperrors.UnknownEndpoint(endpoint)
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return 0, apperrors.BadRequest(fmt.Sprintf("invalid arguments: %v", err))
	}

	id := atomic.AddUint64(&m.nextID, 1)
	timeout := m.resolveTimeout(endpoint, args)

	entry := &pendingEntry{handle: handle, endpoint: endpoint}
	m.mu.Lock()
	m.pending[id] = entry
	m.mu.Unlock()

	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() { m.expire(id) })
	}

	if err := m.sender.Send(id, remoteMethod, argsJSON); err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		if entry.timer != nil {
			entry.timer.Stop()
		}
		return 0, apperrors.Internal("failed to forward request to host", err)
	}

	return id, nil
}

// Complete pops the pending entry for id and fulfills its handle. A
// hostErr fulfills the handle with HostError; otherwise result fulfills
// it as a success. An id with no pending entry (already timed out, or
// never submitted) is silently dropped, per spec.md §4.3's "dropped with
// a log line" — logging is the caller's (internal/hostlink's)
// responsibility since it owns the logger.
func (m *Multiplexer) Complete(id uint64, result json.RawMessage, hostErr error) bool {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}

	if hostErr != nil {
		entry.handle.Reject(apperrors.HostError(hostErr.Error()))
		return true
	}
	entry.handle.Resolve(result)
	return true
}

// Abandon marks id's entry so that a later host reply or timeout is a
// no-op, without removing the slot: the host may still deliver a reply
// for it, and that reply must be dropped rather than routed to a
// now-closed connection (spec.md §5, "abandoned ... dropped on
// arrival"). If the entry has already completed or expired, Abandon is a
// no-op.
func (m *Multiplexer) Abandon(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.pending[id]; ok {
		entry.handle = noopHandle{}
	}
}

// FailAll fulfills every pending entry with HostDisconnected and clears
// the table, called by internal/hostlink when the link tears down.
func (m *Multiplexer) FailAll() {
	m.mu.Lock()
	entries := make([]*pendingEntry, 0, len(m.pending))
	for id, e := range m.pending {
		entries = append(entries, e)
		delete(m.pending, id)
	}
	m.mu.Unlock()

	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.handle.Reject(apperrors.HostDisconnected())
	}
}

// PendingCount reports the current pending-table depth, exposed as a
// Prometheus gauge by internal/metrics.
func (m *Multiplexer) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Multiplexer) expire(id uint64) {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	entry.handle.Reject(apperrors.Timeout(entry.endpoint))
}

// resolveTimeout implements spec.md §4.3's timeout resolution T.
func (m *Multiplexer) resolveTimeout(endpoint string, args map[string]interface{}) time.Duration {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	if cfg.GcodeEndpoint != "" && endpoint == cfg.GcodeEndpoint {
		script, _ := args["script"].(string)
		token := firstToken(script)
		if token != "" {
			if d, ok := cfg.LongRunningGcodes[strings.ToUpper(token)]; ok {
				return d
			}
		}
		// No match: the gcode endpoint has no timeout (infinite
		// deadline), per spec.md §4.3 and its cold-start/timeout
		// scenario — this does not fall back to the base timeout.
		return 0
	}

	if d, ok := cfg.LongRunningRequests[endpoint]; ok {
		return d
	}
	if cfg.BaseTimeout > 0 {
		return cfg.BaseTimeout
	}
	return defaultBaseTimeout
}

// firstToken splits on whitespace and returns the first token, matching
// the host's gcode grammar: a command name followed by space-separated
// parameters (e.g. "G4 P99999" -> "G4"). Comparison against
// long_running_gcodes is case-insensitive on this token only.
func firstToken(script string) string {
	fields := strings.Fields(script)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

type noopHandle struct{}

func (noopHandle) Resolve(json.RawMessage) {}
func (noopHandle) Reject(error)            {}
