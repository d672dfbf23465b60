// Package hostlink owns the Unix-domain listening socket the printer
// host connects to, and the single read loop / write serializer pair
// that speak the terminator-framed protocol over it (spec.md §4.2).
//
// The socket lifecycle (directory/permission prep, stale-socket
// detection) is adapted from the teacher's internal/ipc/pair_socket.go,
// generalized from a single pairing-HTTP-handler peer to the host-link's
// single real-time peer, and from an http.Server onto a raw accept loop
// since the host-link speaks its own framed protocol, not HTTP.
package hostlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/printbridge/gateway/internal/codec"
	apperrors "github.com/printbridge/gateway/internal/errors"
	"github.com/printbridge/gateway/internal/events"
	"github.com/printbridge/gateway/internal/metrics"
)

// ReplyRouter routes a host reply to its pending multiplexer entry.
// *multiplexer.Multiplexer satisfies this interface.
type ReplyRouter interface {
	Complete(id uint64, result json.RawMessage, hostErr error) bool
	FailAll()
}

// BreakerConfig tunes the circuit breaker wrapped around each host
// session, per SPEC_FULL.md §3: it opens after FailureThreshold
// consecutive malformed-frame teardowns, so a wedged host can't
// busy-loop the gateway's accept path. The count is not time-decayed
// (Interval is 0); only a session that ends cleanly resets it.
type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout       time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

// Link is the host-link session: the listener, the current peer
// connection (if any), the endpoint registry, and the write-serializer
// queue.
type Link struct {
	socketPath string
	registry   *Registry
	router     ReplyRouter
	bus        *events.Bus
	logger     zerolog.Logger
	breaker    *gobreaker.CircuitBreaker[any]

	state stateBox

	listener net.Listener
	queue    *frameQueue

	connMu sync.Mutex
	conn   net.Conn
	active bool
}

// New creates a Link bound to socketPath. It does not start listening
// until Run is called.
func New(socketPath string, registry *Registry, router ReplyRouter, bus *events.Bus, logger zerolog.Logger, breakerCfg BreakerConfig) *Link {
	cfg := breakerCfg.withDefaults()
	l := &Link{
		socketPath: socketPath,
		registry:   registry,
		router:     router,
		bus:        bus,
		logger:     logger,
		queue:      newFrameQueue(),
	}
	l.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "hostlink",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("host-link circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return l
}

// SetRouter binds the reply router after construction, breaking the
// construction cycle between Link and *multiplexer.Multiplexer: the
// multiplexer needs Link as its StateProvider/Sender, but Link needs the
// multiplexer as its ReplyRouter.
func (l *Link) SetRouter(router ReplyRouter) {
	l.router = router
}

// State returns the current server-state.
func (l *Link) State() State {
	return l.state.get()
}

// Ready implements multiplexer.StateProvider.
func (l *Link) Ready() bool {
	return l.state.Ready()
}

// Run prepares the Unix socket, starts the write serializer, and accepts
// host sessions until stop is closed.
func (l *Link) Run(stop <-chan struct{}) error {
	if err := l.listen(); err != nil {
		return err
	}
	defer l.listener.Close()

	go l.writeLoop()
	go func() {
		<-stop
		l.queue.close()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return fmt.Errorf("hostlink: accept failed: %w", err)
			}
		}

		if !l.acquire(conn) {
			l.logger.Warn().Msg("refused second concurrent host connection")
			conn.Close()
			continue
		}

		go l.runSession(conn)
	}
}

func (l *Link) listen() error {
	if l.socketPath == "" {
		return fmt.Errorf("hostlink: socket path is empty")
	}
	if err := l.prepareSocketDir(); err != nil {
		return err
	}
	if err := l.ensureSocketAvailable(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return fmt.Errorf("hostlink: failed to listen on %s: %w", l.socketPath, err)
	}
	if err := os.Chmod(l.socketPath, 0600); err != nil {
		listener.Close()
		os.Remove(l.socketPath)
		return fmt.Errorf("hostlink: failed to set socket permissions: %w", err)
	}

	l.listener = listener
	return nil
}

func (l *Link) prepareSocketDir() error {
	dir := filepath.Dir(l.socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("hostlink: failed to create socket directory: %w", err)
	}
	return os.Chmod(dir, 0700)
}

func (l *Link) ensureSocketAvailable() error {
	info, err := os.Stat(l.socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("hostlink: failed to stat socket: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("hostlink: socket path is not a socket: %s", l.socketPath)
	}

	conn, err := net.DialTimeout("unix", l.socketPath, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("hostlink: socket already in use: %s", l.socketPath)
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("hostlink: permission denied accessing socket: %w", err)
	}

	if err := os.Remove(l.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hostlink: failed to remove stale socket: %w", err)
	}
	return nil
}

func (l *Link) acquire(conn net.Conn) bool {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.active {
		return false
	}
	l.active = true
	l.conn = conn
	return true
}

func (l *Link) release() {
	l.connMu.Lock()
	l.active = false
	l.conn = nil
	l.connMu.Unlock()
}

func (l *Link) runSession(conn net.Conn) {
	defer l.release()
	defer conn.Close()

	l.state.set(StateConnecting)
	l.publishState("connecting")

	_, err := l.breaker.Execute(func() (any, error) {
		return nil, l.serve(conn)
	})

	l.teardown(err)
}

func (l *Link) serve(conn net.Conn) error {
	l.state.set(StateInitializing)
	l.publishState("initializing")

	dec := codec.NewDecoder(conn)
	for {
		raw, err := dec.ReadMessage()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return apperrors.CorruptFrame(err)
		}
		l.dispatch(raw)
	}
}

func (l *Link) teardown(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Warn().Err(err).Msg("host-link session ended")
	}
	l.state.set(StateDisconnected)
	l.registry.Clear()
	l.router.FailAll()
	l.publishState("disconnect")
}

func (l *Link) publishState(state string) {
	metrics.HostLinkState.Set(float64(l.state.get()))
	if l.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"state": state})
	if err := l.bus.Publish(events.TopicKlippyStateChange, payload); err != nil {
		l.logger.Error().Err(err).Msg("failed to publish klippy state change")
	}
}

// Send implements multiplexer.Sender, enqueueing a request frame for the
// write serializer.
func (l *Link) Send(id uint64, remoteMethod string, args json.RawMessage) error {
	envelope := struct {
		ID     uint64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}{ID: id, Method: remoteMethod, Params: args}

	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf).WriteMessage(envelope); err != nil {
		return fmt.Errorf("hostlink: marshal request: %w", err)
	}
	l.queue.push(buf.Bytes())
	return nil
}

// writeLoop drains the frame queue and writes each already-framed message
// to the current connection. Frames are pre-encoded (terminator included)
// by Send, so this writes them verbatim via conn.Write rather than
// re-encoding through codec.Encoder.
func (l *Link) writeLoop() {
	for {
		frame, ok := l.queue.pop()
		if !ok {
			return
		}
		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.logger.Warn().Msg("dropped outbound frame, no connected host")
			continue
		}
		if _, err := conn.Write(frame); err != nil {
			l.logger.Warn().Err(err).Msg("failed to write frame to host")
		}
	}
}

type inboundEnvelope struct {
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
	ID         *uint64         `json:"id"`
	IsResponse bool            `json:"is_response"`
	Result     json.RawMessage `json:"result"`
	Error      *hostErrorBody  `json:"error"`
}

type hostErrorBody struct {
	Message string `json:"message"`
}

type registerRemoteMethodParams struct {
	Path         string   `json:"path"`
	Methods      []string `json:"methods"`
	RemoteMethod string   `json:"remote_method"`
}

func (l *Link) dispatch(raw json.RawMessage) {
	var msg inboundEnvelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		l.logger.Warn().Err(err).Msg("dropping unparseable frame")
		return
	}

	if msg.IsResponse && msg.ID != nil {
		var hostErr error
		if msg.Error != nil {
			hostErr = errors.New(msg.Error.Message)
		}
		if !l.router.Complete(*msg.ID, msg.Result, hostErr) {
			l.logger.Debug().Uint64("id", *msg.ID).Msg("dropping reply for unknown or expired request")
		}
		return
	}

	switch msg.Method {
	case "set_config":
		cfg, err := parseProtocolConfig(msg.Params)
		if err != nil {
			l.logger.Warn().Err(err).Msg("malformed set_config params")
			return
		}
		l.forwardConfig(cfg)

	case "register_remote_method":
		var p registerRemoteMethodParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			l.logger.Warn().Err(err).Msg("malformed register_remote_method params")
			return
		}
		l.registry.Register(p.Path, EndpointInfo{Methods: p.Methods, RemoteMethod: p.RemoteMethod})

	case "set_klippy_ready":
		l.state.set(StateReady)
		l.publishState("ready")

	case "set_klippy_disconnect":
		l.state.set(StateDisconnected)
		l.registry.Clear()
		l.router.FailAll()
		l.publishState("disconnect")

	case "set_klippy_shutdown":
		l.state.set(StateShutdown)
		l.registry.Clear()
		l.router.FailAll()
		l.publishState("shutdown")

	case "process_gcode_response":
		l.forward(events.TopicGcodeResponse, msg.Params)

	case "process_filelist_change":
		l.forward(events.TopicFilelistChange, msg.Params)

	case "process_status_update":
		l.forward(events.TopicStatusUpdate, msg.Params)

	default:
		l.logger.Debug().Str("method", msg.Method).Msg("unhandled host-link method")
	}
}

// forwardConfig republishes a host-pushed protocol config for
// cmd/gatewayd to apply to the multiplexer, subscription engine, and
// auth gate; internal/hostlink itself has no business mutating any of
// those directly.
func (l *Link) forwardConfig(cfg ProtocolConfig) {
	if l.bus == nil {
		return
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to marshal pushed protocol config")
		return
	}
	if err := l.bus.Publish(events.TopicConfigPushed, payload); err != nil {
		l.logger.Error().Err(err).Msg("failed to publish pushed protocol config")
	}
}

func (l *Link) forward(topic string, payload json.RawMessage) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Publish(topic, payload); err != nil {
		l.logger.Error().Err(err).Str("topic", topic).Msg("failed to forward host event")
	}
}
