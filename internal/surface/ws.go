package surface

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	apperrors "github.com/printbridge/gateway/internal/errors"
	"github.com/printbridge/gateway/internal/metrics"
)

// Upgrader is the websocket.Upgrader the teacher configures in
// internal/server/server.go; CheckOrigin is permissive here too: the
// upgrade request is admitted by authMiddleware's auth.Gate check, and
// no Origin check is made anywhere on this path.
type Upgrader = websocket.Upgrader

func defaultUpgrader() Upgrader {
	return Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

const (
	wsSendBuffer  = 64
	wsPingPeriod  = 30 * time.Second
	wsWriteWait   = 10 * time.Second
	wsSendTimeout = 2 * time.Second
)

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcNotification struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// wsConn is one live WebSocket connection record (id is a uuid string;
// the connection's subscriptions are held by the subscription engine,
// keyed by id, not on this struct).
// writePump/send-channel/done-channel shape is adapted from the
// teacher's internal/server/client_io.go Client.writePump.
type wsConn struct {
	id        string
	remote    string
	trusted   bool
	authOK    bool
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue delivers payload, blocking for at most wsSendTimeout; per
// spec.md §4.5/§5, a send that would block beyond that connection-local
// threshold closes the connection instead.
func (c *wsConn) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	case <-time.After(wsSendTimeout):
		c.close()
	case <-c.done:
	}
}

type connHub struct {
	mu    sync.RWMutex
	conns map[string]*wsConn
}

func newConnHub() *connHub {
	return &connHub{conns: make(map[string]*wsConn)}
}

func (h *connHub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.WSConnections.Inc()
}

func (h *connHub) remove(id string) {
	h.mu.Lock()
	_, existed := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if existed {
		metrics.WSConnections.Dec()
	}
}

func (h *connHub) get(id string) (*wsConn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// broadcastNotification implements the event router's spec.md §4.5
// fan-out: every open WebSocket gets the notification, best-effort.
func (h *connHub) broadcastNotification(method string, param json.RawMessage) {
	payload, err := json.Marshal(jsonrpcNotification{JSONRPC: "2.0", Method: method, Params: []interface{}{json.RawMessage(param)}})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.enqueue(payload)
	}
}

// BroadcastNotification fans a host-originated event out to every open
// WebSocket connection. cmd/gatewayd's event router calls this for
// notify_gcode_response, notify_filelist_changed, notify_status_update,
// and notify_klippy_state_changed, the four notifications spec.md §4.5
// routes from the host-link to every connected client rather than to
// one subscriber.
func (s *Surface) BroadcastNotification(method string, params json.RawMessage) {
	s.hub.broadcastNotification(method, params)
}

// NotifyStatusUpdate implements subscription.Notifier, delivering a
// filtered status update to exactly one connection.
func (s *Surface) NotifyStatusUpdate(connID string, objects map[string]json.RawMessage) {
	c, ok := s.hub.get(connID)
	if !ok {
		return
	}
	params := make(map[string]json.RawMessage, len(objects))
	for object, attrs := range objects {
		params[object] = attrs
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return
	}
	payload, err := json.Marshal(jsonrpcNotification{JSONRPC: "2.0", Method: "notify_status_update", Params: []interface{}{json.RawMessage(encoded)}})
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (s *Surface) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		writeHTTPError(w, apperrors.Unauthorized())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsConn{
		id:      uuid.NewString(),
		remote:  r.RemoteAddr,
		trusted: principal.Trusted,
		authOK:  principal.AuthOK,
		conn:    conn,
		send:    make(chan []byte, wsSendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(1000), 10),
	}
	s.hub.add(c)

	go s.wsWritePump(c)
	s.wsReadPump(c)
}

func (s *Surface) wsWritePump(c *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Surface) wsReadPump(c *wsConn) {
	defer func() {
		c.close()
		s.hub.remove(c.id)
		s.subs.UnsubscribeAll(c.id)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			continue
		}
		s.handleJSONRPCFrame(c, data)
	}
}

func (s *Surface) handleJSONRPCFrame(c *wsConn, data []byte) {
	var req jsonrpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.enqueue(mustMarshal(jsonrpcResponse{JSONRPC: "2.0", Error: &jsonrpcError{Code: -32700, Message: "parse error"}}))
		return
	}

	path, httpMethod, ok := methodToPath(req.Method)
	if !ok {
		c.enqueue(mustMarshal(jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &jsonrpcError{Code: -32601, Message: "method not found"}}))
		return
	}

	var args map[string]interface{}
	if len(req.Params) > 0 {
		if req.Params[0] == '[' {
			c.enqueue(mustMarshal(jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &jsonrpcError{Code: -32602, Message: "positional params not supported"}}))
			return
		}
		if err := json.Unmarshal(req.Params, &args); err != nil {
			c.enqueue(mustMarshal(jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &jsonrpcError{Code: -32602, Message: "invalid params"}}))
			return
		}
	}
	if args == nil {
		args = make(map[string]interface{})
	}

	if handled := s.handleSubscriptionMethod(c, req, path, httpMethod, args); handled {
		return
	}

	s.dispatchWSRequest(c, req, path, args)
}

func (s *Surface) dispatchWSRequest(c *wsConn, req jsonrpcRequest, path string, args map[string]interface{}) {
	handle := newWSHandle()
	id, err := s.submitter.Submit(path, args, handle)
	if err != nil {
		c.enqueue(mustMarshal(rpcErrorFor(req.ID, err)))
		return
	}

	go func() {
		result, hostErr, ok := handle.wait(c.done)
		if !ok {
			abandon(s.submitter, id)
			return
		}
		if hostErr != nil {
			c.enqueue(mustMarshal(rpcErrorFor(req.ID, hostErr)))
			return
		}
		c.enqueue(mustMarshal(jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}))
	}()
}

func rpcErrorFor(id json.RawMessage, err error) jsonrpcResponse {
	code, message := apperrors.ToCodeAndMessage(err)
	rpcCode := -32603
	if code == apperrors.CodeUnknownEndpoint {
		rpcCode = -32601
	}
	return jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: rpcCode, Message: message}}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal encode error"}}`)
	}
	return b
}

// methodToPath implements spec.md §4.7's JSON-RPC method convention:
// get_X_Y_Z -> GET /X/Y/Z, post_X_Y_Z -> POST /X/Y/Z.
func methodToPath(method string) (path, httpMethod string, ok bool) {
	switch {
	case strings.HasPrefix(method, "get_"):
		httpMethod = http.MethodGet
		method = strings.TrimPrefix(method, "get_")
	case strings.HasPrefix(method, "post_"):
		httpMethod = http.MethodPost
		method = strings.TrimPrefix(method, "post_")
	default:
		return "", "", false
	}
	if method == "" {
		return "", "", false
	}
	return "/" + strings.ReplaceAll(method, "_", "/"), httpMethod, true
}
