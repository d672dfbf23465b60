package surface

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/printbridge/gateway/internal/errors"
)

// HTTPOnceHandle fulfills exactly once (sync.Once, then closing done), adapting
// the teacher's CLI-approval response-channel shape
// (internal/server/approval.go) to an HTTP request/response cycle: the
// handler blocks on done until Resolve/Reject fires or the request
// context is cancelled (client disconnect abandons the slot, per
// spec.md §5).
type HTTPOnceHandle struct {
	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

// NewHTTPOnceHandle creates an unfulfilled handle.
func NewHTTPOnceHandle() *HTTPOnceHandle {
	return &HTTPOnceHandle{done: make(chan struct{})}
}

// Resolve implements multiplexer.ClientHandle.
func (h *HTTPOnceHandle) Resolve(result json.RawMessage) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}

// Reject implements multiplexer.ClientHandle.
func (h *HTTPOnceHandle) Reject(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Wait blocks until the handle is fulfilled or ctxDone fires first, in
// which case ok is false and the caller must Abandon the correlation id
// with the multiplexer.
func (h *HTTPOnceHandle) Wait(ctxDone <-chan struct{}) (result json.RawMessage, err error, ok bool) {
	select {
	case <-h.done:
		return h.result, h.err, true
	case <-ctxDone:
		return nil, nil, false
	}
}

// writeHTTPResult writes the spec.md §4.3 HTTP result conversion:
// {result: <value>} on success (200), or {error: <message>} with the
// status writeHTTPError maps the error code to (500 by default).
func writeHTTPResult(w http.ResponseWriter, result json.RawMessage, err error) {
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{"result": result})
}

func writeHTTPError(w http.ResponseWriter, err error) {
	code, message := apperrors.ToCodeAndMessage(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeNotFound, apperrors.CodeUnknownEndpoint:
		status = http.StatusNotFound
	case apperrors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.CodeForbidden:
		status = http.StatusForbidden
	case apperrors.CodeBadRequest:
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

const defaultRequestTimeout = 30 * time.Second

// wsHandle is HTTPOnceHandle's WebSocket counterpart: the same
// once-fulfilled shape, waited on from a per-request goroutine instead
// of the request handler itself, since a WS connection serves many
// concurrent in-flight requests rather than one.
type wsHandle struct {
	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newWSHandle() *wsHandle {
	return &wsHandle{done: make(chan struct{})}
}

func (h *wsHandle) Resolve(result json.RawMessage) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}

func (h *wsHandle) Reject(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *wsHandle) wait(connDone <-chan struct{}) (result json.RawMessage, err error, ok bool) {
	select {
	case <-h.done:
		return h.result, h.err, true
	case <-connDone:
		return nil, nil, false
	}
}
