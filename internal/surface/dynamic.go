package surface

import (
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/printbridge/gateway/internal/errors"
)

// handleDynamic is the catch-all consulting the live host registry on
// every request, per SPEC_FULL.md §5.7: this matches spec.md's
// "endpoint dynamism" testable property (a path becomes routable within
// one event-loop turn of register_remote_method) more directly than a
// static chi route tree that would need remounting.
func (s *Surface) handleDynamic(w http.ResponseWriter, r *http.Request) {
	info, ok := s.registry.Get(r.URL.Path)
	if !ok {
		writeHTTPError(w, apperrors.UnknownEndpoint(r.URL.Path))
		return
	}
	if !methodAllowed(info.Methods, r.Method) {
		writeHTTPError(w, apperrors.UnknownEndpoint(r.URL.Path))
		return
	}

	args := requestArgs(r)

	handle := NewHTTPOnceHandle()
	id, err := s.submitter.Submit(r.URL.Path, args, handle)
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	result, hostErr, ok := handle.Wait(r.Context().Done())
	if !ok {
		abandon(s.submitter, id)
		return
	}
	writeHTTPResult(w, result, hostErr)
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// requestArgs builds the multiplexer args map from the query string and,
// for JSON request bodies, the decoded object.
func requestArgs(r *http.Request) map[string]interface{} {
	args := make(map[string]interface{})
	for key, values := range r.URL.Query() {
		if len(values) == 1 {
			args[key] = values[0]
		} else {
			args[key] = values
		}
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "application/json") {
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				for k, v := range body {
					args[k] = v
				}
			}
		}
	}
	return args
}

// abandoner is the subset of *multiplexer.Multiplexer needed to abandon
// a correlation id when its HTTP caller disconnects before the host
// replies.
type abandoner interface {
	Abandon(id uint64)
}

func abandon(submitter Submitter, id uint64) {
	if a, ok := submitter.(abandoner); ok {
		a.Abandon(id)
	}
}
