package surface

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/printbridge/gateway/internal/errors"
)

// GET/POST /printer/subscriptions are answered locally by
// internal/subscription, never forwarded to the host: spec.md §4.4's
// subscribe/current operations are gateway-local bookkeeping, not a
// remote-dispatched call.
//
// Over plain HTTP there is no persistent connection to key a
// subscription by, so these two handlers use the request's remote
// address as a stand-in connection id (a resolved ambiguity, noted in
// DESIGN.md). Over WebSocket, the connection's own uuid is used instead
// (see handleSubscriptionMethod below), which is the connection id that
// actually survives for the lifetime the subscription applies to.

func (s *Surface) handleSubscriptionsGet(w http.ResponseWriter, r *http.Request) {
	current := s.subs.Current(r.RemoteAddr)
	result, _ := json.Marshal(subscriptionSnapshot(current))
	writeHTTPResult(w, result, nil)
}

func (s *Surface) handleSubscriptionsPost(w http.ResponseWriter, r *http.Request) {
	requests, err := parseSubscriptionRequest(r)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	s.subs.Subscribe(r.RemoteAddr, requests)
	writeHTTPResult(w, json.RawMessage(`"ok"`), nil)
}

// parseSubscriptionRequest accepts either a query string
// (?obj=attr1,attr2&obj2) or a JSON body of {object: [attrs]}.
func parseSubscriptionRequest(r *http.Request) (map[string]map[string]bool, error) {
	out := make(map[string]map[string]bool)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var body map[string][]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, apperrors.BadRequest("invalid subscription body: " + err.Error())
		}
		for object, attrs := range body {
			set := make(map[string]bool, len(attrs))
			for _, a := range attrs {
				set[a] = true
			}
			out[object] = set
		}
		return out, nil
	}

	for object, values := range r.URL.Query() {
		set := make(map[string]bool)
		for _, v := range values {
			for _, attr := range strings.Split(v, ",") {
				attr = strings.TrimSpace(attr)
				if attr != "" {
					set[attr] = true
				}
			}
		}
		out[object] = set
	}
	return out, nil
}

// handleSubscriptionMethod intercepts JSON-RPC calls that map to
// /printer/subscriptions and answers them from internal/subscription
// using the WS connection's own id, instead of forwarding through the
// multiplexer like a normal dynamic endpoint.
func (s *Surface) handleSubscriptionMethod(c *wsConn, req jsonrpcRequest, path, httpMethod string, args map[string]interface{}) bool {
	if path != "/printer/subscriptions" {
		return false
	}

	switch httpMethod {
	case http.MethodGet:
		current := s.subs.Current(c.id)
		payload, _ := json.Marshal(subscriptionSnapshot(current))
		c.enqueue(mustMarshal(jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: payload}))
	case http.MethodPost:
		requests := make(map[string]map[string]bool, len(args))
		for object, v := range args {
			requests[object] = attrSetFromValue(v)
		}
		s.subs.Subscribe(c.id, requests)
		c.enqueue(mustMarshal(jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`"ok"`)}))
	}
	return true
}

func attrSetFromValue(v interface{}) map[string]bool {
	set := make(map[string]bool)
	switch vv := v.(type) {
	case []interface{}:
		for _, item := range vv {
			if s, ok := item.(string); ok {
				set[s] = true
			}
		}
	case string:
		for _, attr := range strings.Split(vv, ",") {
			attr = strings.TrimSpace(attr)
			if attr != "" {
				set[attr] = true
			}
		}
	}
	return set
}

// subscriptionSnapshot implements spec.md §6's
// {result:{objects:…, poll_times:…}} shape for current().
func subscriptionSnapshot(current map[string]time.Duration) map[string]interface{} {
	objects := make([]string, 0, len(current))
	pollTimes := make(map[string]float64, len(current))
	for object, period := range current {
		objects = append(objects, object)
		pollTimes[object] = period.Seconds()
	}
	return map[string]interface{}{"objects": objects, "poll_times": pollTimes}
}
