package surface

import (
	"context"
	"net/http"

	"github.com/printbridge/gateway/internal/auth"
)

type principalKey struct{}

// withPrincipal stashes the admission decision in the request context so
// downstream handlers (the oneshot-token mint endpoint, the WebSocket
// upgrade) can read it without re-running Classify, which would
// otherwise risk consuming a one-shot token a second time.
func withPrincipal(r *http.Request, p auth.Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalKey{}, p))
}

func principalFrom(r *http.Request) (auth.Principal, bool) {
	p, ok := r.Context().Value(principalKey{}).(auth.Principal)
	return p, ok
}

// authMiddleware runs spec.md §4.6's admission classification exactly
// once per request, ahead of every route including the WS upgrade.
func (s *Surface) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := s.gate.Classify(r)
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		next.ServeHTTP(w, withPrincipal(r, principal))
	})
}
