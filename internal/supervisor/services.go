package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// stopFunc adapts a gateway loop's `func(stop <-chan struct{})`-style
// signature into a suture.Service, since none of hostlink/subscription/
// tempstore were written against context.Context directly — they
// predate this package and take a plain stop channel, which ctx.Done()
// satisfies without any further adaptation.
type stopFunc struct {
	name string
	run  func(stop <-chan struct{}) error
}

// Serve implements suture.Service.
func (s stopFunc) Serve(ctx context.Context) error {
	return s.run(ctx.Done())
}

func (s stopFunc) String() string {
	return s.name
}

// voidStopFunc adapts a loop with no error return (RunTier,
// RunFillLoop) into the same Service shape.
func voidStopFunc(name string, run func(stop <-chan struct{})) stopFunc {
	return stopFunc{
		name: name,
		run: func(stop <-chan struct{}) error {
			run(stop)
			return fmt.Errorf("%s: loop exited", name)
		},
	}
}

// HostLinkService wraps *hostlink.Link.Run as a suture.Service.
func HostLinkService(run func(stop <-chan struct{}) error) stopFunc {
	return stopFunc{name: "hostlink", run: run}
}

// GenericService wraps any error-returning stop-channel loop under a
// caller-chosen name, for one-off services (the pushed-config applier)
// that don't warrant their own named constructor.
func GenericService(name string, run func(stop <-chan struct{}) error) stopFunc {
	return stopFunc{name: name, run: run}
}

// TierPollerService wraps one subscription tier's *subscription.Engine.RunTier
// as a suture.Service, restarted independently of the other five tiers.
func TierPollerService(tier int, run func(tier int, stop <-chan struct{})) stopFunc {
	return voidStopFunc(fmt.Sprintf("subscription-tier-%d", tier), func(stop <-chan struct{}) {
		run(tier, stop)
	})
}

// TempStoreFillService wraps *tempstore.Store.RunFillLoop as a
// suture.Service.
func TempStoreFillService(run func(stop <-chan struct{})) stopFunc {
	return voidStopFunc("tempstore-fill", run)
}

// httpServer matches *http.Server's lifecycle methods, adapted from
// cartographus/internal/supervisor/services/http_service.go's HTTPServer
// interface so httpServerService can be exercised against a fake in
// tests without binding a real port.
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// httpServerService bridges an *http.Server's blocking ListenAndServe
// into suture's context-aware Serve, the same translation cartographus's
// HTTPServerService performs: start ListenAndServe in a goroutine, wait
// for either it to fail or ctx to cancel, then call Shutdown with a
// bounded timeout.
type httpServerService struct {
	server          httpServer
	shutdownTimeout time.Duration
}

// HTTPServerService wraps the gateway's *http.Server (surface.Router()
// mounted on it) as a suture.Service.
func HTTPServerService(server *http.Server, shutdownTimeout time.Duration) *httpServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &httpServerService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *httpServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return nil
	}
}

func (h *httpServerService) String() string {
	return "http-server"
}
