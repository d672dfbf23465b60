package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestStopFuncServeTranslatesContextDone(t *testing.T) {
	gotStop := make(chan (<-chan struct{}), 1)
	svc := stopFunc{
		name: "probe",
		run: func(stop <-chan struct{}) error {
			gotStop <- stop
			<-stop
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-gotStop:
	case <-time.After(time.Second):
		t.Fatal("run was never invoked")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancel")
	}
}

func TestStopFuncString(t *testing.T) {
	svc := stopFunc{name: "hostlink"}
	if svc.String() != "hostlink" {
		t.Errorf("expected String() to return the configured name, got %q", svc.String())
	}
}

func TestVoidStopFuncSynthesizesErrorOnExit(t *testing.T) {
	svc := voidStopFunc("tempstore-fill", func(stop <-chan struct{}) {
		<-stop
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Serve(ctx)
	if err == nil {
		t.Fatal("expected a synthesized error when the loop exits")
	}
	if !strings.Contains(err.Error(), "tempstore-fill") {
		t.Errorf("expected error to mention the service name, got %v", err)
	}
	if !strings.Contains(err.Error(), "loop exited") {
		t.Errorf("expected error to describe a loop exit, got %v", err)
	}
}

func TestHostLinkServiceName(t *testing.T) {
	svc := HostLinkService(func(stop <-chan struct{}) error { return nil })
	if svc.String() != "hostlink" {
		t.Errorf("expected name %q, got %q", "hostlink", svc.String())
	}
}

func TestTierPollerServiceNamePerTier(t *testing.T) {
	svc := TierPollerService(3, func(tier int, stop <-chan struct{}) {})
	if svc.String() != "subscription-tier-3" {
		t.Errorf("expected name %q, got %q", "subscription-tier-3", svc.String())
	}
}

func TestTierPollerServiceForwardsTierNumber(t *testing.T) {
	var gotTier int
	svc := TierPollerService(5, func(tier int, stop <-chan struct{}) {
		gotTier = tier
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = svc.Serve(ctx)

	if gotTier != 5 {
		t.Errorf("expected tier 5 forwarded to run, got %d", gotTier)
	}
}

func TestGenericServiceName(t *testing.T) {
	svc := GenericService("config-applier", func(stop <-chan struct{}) error { return nil })
	if svc.String() != "config-applier" {
		t.Errorf("expected name %q, got %q", "config-applier", svc.String())
	}
}

func TestTempStoreFillServiceName(t *testing.T) {
	svc := TempStoreFillService(func(stop <-chan struct{}) {})
	if svc.String() != "tempstore-fill" {
		t.Errorf("expected name %q, got %q", "tempstore-fill", svc.String())
	}
}

type fakeHTTPServer struct {
	listenBlock  chan struct{}
	listenErr    error
	shutdownCall chan struct{}
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{listenBlock: make(chan struct{}), shutdownCall: make(chan struct{}, 1)}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	<-f.listenBlock
	return f.listenErr
}

func (f *fakeHTTPServer) Shutdown(ctx context.Context) error {
	close(f.listenBlock)
	f.shutdownCall <- struct{}{}
	return nil
}

func TestHTTPServerServiceShutsDownOnContextCancel(t *testing.T) {
	fake := newFakeHTTPServer()
	svc := &httpServerService{server: fake, shutdownTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()

	select {
	case <-fake.shutdownCall:
	case <-time.After(time.Second):
		t.Fatal("Shutdown was never called")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error on graceful shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}

func TestHTTPServerServiceString(t *testing.T) {
	svc := &httpServerService{}
	if svc.String() != "http-server" {
		t.Errorf("expected name %q, got %q", "http-server", svc.String())
	}
}
