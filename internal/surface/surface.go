// Package surface is the HTTP/WebSocket edge spec.md §4.7 describes: a
// chi.Router carrying statically-registered gateway endpoints (files,
// logs, temperature store, auth) alongside a dynamic catch-all that
// resolves host-registered endpoints against the live hostlink
// registry on every request. Grounded on cartographus's
// internal/api/chi_router.go + chi_middleware.go for the router/CORS/
// rate-limit wiring, since the teacher itself speaks plain
// net/http + gorilla/websocket with no router library.
package surface

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/printbridge/gateway/internal/auth"
	"github.com/printbridge/gateway/internal/hostlink"
	"github.com/printbridge/gateway/internal/metrics"
	"github.com/printbridge/gateway/internal/multiplexer"
	"github.com/printbridge/gateway/internal/subscription"
	"github.com/printbridge/gateway/internal/sysinfo"
)

// Registry resolves an HTTP path to the host's declared verbs and
// remote dispatch name. *hostlink.Registry satisfies this structurally.
type Registry interface {
	Lookup(path string) (remoteMethod string, ok bool)
	Get(path string) (hostlink.EndpointInfo, bool)
}

// Submitter is the subset of *multiplexer.Multiplexer the surface needs
// to forward a request for either a dynamic host-routed endpoint or a
// static endpoint that happens to be backed by the host (e.g. shutdown
// is local, but gcode is host-routed).
type Submitter interface {
	Submit(endpoint string, args map[string]interface{}, handle multiplexer.ClientHandle) (uint64, error)
}

// Config holds the surface's static settings. FilesRoot is where
// uploaded/served gcode files live.
type Config struct {
	FilesRoot     string
	KlippyLogPath string
	MoonrakerLog  string
	EnableCORS    bool
	RateLimitRPM  int
	ShutdownCmd   []string
	RebootCmd     []string
	Version       string
}

// StateProvider reports the host-link's current connection state for
// GET /printer/info's is_ready/error_detected fields. *hostlink.Link
// satisfies this already via its multiplexer.StateProvider method.
type StateProvider interface {
	Ready() bool
}

// Surface wires the router to its dependencies.
type Surface struct {
	cfg       Config
	registry  Registry
	submitter Submitter
	gate      *auth.Gate
	keys      *auth.APIKeyStore
	oneshot   *auth.OneShotTokens
	temps     TempStore
	subs      *subscription.Engine
	state     StateProvider
	cpu       *sysinfo.CPUSampler
	logger    zerolog.Logger
	upgrader  Upgrader
	hub       *connHub
}

// TempStore is the subset of *tempstore.Store the surface reads from
// for GET /server/temperature_store.
type TempStore interface {
	Sensors() []string
	Samples(sensor string) []float64
}

// New builds a Surface ready to mount via Router().
func New(cfg Config, registry Registry, submitter Submitter, gate *auth.Gate, keys *auth.APIKeyStore, oneshot *auth.OneShotTokens, temps TempStore, subs *subscription.Engine, state StateProvider, logger zerolog.Logger) *Surface {
	return &Surface{
		cfg:       cfg,
		registry:  registry,
		submitter: submitter,
		gate:      gate,
		keys:      keys,
		oneshot:   oneshot,
		temps:     temps,
		subs:      subs,
		state:     state,
		cpu:       sysinfo.NewCPUSampler(),
		logger:    logger,
		upgrader:  defaultUpgrader(),
		hub:       newConnHub(),
	}
}

// Router builds the chi.Router for the whole HTTP/WS surface.
func (s *Surface) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	if s.cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-Api-Key"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	if s.cfg.RateLimitRPM > 0 {
		r.Use(httprate.Limit(s.cfg.RateLimitRPM, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}

	r.Use(s.authMiddleware)

	r.Handle("/metrics", metrics.Handler())

	r.Get("/printer/files", s.handleFilesList)
	r.Get("/printer/files/{name}", s.handleFileDownload)
	r.Post("/printer/files/upload", s.handleFileUpload)
	r.Delete("/printer/files/{name}", s.handleFileDelete)

	r.Get("/printer/klippy.log", s.handleLogDownload(s.cfg.KlippyLogPath))
	r.Get("/server/moonraker.log", s.handleLogDownload(s.cfg.MoonrakerLog))

	r.Get("/server/temperature_store", s.handleTemperatureStore)

	r.Get("/printer/info", s.handlePrinterInfo)

	r.Get("/printer/subscriptions", s.handleSubscriptionsGet)
	r.Post("/printer/subscriptions", s.handleSubscriptionsPost)

	r.Get("/access/api_key", s.handleAPIKeyGet)
	r.Post("/access/api_key", s.handleAPIKeyRotate)
	r.Get("/access/oneshot_token", s.handleOneShotToken)

	r.Post("/machine/shutdown", s.handleMachine(s.cfg.ShutdownCmd))
	r.Post("/machine/reboot", s.handleMachine(s.cfg.RebootCmd))

	r.Get("/websocket", s.handleWebSocket)

	r.NotFound(s.handleDynamic)
	r.MethodNotAllowed(s.handleDynamic)

	return r
}
