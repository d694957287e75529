package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sydlexius/massaction/internal/api/middleware"
	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/backup"
	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/bridge"
	"github.com/sydlexius/massaction/internal/config"
	"github.com/sydlexius/massaction/internal/event"
	"github.com/sydlexius/massaction/internal/maintenance"
	"github.com/sydlexius/massaction/internal/metrics"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	AuthService   *auth.Service
	Bridge        *bridge.Service
	Sessions      middleware.SessionResolver
	JobStore      *batch.Store
	Executor      *batch.Executor
	EventBus      *event.Bus
	Maintenance   *maintenance.Service
	Backup        *backup.Service
	Logger        *slog.Logger
	BasePath      string
	SessionCookie string
	TrustProxy    bool
	// RequestsPerSecond and Burst bound API calls per client IP.
	RequestsPerSecond float64
	Burst             int
	BatchDefaults     config.BatchConfig
}

// Router sets up all HTTP routes for the application.
type Router struct {
	authService   *auth.Service
	bridge        *bridge.Service
	sessions      middleware.SessionResolver
	jobStore      *batch.Store
	executor      *batch.Executor
	eventBus      *event.Bus
	maintenance   *maintenance.Service
	backup        *backup.Service
	logger        *slog.Logger
	basePath      string
	sessionCookie string
	trustProxy    bool
	batchDefaults config.BatchConfig
	rateLimiter   *middleware.RateLimiter
	csrf          *middleware.CSRF
}

// NewRouter creates a new Router with all routes configured. ctx bounds the
// rate limiter's background sweep.
func NewRouter(ctx context.Context, deps RouterDeps) *Router {
	return &Router{
		authService:   deps.AuthService,
		bridge:        deps.Bridge,
		sessions:      deps.Sessions,
		jobStore:      deps.JobStore,
		executor:      deps.Executor,
		eventBus:      deps.EventBus,
		maintenance:   deps.Maintenance,
		backup:        deps.Backup,
		logger:        deps.Logger.With(slog.String("component", "api")),
		basePath:      normalizeBasePath(deps.BasePath),
		sessionCookie: deps.SessionCookie,
		trustProxy:    deps.TrustProxy,
		batchDefaults: deps.BatchDefaults,
		rateLimiter:   middleware.NewRateLimiter(ctx, deps.RequestsPerSecond, deps.Burst, deps.TrustProxy),
		csrf:          middleware.NewCSRF(middleware.DefaultCSRFTTL),
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	bp := r.basePath
	admin := middleware.RequireRight(auth.RightUpdate)
	accessCfg := middleware.AccessConfig{
		Sessions:      r.sessions,
		Clients:       r.authService,
		SessionCookie: r.sessionCookie,
		TrustProxy:    r.trustProxy,
		Logger:        r.logger,
	}
	apiAccess := middleware.Access(accessCfg)
	accessCfg.SkipClientChecks = true
	consoleAccess := middleware.Access(accessCfg)

	// API routes. Every path is also registered without a method in paths,
	// which tells an unknown path (404) from a wrong method (405).
	api := http.NewServeMux()
	paths := http.NewServeMux()
	known := make(map[string]bool)
	route := func(method, path string, h http.HandlerFunc) {
		api.HandleFunc(method+" "+bp+path, h)
		if !known[path] {
			known[path] = true
			paths.HandleFunc(bp+path, r.handleNotFound)
		}
	}

	route("GET", "/api/itemtypes", r.handleItemTypes)
	route("GET", "/api/ui/itsm-itemtypes", r.handleItemTypes)
	route("GET", "/api/available_actions/{itemtype}", r.handleAvailableActions)
	route("POST", "/api/specialize_action", r.handleSpecializeAction)
	route("POST", "/api/process_action", r.handleProcessAction)

	route("POST", "/api/v1/schema", r.handleSchema)

	// Batch job routes
	route("POST", "/api/v1/batch/jobs", r.handleStartJob)
	route("GET", "/api/v1/batch/jobs", r.handleListJobs)
	route("GET", "/api/v1/batch/jobs/{id}", r.handleGetJob)
	route("POST", "/api/v1/batch/jobs/{id}/cancel", r.handleCancelJob)
	route("GET", "/api/v1/batch/jobs/{id}/stream", r.handleJobStream)

	// Administrative routes
	route("GET", "/api/v1/clients", admin(r.handleListClients))
	route("POST", "/api/v1/clients", admin(r.handleCreateClient))
	route("PUT", "/api/v1/clients/{id}", admin(r.handleUpdateClient))
	route("DELETE", "/api/v1/clients/{id}", admin(r.handleDeleteClient))
	route("GET", "/api/v1/settings", admin(r.handleGetSettings))
	route("PUT", "/api/v1/settings", admin(r.handleUpdateSettings))
	route("GET", "/api/v1/maintenance", admin(r.handleMaintenanceStatus))
	route("POST", "/api/v1/maintenance/run", admin(r.handleMaintenanceRun))
	route("POST", "/api/v1/maintenance/vacuum", admin(r.handleMaintenanceVacuum))
	route("GET", "/api/v1/maintenance/backups", admin(r.handleListBackups))
	route("POST", "/api/v1/maintenance/backups", admin(r.handleCreateBackup))

	api.HandleFunc(bp+"/api/", func(w http.ResponseWriter, req *http.Request) {
		if _, pattern := paths.Handler(req); pattern != "" {
			r.handleMethodNotAllowed(w, req)
			return
		}
		r.handleNotFound(w, req)
	})

	// Web console routes
	con := http.NewServeMux()
	con.HandleFunc("GET "+bp+"/console/{$}", r.handleConsoleHome)
	con.HandleFunc("GET "+bp+"/console/actions/{itemtype}", r.handleConsoleActions)
	con.HandleFunc("GET "+bp+"/console/params", r.handleConsoleParams)
	con.HandleFunc("POST "+bp+"/console/run", r.handleConsoleRun)
	con.HandleFunc("GET "+bp+"/console/jobs", r.handleConsoleJobs)
	con.HandleFunc("GET "+bp+"/console/jobs/{id}", r.handleConsoleJob)
	con.HandleFunc("POST "+bp+"/console/jobs/{id}/cancel", r.handleConsoleCancelJob)
	con.HandleFunc("GET "+bp+"/console/settings", r.handleConsoleSettings)
	con.HandleFunc("POST "+bp+"/console/settings", admin(r.handleConsoleUpdateSettings))
	con.HandleFunc("POST "+bp+"/console/clients", admin(r.handleConsoleCreateClient))
	con.HandleFunc("POST "+bp+"/console/clients/{id}", admin(r.handleConsoleClient))

	mux := http.NewServeMux()

	// Public routes (no auth)
	mux.HandleFunc("GET "+bp+"/health", r.handleHealth)
	mux.Handle("GET "+bp+"/metrics", metrics.Handler())
	mux.HandleFunc("GET "+bp+"/openapi", r.handleOpenAPISpec)
	mux.HandleFunc("GET "+bp+"/{$}", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, bp+"/console/", http.StatusFound)
	})

	// Protected routes
	mux.Handle(bp+"/api/", r.rateLimiter.Middleware(apiAccess(api)))
	mux.Handle(bp+"/console/", consoleAccess(r.csrf.Middleware(con)))

	return middleware.SecurityHeaders(middleware.Logging(r.logger)(mux))
}

// normalizeBasePath turns "", "/" and "/ma/" into "" and "/ma".
func normalizeBasePath(bp string) string {
	bp = strings.TrimRight(bp, "/")
	if bp != "" && !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return bp
}
