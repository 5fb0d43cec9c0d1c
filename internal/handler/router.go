package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/parley/backend/internal/config"
	"github.com/zhouzirui/parley/backend/internal/handler/catalog"
	"github.com/zhouzirui/parley/backend/internal/handler/chat"
	"github.com/zhouzirui/parley/backend/internal/handler/settings"
	"github.com/zhouzirui/parley/backend/internal/handler/stream"
	"github.com/zhouzirui/parley/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/parley/backend/internal/middleware"
	catalogModel "github.com/zhouzirui/parley/backend/internal/model/catalog"
	chatService "github.com/zhouzirui/parley/backend/internal/service/chat"
	settingsService "github.com/zhouzirui/parley/backend/internal/service/settings"
	"github.com/zhouzirui/parley/backend/pkg/utils"
)

// Deps are the services the HTTP surface is wired to.
type Deps struct {
	Config       *config.Config
	Log          logrus.FieldLogger
	Catalog      *catalogModel.Catalog
	Orchestrator *chatService.Orchestrator
	History      *chatService.Service
	Settings     *settingsService.Service
	Gatherer     prometheus.Gatherer
	// Ping checks storage for /healthz. Optional.
	Ping func() error
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.Config.Server.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			if err := d.Ping(); err != nil {
				d.Log.WithError(err).Warn("[health] storage unreachable")
				utils.RespondError(w, http.StatusServiceUnavailable, "storage unreachable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Gatherer))
	}

	limiter := middlewarePkg.NewRateLimiter(d.Config.Security.RateLimitRPS, d.Config.Security.RateLimitBurst)

	r.Route("/api", func(api chi.Router) {
		// The catalog is public; it only populates the model picker.
		catalog.New(d.Catalog).RegisterRoutes(api)

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.Authenticate(d.Config.Auth, d.Log))

			chat.New(d.History).RegisterRoutes(authed)
			settings.New(d.Settings, d.Catalog).RegisterRoutes(authed)

			authed.Group(func(turns chi.Router) {
				turns.Use(limiter.Middleware)
				stream.New(d.Orchestrator, d.Settings, d.Log, d.Config.Server.AllowedOrigins).RegisterRoutes(turns)
			})
		})
	})

	return r
}
