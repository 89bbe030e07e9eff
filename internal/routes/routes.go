package route

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinylink/go-server/config"
	"github.com/tinylink/go-server/internal/handler"
	"github.com/tinylink/go-server/internal/middleware"
	"github.com/tinylink/go-server/internal/service"
)

// Dependencies are the collaborators the router wires into handlers.
// A nil Limiter disables rate limiting; a nil MetricsHandler serves the
// default Prometheus registry.
type Dependencies struct {
	Config         *config.Config
	Service        *service.LinkService
	Limiter        middleware.Limiter
	MetricsHandler http.Handler
}

func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Recovery(),
		middleware.MetricsMiddleware(),
	)
	r.Use(cors.New(cors.Config{
		AllowOrigins:  deps.Config.CORSAllowOrigins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	h := handler.NewLinkHandler(deps.Service, deps.Config.BaseURL)

	r.GET("/", h.Root)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(metricsHandler))

	api := r.Group("/api/links", middleware.APIAuth(deps.Config.APIJWTSecret))
	{
		create := []gin.HandlerFunc{}
		if deps.Limiter != nil {
			create = append(create, middleware.RateLimit(deps.Limiter))
		}
		api.POST("", append(create, h.CreateLink)...)
		api.GET("", h.ListLinks)
		api.GET("/:code", h.GetLink)
		api.DELETE("/:code", h.DeleteLink)
	}

	r.GET("/:code", h.Redirect)

	return r
}
