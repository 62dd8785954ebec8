package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"signalpush/pkg/otel"
	"signalpush/pkg/rbac"
	"signalpush/pkg/util"
)

// Paths serving the notification endpoint.
const (
	PathNotifications = "/notifications"
	PathFunction      = "/functions/v1/send-push-notification"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the optional layers of the router. Zero values disable them.
type Options struct {
	JWTSecret          string
	Deduper            *util.Deduper
	RateLimitPerMinute int
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	notificationHandler *NotificationHandler,
	ready Pinger,
	opts Options,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(
		CORSMiddleware(),
		TraceMiddleware(),
		RecoveryMiddleware(logger),
		otel.GinMiddleware(),
		RequestLogger(logger),
	)
	if opts.RateLimitPerMinute > 0 {
		r.Use(RateLimitMiddleware(NewIPRateLimiter(opts.RateLimitPerMinute), logger))
	}

	r.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, "Not found", c.Request.URL.Path)
	})
	r.NoMethod(methodNotAllowed)

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := ready.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// OPTIONS is answered by CORSMiddleware before routing.
	for _, path := range []string{PathNotifications, PathFunction} {
		r.PUT(path, methodNotAllowed)
		r.DELETE(path, methodNotAllowed)

		g := r.Group(path)
		if opts.JWTSecret != "" {
			g.Use(AuthMiddleware(opts.JWTSecret))
		}

		create := []gin.HandlerFunc{}
		read := []gin.HandlerFunc{}
		if opts.JWTSecret != "" {
			create = append(create, RequirePermission(rbac.PermissionCreateNotification))
			read = append(read, RequirePermission(rbac.PermissionReadNotification))
		}
		if opts.Deduper != nil {
			create = append(create, IdempotencyMiddleware(opts.Deduper))
		}

		g.POST("", append(create, notificationHandler.Create)...)
		g.GET("", append(read, notificationHandler.List)...)
		g.GET("/:id", append(read, notificationHandler.Get)...)
	}

	return &Router{Engine: r}
}

// Server wraps the engine in an http.Server so callers can shut it down.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
