package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/web-casa/stackdeck/internal/auth"
	"github.com/web-casa/stackdeck/internal/config"
	"github.com/web-casa/stackdeck/internal/metrics"
	"github.com/web-casa/stackdeck/internal/service"
	"github.com/web-casa/stackdeck/internal/session"
	"github.com/web-casa/stackdeck/internal/stack"
)

// devPorts are the frontend dev server ports always allowed by CORS.
var devPorts = []int{5173, 8000}

// Deps holds everything the router dispatches to. All fields except
// Throttle, StaticDir and Version are required.
type Deps struct {
	DB        *gorm.DB
	Settings  *config.SettingsStore
	Auth      *auth.Store
	Limiter   *auth.Limiter
	Throttle  *auth.Throttle
	Stacks    *stack.Registry
	Compose   *service.ComposeService
	Resources *service.ResourceService
	Sessions  *session.Manager
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	StaticDir string
	Version   string
}

var registerOnce sync.Once

func registerValidators() {
	registerOnce.Do(func() {
		binding.EnableDecoderDisallowUnknownFields = true
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterValidation("stackname", func(fl validator.FieldLevel) bool {
				return stack.ValidName(fl.Field().String())
			})
		}
	})
}

// NewRouter builds the HTTP and WebSocket surface.
func NewRouter(d Deps) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(d.Logger, d.Metrics))
	if d.Throttle != nil {
		r.Use(d.Throttle.Middleware())
	}
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  allowedOrigin(d.Settings),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authH := NewAuthHandler(d.Auth, d.Limiter)
	r.GET("/auth/status", authH.Status)
	r.POST("/auth/register", authH.Register)
	r.POST("/auth/login", authH.Login)

	protected := r.Group("")
	protected.Use(auth.Middleware(d.Auth))
	sensitive := auth.RequireQuota(d.Limiter, auth.ClassSensitive)
	containerQuota := auth.RequireQuota(d.Limiter, auth.ClassContainer)
	stackWrite := auth.RequireQuota(d.Limiter, auth.ClassStackWrite)

	protected.GET("/auth/me", authH.Me)

	auditH := NewAuditHandler(d.DB, d.Logger)
	protected.GET("/audit", auditH.List)

	configH := NewConfigHandler(d.Settings)
	protected.GET("/config", configH.Get)
	protected.PUT("/config", configH.Update)

	resH := NewResourceHandler(d.Resources)
	protected.GET("/containers", resH.ListContainers)
	protected.POST("/containers/:id/start", containerQuota, auditH.Record("container.start", "container", "id"), resH.StartContainer)
	protected.POST("/containers/:id/stop", containerQuota, auditH.Record("container.stop", "container", "id"), resH.StopContainer)
	protected.DELETE("/containers/:id", sensitive, auditH.Record("container.remove", "container", "id"), resH.RemoveContainer)
	protected.GET("/images", resH.ListImages)
	protected.DELETE("/images/:id", sensitive, auditH.Record("image.remove", "image", "id"), resH.RemoveImage)
	protected.GET("/volumes", resH.ListVolumes)
	protected.DELETE("/volumes/:name", sensitive, auditH.Record("volume.remove", "volume", "name"), resH.RemoveVolume)
	protected.GET("/networks", resH.ListNetworks)
	protected.DELETE("/networks/:id", sensitive, auditH.Record("network.remove", "network", "id"), resH.RemoveNetwork)
	protected.GET("/system/df", resH.Usage)
	protected.POST("/cleanup", sensitive, auditH.Record("system.cleanup", "system", ""), resH.Cleanup)

	stackH := NewStackHandler(d.Stacks, d.Compose)
	protected.GET("/stacks", stackH.List)
	protected.POST("/stacks", stackWrite, auditH.Record("stack.create", "stack", ""), stackH.Create)
	protected.GET("/stacks/:name/files", stackH.Files)
	protected.PUT("/stacks/:name", stackWrite, auditH.Record("stack.update", "stack", "name"), stackH.Update)
	protected.GET("/stacks/:name/ps", stackH.Ps)
	protected.POST("/stacks/:name/up", sensitive, auditH.Record("stack.up", "stack", "name"), stackH.Up)
	protected.POST("/stacks/:name/down", sensitive, auditH.Record("stack.down", "stack", "name"), stackH.Down)
	protected.GET("/compose/ls", stackH.ComposeLs)

	dashH := NewDashboardHandler(d.Resources, d.Stacks, d.Sessions, d.Version)
	protected.GET("/dashboard", dashH.Stats)

	streamH := NewStreamHandler(d.Sessions, d.Settings, d.Logger)
	protected.GET("/sessions", streamH.List)
	protected.DELETE("/sessions/:id", auditH.Record("session.kill", "session", "id"), streamH.Kill)

	if d.Metrics != nil {
		protected.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	// Browsers cannot set headers on WebSocket requests, so these routes also
	// accept ?token=. Auth and quota failures are plain HTTP responses sent
	// before any upgrade.
	ws := r.Group("/ws")
	ws.Use(auth.Middleware(d.Auth))
	ws.GET("/containers/:id/logs", streamH.Logs)
	ws.GET("/containers/:id/shell", streamH.Shell)
	ws.GET("/stacks/:name/deploy", sensitive, auditH.Record("stack.deploy", "stack", "name"), streamH.Deploy)

	setupFrontend(r, d.StaticDir, d.Logger)
	return r
}

// allowedOrigin accepts localhost origins on the configured frontend port and
// the dev server ports. The port is read per request so a settings change
// applies immediately.
func allowedOrigin(settings *config.SettingsStore) func(string) bool {
	return func(origin string) bool {
		ports := append([]int{settings.Get().FrontendPort}, devPorts...)
		for _, scheme := range []string{"http", "https"} {
			for _, host := range []string{"localhost", "127.0.0.1"} {
				for _, port := range ports {
					if origin == fmt.Sprintf("%s://%s:%d", scheme, host, port) {
						return true
					}
				}
			}
		}
		return false
	}
}

func accessLog(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d := time.Since(start)
		status := c.Writer.Status()
		m.Request(c.Request.Method, status, d)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", d,
			"ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", append(attrs, "err", c.Errors.String())...)
		case len(c.Errors) > 0:
			logger.Warn("request", append(attrs, "err", c.Errors.String())...)
		default:
			logger.Debug("request", attrs...)
		}
	}
}

// setupFrontend serves a pre-built SPA bundle when one exists. Unknown paths
// fall back to index.html for browsers and to a JSON 404 otherwise.
func setupFrontend(r *gin.Engine, distPath string, logger *slog.Logger) {
	notFound := func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "error_key": "error.not_found"})
	}

	if distPath == "" {
		r.NoRoute(notFound)
		return
	}
	if _, err := os.Stat(distPath); err != nil {
		logger.Info("frontend bundle not found, serving API only", "dir", distPath)
		r.NoRoute(notFound)
		return
	}

	r.Static("/assets", filepath.Join(distPath, "assets"))
	r.StaticFile("/favicon.ico", filepath.Join(distPath, "favicon.ico"))

	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || !strings.Contains(c.GetHeader("Accept"), "text/html") {
			notFound(c)
			return
		}
		filePath := filepath.Join(distPath, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
			c.File(filePath)
			return
		}
		c.File(filepath.Join(distPath, "index.html"))
	})

	logger.Info("serving frontend", "dir", distPath)
}
