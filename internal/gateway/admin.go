package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/reportgate/internal/auth"
	"github.com/danmuck/reportgate/internal/node"
	"github.com/danmuck/reportgate/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AdminConfig configures the optional admin HTTP surface. An empty
// ListenAddr disables it.
type AdminConfig struct {
	ListenAddr  string
	CorsOrigins []string
	// Token guards /reports when set.
	Token string
}

func DefaultAdminConfig() AdminConfig {
	return AdminConfig{}
}

const defaultReportsLimit = 50

// Admin serves health, metrics and recorded report history over HTTP.
type Admin struct {
	ID       string
	Addr     string
	Appeared time.Time

	reports ReportSource
	token   auth.Validator
	router  *gin.Engine
}

var _ node.Node = (*Admin)(nil)

func NewAdmin(id string, cfg AdminConfig, reports ReportSource) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:       id,
		Addr:     cfg.ListenAddr,
		Appeared: time.Now(),
		reports:  reports,
		router:   r,
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		a.token = auth.StaticToken{Token: token}
	}
	a.registerRoutes()
	return a
}

func (a *Admin) NodeID() string {
	return a.ID
}

func (a *Admin) Kind() string {
	return "gateway"
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"gateway": a.ID,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"gateway": a.ID,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/reports", a.requireToken(), func(c *gin.Context) {
		if a.reports == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "report history not enabled"})
			return
		}
		limit := defaultReportsLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{
			"total":   a.reports.ReportCount(),
			"reports": a.reports.RecentReports(limit),
		})
	})
}

func (a *Admin) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.token == nil {
			c.Next()
			return
		}
		if err := auth.CheckHeader(a.token, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Serve runs the HTTP server until ctx is cancelled.
func (a *Admin) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Addr)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, ln)
}

func (a *Admin) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Warn().Str("gateway", a.ID).Str("addr", ln.Addr().String()).Msg("gateway.Admin.Serve listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost"}
	}
	return out
}
