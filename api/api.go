package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	api_types "barter/api-types"
	barter_errors "barter/internal"
	"barter/internal/metrics"
	"barter/internal/resolver"
	"barter/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	AllowedOrigins []string
	BlockedIPs     []string
	Production     bool
	// nil disables /metrics
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

func NewRouter(r resolver.Resolver, opts Options) *gin.Engine {
	if opts.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log, opts.Metrics))
	router.Use(blockBots(opts.BlockedIPs))
	router.Use(corsMiddleware(opts.AllowedOrigins))
	router.SetHTMLTemplate(creditTemplate)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "PYRA barter credit",
			"endpoints": []string{
				"GET /api/barter-credit",
				"GET /api/barter-credit/html",
				"GET /api/barter-credit.js",
				"GET /api/convert?amount=&from=&to=",
				"POST /api/refresh",
				"GET /api/usage",
				"GET /api/stream",
				"GET /embed.js",
				"GET /health",
			},
		})
	})

	router.GET("/api/barter-credit", func(c *gin.Context) {
		c.JSON(http.StatusOK, r.GetBarterCredit())
	})

	router.GET("/api/barter-credit/html", func(c *gin.Context) {
		c.HTML(http.StatusOK, "credit.html", newCreditView(r.GetBarterCredit()))
	})

	router.GET("/api/barter-credit.js", func(c *gin.Context) {
		jsonp(c, r.GetBarterCredit())
	})

	router.GET("/embed.js", func(c *gin.Context) {
		embedJS(c)
	})

	router.POST("/api/refresh", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		out, err := r.RefreshBarterCredit(ctx)
		if err != nil {
			code := http.StatusInternalServerError
			switch {
			case errors.Is(err, barter_errors.ErrSchedulerStopped):
				code = http.StatusServiceUnavailable
			case errors.Is(err, context.DeadlineExceeded):
				code = http.StatusGatewayTimeout
			}
			returnErrorJsonCode(err, c, code)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	router.GET("/api/convert", func(c *gin.Context) {
		var req api_types.ConvertRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			returnErrorJsonCode(fmt.Errorf("amount, from and to are required: %w", err), c, http.StatusBadRequest)
			return
		}

		out, err := r.Convert(req)
		if err != nil {
			convErr := barter_errors.ConversionError{}
			if errors.As(err, &convErr) {
				returnErrorJsonCode(err, c, http.StatusBadRequest)
				return
			}
			returnErrorJson(err, c)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	router.GET("/api/usage", func(c *gin.Context) {
		out, err := r.GetUsage()
		if err != nil {
			returnErrorJsonCode(err, c, http.StatusNotFound)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	router.GET("/api/stream", func(c *gin.Context) {
		stream(c, r, opts.AllowedOrigins, log)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, r.Health())
	})

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})

	return router
}

// StartApi serves until ctx is cancelled, then drains in-flight requests
func StartApi(ctx context.Context, port int, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("api listening", "port", port)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down api: %w", err)
	}
	return nil
}

func returnErrorJson(err error, c *gin.Context) {
	returnErrorJsonCode(err, c, http.StatusInternalServerError)
}

func returnErrorJsonCode(err error, c *gin.Context, code int) {
	c.AbortWithStatusJSON(code, gin.H{
		"error": err.Error(),
	})
}

func blockBots(blockedIPs []string) gin.HandlerFunc {
	blocked := util.NewSet(blockedIPs...)
	return func(c *gin.Context) {
		if blocked.Contains(c.ClientIP()) {
			c.JSON(http.StatusForbidden, gin.H{"message": "Access denied"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if allowsAnyOrigin(origins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func requestLogger(log *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.HTTPRequest(c.Request.Method, route, status)

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"elapsed", time.Since(start).String(),
			"ip", c.ClientIP(),
		)
	}
}
