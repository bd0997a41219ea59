package voxtally

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	xRequestIDHeader = "X-Request-ID"

	apiHealthCheck        = "/healthz"
	apiPathLeaderboard    = "/api/leaderboard"
	apiPathLeaderboardFor = "/api/leaderboard/:month"
)

// API is a small read-only HTTP surface: a health check and JSON views
// of the total and monthly leaderboards. No mutation, no auth.
type API struct {
	config     *APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
	vt         *VoxTally
}

func newAPI(v *VoxTally, config *APIConfig) (*API, error) {
	logger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	if v != nil && v.config != nil && !v.config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		logger: logger,
		vt:     v,
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}

	r.Use(gin.Recovery())
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiPathLeaderboard, api.getTotalLeaderboard)
	r.GET(apiPathLeaderboardFor, api.getMonthlyLeaderboard)

	return api, nil
}

// Serve blocks serving HTTP until the server is shut down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(
			ctx,
			a.config.ListenNetwork,
			a.config.Listen,
		)
		if err != nil {
			return err
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) healthCheck(c *gin.Context) {
	payload := gin.H{"status": "ok"}
	if a.vt != nil {
		payload["started_at"] = a.vt.startedAt.UTC().Format(time.RFC3339)
		if a.vt.discord != nil {
			payload["discord_connected"] = a.vt.discord.connected.Load()
		}
		if a.vt.sampler != nil {
			payload["sampler_ticks"] = a.vt.sampler.TicksCompleted()
		}
	}
	c.JSON(http.StatusOK, payload)
}

// getTotalLeaderboard returns the all-time top entries. Store errors
// degrade to an empty listing - the API never surfaces internals.
func (a *API) getTotalLeaderboard(c *gin.Context) {
	entries, err := a.vt.leaderboard.TopTotal(c.Request.Context())
	if err != nil {
		a.logger.Error("error fetching total leaderboard", tint.Err(err))
		entries = []LeaderboardEntry{}
	}
	c.JSON(
		http.StatusOK, gin.H{
			"leaderboard": entries,
		},
	)
}

func (a *API) getMonthlyLeaderboard(c *gin.Context) {
	month := c.Param("month")
	if !ValidMonthKey(month) {
		c.JSON(
			http.StatusBadRequest, gin.H{
				"error": "month must match YYYY-MM (e.g. 2024-04)",
			},
		)
		return
	}
	entries, err := a.vt.leaderboard.TopMonthly(c.Request.Context(), month)
	if err != nil {
		a.logger.Error(
			"error fetching monthly leaderboard",
			columnMonth, month,
			tint.Err(err),
		)
		entries = []LeaderboardEntry{}
	}
	c.JSON(
		http.StatusOK, gin.H{
			"month":       month,
			"leaderboard": entries,
		},
	)
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, for tracking and logging purposes.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		requestID, _ := c.Get(xRequestIDHeader)
		logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
			"request_id", requestID,
		)
	}
}
