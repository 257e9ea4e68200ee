package stickykeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	xRequestIDHeader = "X-Request-ID"

	apiPrefix             = "/api"
	apiPathHealth         = "/api/health"
	apiPathStickies       = "/stickies"
	apiPathForceRepost    = "/stickies/:channel_id/repost"
	apiPathConfessions    = "/confessions"
	apiPathSuggestions    = "/suggestions"
	defaultListLimit      = 100
	requestIDRandomLength = 12
)

var structValidator = validator.New()

// API is the backend HTTP server: a health check, read-only views of
// sticky state and submissions, and a manual repost trigger. All
// endpoints under /api except the health check require the bearer token
// configured via APIConfig.TokenHash.
type API struct {
	config     *APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
	sk         *StickyKeeper

	// runCtx is the bot's run context, set by Serve before the server
	// accepts traffic. Background work started by handlers uses it so a
	// shutdown also cancels that work.
	runCtx context.Context
}

func newAPI(sk *StickyKeeper, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, errors.New("nil api config")
	}
	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	apiLogger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	api := &API{
		config: config,
		engine: r,
		sk:     sk,
		logger: apiLogger,
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
	if len(corsConfig.AllowOrigins) == 0 && config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}
	if len(corsConfig.AllowOrigins) == 0 {
		// cors.New panics on an empty origin list
		corsConfig.AllowOrigins = []string{"http://" + config.Listen}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		cors.New(corsConfig),
	)

	r.GET(apiPathHealth, api.healthCheck)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(api))

	protected.GET(apiPathStickies, api.getStickies)
	protected.POST(apiPathForceRepost, api.forceRepost)
	protected.GET(apiPathConfessions, api.getConfessions)
	protected.GET(apiPathSuggestions, api.getSuggestions)

	return api, nil
}

// Serve listens on the configured address until ctx is canceled, then
// shuts down gracefully within the bot's shutdown timeout.
func (a *API) Serve(ctx context.Context) error {
	a.runCtx = ctx
	listener, err := net.Listen("tcp", a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.listener = listener
	a.logger.Info("api listening", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.Serve(listener)
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			a.sk.config.ShutdownTimeout,
		)
		defer cancel()
		if shutdownErr := a.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Error("error shutting down api", tint.Err(shutdownErr))
		}
		return <-errCh
	}
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"status":            "ok",
			"discord_connected": a.sk.discord.connected.Load(),
			"uptime":            time.Since(a.sk.startedAt).String(),
			"gateway": gin.H{
				"connects":      a.sk.discord.metricConnects.Load(),
				"disconnects":   a.sk.discord.metricDisconnects.Load(),
				"messages_seen": a.sk.discord.metricMessagesSeen.Load(),
			},
		},
	)
}

func (a *API) getStickies(c *gin.Context) {
	records, err := a.sk.db.StickyRecords(c.Request.Context())
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// forceRepost raises a FreshSubmission trigger for the given channel,
// bypassing nothing - the coordinator still debounces and re-validates.
func (a *API) forceRepost(c *gin.Context) {
	channelID := c.Param("channel_id")
	if _, managed := a.sk.coordinator.Managed(channelID); !managed {
		c.JSON(
			http.StatusNotFound,
			gin.H{"error": "channel is not under sticky management"},
		)
		return
	}
	ctx := a.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if err := a.sk.coordinator.MaybeRepost(
			ctx,
			channelID,
			Trigger{Kind: TriggerFreshSubmission},
		); err != nil {
			a.logger.Error(
				"manual repost failed",
				"channel_id", channelID,
				tint.Err(err),
			)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"channel_id": channelID})
}

func (a *API) getConfessions(c *gin.Context) {
	confessions, err := a.sk.db.Confessions(c.Request.Context(), defaultListLimit)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, confessions)
}

func (a *API) getSuggestions(c *gin.Context) {
	suggestions, err := a.sk.db.Suggestions(c.Request.Context(), defaultListLimit)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, suggestions)
}

// authMiddleware verifies the Authorization bearer token against the
// configured argon2id hash. With no hash configured, the protected
// endpoints are disabled entirely rather than left open.
func authMiddleware(api *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		if api.config.TokenHash == "" {
			c.AbortWithStatusJSON(
				http.StatusForbidden,
				gin.H{"error": "api token not configured"},
			)
			return
		}
		token := strings.TrimPrefix(
			c.GetHeader("Authorization"),
			"Bearer ",
		)
		if token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		ok, err := verifyToken(api.config.TokenHash, token)
		if err != nil {
			api.logger.Error("error verifying token", tint.Err(err))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if id == "" {
			id, _ = generateRandomHexString(requestIDRandomLength)
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID, _ := c.Get(xRequestIDHeader)
		requestLogger := logger.With(
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}
