package aithena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// API is the read-only operator HTTP server: health, usage aggregates and
// last-exchange lookups for diagnostics. It exposes nothing that mutates
// state; admin actions go through Discord slash commands.
type API struct {
	config     *APIConfig
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	a          *Aithena
}

func newAPI(a *Aithena) *API {
	api := &API{
		config: a.config.API,
		a:      a,
	}
	api.logger = slog.New(newLogHandler(api.config.LogLevel)).With(
		loggerNameKey, "api",
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if len(api.config.CORSAllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = api.config.CORSAllowOrigins
		engine.Use(cors.New(corsConfig))
	}

	engine.GET("/health", api.getHealth)
	apiGroup := engine.Group("/api")
	apiGroup.GET("/usage", api.getUsage)
	apiGroup.GET("/usage/:user", api.getUserUsage)
	apiGroup.GET("/last/chat", api.getLastChat)
	apiGroup.GET("/last/image", api.getLastImage)

	api.engine = engine
	api.httpServer = &http.Server{
		Handler:           engine,
		ReadTimeout:       api.config.ReadTimeout,
		ReadHeaderTimeout: api.config.ReadHeaderTimeout,
		WriteTimeout:      api.config.WriteTimeout,
		IdleTimeout:       api.config.IdleTimeout,
	}
	return api
}

// Serve listens on the configured address until ctx is cancelled or the
// server fails.
func (api *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(defaultListenNetwork, api.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", api.config.Listen, err)
	}
	api.logger.Info("api server listening", "address", api.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- api.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			api.a.config.ShutdownTimeout,
		)
		defer cancel()
		if shutdownErr := api.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			api.logger.Error("error shutting down api server", tint.Err(shutdownErr))
		}
		return nil
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (api *API) getHealth(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		gin.H{
			"status":     "ok",
			"started_at": api.a.startedAt.Format(time.RFC3339),
			"version":    Version,
		},
	)
}

// getUsage returns overall usage; pass ?windowed=true for the rolling
// window only.
func (api *API) getUsage(c *gin.Context) {
	windowed := c.Query("windowed") == "true"
	usage, err := api.a.store.APIUsage(c.Request.Context(), nil, windowed)
	if err != nil {
		api.logger.Error("error getting usage", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (api *API) getUserUsage(c *gin.Context) {
	userID := parseSnowflake(c.Param("user"))
	if userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	windowed := c.Query("windowed") == "true"
	usage, err := api.a.store.APIUsage(c.Request.Context(), &userID, windowed)
	if err != nil {
		api.logger.Error("error getting usage", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	response := gin.H{"usage": usage}
	if ledgerTotals := api.a.ledger.Windowed(userID); ledgerTotals != (UsageTotals{}) {
		response["windowed_ledger"] = ledgerTotals
	}
	c.JSON(http.StatusOK, response)
}

func (api *API) getLastChat(c *gin.Context) {
	exchange, err := api.a.store.LastChatExchange(
		c.Request.Context(),
		queryAuthor(c),
	)
	if err != nil {
		api.logger.Error("error getting last chat", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	if exchange == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no chat exchanges recorded"})
		return
	}
	c.JSON(http.StatusOK, exchange)
}

func (api *API) getLastImage(c *gin.Context) {
	exchange, err := api.a.store.LastImage(
		c.Request.Context(),
		queryAuthor(c),
	)
	if err != nil {
		api.logger.Error("error getting last image", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	if exchange == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no image exchanges recorded"})
		return
	}
	c.JSON(http.StatusOK, exchange)
}

// queryAuthor returns the optional ?user= filter.
func queryAuthor(c *gin.Context) *uint64 {
	id := parseSnowflake(c.Query("user"))
	if id == 0 {
		return nil
	}
	return &id
}
