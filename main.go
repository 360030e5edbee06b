package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/altays/shortly/internal/auth"
	"github.com/altays/shortly/internal/clock"
	"github.com/altays/shortly/internal/db"
	"github.com/altays/shortly/internal/geo"
	"github.com/altays/shortly/internal/guard"
	"github.com/altays/shortly/internal/handler"
	"github.com/altays/shortly/internal/redirect"
	"github.com/altays/shortly/internal/repo"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const sweepInterval = time.Hour

type Config struct {
	Host             string
	Port             string
	DBPath           string
	AdminCreds       string
	JWTSecret        string
	LogLevel         string
	Debug            bool
	BaseURL          string
	DefaultRedirect  string
	GeoProviderURL   string
	GeoDevFallbackIP string
}

func newConfigFromEnv() (Config, error) {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg := Config{
		Host:             cmp.Or(os.Getenv("HOST"), "localhost"),
		Port:             cmp.Or(os.Getenv("PORT"), "8080"),
		DBPath:           cmp.Or(os.Getenv("DB_PATH"), "shortly.db"),
		AdminCreds:       os.Getenv("ADMIN_CREDENTIALS"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		LogLevel:         cmp.Or(os.Getenv("LOG_LEVEL"), "info"),
		Debug:            os.Getenv("DEBUG") == "1",
		BaseURL:          os.Getenv("BASE_URL"),
		DefaultRedirect:  cmp.Or(os.Getenv("DEFAULT_REDIRECT_URL"), "https://shortly.dev"),
		GeoProviderURL:   cmp.Or(os.Getenv("GEO_PROVIDER_URL"), "https://ipapi.co"),
		GeoDevFallbackIP: os.Getenv("GEO_DEV_FALLBACK_IP"),
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port)
	}

	if cfg.AdminCreds == "" {
		cfg.AdminCreds = "admin:admin"
		log.Warn().Msg("using default admin credentials - set ADMIN_CREDENTIALS for production")
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.AdminCreds
		log.Warn().Msg("using ADMIN_CREDENTIALS as JWT_SECRET - set JWT_SECRET for production")
	}

	return cfg, nil
}

func main() {
	cfg, err := newConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration from environment")
	}

	log.Info().
		Interface("config", cfg).
		Msg("current configuration")

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("failed to parse log level")
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run(ctx context.Context, cfg Config) error {
	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("starting application")

	credentials, err := auth.NewCredentials(cfg.AdminCreds)
	if err != nil {
		return fmt.Errorf("failed to parse admin credentials: %w", err)
	}

	dbInstance, err := db.Init(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbInstance.Close()

	e := echo.New()
	defer e.Close()

	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = customErrorHandler

	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	authenticator := auth.NewAuthenticator(credentials, cfg.JWTSecret)
	authHandler := handler.NewAuthHandler(authenticator)

	e.POST("/login", authHandler.Login)
	e.POST("/logout", authHandler.Logout)

	api := e.Group("/api")

	authMiddleware := auth.NewAuthMiddleware(authenticator)
	api.Use(authMiddleware)

	linksRepo := repo.NewLinksRepo(dbInstance)
	analyticsRepo := repo.NewAnalyticsRepo(dbInstance)
	linkHandler := handler.NewLinkHandler(linksRepo, analyticsRepo)
	api.POST("/links", linkHandler.CreateLink)
	api.GET("/links", linkHandler.ListLinks)
	api.DELETE("/links/:id", linkHandler.DeleteLink)
	api.GET("/links/:id/stats", linkHandler.GetLinkStats)

	clk := clock.Real{}

	attemptGuard := guard.New(clk)
	sweeper := guard.NewSweeper(attemptGuard, sweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	geoCfg := geo.Config{ProviderURL: cfg.GeoProviderURL}
	if cfg.Debug {
		// Local traffic comes from private addresses the provider cannot
		// place; never substitute in production.
		geoCfg.DevFallbackIP = cfg.GeoDevFallbackIP
	}
	geoResolver := geo.NewResolver(geoCfg, clk)

	redirectService := redirect.NewService(
		redirect.Config{DefaultURL: cfg.DefaultRedirect},
		linksRepo,
		analyticsRepo,
		geoResolver,
		attemptGuard,
		clk,
	)
	defer redirectService.Drain()

	redirectHandler := handler.NewRedirectHandler(redirectService, cfg.BaseURL)
	e.GET("/redirect/:slug", redirectHandler.Resolve)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	// Parameterized route (must be last)
	e.GET("/:slug", redirectHandler.Follow)

	log.Info().Str("address", cfg.Port).Msg("server starting")

	// Run server and handle graceful shutdown
	runServer(ctx, e, cfg.Port)

	return nil
}

func runServer(ctx context.Context, e *echo.Echo, port string) {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(":" + port)
	}()

	// Wait for context cancellation (Ctrl+C or SIGTERM)
	<-ctx.Done()

	log.Info().Msg("shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during graceful shutdown")
	}

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}

func customErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := "internal server error"

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}

	log.Error().
		Int("code", code).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Err(err).
		Msg("http error")

	if c.Response().Committed {
		return
	}

	c.JSON(code, map[string]any{
		"error": message,
	})
}
