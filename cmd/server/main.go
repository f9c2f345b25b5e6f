package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/King-Eliah/mentorship-platform-sub001/internal/auth"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/config"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/api"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/ratelimit"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/storage"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if *pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	if err := config.Validate(cfg); err != nil {
		logger.Fatal().Err(err).Msg("config invalid")
	}

	db, err := storage.Open(cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connect failed")
	}
	store := storage.New(db)
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("migrate failed")
	}
	logger.Info().Msg("database ready")

	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	limiter := ratelimit.New(cfg.Limits.ConnsPerIP, cfg.Limits.AuthPerMinute)

	hub := ws.NewHub(logger)
	go hub.Run()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	rest := &api.API{
		Store:          store,
		Auth:           authn,
		Limiter:        limiter,
		Log:            logger,
		HistoryDefault: cfg.Limits.HistoryDefault,
	}
	rest.Register(e)

	wsHandler := &ws.Handler{
		Hub:     hub,
		Store:   store,
		Auth:    authn,
		Limiter: limiter,
		Log:     logger,
	}
	e.GET("/ws", echo.WrapHandler(wsHandler))

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Int("conns_per_ip", cfg.Limits.ConnsPerIP).
		Int("auth_per_minute", cfg.Limits.AuthPerMinute).
		Msg("server starting")
	if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
