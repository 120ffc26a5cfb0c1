package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/coah80/enhancer/internal/bot"
	"github.com/coah80/enhancer/internal/config"
	"github.com/coah80/enhancer/internal/logging"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("ENHANCER_CONFIG"))
	if err != nil {
		fallback := logging.New(os.Stderr, "production", "info", "auto")
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(os.Stderr, cfg.EnvMode, cfg.LogLevel, cfg.LogFormat)

	token := os.Getenv("DISCORD_TOKEN")
	if token == "" {
		logger.Fatal().Msg("DISCORD_TOKEN is required")
	}
	appID := os.Getenv("DISCORD_APP_ID")
	if appID == "" {
		logger.Fatal().Msg("DISCORD_APP_ID is required")
	}
	apiURL := strings.TrimRight(os.Getenv("ENHANCER_API_URL"), "/")
	if apiURL == "" {
		apiURL = "http://localhost:" + cfg.Port
	}
	publicURL := strings.TrimRight(os.Getenv("ENHANCER_PUBLIC_URL"), "/")

	b, err := bot.New(bot.Config{
		Token:         token,
		AppID:         appID,
		APIURL:        apiURL,
		PublicURL:     publicURL,
		APIPrefix:     cfg.APIPrefix,
		HealthURL:     os.Getenv("ENHANCER_HEALTH_URL"),
		StatusFile:    os.Getenv("BOT_STATUS_FILE"),
		MaxScale:      cfg.MaxScale,
		MaxAttachment: cfg.MaxUploadSize,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create bot")
	}

	if err := b.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start bot")
	}
	logger.Info().Str("api", apiURL).Msg("bot is running, press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("shutting down bot")
	b.Stop()
}
