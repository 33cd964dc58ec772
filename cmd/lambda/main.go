package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	"travel-planner/handler"
	"travel-planner/internal/app"
	"travel-planner/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (environment only; no files in the Lambda package) ----
	cfg, err := config.Load("", "")
	if err != nil {
		zerolog.New(os.Stdout).Fatal().Err(err).Msg("failed to load config")
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	// ---- Services ----
	a, err := app.Build(ctx, cfg, logger, app.RequireAPIKey())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Plan,
		handler.WithDefaultQuery(cfg.Prompts.TravelQuery),
		handler.WithLogger(logger.With().Str("component", "handler").Logger()),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}
