package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"deepdive-tutor/handler"
	"deepdive-tutor/internal/bootstrap"
	"deepdive-tutor/internal/config"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(config.LambdaProfile)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// ---- Collaborators ----
	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build components", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(app.Tutor, app.Personas, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
