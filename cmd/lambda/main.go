package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/app"
	"github.com/berniyo/mpesa-lambda/internal/config"
	"github.com/berniyo/mpesa-lambda/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("failed to configure components", zap.Error(err))
	}

	processor, err := a.Processor()
	if err != nil {
		log.Fatal("failed to configure processor", zap.Error(err))
	}

	lambda.Start(processor.Handle)
}
