// Package main is the Lambda entry point for the JSON endpoints behind API
// Gateway (HTTP API, payload v2): single-page personalization, run lookup and
// health. API Gateway buffers responses, so the streaming endpoint is served
// by storybook-web instead.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/bootstrap"
	"github.com/fpang/storybook-faceswap/internal/config"
	"github.com/fpang/storybook-faceswap/internal/logging"
	"github.com/fpang/storybook-faceswap/internal/server"
)

var handler *httpadapter.HandlerAdapterV2

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	app, err := bootstrap.Build(context.Background(), "storybook-lambda", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	h := server.New(app.Service, server.Options{AllowedOrigins: cfg.AllowedOrigins}).Handler()
	handler = httpadapter.NewV2(h)
	log.Debug().Dur("elapsed", time.Since(initStart)).Msg("Lambda handler ready")
}

func main() {
	lambda.Start(handler.ProxyWithContext)
}
