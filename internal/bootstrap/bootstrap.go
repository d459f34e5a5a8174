// Package bootstrap wires configuration into a ready-to-serve service. It is
// shared by the web server, the Lambda handler and the CLI so that each
// entry point's startup is a short composition of these helpers.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/config"
	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/fal"
	"github.com/fpang/storybook-faceswap/internal/gemini"
	"github.com/fpang/storybook-faceswap/internal/logging"
	"github.com/fpang/storybook-faceswap/internal/metrics"
	"github.com/fpang/storybook-faceswap/internal/notify"
	"github.com/fpang/storybook-faceswap/internal/provider"
	"github.com/fpang/storybook-faceswap/internal/service"
	"github.com/fpang/storybook-faceswap/internal/storage"
	"github.com/fpang/storybook-faceswap/internal/store"
	"github.com/fpang/storybook-faceswap/internal/story"
)

// App is the assembled application.
type App struct {
	Config   *config.Config
	Pipeline *faceswap.Pipeline
	Service  *service.Service
}

// checkBook validates the page table before anything is served.
var checkBook = story.Validate

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *config.Config) bool {
	return cfg.Bucket != "" || cfg.RunTable != "" || cfg.EventBus != "" || cfg.FalKey == "" ||
		(cfg.EditProvider == config.EditProviderGemini && cfg.GeminiAPIKey == "")
}

// Build validates cfg, loads missing secrets, and constructs every component.
// name identifies the entry point in the startup log.
func Build(ctx context.Context, name string, cfg *config.Config) (*App, error) {
	initStart := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := checkBook(); err != nil {
		return nil, fmt.Errorf("check book: %w", err)
	}
	startup := logging.NewStartupLogger(name).CommitHash(CommitHash)

	var awsCfg aws.Config
	if needsAWS(cfg) {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		log.Debug().Str("region", awsCfg.Region).Msg("AWS config loaded")
		if err := cfg.LoadSecrets(ctx, ssm.NewFromConfig(awsCfg)); err != nil {
			return nil, err
		}
		startup.SSMParam("falKey", cfg.FalKeyParam)
	}
	if err := cfg.RequireProviderKeys(); err != nil {
		return nil, err
	}

	fetcher := storage.NewFetcher(nil)

	// Storage is optional locally. Without a bucket, provider URLs are kept
	// as-is and the source photo is used unprepared.
	var (
		persister provider.Persister
		bridge    provider.URLBridge = provider.PassthroughBridge{}
		rehoster  faceswap.Rehoster
		preparer  faceswap.PhotoPreparer
	)
	if cfg.Bucket != "" {
		s3Client := s3.NewFromConfig(awsCfg)
		objects := storage.NewS3Store(s3Client, s3.NewPresignClient(s3Client), cfg.Bucket, cfg.BucketPrefix, cfg.PresignExpiry)
		b, err := storage.NewBridge(fetcher, objects, cfg.PublicBaseURL, objects.Expiry())
		if err != nil {
			return nil, err
		}
		persister, bridge = objects, b
		rehoster = storage.NewRehoster(fetcher, objects)
		if cfg.PreparePhoto {
			preparer = storage.NewPhotoPreparer(fetcher, objects, cfg.MaxPhotoEdge)
		}
		startup.S3Bucket("output", cfg.Bucket)
	} else {
		log.Warn().Msg("STORYBOOK_BUCKET not set, outputs are not re-hosted and local URLs are not bridged")
	}

	falClient := fal.NewClient(cfg.FalKey, cfg.FalOptions())
	var editor provider.PromptEditor = falClient
	if cfg.EditProvider == config.EditProviderGemini {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		editor = gemini.NewEditor(client, cfg.GeminiModel, fetcher, persister)
		startup.Endpoint("edit", "gemini:"+cfg.GeminiModel)
	} else {
		startup.Endpoint("edit", cfg.FalEndpoints.Edit)
	}

	pipeline := faceswap.New(faceswap.Deps{
		Stylizer:          falClient,
		Compositor:        falClient,
		Editor:            editor,
		Swapper:           falClient,
		Bridge:            bridge,
		Rehoster:          rehoster,
		Preparer:          preparer,
		CompositorOptions: cfg.CompositorOptions(),
	})

	var runs store.RunStore = store.NewMemoryStore(cfg.RunTTL)
	if cfg.RunTable != "" {
		runs = store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.RunTable, cfg.RunTTL)
		startup.DynamoTable("runs", cfg.RunTable)
	}
	var notifier notify.Notifier = notify.Nop{}
	if cfg.EventBus != "" {
		notifier = notify.NewEventBridge(eventbridge.NewFromConfig(awsCfg), cfg.EventBus)
		startup.EventBus("runs", cfg.EventBus)
	}
	metrics.SetEnabled(cfg.Metrics)

	svc := service.New(pipeline, runs, notifier, service.Options{
		IllustrationBaseURL: cfg.IllustrationBaseURL,
		Concurrency:         cfg.Concurrency,
		EnableFallback:      cfg.EnableFallback,
	})

	startup.
		Endpoint("portrait", cfg.FalEndpoints.Portrait).
		Endpoint("composite", cfg.FalEndpoints.Composite).
		Endpoint("basicSwap", cfg.FalEndpoints.BasicSwap).
		Feature("fallback", cfg.EnableFallback).
		Feature("preparePhoto", preparer != nil).
		Feature("metrics", cfg.Metrics).
		Config("illustrationBaseURL", cfg.IllustrationBaseURL).
		Config("concurrency", fmt.Sprint(cfg.Concurrency)).
		Config("compositeTimeout", cfg.CompositeTimeout.String()).
		Config("maxRetries", fmt.Sprint(cfg.MaxRetries)).
		InitDuration(time.Since(initStart)).
		Log()

	return &App{Config: cfg, Pipeline: pipeline, Service: svc}, nil
}
