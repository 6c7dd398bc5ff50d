package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/shutterd/shutterd/blob"
	"github.com/shutterd/shutterd/config"
	"github.com/shutterd/shutterd/coordinator"
	"github.com/shutterd/shutterd/queue"
	"github.com/shutterd/shutterd/render"
	"github.com/shutterd/shutterd/store"
	"github.com/shutterd/shutterd/worker"
)

func main() {
	var cfg config.Config
	if _, err := flags.NewParser(&cfg, flags.Default).Parse(); err != nil {
		os.Exit(1)
	}
	cfg.InitLog()
	if err := cfg.Validate(); err != nil {
		log.WithField("error", err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.WithField("error", err).Fatal("loading AWS configuration")
	}

	var records = store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Storage.Table)
	var objects = blob.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Storage.Bucket, cfg.AWS.Region)
	var consumer = queue.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Queue.URL,
		cfg.Queue.BatchSize, cfg.Queue.WaitTimeSeconds, cfg.Queue.VisibilityTimeout)

	// Warm the browser engine before consuming; a launch failure here is
	// fatal and the orchestrator restarts us.
	renderer, err := render.New()
	if err != nil {
		log.WithField("error", err).Fatal("launching browser engine")
	}

	var coord = coordinator.New(records, objects, renderer, coordinator.Defaults{
		Width:         cfg.Screenshot.Width,
		Height:        cfg.Screenshot.Height,
		RenderTimeout: cfg.RenderTimeout(),
	})

	var health = worker.NewHealthServer(cfg.HealthPort)
	go func() {
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("error", err).Error("health server failed")
		}
	}()

	var runtime = worker.New(consumer, coord, cfg.Queue.BatchSize,
		time.Duration(cfg.Queue.VisibilityTimeout)*time.Second)

	log.WithFields(log.Fields{
		"queue":       cfg.Queue.URL,
		"concurrency": cfg.Queue.BatchSize,
	}).Info("worker started")

	var runErr = runtime.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = health.Shutdown(shutdownCtx)
	cancel()
	_ = renderer.Close()

	if runErr != nil {
		log.WithField("error", runErr).Error("worker exited uncleanly")
		os.Exit(1)
	}
	log.Info("worker stopped")
}
