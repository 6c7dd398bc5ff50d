// Package config declares the worker's runtime configuration, bound to
// environment variables and command-line flags via go-flags tags.
package config

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config is the full configuration of a shutterd worker process.
type Config struct {
	AWS struct {
		Region string `long:"region" env:"AWS_REGION" default:"us-east-1" description:"AWS region of the queue, table, and bucket"`
	} `group:"aws" namespace:"aws"`

	Queue struct {
		URL               string `long:"url" env:"SQS_QUEUE_URL" description:"URL of the capture-request queue"`
		BatchSize         int    `long:"batch-size" env:"SQS_BATCH_SIZE" default:"5" description:"Messages fetched per receive, and the handler concurrency bound"`
		VisibilityTimeout int    `long:"visibility-timeout" env:"SQS_VISIBILITY_TIMEOUT" default:"300" description:"Seconds a received message stays hidden from other consumers"`
		WaitTimeSeconds   int    `long:"wait-time" env:"SQS_WAIT_TIME_SECONDS" default:"20" description:"Long-poll wait of each receive call, in seconds"`
	} `group:"queue" namespace:"queue"`

	Storage struct {
		Bucket string `long:"bucket" env:"S3_BUCKET_NAME" description:"Bucket receiving captured screenshots"`
		Table  string `long:"table" env:"DYNAMODB_TABLE_NAME" description:"Table holding per-request records"`
	} `group:"storage" namespace:"storage"`

	Screenshot struct {
		Width     int `long:"width" env:"SCREENSHOT_WIDTH" default:"1920" description:"Default viewport width in pixels"`
		Height    int `long:"height" env:"SCREENSHOT_HEIGHT" default:"1080" description:"Default viewport height in pixels"`
		TimeoutMS int `long:"timeout" env:"SCREENSHOT_TIMEOUT" default:"30000" description:"Per-render hard timeout in milliseconds"`
	} `group:"screenshot" namespace:"screenshot"`

	LogLevel   string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Logging level (trace, debug, info, warn, error)"`
	HealthPort int    `long:"health-port" env:"HEALTH_PORT" default:"8080" description:"Port of the health and metrics endpoint"`
}

// Validate returns an error if the configuration cannot be served.
func (c *Config) Validate() error {
	if c.Queue.URL == "" {
		return fmt.Errorf("SQS_QUEUE_URL must be set")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("S3_BUCKET_NAME must be set")
	}
	if c.Storage.Table == "" {
		return fmt.Errorf("DYNAMODB_TABLE_NAME must be set")
	}
	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("SQS_BATCH_SIZE must be at least 1")
	}
	if c.Screenshot.Width <= 0 || c.Screenshot.Height <= 0 {
		return fmt.Errorf("default viewport dimensions must be positive")
	}
	return nil
}

// RenderTimeout returns the per-render hard timeout as a Duration.
func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.Screenshot.TimeoutMS) * time.Millisecond
}

// InitLog configures the process-wide logger from the configured level.
// Unknown levels fall back to info.
func (c *Config) InitLog() {
	var level, err = log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
		log.WithField("logLevel", c.LogLevel).Warn("unknown log level, using info")
	}
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})
}
