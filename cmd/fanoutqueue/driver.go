package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/yudhasubki/fanoutqueue"
	"github.com/yudhasubki/fanoutqueue/pkg/postgre"
	"github.com/yudhasubki/fanoutqueue/pkg/sqlite"
	"github.com/yudhasubki/fanoutqueue/pkg/thumbnail"
	"github.com/yudhasubki/fanoutqueue/pkg/turso"
)

func openDriver(cfg Config) (fanoutqueue.Driver, error) {
	switch cfg.Http.Driver {
	case "turso":
		db, err := turso.New(cfg.Turso.URL, cfg.Turso.AuthToken)
		if err != nil {
			return nil, err
		}

		return db, nil
	case "postgres":
		db, err := postgre.New(postgre.Config{
			Host:         cfg.Postgres.Host,
			Username:     cfg.Postgres.Username,
			Password:     cfg.Postgres.Password,
			Name:         cfg.Postgres.Name,
			Port:         cfg.Postgres.Port,
			Timezone:     cfg.Postgres.Timezone,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
		})
		if err != nil {
			return nil, err
		}

		return db, nil
	default:
		db, err := sqlite.New(cfg.SQLite.DatabaseName, sqlite.Config{
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			slog.Error("failed to open database", "error", err)
			return nil, err
		}

		return db, nil
	}
}

func loadAWSConfig(ctx context.Context, cfg AWSConfig) (aws.Config, error) {
	opts := make([]func(*awsconfig.LoadOptions) error, 0)
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func newSQSClient(awsCfg aws.Config, cfg AWSConfig) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
}

func newThumbnailProcessor(awsCfg aws.Config, cfg Config) (*thumbnail.Processor, error) {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			o.UsePathStyle = true
		}
	})

	return thumbnail.New(client, thumbnail.Passthrough{}, thumbnail.Config{
		InputBucket:  cfg.Thumbnail.InputBucket,
		OutputBucket: cfg.Thumbnail.OutputBucket,
		Version:      cfg.Thumbnail.Version,
		Width:        cfg.Thumbnail.Width,
		Height:       cfg.Thumbnail.Height,
	})
}

func consumerOption(cfg ConsumerConfig) fanoutqueue.ConsumerOption {
	opt := fanoutqueue.DefaultConsumerOption()
	if cfg.BatchSize > 0 {
		opt.BatchSize = cfg.BatchSize
	}

	if cfg.MaxBatchingWindow > 0 {
		opt.MaxBatchingWindow = cfg.MaxBatchingWindow
	}

	if cfg.Concurrency > 0 {
		opt.Concurrency = cfg.Concurrency
	}

	if cfg.ItemConcurrency > 0 {
		opt.ItemConcurrency = cfg.ItemConcurrency
	}

	if cfg.InvocationTimeout > 0 {
		opt.InvocationTimeout = cfg.InvocationTimeout
	}

	if cfg.ReleaseFailed {
		opt.OnFailure = fanoutqueue.FailureRelease
	}

	return opt
}
