package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/yudhasubki/fanoutqueue"
	"github.com/yudhasubki/fanoutqueue/pkg/awssqs"
)

var errorEmptyQueueURL = errors.New("aws queue url is empty")

// Consume drains a real SQS queue into the thumbnail processor.
type Consume struct{}

func (c *Consume) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fanoutqueue-consume", flag.ContinueOnError)
	path := register(fs)
	fs.Usage = c.Usage

	err := fs.Parse(args)
	if err != nil {
		return err
	}

	if *path == "" {
		return errorEmptyPath
	}

	cfg, err := ReadConfigFile(*path)
	if err != nil {
		return err
	}

	if cfg.AWS.QueueURL == "" {
		return errorEmptyQueueURL
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	receiver, err := awssqs.New(newSQSClient(awsCfg, cfg.AWS), cfg.AWS.QueueURL)
	if err != nil {
		return err
	}
	receiver.VisibilityTimeout = cfg.AWS.VisibilityTimeout

	processor, err := newThumbnailProcessor(awsCfg, cfg)
	if err != nil {
		return err
	}

	var consumerCfg ConsumerConfig
	if len(cfg.Consumers) > 0 {
		consumerCfg = cfg.Consumers[0]
	}

	consumer, err := fanoutqueue.NewConsumer("sqs", receiver, processor, consumerOption(consumerCfg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	return consumer.Run(ctx)
}

func (c *Consume) Usage() {
	fmt.Printf(`
The consume command drains the configured SQS queue and writes thumbnails to the output bucket.

Usage:
	fanoutqueue consume [arguments]

Arguments:
	-config PATH
	    Specifies the configuration file.
`[1:],
	)
}
