package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lesismal/nbio/nbhttp"
	"github.com/yudhasubki/fanoutqueue"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
	"github.com/yudhasubki/fanoutqueue/pkg/kv"
)

type Http struct{}

func (h *Http) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fanoutqueue-http", flag.ContinueOnError)
	path := register(fs)
	fs.Usage = h.Usage

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

	driver, err := openDriver(cfg)
	if err != nil {
		return err
	}

	store, err := kv.New(cfg.KV.Path)
	if err != nil {
		slog.Error("failed to open kv database", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)

	queue := fanoutqueue.New(driver, store, fanoutqueue.Option{
		PublishWorkers:   cfg.Queue.PublishWorkers,
		SweepInterval:    cfg.Queue.SweepInterval,
		DeliveryAttempts: cfg.Queue.DeliveryAttempts,
		DeliveryInterval: cfg.Queue.DeliveryInterval,
	})

	err = queue.Run(ctx)
	if err != nil {
		cancel()
		return err
	}

	sources := make(map[string]*fanoutqueue.Source, len(cfg.Sources))
	for _, source := range cfg.Sources {
		sources[source.Name] = fanoutqueue.NewSource(fanoutqueue.SourceOption{
			Name:     source.Name,
			Bucket:   source.Bucket,
			Topic:    source.Topic,
			Suffixes: source.Suffixes,
		}, queue.Async())
	}

	err = h.startConsumers(ctx, cfg, queue)
	if err != nil {
		cancel()
		return err
	}

	mux := chi.NewRouter()
	mux.Mount("/", (&fanoutqueue.Http{
		Queue:   queue,
		Sources: sources,
	}).Router())

	engine := nbhttp.NewEngine(nbhttp.Config{
		Network: "tcp",
		Addrs:   []string{":" + cfg.Http.Port},
		Handler: mux,
		IOMod:   nbhttp.IOModNonBlocking,
	})

	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	err = engine.Start()
	if err != nil {
		cancel()
		return err
	}
	<-shutdown

	cancel()
	engine.Stop()
	queue.Close()
	driver.Close()
	store.Close()

	// handling graceful shutdown
	time.Sleep(cfg.Http.Shutdown)

	return nil
}

// startConsumers drains the configured subscriber queues in process. Without an
// output bucket the notifications are only logged.
func (h *Http) startConsumers(ctx context.Context, cfg Config, queue *fanoutqueue.FanoutQueue) error {
	if len(cfg.Consumers) == 0 {
		return nil
	}

	var processor fanoutqueue.Processor = fanoutqueue.ProcessorFunc(func(ctx context.Context, notification core.Notification) error {
		slog.Info("notification received", "object_key", notification.Key, "bucket", notification.Bucket)
		return nil
	})

	if cfg.Thumbnail.OutputBucket != "" {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return err
		}

		processor, err = newThumbnailProcessor(awsCfg, cfg)
		if err != nil {
			return err
		}
	}

	for _, c := range cfg.Consumers {
		subscription, err := queue.Subscription(c.Topic, c.Subscriber)
		if err != nil {
			return fmt.Errorf("consumer %s/%s: %w", c.Topic, c.Subscriber, err)
		}

		consumer, err := fanoutqueue.NewConsumer(c.Subscriber, subscription, processor, consumerOption(c))
		if err != nil {
			return err
		}

		go func() {
			err := consumer.Run(ctx)
			if err != nil {
				slog.Error("consumer stopped", "subscriber", consumer.Name, "error", err)
			}
		}()
	}

	return nil
}

func (h *Http) Usage() {
	fmt.Printf(`
The HTTP command lists all protocol needed in the configuration file.

Usage:
	fanoutqueue http [arguments]

Arguments:
	-config PATH
	    Specifies the configuration file.
`[1:],
	)
}
