package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	errorEmptyPath = errors.New("configuration path is empty")
	shutdown       = make(chan os.Signal, 1)
)

func main() {
	m := &Main{}

	err := m.Run(context.Background(), os.Args[1:])
	if err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}

type Main struct{}

func (m *Main) Run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "http":
		return (&Http{}).Run(ctx, args)
	case "migrate":
		return (&Migrate{}).Run(ctx, args)
	case "consume":
		return (&Consume{}).Run(ctx, args)
	default:
		if cmd == "" || cmd == "help" {
			m.Usage()
			return flag.ErrHelp
		}

		return fmt.Errorf("unknown command : %v", cmd)
	}
}

func (m *Main) Usage() {
	fmt.Println(`
fanoutqueue fans object-created events out to durable queues and drains them in batches

Usage:

	fanoutqueue <command> [arguments]

The commands are:

	http    	running fanoutqueue with http-based
	migrate 	running migration fanoutqueue
	consume 	draining an SQS queue into the thumbnail processor
`[1:])
}

type Config struct {
	KV        KVConfig         `yaml:"kv"`
	Http      HttpConfig       `yaml:"http"`
	Logging   LoggingConfig    `yaml:"logging"`
	SQLite    SQLiteConfig     `yaml:"sqlite"`
	Postgres  PostgresConfig   `yaml:"postgres"`
	Turso     TursoConfig      `yaml:"turso"`
	Queue     QueueConfig      `yaml:"queue"`
	Sources   []SourceConfig   `yaml:"sources"`
	Consumers []ConsumerConfig `yaml:"consumers"`
	Thumbnail ThumbnailConfig  `yaml:"thumbnail"`
	AWS       AWSConfig        `yaml:"aws"`
}

func ReadConfigFile(filename string) (_ Config, err error) {
	var config Config
	b, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}

	err = yaml.Unmarshal(b, &config)
	if err != nil {
		return config, err
	}

	if config.Http.Shutdown.Seconds() == 0 {
		config.Http.Shutdown = 30 * time.Second
	}

	if v := os.Getenv("INPUT_BUCKET"); v != "" {
		config.Thumbnail.InputBucket = v
	}

	if v := os.Getenv("OUTPUT_BUCKET"); v != "" {
		config.Thumbnail.OutputBucket = v
	}

	if v := os.Getenv("VERSION"); v != "" {
		config.Thumbnail.Version = v
	}

	logOutput := os.Stdout
	if config.Logging.Stderr {
		logOutput = os.Stderr
	}

	logOpts := slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	switch strings.ToUpper(config.Logging.Level) {
	case "DEBUG":
		logOpts.Level = slog.LevelDebug
	case "WARN", "WARNING":
		logOpts.Level = slog.LevelWarn
	case "ERROR":
		logOpts.Level = slog.LevelError
	}

	var logHandler slog.Handler
	switch config.Logging.Type {
	case "json":
		logHandler = slog.NewJSONHandler(logOutput, &logOpts)
	default:
		logHandler = slog.NewTextHandler(logOutput, &logOpts)
	}

	slog.SetDefault(slog.New(logHandler))

	return config, nil
}

type HttpConfig struct {
	Port     string        `yaml:"port"`
	Shutdown time.Duration `yaml:"shutdown"`
	Driver   string        `yaml:"driver"`
}

func register(fs *flag.FlagSet) *string {
	return fs.String("config", "", "config path")
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Type   string `yaml:"type"`
	Stderr bool   `yaml:"stderr"`
}

type SQLiteConfig struct {
	DatabaseName string `yaml:"db_name"`
	BusyTimeout  int    `yaml:"busy_timeout"`
}

type PostgresConfig struct {
	Host         string `yaml:"host"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	Port         int    `yaml:"port"`
	Timezone     string `yaml:"timezone"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type TursoConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
}

type KVConfig struct {
	Path string `yaml:"path"`
}

type QueueConfig struct {
	PublishWorkers   int           `yaml:"publish_workers"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	DeliveryAttempts int           `yaml:"delivery_attempts"`
	DeliveryInterval time.Duration `yaml:"delivery_interval"`
}

type SourceConfig struct {
	Name     string   `yaml:"name"`
	Bucket   string   `yaml:"bucket"`
	Topic    string   `yaml:"topic"`
	Suffixes []string `yaml:"suffixes"`
}

type ConsumerConfig struct {
	Topic             string        `yaml:"topic"`
	Subscriber        string        `yaml:"subscriber"`
	BatchSize         int           `yaml:"batch_size"`
	MaxBatchingWindow time.Duration `yaml:"max_batching_window"`
	Concurrency       int           `yaml:"concurrency"`
	ItemConcurrency   int           `yaml:"item_concurrency"`
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`
	ReleaseFailed     bool          `yaml:"release_failed"`
}

type ThumbnailConfig struct {
	InputBucket  string `yaml:"input_bucket"`
	OutputBucket string `yaml:"output_bucket"`
	Version      string `yaml:"version"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
}

type AWSConfig struct {
	Region            string        `yaml:"region"`
	Endpoint          string        `yaml:"endpoint"`
	QueueURL          string        `yaml:"queue_url"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}
