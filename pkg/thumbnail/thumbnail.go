package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
)

const (
	DefaultWidth  = 128
	DefaultHeight = 128

	metadataSourceKey = "source-key"
	metadataVersion   = "version"
)

var (
	ErrEmptyOutputBucket = errors.New("output bucket is empty")
	ErrEmptySourceBucket = errors.New("source bucket is empty")
)

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Resizer produces a thumbnail of at most width x height from an encoded image.
type Resizer interface {
	Resize(ctx context.Context, src []byte, contentType string, width, height int) ([]byte, string, error)
}

// Passthrough returns the source image unchanged.
type Passthrough struct{}

func (Passthrough) Resize(ctx context.Context, src []byte, contentType string, width, height int) ([]byte, string, error) {
	return src, contentType, nil
}

type Config struct {
	InputBucket  string
	OutputBucket string
	Version      string
	Width        int
	Height       int
}

// Processor reads the created object, resizes it and writes the result to the
// output bucket. The output key depends only on the source key and version, so a
// redelivered notification overwrites the same object.
type Processor struct {
	client  s3API
	resizer Resizer
	cfg     Config
}

func New(client s3API, resizer Resizer, cfg Config) (*Processor, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}

	if strings.TrimSpace(cfg.OutputBucket) == "" {
		return nil, ErrEmptyOutputBucket
	}

	if resizer == nil {
		resizer = Passthrough{}
	}

	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}

	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}

	return &Processor{
		client:  client,
		resizer: resizer,
		cfg:     cfg,
	}, nil
}

func (p *Processor) Process(ctx context.Context, notification core.Notification) error {
	err := notification.Validate()
	if err != nil {
		return err
	}

	bucket := notification.Bucket
	if bucket == "" {
		bucket = p.cfg.InputBucket
	}

	if bucket == "" {
		return ErrEmptySourceBucket
	}

	object, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(notification.Key),
	})
	if err != nil {
		return fmt.Errorf("get s3 object key=%q: %w", notification.Key, err)
	}
	defer object.Body.Close()

	src, err := io.ReadAll(object.Body)
	if err != nil {
		return fmt.Errorf("read s3 object key=%q: %w", notification.Key, err)
	}

	data, contentType, err := p.resizer.Resize(ctx, src, aws.ToString(object.ContentType), p.cfg.Width, p.cfg.Height)
	if err != nil {
		return fmt.Errorf("resize key=%q: %w", notification.Key, err)
	}

	key := OutputKey(notification.Key, p.cfg.Version)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.OutputBucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			metadataSourceKey: notification.Key,
			metadataVersion:   p.cfg.Version,
		},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	_, err = p.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}

	return nil
}

// OutputKey is the thumbnail key of a source object.
func OutputKey(key, version string) string {
	key = strings.TrimLeft(key, "/")
	if version == "" {
		return path.Join("thumbnails", key)
	}

	return path.Join("thumbnails", "v"+version, key)
}
