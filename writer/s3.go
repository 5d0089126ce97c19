package writer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"marketfeed/config"
	"marketfeed/logger"
	"marketfeed/models"
)

// ObjectPutter is the part of *s3.Client the sink needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads every series as a parquet object.
type S3Sink struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	part    config.PartitioningConfig
	parquet config.ParquetConfig
	timeout time.Duration
	version string
	log     *logger.Log
}

// NewS3Sink loads AWS configuration the usual way, with static credentials
// taking precedence when both keys are configured.
func NewS3Sink(ctx context.Context, cfg *config.Config) (*S3Sink, error) {
	log := logger.GetLogger()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_sink").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	log.WithComponent("s3_sink").WithFields(logger.Fields{
		"bucket":     s3cfg.Bucket,
		"region":     s3cfg.Region,
		"endpoint":   s3cfg.Endpoint,
		"path_style": s3cfg.PathStyle,
	}).Info("s3 sink initialized")

	return NewS3SinkWithClient(client, cfg), nil
}

func NewS3SinkWithClient(client ObjectPutter, cfg *config.Config) *S3Sink {
	return &S3Sink{
		client:  client,
		bucket:  cfg.Storage.S3.Bucket,
		prefix:  cfg.Storage.S3.Prefix,
		part:    cfg.Writer.Partitioning,
		parquet: cfg.Writer.Formats.Parquet,
		timeout: cfg.Writer.Timeout,
		version: cfg.MarketFeed.Version,
		log:     logger.GetLogger(),
	}
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Export(ctx context.Context, series models.CanonicalSeries) error {
	key := ObjectKey(s.part, s.prefix, series, "parquet")
	log := s.log.WithComponent("s3_sink").WithFields(logger.Fields{
		"request_id": series.RequestID,
		"bucket":     s.bucket,
		"s3_key":     key,
	})

	data, err := EncodeParquet(series, s.parquet)
	if err != nil {
		observe(s.log, s.Name(), series, 0, err)
		log.WithError(err).Error("failed to create parquet file")
		return err
	}

	ctx, cancel := exportContext(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        s.parquet.Compression,
			"marketfeed-version": s.version,
			"request-id":         series.RequestID,
		},
	})
	if err != nil {
		err = fmt.Errorf("failed to upload to S3 bucket %s: %w", s.bucket, err)
	}
	observe(s.log, s.Name(), series, len(data), err)
	if err != nil {
		log.WithError(err).WithEnv("S3_BUCKET").Error("failed to upload to S3")
		return err
	}

	logger.LogPerformanceEntry(log, "s3_sink", "put_object", time.Since(start), logger.Fields{"file_size": len(data)})
	return nil
}

func (s *S3Sink) Close() error { return nil }
