package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/Arghost/urban-crime-analytics/config"
	"github.com/Arghost/urban-crime-analytics/logger"
)

// ErrStorageWrite wraps any failure returned by the object store.
var ErrStorageWrite = errors.New("storage write error")

const component = "s3_writer"

// ObjectPutter is the part of the S3 client the writer depends on.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// UploadInfo describes the object being written. Fields are stored as
// object metadata.
type UploadInfo struct {
	RunID       string
	WindowStart string
	WindowEnd   string
	RecordCount int
}

// S3Writer uploads finished CSV payloads to a bucket, overwriting any object
// already stored under the same key.
type S3Writer struct {
	client      ObjectPutter
	bucket      string
	prefix      string
	contentType string
	version     string
	log         *logger.Log
}

// NewS3Writer loads the AWS configuration and builds the S3 client. Static
// credentials are used when configured, otherwise the default chain applies.
func NewS3Writer(ctx context.Context, cfg *appconfig.Config) (*S3Writer, error) {
	log := logger.GetLogger()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*config.LoadOptions) error{}
	if s3cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s3cfg.Region))
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				s3cfg.AccessKeyID,
				s3cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent(component).WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	w := NewS3WriterWithClient(cfg, client)

	log.WithComponent(component).WithFields(logger.Fields{
		"bucket":     s3cfg.Bucket,
		"prefix":     s3cfg.Prefix,
		"region":     awsConfig.Region,
		"endpoint":   s3cfg.Endpoint,
		"path_style": s3cfg.PathStyle,
	}).Info("s3 writer initialized")

	return w, nil
}

// NewS3WriterWithClient builds a writer around an existing client.
func NewS3WriterWithClient(cfg *appconfig.Config, client ObjectPutter) *S3Writer {
	contentType := cfg.Storage.S3.ContentType
	if contentType == "" {
		contentType = "text/csv"
	}
	return &S3Writer{
		client:      client,
		bucket:      cfg.Storage.S3.Bucket,
		prefix:      strings.Trim(cfg.Storage.S3.Prefix, "/"),
		contentType: contentType,
		version:     cfg.Ingest.Version,
		log:         logger.GetLogger(),
	}
}

// ObjectKey joins the configured prefix and key.
func (w *S3Writer) ObjectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if w.prefix == "" {
		return key
	}
	return path.Join(w.prefix, key)
}

// URI returns the s3:// location of key.
func (w *S3Writer) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", w.bucket, w.ObjectKey(key))
}

// Upload writes data under key in a single PutObject call.
func (w *S3Writer) Upload(ctx context.Context, data []byte, key string, info UploadInfo) error {
	objectKey := w.ObjectKey(key)
	log := w.log.WithComponent(component).WithFields(logger.Fields{
		"operation": "upload_to_s3",
		"bucket":    w.bucket,
		"s3_key":    objectKey,
		"data_size": len(data),
		"run_id":    info.RunID,
	})
	log.Info("uploading to S3")

	input := &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(w.contentType),
		Metadata: map[string]string{
			"run-id":         info.RunID,
			"window-start":   info.WindowStart,
			"window-end":     info.WindowEnd,
			"record-count":   strconv.Itoa(info.RecordCount),
			"ingest-version": w.version,
		},
	}

	started := time.Now()
	if _, err := w.client.PutObject(ctx, input); err != nil {
		log.WithError(err).WithEnv("S3_BUCKET").Error("failed to upload to S3")
		return fmt.Errorf("%w: upload to s3://%s/%s: %w", ErrStorageWrite, w.bucket, objectKey, err)
	}

	logger.IncrementS3Write(int64(len(data)))
	logger.LogPerformanceEntry(log, component, "put_object", time.Since(started), nil)
	log.Info(fmt.Sprintf("uploaded %d bytes to s3://%s/%s", len(data), w.bucket, objectKey))
	return nil
}
