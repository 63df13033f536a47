// Package export uploads a day's usage totals for all users to S3
// compatible object storage as a JSON document.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"github.com/dmitrijs2005/codetime/internal/logging"
	sc "github.com/dmitrijs2005/codetime/internal/server/config"
	"github.com/dmitrijs2005/codetime/internal/server/models"
)

// test seams
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// ObjectPutter is the part of *s3.Client the exporter needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// UsageSource lists every user's daily totals for one date (YYYY-MM-DD).
type UsageSource interface {
	DailyUsageOn(ctx context.Context, date string) ([]models.DailyUsage, error)
}

// NewS3Client builds a client for the configured endpoint with static
// credentials. Path-style addressing keeps MinIO happy.
func NewS3Client(ctx context.Context, cfg *sc.Config) (*s3.Client, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// Report is the uploaded document.
type Report struct {
	Date ledger.Date         `json:"date"`
	Rows []models.DailyUsage `json:"rows"`
}

type Exporter struct {
	source UsageSource
	putter ObjectPutter
	bucket string
	logger logging.Logger
}

func New(source UsageSource, putter ObjectPutter, bucket string, logger logging.Logger) *Exporter {
	return &Exporter{
		source: source,
		putter: putter,
		bucket: bucket,
		logger: logger.With("module", "export"),
	}
}

// Key returns the object key a date is stored under.
func Key(date ledger.Date) string {
	return "daily/" + date.String() + ".json"
}

// Export uploads date's report and returns its key and row count.
func (e *Exporter) Export(ctx context.Context, date ledger.Date) (string, int, error) {
	rows, err := e.source.DailyUsageOn(ctx, date.String())
	if err != nil {
		return "", 0, fmt.Errorf("load usage: %w", err)
	}
	if rows == nil {
		rows = []models.DailyUsage{}
	}

	body, err := json.Marshal(Report{Date: date, Rows: rows})
	if err != nil {
		return "", 0, fmt.Errorf("encode report: %w", err)
	}

	key := Key(date)
	_, err = e.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", 0, fmt.Errorf("upload %s: %w", key, err)
	}

	e.logger.Info(ctx, "daily usage exported", "bucket", e.bucket, "key", key, "rows", len(rows))
	return key, len(rows), nil
}
