// Package objectstore writes records to S3-compatible storage as one object
// per ISO week. Object keys are deterministic, so re-uploading a range
// replaces its weeks.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/metrics"
	"github.com/dmitrijs2005/timecampetl/internal/models"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) Putter {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Putter is the S3 call the uploader makes. *s3.Client satisfies it.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the uploader.
type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint targets an S3-compatible service such as MinIO.
	Endpoint     string
	UsePathStyle bool
	// Encrypt requests SSE-S3 (AES256).
	Encrypt bool
	Format  Format
}

// Uploader pushes weekly objects.
type Uploader struct {
	client Putter
	opts   Options
	log    logging.Logger
}

// New builds an Uploader from opts. Static credentials are used when given,
// the default AWS chain otherwise.
func New(ctx context.Context, opts Options, log logging.Logger) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", common.ErrInvalidConfig)
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return NewWithClient(client, opts, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c Putter, opts Options, log logging.Logger) *Uploader {
	if opts.Format == "" {
		opts.Format = FormatParquet
	}
	return &Uploader{client: c, opts: opts, log: log}
}

// Report lists what an upload wrote.
type Report struct {
	Keys    []string
	Records int
	Skipped int
}

// Upload filters recs to [from, to], groups them by ISO week and writes one
// object per week. The first failing week aborts with common.ErrUploadFailed;
// weeks already written stay in place.
func (u *Uploader) Upload(ctx context.Context, recs []models.TimeRecord, from, to time.Time) (Report, error) {
	weeks, skipped := Partition(recs, from, to)
	rep := Report{Skipped: skipped}
	if skipped > 0 {
		u.log.Warn(ctx, "skipped records without a usable date", "count", skipped)
	}
	if len(weeks) == 0 {
		u.log.Info(ctx, "no records in range, nothing to upload")
		return rep, nil
	}

	for _, w := range weeks {
		key := ObjectKey(u.opts.Prefix, w, u.opts.Format.Ext())
		body, err := Encode(u.opts.Format, w.Records)
		if err != nil {
			return rep, fmt.Errorf("%w: encode week %s: %w", common.ErrUploadFailed, w.Key(), err)
		}
		if err := u.put(ctx, key, body); err != nil {
			return rep, fmt.Errorf("%w: s3://%s/%s: %w", common.ErrUploadFailed, u.opts.Bucket, key, err)
		}
		metrics.ObjectUploaded()
		u.log.Info(ctx, "uploaded week", "week", w.Key(), "key", key, "records", len(w.Records), "bytes", len(body))
		rep.Keys = append(rep.Keys, key)
		rep.Records += len(w.Records)
	}
	return rep, nil
}

func (u *Uploader) put(ctx context.Context, key string, body []byte) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(u.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(u.opts.Format.ContentType()),
	}
	if u.opts.Encrypt {
		in.ServerSideEncryption = types.ServerSideEncryptionAes256
	}

	_, err := u.client.PutObject(ctx, in)
	if err == nil || !u.opts.Encrypt || u.opts.Endpoint == "" || !sseRejected(err) {
		return err
	}

	u.log.Warn(ctx, "server-side encryption not supported by endpoint, retrying without it", "key", key)
	in.ServerSideEncryption = ""
	in.Body = bytes.NewReader(body)
	_, err = u.client.PutObject(ctx, in)
	return err
}

func sseRejected(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NotImplemented", "InvalidArgument", "InvalidEncryptionAlgorithmError":
			return true
		}
		return strings.Contains(strings.ToLower(ae.ErrorMessage()), "encryption")
	}
	return strings.Contains(err.Error(), "ServerSideEncryption")
}
