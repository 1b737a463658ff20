package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/stream"
	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(common.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rec(id int64, date string) models.TimeRecord {
	return models.TimeRecord{ID: id, Date: date, UserID: "1", Duration: 60}
}

func TestPartition_FiltersAndGroups(t *testing.T) {
	recs := []models.TimeRecord{
		rec(1, "2024-02-12"), // W07
		rec(2, "2024-02-18"), // W07
		rec(3, "2024-02-19"), // W08
		rec(4, "2024-02-10"), // before range
		rec(5, "2024-03-01"), // after range
		rec(6, "not-a-date"),
		rec(7, "2023-12-31"), // 2023 W52 but outside
	}

	weeks, skipped := Partition(recs, day("2024-02-11"), day("2024-02-20"))
	assert.Equal(t, 1, skipped)
	require.Len(t, weeks, 2)
	assert.Equal(t, "2024_W07", weeks[0].Key())
	assert.Len(t, weeks[0].Records, 2)
	assert.Equal(t, "2024_W08", weeks[1].Key())
	assert.Equal(t, int64(3), weeks[1].Records[0].ID)
}

func TestPartition_ISOYearBoundary(t *testing.T) {
	weeks, _ := Partition([]models.TimeRecord{rec(1, "2024-12-30"), rec(2, "2025-01-05")},
		day("2024-12-01"), day("2025-01-31"))
	require.Len(t, weeks, 1)
	assert.Equal(t, "2025_W01", weeks[0].Key())
}

func TestObjectKey(t *testing.T) {
	w := Week{Year: 2024, Week: 3}
	assert.Equal(t, "exports/timecamp_data_2024_W03.parquet", ObjectKey("exports/", w, "parquet"))
	assert.Equal(t, "timecamp_data_2024_W03.jsonl.gz", ObjectKey("", w, "jsonl.gz"))
	assert.Equal(t, "a/b/timecamp_data_2024_W03.parquet", ObjectKey("/a/b/", w, "parquet"))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, f)
	f, err = ParseFormat("JSONL")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)
	_, err = ParseFormat("avro")
	assert.Error(t, err)
}

func TestEncode_ParquetRoundTrip(t *testing.T) {
	note := "note"
	recs := []models.TimeRecord{rec(1, "2024-02-12"), rec(2, "2024-02-13")}
	recs[0].TaskNote = &note
	recs[0].Tags = []models.Tag{{TagID: 5, Name: "x"}}

	b, err := Encode(FormatParquet, recs)
	require.NoError(t, err)

	got, err := parquet.Read[models.TimeRecord](bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	require.NotNil(t, got[0].TaskNote)
	assert.Equal(t, "note", *got[0].TaskNote)
	require.Len(t, got[0].Tags, 1)
	assert.Equal(t, "x", got[0].Tags[0].Name)
	assert.Nil(t, got[1].TaskNote)
}

func TestEncode_JSONLGzip(t *testing.T) {
	b, err := Encode(FormatJSONL, []models.TimeRecord{rec(1, "2024-02-12"), rec(2, "2024-02-13")})
	require.NoError(t, err)

	zr, err := gzip.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	got, err := stream.Collect(stream.Read(zr))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[1].ID)
}

type putCall struct {
	key  string
	sse  types.ServerSideEncryption
	body []byte
}

type fakePutter struct {
	mu    sync.Mutex
	calls []putCall
	fn    func(n int, in *s3.PutObjectInput) error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	f.calls = append(f.calls, putCall{key: aws.ToString(in.Key), sse: in.ServerSideEncryption, body: body})
	n := len(f.calls)
	f.mu.Unlock()
	if f.fn != nil {
		if err := f.fn(n, in); err != nil {
			return nil, err
		}
	}
	return &s3.PutObjectOutput{}, nil
}

func TestUpload_OneObjectPerWeek(t *testing.T) {
	p := &fakePutter{}
	u := NewWithClient(p, Options{Bucket: "b", Prefix: "tc", Encrypt: true}, logging.Discard())

	rep, err := u.Upload(context.Background(),
		[]models.TimeRecord{rec(1, "2024-02-12"), rec(2, "2024-02-19"), rec(3, "2024-02-20")},
		day("2024-02-01"), day("2024-02-29"))
	require.NoError(t, err)
	assert.Equal(t, []string{"tc/timecamp_data_2024_W07.parquet", "tc/timecamp_data_2024_W08.parquet"}, rep.Keys)
	assert.Equal(t, 3, rep.Records)

	require.Len(t, p.calls, 2)
	for _, c := range p.calls {
		assert.Equal(t, types.ServerSideEncryptionAes256, c.sse)
		assert.NotEmpty(t, c.body)
	}
}

func TestUpload_NothingInRange(t *testing.T) {
	p := &fakePutter{}
	u := NewWithClient(p, Options{Bucket: "b"}, logging.Discard())

	rep, err := u.Upload(context.Background(), []models.TimeRecord{rec(1, "2020-01-01")},
		day("2024-02-01"), day("2024-02-29"))
	require.NoError(t, err)
	assert.Empty(t, rep.Keys)
	assert.Empty(t, p.calls)
}

func TestUpload_SSEFallbackOnCustomEndpoint(t *testing.T) {
	p := &fakePutter{fn: func(n int, in *s3.PutObjectInput) error {
		if in.ServerSideEncryption != "" {
			return &smithy.GenericAPIError{Code: "NotImplemented", Message: "A header you provided implies functionality that is not implemented"}
		}
		return nil
	}}
	u := NewWithClient(p, Options{Bucket: "b", Endpoint: "http://minio:9000", Encrypt: true}, logging.Discard())

	rep, err := u.Upload(context.Background(), []models.TimeRecord{rec(1, "2024-02-12")},
		day("2024-02-12"), day("2024-02-12"))
	require.NoError(t, err)
	assert.Len(t, rep.Keys, 1)
	require.Len(t, p.calls, 2)
	assert.Equal(t, types.ServerSideEncryption(""), p.calls[1].sse)
	assert.Equal(t, p.calls[0].body, p.calls[1].body)
}

func TestUpload_NoFallbackOnAWS(t *testing.T) {
	p := &fakePutter{fn: func(int, *s3.PutObjectInput) error {
		return &smithy.GenericAPIError{Code: "NotImplemented"}
	}}
	u := NewWithClient(p, Options{Bucket: "b", Encrypt: true}, logging.Discard())

	_, err := u.Upload(context.Background(), []models.TimeRecord{rec(1, "2024-02-12")},
		day("2024-02-12"), day("2024-02-12"))
	require.ErrorIs(t, err, common.ErrUploadFailed)
	assert.Len(t, p.calls, 1)
}

func TestUpload_FailureStopsAtFirstWeek(t *testing.T) {
	p := &fakePutter{fn: func(n int, _ *s3.PutObjectInput) error {
		if n == 2 {
			return errors.New("boom")
		}
		return nil
	}}
	u := NewWithClient(p, Options{Bucket: "b"}, logging.Discard())

	rep, err := u.Upload(context.Background(),
		[]models.TimeRecord{rec(1, "2024-02-05"), rec(2, "2024-02-12"), rec(3, "2024-02-19")},
		day("2024-02-01"), day("2024-02-29"))
	require.ErrorIs(t, err, common.ErrUploadFailed)
	assert.Contains(t, err.Error(), "timecamp_data_2024_W07")
	assert.Len(t, rep.Keys, 1)
	assert.Len(t, p.calls, 2)
}

func TestNew_AppliesEndpointAndCredentials(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-west-1", lo.Region)
		require.NotNil(t, lo.Credentials)
		creds, err := lo.Credentials.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ak", creds.AccessKeyID)
		return aws.Config{}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) Putter {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &fakePutter{}
	}

	u, err := New(context.Background(), Options{
		Bucket: "b", Region: "eu-west-1", AccessKey: "ak", SecretKey: "sk",
		Endpoint: "http://minio:9000", UsePathStyle: true,
	}, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, u)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://minio:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}
	_, err = New(context.Background(), Options{Bucket: "b"}, logging.Discard())
	assert.ErrorContains(t, err, "load-fail")

	_, err = New(context.Background(), Options{}, logging.Discard())
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
