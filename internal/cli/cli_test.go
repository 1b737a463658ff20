package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/objectstore"
	"github.com/dmitrijs2005/timecampetl/internal/stream"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.New("x"), ExitUnexpected},
		{fmt.Errorf("w: %w", common.ErrInvalidRange), ExitInvalid},
		{common.ErrInvalidConfig, ExitInvalid},
		{fmt.Errorf("w: %w", common.ErrSourceUnavailable), ExitSource},
		{common.ErrSchemaMismatch, ExitStaging},
		{fmt.Errorf("%w: %w", common.ErrStagingFailed, common.ErrSchemaMismatch), ExitStaging},
		{common.ErrMergeFailed, ExitMerge},
		{common.ErrUploadFailed, ExitUpload},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "%v", tt.err)
	}
}

// isolate clears the environment variables the loader reads.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TIMECAMP_API_KEY", "TIMECAMP_API_URL", "ETL_DESTINATION", "S3_BUCKET_NAME", "KAFKA_BROKERS", "PUSHGATEWAY_URL"} {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), append(args, "--env-file", ""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func timecampServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/entries":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "1", "user_id": "7", "date": "2024-01-02", "duration": "60"},
				{"id": "2", "user_id": "7", "date": "2024-01-09", "duration": "120"},
			})
		case strings.HasPrefix(r.URL.Path, "/user/"):
			w.WriteHeader(http.StatusNotFound)
		default:
			_ = json.NewEncoder(w).Encode([]any{})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecute_InvalidRange(t *testing.T) {
	isolate(t)
	code, _, stderr := execute(t, "run", "--api-key", "k", "--from", "2024-02-01", "--to", "2024-01-01")
	assert.Equal(t, ExitInvalid, code)
	assert.Contains(t, stderr, "after")
}

func TestExecute_BadDate(t *testing.T) {
	isolate(t)
	code, _, _ := execute(t, "fetch", "--api-key", "k", "--from", "someday")
	assert.Equal(t, ExitInvalid, code)
}

func TestExecute_MissingAPIKey(t *testing.T) {
	isolate(t)
	code, _, stderr := execute(t, "fetch", "--from", "2024-01-01", "--to", "2024-01-02")
	assert.Equal(t, ExitInvalid, code)
	assert.Contains(t, stderr, "TIMECAMP_API_KEY")
}

func TestExecute_UnknownFlag(t *testing.T) {
	isolate(t)
	code, _, _ := execute(t, "fetch", "--bogus")
	assert.Equal(t, ExitInvalid, code)
}

func TestExecute_FetchWritesFile(t *testing.T) {
	isolate(t)
	srv := timecampServer(t)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	code, stdout, stderr := execute(t, "fetch", "--api-key", "k", "--api-url", srv.URL, "--rps", "0",
		"--from", "2024-01-01", "--to", "2024-01-31", "-o", out)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "wrote 2 records")

	recs, err := stream.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[1].ID)
}

func TestExecute_FetchSourceDown(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	code, _, _ := execute(t, "fetch", "--api-key", "k", "--api-url", srv.URL, "--rps", "0",
		"--from", "2024-01-01", "--to", "2024-01-31", "-o", filepath.Join(t.TempDir(), "x.jsonl"))
	assert.Equal(t, ExitSource, code)
}

func TestExecute_FetchActivities(t *testing.T) {
	isolate(t)
	var (
		mu   sync.Mutex
		days []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users":
			_ = json.NewEncoder(w).Encode([]map[string]any{{"user_id": "7"}})
		case "/activity":
			mu.Lock()
			days = append(days, r.URL.Query().Get("dates[]"))
			mu.Unlock()
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"user_id": "7", "application_id": "3", "end_time": r.URL.Query().Get("dates[]") + " 10:00:00", "time_span": 60},
			})
		case "/application":
			_ = json.NewEncoder(w).Encode(map[string]any{"3": map[string]any{"app_name": "code", "category_id": "2"}})
		case "/user/7":
			_ = json.NewEncoder(w).Encode(map[string]any{"user_id": "7", "email": "a@example.com", "display_name": "Ann"})
		default:
			_ = json.NewEncoder(w).Encode([]any{})
		}
	}))
	t.Cleanup(srv.Close)
	out := filepath.Join(t.TempDir(), "acts.jsonl")

	code, stdout, stderr := execute(t, "fetch-activities", "--api-key", "k", "--api-url", srv.URL, "--rps", "0",
		"--from", "2024-01-01", "--to", "2024-01-02", "-o", out)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "wrote 2 activities")
	mu.Lock()
	assert.Equal(t, []string{"2024-01-01", "2024-01-02"}, days)
	mu.Unlock()

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"start_time":"2024-01-01 09:59:00"`)
	assert.Contains(t, lines[0], `"application_name":"code"`)
	assert.Contains(t, lines[0], `"category_name":"Developer Tools"`)
	assert.Contains(t, lines[0], `"user_name":"Ann"`)
}

type recordingPutter struct {
	keys []string
	err  error
}

func (p *recordingPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.keys = append(p.keys, *in.Key)
	return &s3.PutObjectOutput{}, nil
}

func stubUploader(t *testing.T, p objectstore.Putter) {
	t.Helper()
	orig := newUploader
	t.Cleanup(func() { newUploader = orig })
	newUploader = func(_ context.Context, opts objectstore.Options, log logging.Logger) (*objectstore.Uploader, error) {
		return objectstore.NewWithClient(p, opts, log), nil
	}
}

func TestExecute_RunToS3(t *testing.T) {
	isolate(t)
	srv := timecampServer(t)
	p := &recordingPutter{}
	stubUploader(t, p)

	code, stdout, stderr := execute(t, "run", "--api-key", "k", "--api-url", srv.URL, "--rps", "0",
		"-d", "s3", "--s3-bucket", "b", "--s3-prefix", "tc", "--work-dir", t.TempDir(),
		"--from", "2024-01-01", "--to", "2024-01-31")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, []string{"tc/timecamp_data_2024_W01.parquet", "tc/timecamp_data_2024_W02.parquet"}, p.keys)
	assert.Contains(t, stdout, "objects=2")
}

func TestExecute_RunToS3UploadFails(t *testing.T) {
	isolate(t)
	srv := timecampServer(t)
	stubUploader(t, &recordingPutter{err: errors.New("denied")})

	code, _, _ := execute(t, "run", "--api-key", "k", "--api-url", srv.URL, "--rps", "0",
		"-d", "s3", "--s3-bucket", "b", "--work-dir", t.TempDir(),
		"--from", "2024-01-01", "--to", "2024-01-31")
	assert.Equal(t, ExitUpload, code)
}

func TestExecute_UploadFile(t *testing.T) {
	isolate(t)
	p := &recordingPutter{}
	stubUploader(t, p)

	in := filepath.Join(t.TempDir(), "in.jsonl")
	require.NoError(t, os.WriteFile(in, []byte(`{"id":1,"user_id":"7","date":"2024-03-05","tags":[]}`+"\n"), 0o600))

	code, stdout, stderr := execute(t, "upload", in, "--s3-bucket", "b", "--s3-format", "jsonl",
		"--from", "2024-03-01", "--to", "2024-03-31")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, []string{"timecamp_data_2024_W10.jsonl.gz"}, p.keys)
	assert.Contains(t, stdout, "uploaded 1 objects")
}

func TestExecute_PostgresUnavailable(t *testing.T) {
	isolate(t)
	orig := openPool
	t.Cleanup(func() { openPool = orig })
	openPool = func(context.Context, string, bool) (*pgxpool.Pool, error) {
		return nil, errors.New("connection refused")
	}

	in := filepath.Join(t.TempDir(), "in.jsonl")
	require.NoError(t, os.WriteFile(in, nil, 0o600))

	code, _, stderr := execute(t, "load", in)
	assert.Equal(t, ExitStaging, code)
	assert.Contains(t, stderr, "connection refused")
}

func TestExecute_LoadRejectsS3(t *testing.T) {
	isolate(t)
	code, _, _ := execute(t, "load", "x.jsonl", "-d", "s3")
	assert.Equal(t, ExitInvalid, code)
}

func TestExecute_Convert(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "data.jsonl")
	require.NoError(t, os.WriteFile(in, []byte("{\"id\":1,\"tags\":[{\"tag_id\":2}]}\n{\"id\":2,\"extra\":true}\n"), 0o600))

	code, stdout, stderr := execute(t, "convert", in)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "wrote 2 rows")

	b, err := os.ReadFile(filepath.Join(dir, "data.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,tags,extra", lines[0])
}
