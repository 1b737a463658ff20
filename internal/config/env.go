package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/joho/godotenv"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// loadDotEnv exports the variables in path into the process environment.
// Variables already set win. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: load %s: %w", common.ErrInvalidConfig, path, err)
	}
	return nil
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

// applyEnv overlays environment variables onto c. Empty values are ignored.
func applyEnv(c *Config, lookup LookupFunc) error {
	e := &envReader{lookup: lookup}

	e.str("TIMECAMP_API_KEY", &c.APIKey)
	e.str("TIMECAMP_DOMAIN", &c.Domain)
	e.str("TIMECAMP_API_URL", &c.APIURL)
	e.duration("TIMECAMP_TIMEOUT", &c.RequestTimeout)
	e.float("TIMECAMP_RPS", &c.RequestsPerSecond)
	e.integer("TIMECAMP_MAX_ATTEMPTS", &c.MaxAttempts)
	e.integer("TIMECAMP_PAGE_SIZE", &c.PageSize)
	e.str("TIMECAMP_USER_IDS", &c.UserIDs)

	e.str("ETL_WORK_DIR", &c.WorkDir)
	e.str("ETL_OUTPUT_FORMAT", &c.OutputFormat)
	e.boolean("ETL_KEEP_FILES", &c.KeepFiles)
	e.str("ETL_DESTINATION", &c.Destination)
	e.boolean("ETL_SCHEMA_EVOLUTION", &c.SchemaEvolution)
	e.str("ETL_LOG_LEVEL", &c.LogLevel)

	e.str("DATABASE_DSN", &c.DatabaseDSN)
	e.str("PG_TABLE", &c.PGTable)
	e.boolean("PG_RUN_LOG", &c.RunLog)

	e.str("GOOGLE_APPLICATION_CREDENTIALS", &c.GCPCredentials)
	e.str("GOOGLE_CLOUD_PROJECT", &c.GCPProject)
	e.str("BIGQUERY_DATASET", &c.BQDataset)
	e.str("BIGQUERY_TABLE", &c.BQTable)
	e.str("BIGQUERY_LOCATION", &c.BQLocation)

	e.str("AWS_ACCESS_KEY_ID", &c.S3AccessKey)
	e.str("AWS_SECRET_ACCESS_KEY", &c.S3SecretKey)
	e.str("AWS_REGION", &c.S3Region)
	e.str("S3_BUCKET_NAME", &c.S3Bucket)
	e.str("S3_PREFIX", &c.S3Prefix)
	e.str("S3_ENDPOINT_URL", &c.S3Endpoint)
	e.boolean("S3_USE_PATH_STYLE", &c.S3UsePathStyle)
	e.boolean("S3_ENCRYPT", &c.S3Encrypt)
	e.str("S3_FORMAT", &c.S3Format)

	e.str("PUSHGATEWAY_URL", &c.PushgatewayURL)
	e.str("KAFKA_BROKERS", &c.KafkaBrokers)
	e.str("KAFKA_TOPIC", &c.KafkaTopic)

	if len(e.errs) > 0 {
		return fmt.Errorf("%w: environment: %w", common.ErrInvalidConfig, errors.Join(e.errs...))
	}
	return nil
}

func osLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
