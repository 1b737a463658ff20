package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config for JSON and YAML files. Durations use
// timex.Duration so they can be written as "30s".
type FileConfig struct {
	Domain            string         `json:"domain" yaml:"domain"`
	APIKey            string         `json:"api_key" yaml:"api_key"`
	APIURL            string         `json:"api_url" yaml:"api_url"`
	RequestTimeout    timex.Duration `json:"request_timeout" yaml:"request_timeout"`
	RequestsPerSecond float64        `json:"requests_per_second" yaml:"requests_per_second"`
	MaxAttempts       int            `json:"max_attempts" yaml:"max_attempts"`
	RetryBaseDelay    timex.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay     timex.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
	MaxRateLimitWait  timex.Duration `json:"max_rate_limit_wait" yaml:"max_rate_limit_wait"`
	PageSize          int            `json:"page_size" yaml:"page_size"`
	IncludeProject    bool           `json:"include_project" yaml:"include_project"`
	IncludeRates      bool           `json:"include_rates" yaml:"include_rates"`
	UserIDs           string         `json:"user_ids" yaml:"user_ids"`

	WorkDir      string `json:"work_dir" yaml:"work_dir"`
	OutputFormat string `json:"output_format" yaml:"output_format"`
	KeepFiles    bool   `json:"keep_files" yaml:"keep_files"`

	Destination     string `json:"destination" yaml:"destination"`
	SchemaEvolution bool   `json:"schema_evolution" yaml:"schema_evolution"`

	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`
	PGTable     string `json:"pg_table" yaml:"pg_table"`
	RunLog      bool   `json:"run_log" yaml:"run_log"`

	GCPProject     string `json:"gcp_project" yaml:"gcp_project"`
	GCPCredentials string `json:"gcp_credentials" yaml:"gcp_credentials"`
	BQDataset      string `json:"bigquery_dataset" yaml:"bigquery_dataset"`
	BQTable        string `json:"bigquery_table" yaml:"bigquery_table"`
	BQLocation     string `json:"bigquery_location" yaml:"bigquery_location"`

	S3Bucket       string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix       string `json:"s3_prefix" yaml:"s3_prefix"`
	S3Region       string `json:"s3_region" yaml:"s3_region"`
	S3AccessKey    string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key" yaml:"s3_secret_key"`
	S3Endpoint     string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3UsePathStyle bool   `json:"s3_use_path_style" yaml:"s3_use_path_style"`
	S3Encrypt      bool   `json:"s3_encrypt" yaml:"s3_encrypt"`
	S3Format       string `json:"s3_format" yaml:"s3_format"`

	LogLevel       string `json:"log_level" yaml:"log_level"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`
	MetricsJob     string `json:"metrics_job" yaml:"metrics_job"`
	KafkaBrokers   string `json:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic     string `json:"kafka_topic" yaml:"kafka_topic"`
}

// loadFile overlays the file at path onto c. Keys absent from the file keep
// their current values. .yaml and .yml select YAML, anything else JSON.
func loadFile(c *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config file: %w", common.ErrInvalidConfig, err)
	}

	fc := toFile(c)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, fc)
	default:
		err = json.Unmarshal(b, fc)
	}
	if err != nil {
		return fmt.Errorf("%w: parse %s: %w", common.ErrInvalidConfig, path, err)
	}

	fc.apply(c)
	return nil
}

func toFile(c *Config) *FileConfig {
	return &FileConfig{
		Domain:            c.Domain,
		APIKey:            c.APIKey,
		APIURL:            c.APIURL,
		RequestTimeout:    timex.Duration{Duration: c.RequestTimeout},
		RequestsPerSecond: c.RequestsPerSecond,
		MaxAttempts:       c.MaxAttempts,
		RetryBaseDelay:    timex.Duration{Duration: c.RetryBaseDelay},
		RetryMaxDelay:     timex.Duration{Duration: c.RetryMaxDelay},
		MaxRateLimitWait:  timex.Duration{Duration: c.MaxRateLimitWait},
		PageSize:          c.PageSize,
		IncludeProject:    c.IncludeProject,
		IncludeRates:      c.IncludeRates,
		UserIDs:           c.UserIDs,
		WorkDir:           c.WorkDir,
		OutputFormat:      c.OutputFormat,
		KeepFiles:         c.KeepFiles,
		Destination:       c.Destination,
		SchemaEvolution:   c.SchemaEvolution,
		DatabaseDSN:       c.DatabaseDSN,
		PGTable:           c.PGTable,
		RunLog:            c.RunLog,
		GCPProject:        c.GCPProject,
		GCPCredentials:    c.GCPCredentials,
		BQDataset:         c.BQDataset,
		BQTable:           c.BQTable,
		BQLocation:        c.BQLocation,
		S3Bucket:          c.S3Bucket,
		S3Prefix:          c.S3Prefix,
		S3Region:          c.S3Region,
		S3AccessKey:       c.S3AccessKey,
		S3SecretKey:       c.S3SecretKey,
		S3Endpoint:        c.S3Endpoint,
		S3UsePathStyle:    c.S3UsePathStyle,
		S3Encrypt:         c.S3Encrypt,
		S3Format:          c.S3Format,
		LogLevel:          c.LogLevel,
		PushgatewayURL:    c.PushgatewayURL,
		MetricsJob:        c.MetricsJob,
		KafkaBrokers:      c.KafkaBrokers,
		KafkaTopic:        c.KafkaTopic,
	}
}

func (fc *FileConfig) apply(c *Config) {
	c.Domain = fc.Domain
	c.APIKey = fc.APIKey
	c.APIURL = fc.APIURL
	c.RequestTimeout = fc.RequestTimeout.Duration
	c.RequestsPerSecond = fc.RequestsPerSecond
	c.MaxAttempts = fc.MaxAttempts
	c.RetryBaseDelay = fc.RetryBaseDelay.Duration
	c.RetryMaxDelay = fc.RetryMaxDelay.Duration
	c.MaxRateLimitWait = fc.MaxRateLimitWait.Duration
	c.PageSize = fc.PageSize
	c.IncludeProject = fc.IncludeProject
	c.IncludeRates = fc.IncludeRates
	c.UserIDs = fc.UserIDs
	c.WorkDir = fc.WorkDir
	c.OutputFormat = fc.OutputFormat
	c.KeepFiles = fc.KeepFiles
	c.Destination = fc.Destination
	c.SchemaEvolution = fc.SchemaEvolution
	c.DatabaseDSN = fc.DatabaseDSN
	c.PGTable = fc.PGTable
	c.RunLog = fc.RunLog
	c.GCPProject = fc.GCPProject
	c.GCPCredentials = fc.GCPCredentials
	c.BQDataset = fc.BQDataset
	c.BQTable = fc.BQTable
	c.BQLocation = fc.BQLocation
	c.S3Bucket = fc.S3Bucket
	c.S3Prefix = fc.S3Prefix
	c.S3Region = fc.S3Region
	c.S3AccessKey = fc.S3AccessKey
	c.S3SecretKey = fc.S3SecretKey
	c.S3Endpoint = fc.S3Endpoint
	c.S3UsePathStyle = fc.S3UsePathStyle
	c.S3Encrypt = fc.S3Encrypt
	c.S3Format = fc.S3Format
	c.LogLevel = fc.LogLevel
	c.PushgatewayURL = fc.PushgatewayURL
	c.MetricsJob = fc.MetricsJob
	c.KafkaBrokers = fc.KafkaBrokers
	c.KafkaTopic = fc.KafkaTopic
}
