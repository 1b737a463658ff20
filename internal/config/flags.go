package config

import (
	"github.com/spf13/pflag"
)

// Loader binds flags to a command and resolves the final Config once the
// command line has been parsed.
type Loader struct {
	fs         *pflag.FlagSet
	shadow     Config
	ConfigFile string
	EnvFile    string
	Debug      bool
	// Lookup defaults to os.LookupEnv.
	Lookup LookupFunc
}

// BindFlags registers every setting on fs.
func BindFlags(fs *pflag.FlagSet) *Loader {
	l := &Loader{fs: fs}
	l.shadow.LoadDefaults()

	fs.StringVarP(&l.ConfigFile, "config", "c", "", "path to a JSON or YAML config file")
	fs.StringVar(&l.EnvFile, "env-file", ".env", "dotenv file loaded into the environment when present")
	fs.BoolVar(&l.Debug, "debug", false, "force debug logging")
	register(fs, &l.shadow)
	return l
}

func register(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.Domain, "domain", c.Domain, "TimeCamp domain")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "TimeCamp API token")
	fs.StringVar(&c.APIURL, "api-url", c.APIURL, "override the TimeCamp API base URL")
	_ = fs.MarkHidden("api-url")
	fs.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "per-request timeout")
	fs.Float64Var(&c.RequestsPerSecond, "rps", c.RequestsPerSecond, "request rate limit, 0 disables")
	fs.IntVar(&c.MaxAttempts, "max-attempts", c.MaxAttempts, "attempts per API request")
	fs.IntVar(&c.PageSize, "page-size", c.PageSize, "entries per page")
	fs.BoolVar(&c.IncludeProject, "include-project", c.IncludeProject, "include project fields")
	fs.BoolVar(&c.IncludeRates, "include-rates", c.IncludeRates, "include rate and cost fields")
	fs.StringVar(&c.UserIDs, "user-ids", c.UserIDs, "comma-separated user ids to fetch")

	fs.StringVar(&c.WorkDir, "work-dir", c.WorkDir, "directory for intermediate files")
	fs.StringVar(&c.OutputFormat, "format", c.OutputFormat, "fetch output format: jsonl or json")
	fs.BoolVar(&c.KeepFiles, "keep-files", c.KeepFiles, "keep intermediate files after a run")

	fs.StringVarP(&c.Destination, "destination", "d", c.Destination, "postgres, bigquery or s3")
	fs.BoolVar(&c.SchemaEvolution, "schema-evolution", c.SchemaEvolution, "add missing destination columns")

	fs.StringVar(&c.DatabaseDSN, "dsn", c.DatabaseDSN, "PostgreSQL DSN")
	fs.StringVar(&c.PGTable, "pg-table", c.PGTable, "PostgreSQL destination table")
	fs.BoolVar(&c.RunLog, "run-log", c.RunLog, "record runs in etl_runs (postgres)")

	fs.StringVar(&c.GCPProject, "gcp-project", c.GCPProject, "Google Cloud project")
	fs.StringVar(&c.GCPCredentials, "gcp-credentials", c.GCPCredentials, "service account key file")
	fs.StringVar(&c.BQDataset, "bq-dataset", c.BQDataset, "BigQuery dataset")
	fs.StringVar(&c.BQTable, "bq-table", c.BQTable, "BigQuery table")
	fs.StringVar(&c.BQLocation, "bq-location", c.BQLocation, "BigQuery job location")

	fs.StringVar(&c.S3Bucket, "s3-bucket", c.S3Bucket, "S3 bucket")
	fs.StringVar(&c.S3Prefix, "s3-prefix", c.S3Prefix, "S3 key prefix")
	fs.StringVar(&c.S3Region, "s3-region", c.S3Region, "S3 region")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", c.S3Endpoint, "S3-compatible endpoint URL")
	fs.BoolVar(&c.S3UsePathStyle, "s3-path-style", c.S3UsePathStyle, "path-style bucket addressing")
	fs.BoolVar(&c.S3Encrypt, "s3-encrypt", c.S3Encrypt, "request AES256 server-side encryption")
	fs.StringVar(&c.S3Format, "s3-format", c.S3Format, "object format: parquet or jsonl")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.PushgatewayURL, "pushgateway", c.PushgatewayURL, "Prometheus Pushgateway URL")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", c.KafkaBrokers, "comma-separated Kafka brokers")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", c.KafkaTopic, "Kafka topic for run events")
}

// Load builds the Config: defaults, then the config file, then the
// environment, then any flag the user set explicitly.
func (l *Loader) Load() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if l.ConfigFile != "" {
		if err := loadFile(cfg, l.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(l.EnvFile); err != nil {
		return nil, err
	}
	lookup := l.Lookup
	if lookup == nil {
		lookup = osLookup
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	target := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	register(target, cfg)
	var err error
	l.fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed || err != nil {
			return
		}
		if tf := target.Lookup(f.Name); tf != nil {
			err = tf.Value.Set(f.Value.String())
		}
	})
	if err != nil {
		return nil, err
	}

	if l.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
