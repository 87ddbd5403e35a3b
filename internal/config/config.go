// Package config resolves the pipeline configuration from the environment, an
// optional YAML file and an optional dotenv file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"parcelhub/internal/common"
	"parcelhub/internal/tabular"
	"parcelhub/internal/warehouse"
	"parcelhub/pkg/errors"
)

// EnvPrefix is prepended to every configuration key when read from the environment
const EnvPrefix = "PARCELHUB"

// Configuration keys
const (
	KeyCredentialsPath  = "credentials_path"
	KeyDataDir          = "data_dir"
	KeySQLDir           = "sql_dir"
	KeyProject          = "project"
	KeyStagingDataset   = "staging_dataset"
	KeyWarehouseDataset = "warehouse_dataset"
	KeySourceEncoding   = "source_encoding"
	KeyBatchSize        = "batch_size"
	KeyMaxRetries       = "max_retries"
	KeyQueryTimeout     = "query_timeout"
	KeyS3Region         = "s3_region"
	KeyS3Endpoint       = "s3_endpoint"
	KeyS3AccessKey      = "s3_access_key"
	KeyS3SecretKey      = "s3_secret_key"
	KeyMetricsBackend   = "metrics_backend"
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"
)

// Metrics backends
const (
	MetricsNone    = "none"
	MetricsDatadog = "datadog"
)

// Config is the validated configuration of one run
type Config struct {
	CredentialsPath  string
	DataDir          string
	SQLDir           string
	Project          string
	StagingDataset   string
	WarehouseDataset string
	SourceEncoding   string
	BatchSize        int
	MaxRetries       int
	QueryTimeout     time.Duration

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	MetricsBackend string
	LogLevel       string
	LogFormat      string
}

var defaults = map[string]interface{}{
	KeyCredentialsPath:  "",
	KeyDataDir:          "",
	KeySQLDir:           "",
	KeyProject:          "",
	KeyStagingDataset:   "staging_parcelhub",
	KeyWarehouseDataset: "dw_parcelhub",
	KeySourceEncoding:   "utf-8",
	KeyBatchSize:        500,
	KeyMaxRetries:       2,
	KeyQueryTimeout:     "30m",
	KeyS3Region:         "",
	KeyS3Endpoint:       "",
	KeyS3AccessKey:      "",
	KeyS3SecretKey:      "",
	KeyMetricsBackend:   MetricsNone,
	KeyLogLevel:         "info",
	KeyLogFormat:        "json",
}

// NewViper builds a viper instance with defaults, PARCELHUB_ environment
// binding and, when given, a YAML config file. Environment variables win over
// the file.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		cleaned, err := common.CleanPath(configFile)
		if err != nil {
			return nil, errors.ConfigError(err.Error(), "config")
		}
		v.SetConfigFile(cleaned)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to read config file").
				WithContext("file", cleaned).
				WithSeverity(errors.SeverityCritical)
		}
	}
	return v, nil
}

// LoadEnvFile exports the variables of a dotenv file into the process
// environment. Variables that are already set keep their value.
func LoadEnvFile(path string) error {
	cleaned, err := common.CleanPath(path)
	if err != nil {
		return errors.ConfigError(err.Error(), "env-file")
	}

	ev := viper.New()
	ev.SetConfigFile(cleaned)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to read env file").
			WithContext("file", cleaned).
			WithSeverity(errors.SeverityCritical)
	}

	for _, key := range ev.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, ev.GetString(key)); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to export "+name)
		}
	}
	return nil
}

// Load reads every key from v and validates the result
func Load(v *viper.Viper) (*Config, error) {
	timeout, err := parseDuration(v.GetString(KeyQueryTimeout))
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("query_timeout %q is not a duration", v.GetString(KeyQueryTimeout)), KeyQueryTimeout)
	}

	cfg := &Config{
		CredentialsPath:  strings.TrimSpace(v.GetString(KeyCredentialsPath)),
		DataDir:          strings.TrimSpace(v.GetString(KeyDataDir)),
		SQLDir:           strings.TrimSpace(v.GetString(KeySQLDir)),
		Project:          strings.TrimSpace(v.GetString(KeyProject)),
		StagingDataset:   strings.TrimSpace(v.GetString(KeyStagingDataset)),
		WarehouseDataset: strings.TrimSpace(v.GetString(KeyWarehouseDataset)),
		SourceEncoding:   strings.TrimSpace(v.GetString(KeySourceEncoding)),
		BatchSize:        v.GetInt(KeyBatchSize),
		MaxRetries:       v.GetInt(KeyMaxRetries),
		QueryTimeout:     timeout,
		S3Region:         v.GetString(KeyS3Region),
		S3Endpoint:       v.GetString(KeyS3Endpoint),
		S3AccessKey:      v.GetString(KeyS3AccessKey),
		S3SecretKey:      v.GetString(KeyS3SecretKey),
		MetricsBackend:   strings.ToLower(strings.TrimSpace(v.GetString(KeyMetricsBackend))),
		LogLevel:         strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		LogFormat:        strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// Validate reports the first missing or malformed setting
func (c *Config) Validate() error {
	required := []struct{ key, value string }{
		{KeyCredentialsPath, c.CredentialsPath},
		{KeyDataDir, c.DataDir},
		{KeySQLDir, c.SQLDir},
		{KeyProject, c.Project},
	}
	var missing, keys []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, EnvName(r.key))
			keys = append(keys, r.key)
		}
	}
	if len(missing) > 0 {
		return errors.ConfigError("Missing required configuration: "+strings.Join(missing, ", "), keys[0]).
			WithSuggestions(
				"Export the variables or pass --env-file with a dotenv file that sets them",
				"Or put the keys in a YAML file passed with --config",
			)
	}

	if info, err := os.Stat(c.CredentialsPath); err != nil || info.IsDir() {
		return errors.ConfigError(fmt.Sprintf("credentials_path %q is not a readable file", c.CredentialsPath), KeyCredentialsPath)
	}
	if !IsS3(c.DataDir) {
		if info, err := os.Stat(c.DataDir); err != nil || !info.IsDir() {
			return errors.ConfigError(fmt.Sprintf("data_dir %q is not a directory", c.DataDir), KeyDataDir)
		}
	}
	if info, err := os.Stat(c.SQLDir); err != nil || !info.IsDir() {
		return errors.ConfigError(fmt.Sprintf("sql_dir %q is not a directory", c.SQLDir), KeySQLDir)
	}

	datasets := []struct{ key, value string }{
		{KeyStagingDataset, c.StagingDataset},
		{KeyWarehouseDataset, c.WarehouseDataset},
	}
	for _, ds := range datasets {
		ref := warehouse.TableRef{Project: c.Project, Dataset: ds.value, Table: "probe"}
		if err := ref.Validate(); err != nil {
			return errors.ConfigError(fmt.Sprintf("project and %s do not form a valid table name: %v", ds.key, err), ds.key)
		}
	}

	if _, err := tabular.Decoder(strings.NewReader(""), c.SourceEncoding); err != nil {
		return errors.ConfigError(err.Error(), KeySourceEncoding)
	}
	if c.BatchSize <= 0 {
		return errors.ConfigError("batch_size must be positive", KeyBatchSize)
	}
	if c.MaxRetries < 0 {
		return errors.ConfigError("max_retries cannot be negative", KeyMaxRetries)
	}
	if c.QueryTimeout <= 0 {
		return errors.ConfigError("query_timeout must be positive", KeyQueryTimeout)
	}

	switch c.MetricsBackend {
	case MetricsNone, MetricsDatadog:
	default:
		return errors.ConfigError(fmt.Sprintf("metrics_backend %q is not one of none, datadog", c.MetricsBackend), KeyMetricsBackend)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.ConfigError(fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel), KeyLogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return errors.ConfigError(fmt.Sprintf("log_format %q is not one of json, text", c.LogFormat), KeyLogFormat)
	}
	return nil
}

// IsS3 reports whether dir names an S3 prefix rather than a local directory
func IsS3(dir string) bool {
	return strings.HasPrefix(dir, "s3://")
}

// EnvName returns the environment variable that sets key
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}
