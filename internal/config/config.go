package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"s3indexer/internal/tracker"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	ListObjectsV1 = "list_objects"
	ListObjectsV2 = "list_objects_v2"
)

// Config represents the application configuration
type Config struct {
	Fence    Fence
	IndexdDB *IndexdDB
	Buckets  []Bucket
	Run      Run
	LogLevel string
}

// Run holds the command line options of a run.
type Run struct {
	ConfigPath       string
	StateDir         string
	IndexdCredsPath  string
	EnvFile          string
	MaxAttempts      int
	AttemptIntervals []int
	DryRun           bool
	Verbose          bool
	ListObjectsAPI   string
	MetricsAddr      string
	MetricsTextfile  string
}

// Fence mirrors the parts of a fence config file the indexer reads.
type Fence struct {
	Indexd           string                   `yaml:"INDEXD"`
	IndexdUsername   string                   `yaml:"INDEXD_USERNAME"`
	IndexdPassword   string                   `yaml:"INDEXD_PASSWORD"`
	DataUploadBucket string                   `yaml:"DATA_UPLOAD_BUCKET"`
	AWSCredentials   map[string]AWSCredential `yaml:"AWS_CREDENTIALS"`
	S3Buckets        map[string]S3Bucket      `yaml:"S3_BUCKETS"`
}

// AWSCredential is one entry of AWS_CREDENTIALS
type AWSCredential struct {
	AccessKeyID     string `yaml:"aws_access_key_id"`
	SecretAccessKey string `yaml:"aws_secret_access_key"`
	EndpointURL     string `yaml:"endpoint_url"`
}

// S3Bucket is one entry of S3_BUCKETS
type S3Bucket struct {
	Cred               string `yaml:"cred"`
	Region             string `yaml:"region"`
	EndpointURL        string `yaml:"endpoint_url"`
	SignatureVersion   string `yaml:"signature_version"`
	ExtramuralUploader string `yaml:"extramural_uploader"`
	ListObjectsAPI     string `yaml:"list_objects_api"`
}

// IndexdDB holds the credentials of the indexd Postgres database.
type IndexdDB struct {
	Username string `yaml:"db_username"`
	Password string `yaml:"db_password"`
	Host     string `yaml:"db_host"`
	Database string `yaml:"db_database"`
}

// Bucket is a resolved bucket with its credentials.
type Bucket struct {
	Name               string
	Region             string
	EndpointURL        string
	AccessKeyID        string
	SecretAccessKey    string
	SignatureVersion   string
	ExtramuralUploader string
	ListObjectsAPI     string
	IsPrimaryUpload    bool
}

// ConfigError reports missing or malformed configuration. It is fatal.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(key, format string, args ...any) error {
	return &ConfigError{Key: key, Err: fmt.Errorf(format, args...)}
}

// Default returns the configuration used before flags are applied.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Run: Run{
			ConfigPath:       "/var/s3indexer/fence-config.yaml",
			StateDir:         "/var/s3indexer/state",
			MaxAttempts:      tracker.DefaultMaxAttempts,
			AttemptIntervals: append([]int(nil), tracker.DefaultIntervalMinutes...),
			ListObjectsAPI:   ListObjectsV2,
		},
	}
}

// Load applies flags over the defaults, then reads the fence config and the
// optional indexd database credentials. Skipped buckets are reported in the
// returned warnings rather than failing the load.
func Load(flags *pflag.FlagSet) (*Config, []string, error) {
	cfg := Default()

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if cfg.Run.EnvFile != "" {
		if err := godotenv.Load(cfg.Run.EnvFile); err != nil {
			return nil, nil, &ConfigError{Key: "env-file", Err: err}
		}
	}

	if err := loadFence(&cfg.Fence, cfg.Run.ConfigPath); err != nil {
		return nil, nil, err
	}

	if cfg.Run.IndexdCredsPath != "" {
		var creds IndexdDB
		if err := loadYAML(&creds, cfg.Run.IndexdCredsPath); err != nil {
			return nil, nil, &ConfigError{Key: "indexd-creds-path", Err: err}
		}
		cfg.IndexdDB = &creds
	}

	warnings, err := cfg.resolveBuckets()
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	return cfg, warnings, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references only, leaving bare $ untouched so
// secrets containing dollar signs survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func loadYAML(out any, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(expandEnv(data), out)
}

func loadFence(fence *Fence, filename string) error {
	if err := loadYAML(fence, filename); err != nil {
		return &ConfigError{Key: "config-path", Err: err}
	}

	if fence.Indexd == "" {
		return configErrorf("INDEXD", "is required")
	}
	if fence.IndexdUsername == "" {
		return configErrorf("INDEXD_USERNAME", "is required")
	}
	if fence.IndexdPassword == "" {
		return configErrorf("INDEXD_PASSWORD", "is required")
	}
	if fence.S3Buckets == nil {
		return configErrorf("S3_BUCKETS", "is required")
	}
	if fence.AWSCredentials == nil {
		return configErrorf("AWS_CREDENTIALS", "is required")
	}
	if fence.DataUploadBucket != "" {
		if _, ok := fence.S3Buckets[fence.DataUploadBucket]; !ok {
			return configErrorf("DATA_UPLOAD_BUCKET", "%s not found in S3_BUCKETS", fence.DataUploadBucket)
		}
	}
	return nil
}

func (c *Config) resolveBuckets() ([]string, error) {
	names := make([]string, 0, len(c.Fence.S3Buckets))
	for name := range c.Fence.S3Buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	var warnings []string
	c.Buckets = make([]Bucket, 0, len(names))
	for _, name := range names {
		b := c.Fence.S3Buckets[name]
		primary := name == c.Fence.DataUploadBucket

		cred, ok := c.Fence.AWSCredentials[b.Cred]
		if b.Cred == "" || !ok || cred.AccessKeyID == "" {
			if primary {
				return nil, configErrorf("S3_BUCKETS."+name+".cred", "no usable credentials for %q", b.Cred)
			}
			warnings = append(warnings, fmt.Sprintf("skipping bucket %s: no usable credentials for %q", name, b.Cred))
			continue
		}

		endpoint := cred.EndpointURL
		if b.EndpointURL != "" {
			endpoint = b.EndpointURL
		}

		c.Buckets = append(c.Buckets, Bucket{
			Name:               name,
			Region:             b.Region,
			EndpointURL:        endpoint,
			AccessKeyID:        cred.AccessKeyID,
			SecretAccessKey:    cred.SecretAccessKey,
			SignatureVersion:   b.SignatureVersion,
			ExtramuralUploader: b.ExtramuralUploader,
			ListObjectsAPI:     b.ListObjectsAPI,
			IsPrimaryUpload:    primary,
		})
	}
	return warnings, nil
}

// PrimaryBucket returns the DATA_UPLOAD_BUCKET, if one is configured.
func (c *Config) PrimaryBucket() (Bucket, bool) {
	for _, b := range c.Buckets {
		if b.IsPrimaryUpload {
			return b, true
		}
	}
	return Bucket{}, false
}

// ExternalBuckets returns every bucket except the primary one.
func (c *Config) ExternalBuckets() []Bucket {
	var out []Bucket
	for _, b := range c.Buckets {
		if !b.IsPrimaryUpload {
			out = append(out, b)
		}
	}
	return out
}

// Policy returns the retry policy described by the run options.
func (c *Config) Policy() tracker.Policy {
	return tracker.NewPolicy(c.Run.MaxAttempts, c.Run.AttemptIntervals)
}

// IndexURL is the indexd index endpoint handed to the indexer.
func (c *Config) IndexURL() string {
	return strings.TrimRight(c.Fence.Indexd, "/") + "/index"
}

// UseV1 reports whether bucket should be listed with the V1 (marker) API.
func (c *Config) UseV1(b Bucket) bool {
	api := b.ListObjectsAPI
	if api == "" {
		api = c.Run.ListObjectsAPI
	}
	return api == ListObjectsV1
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	var errs []error
	getString := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	getBool := func(name string, dst *bool) {
		if flags.Changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	getString("config-path", &cfg.Run.ConfigPath)
	getString("state-dir", &cfg.Run.StateDir)
	getString("indexd-creds-path", &cfg.Run.IndexdCredsPath)
	getString("env-file", &cfg.Run.EnvFile)
	getString("list-objects-api", &cfg.Run.ListObjectsAPI)
	getString("metrics-addr", &cfg.Run.MetricsAddr)
	getString("metrics-textfile", &cfg.Run.MetricsTextfile)
	getString("log-level", &cfg.LogLevel)
	getBool("dry-run", &cfg.Run.DryRun)
	getBool("verbose", &cfg.Run.Verbose)

	if flags.Changed("max-attempts") {
		v, err := flags.GetInt("max-attempts")
		errs = append(errs, err)
		cfg.Run.MaxAttempts = v
	}
	if flags.Changed("attempt-intervals") {
		v, err := flags.GetIntSlice("attempt-intervals")
		errs = append(errs, err)
		cfg.Run.AttemptIntervals = v
	}

	if cfg.Run.Verbose {
		cfg.LogLevel = "debug"
	}

	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if c.Run.StateDir == "" {
		return configErrorf("state-dir", "is required")
	}
	if err := c.Policy().Validate(); err != nil {
		return &ConfigError{Key: "max-attempts", Err: err}
	}
	switch c.Run.ListObjectsAPI {
	case ListObjectsV1, ListObjectsV2:
	default:
		return configErrorf("list-objects-api", "must be %s or %s, got %q", ListObjectsV1, ListObjectsV2, c.Run.ListObjectsAPI)
	}
	for _, b := range c.Buckets {
		switch b.ListObjectsAPI {
		case "", ListObjectsV1, ListObjectsV2:
		default:
			return configErrorf("S3_BUCKETS."+b.Name+".list_objects_api", "unsupported value %q", b.ListObjectsAPI)
		}
	}
	return nil
}
