package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"s3indexer/internal/config"
	"s3indexer/internal/source"

	"github.com/goccy/go-json"
)

// IndexerBinary is the executable each rendered line invokes.
const IndexerBinary = "/indexs3client"

// IndexdConfig is the payload passed to the indexer as CONFIG_FILE.
type IndexdConfig struct {
	URL                string `json:"url"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	ExtramuralBucket   bool   `json:"extramural_bucket,omitempty"`
	ExtramuralUploader string `json:"extramural_uploader,omitempty"`
}

// ForBucket returns the payload used for bucket. External buckets are
// flagged as extramural and carry their own uploader, if any.
func (c IndexdConfig) ForBucket(bucket config.Bucket) IndexdConfig {
	out := c
	out.ExtramuralBucket = false
	out.ExtramuralUploader = ""
	if !bucket.IsPrimaryUpload {
		out.ExtramuralBucket = true
		out.ExtramuralUploader = bucket.ExtramuralUploader
	}
	return out
}

// Command holds the parameters of one indexer invocation.
type Command struct {
	DryRun          bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ConfigFile      string
	InputURL        string
	Endpoint        string
}

// ErrUnsafeKey is returned by CheckKey for keys that cannot be written on a
// single command line.
var ErrUnsafeKey = errors.New("object key contains control characters")

// CheckKey rejects keys containing control characters such as newlines.
func CheckKey(key string) error {
	if strings.IndexFunc(key, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	return nil
}

// InputURL returns the s3:// url identifying key in bucket.
func InputURL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// Render builds the invocation for obj.
func Render(obj source.Object, bucket config.Bucket, indexd IndexdConfig, dryRun bool) (Command, error) {
	payload, err := json.Marshal(indexd)
	if err != nil {
		return Command{}, fmt.Errorf("failed to encode indexd config: %w", err)
	}

	return Command{
		DryRun:          dryRun,
		Region:          obj.Region,
		AccessKeyID:     bucket.AccessKeyID,
		SecretAccessKey: bucket.SecretAccessKey,
		ConfigFile:      string(payload),
		InputURL:        InputURL(bucket.Name, obj.Key),
		Endpoint:        bucket.EndpointURL,
	}, nil
}

// String renders the command line. Tokens always appear in the same order;
// the echo prefix and AWS_ENDPOINT are present only when set.
func (c Command) String() string {
	tokens := make([]string, 0, 8)
	if c.DryRun {
		tokens = append(tokens, "echo")
	}
	tokens = append(tokens,
		"AWS_REGION="+c.Region,
		"AWS_ACCESS_KEY_ID="+c.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY="+c.SecretAccessKey,
		"CONFIG_FILE="+singleQuote(c.ConfigFile),
		"INPUT_URL="+quoteIfNeeded(c.InputURL),
	)
	if c.Endpoint != "" {
		tokens = append(tokens, "AWS_ENDPOINT="+c.Endpoint)
	}
	tokens = append(tokens, IndexerBinary)
	return strings.Join(tokens, " ")
}

// quoteIfNeeded leaves plain urls bare and single-quotes anything containing
// characters the shell would interpret.
func quoteIfNeeded(s string) string {
	if s != "" && strings.IndexFunc(s, isUnsafeRune) < 0 {
		return s
	}
	return singleQuote(s)
}

func isUnsafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("/._~:@%+=,-", r):
		return false
	}
	return true
}

func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
