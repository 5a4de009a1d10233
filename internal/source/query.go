package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"time"

	"s3indexer/internal/storage"

	_ "github.com/jackc/pgx/v5/stdlib" // Use pgx via database/sql
	"go.uber.org/zap"
)

// BlankRecordsQuery selects indexd records that have a file name but were
// never sized, i.e. registered but not yet content-verified.
const BlankRecordsQuery = `select did, file_name from index_record where file_name is not null and size is null`

// Querier is the subset of *sql.DB used by QuerySource.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QuerySource yields one candidate per blank indexd record. The query is a
// full re-scan every run; sizing a record removes it from later scans.
type QuerySource struct {
	db     Querier
	bucket string
	region string
	logger *zap.Logger
	done   bool
}

// NewQuerySource creates a query-backed source for the primary upload bucket.
func NewQuerySource(db Querier, bucket, region string, logger *zap.Logger) *QuerySource {
	if region == "" {
		region = storage.DefaultRegion
	}
	return &QuerySource{
		db:     db,
		bucket: bucket,
		region: region,
		logger: logger.With(zap.String("bucket", bucket)),
	}
}

// Next returns every blank record in a single page, then io.EOF.
func (s *QuerySource) Next(ctx context.Context) ([]Object, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true

	rows, err := s.db.QueryContext(ctx, BlankRecordsQuery)
	if err != nil {
		return nil, &EnumerationError{Bucket: s.bucket, Err: fmt.Errorf("failed to query blank records: %w", err)}
	}
	defer rows.Close()

	var objects []Object
	for rows.Next() {
		var did, fileName string
		if err := rows.Scan(&did, &fileName); err != nil {
			return nil, &EnumerationError{Bucket: s.bucket, Err: fmt.Errorf("failed to scan blank record: %w", err)}
		}
		objects = append(objects, Object{Key: did + "/" + fileName, Region: s.region})
	}
	if err := rows.Err(); err != nil {
		return nil, &EnumerationError{Bucket: s.bucket, Err: fmt.Errorf("failed to read blank records: %w", err)}
	}

	if len(objects) == 0 {
		s.logger.Info("Nothing to do for bucket")
	}
	return objects, nil
}

// DBConfig holds the indexd Postgres credentials.
type DBConfig struct {
	Username string
	Password string
	Host     string
	Database string
}

// DSN renders the credentials as a postgres URL.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Host,
		Path:   "/" + c.Database,
	}
	return u.String()
}

// OpenIndexdDB connects to the indexd metadata store.
func OpenIndexdDB(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open indexd database: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping indexd database: %w", err)
	}

	return db, nil
}
