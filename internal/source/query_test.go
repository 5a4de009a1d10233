package source

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQuerySourceYieldsBlankRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"did", "file_name"}).
		AddRow("0aa10681-7c48-44c2-8913-adc514812a9b", "foo.bar").
		AddRow("c61c103c-b0d4-4e76-b215-dfd6f6f1e5ca", "baz.bam")
	mock.ExpectQuery(regexp.QuoteMeta(BlankRecordsQuery)).WillReturnRows(rows).RowsWillBeClosed()

	src := NewQuerySource(db, "gen3-dev", "", zap.NewNop())
	page, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Object{
		{Key: "0aa10681-7c48-44c2-8913-adc514812a9b/foo.bar", Region: "default"},
		{Key: "c61c103c-b0d4-4e76-b215-dfd6f6f1e5ca/baz.bam", Region: "default"},
	}, page)

	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuerySourceNoRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(BlankRecordsQuery)).WillReturnRows(sqlmock.NewRows([]string{"did", "file_name"}))

	page, err := NewQuerySource(db, "gen3-dev", "us-east-1", zap.NewNop()).Next(context.Background())
	require.NoError(t, err)
	require.Empty(t, page)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuerySourceFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(BlankRecordsQuery)).WillReturnError(errors.New("connection refused"))

	_, err = NewQuerySource(db, "gen3-dev", "", zap.NewNop()).Next(context.Background())
	var enumErr *EnumerationError
	require.ErrorAs(t, err, &enumErr)
	require.Equal(t, "gen3-dev", enumErr.Bucket)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBConfigDSN(t *testing.T) {
	cfg := DBConfig{Username: "indexd", Password: "p@ss:word", Host: "db:5432", Database: "indexd_db"}
	require.Equal(t, "postgres://indexd:p%40ss%3Aword@db:5432/indexd_db", cfg.DSN())
}
