package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/populate/internal/orm/query"
)

func TestSQLExecutor_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"u0__id", "u0__name"}).
		AddRow(int64(1), []byte("alice")).
		AddRow(int64(2), nil)
	mock.ExpectQuery(`SELECT (.+) FROM "users"`).
		WithArgs(5).
		WillReturnRows(rows)

	exec := New(db, query.Postgres)
	result, err := exec.Query(context.Background(), `SELECT "u0"."id" FROM "users" AS "u0" LIMIT $1`, []any{5})
	require.NoError(t, err)
	require.Len(t, result, 2)

	assert.Equal(t, Row{"u0__id": int64(1), "u0__name": "alice"}, result[0])
	assert.Nil(t, result[1]["u0__name"])
	assert.Equal(t, int64(1), exec.Stats().Queries)
	assert.Equal(t, int64(2), exec.Stats().Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_ErrorsPropagateUnmodified(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbErr := errors.New("connection reset")
	mock.ExpectQuery(`SELECT`).WillReturnError(dbErr)

	exec := New(db, query.SQLite)
	_, err = exec.Query(context.Background(), "SELECT 1", nil)
	assert.Same(t, dbErr, err)
	assert.Equal(t, int64(1), exec.Stats().Errors)
}

func TestSQLExecutor_RowErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rowErr := errors.New("row decode failed")
	mock.ExpectQuery(`SELECT`).WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(1).RowError(0, rowErr))

	_, err = New(db, query.SQLite).Query(context.Background(), "SELECT 1", nil)
	assert.Same(t, rowErr, err)
}

func TestSQLExecutor_Concurrent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, New(db, query.Postgres).Concurrent(), "pools run siblings in parallel")
	assert.False(t, New(db, query.Postgres, WithConcurrency(false)).Concurrent())

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	assert.False(t, New(tx, query.Postgres).Concurrent(), "transactions are sequential")

	db.SetMaxOpenConns(1)
	assert.False(t, New(db, query.Postgres).Concurrent(), "a single connection is sequential")
}

func TestSQLExecutor_SlowQueryLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WillDelayFor(20 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	core, logs := observer.New(zap.DebugLevel)
	exec := New(db, query.SQLite, WithLogger(zap.New(core)), WithSlowThreshold(time.Millisecond))

	_, err = exec.Query(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	require.Equal(t, 1, logs.FilterMessage("slow query").Len())
	assert.Equal(t, int64(1), exec.Stats().SlowQueries)
}
