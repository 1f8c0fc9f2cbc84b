package warehouse

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type numberedErr struct{ n int32 }

func (e numberedErr) Error() string          { return fmt.Sprintf("mssql: error %d", e.n) }
func (e numberedErr) SQLErrorNumber() int32 { return e.n }

func TestPricelake_Warehouse_Classify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{name: "nil", err: nil, want: ErrorTypeUnknown},
		{name: "canceled", err: context.Canceled, want: ErrorTypeUnknown},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: ErrorTypeUnknown},
		{name: "bad_conn", err: driver.ErrBadConn, want: ErrorTypeConnectivity},
		{name: "pg_deadlock", err: &pgconn.PgError{Code: "40P01"}, want: ErrorTypeLockContention},
		{name: "pg_serialization", err: &pgconn.PgError{Code: "40001"}, want: ErrorTypeLockContention},
		{name: "pg_lock_not_available", err: &pgconn.PgError{Code: "55P03"}, want: ErrorTypeLockContention},
		{name: "pg_query_canceled", err: &pgconn.PgError{Code: "57014"}, want: ErrorTypeTimeout},
		{name: "pg_too_many_connections", err: &pgconn.PgError{Code: "53300"}, want: ErrorTypeConnectivity},
		{name: "pg_connection_class", err: &pgconn.PgError{Code: "08006"}, want: ErrorTypeConnectivity},
		{name: "pg_auth_class", err: &pgconn.PgError{Code: "28P01"}, want: ErrorTypeAuth},
		{name: "pg_unique_violation", err: &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}, want: ErrorTypeUnknown},
		{name: "pg_wrapped", err: fmt.Errorf("merge: %w", &pgconn.PgError{Code: "40P01"}), want: ErrorTypeLockContention},
		{name: "mssql_deadlock", err: numberedErr{n: 1205}, want: ErrorTypeLockContention},
		{name: "mssql_timeout", err: numberedErr{n: -2}, want: ErrorTypeTimeout},
		{name: "mssql_unavailable", err: numberedErr{n: 40613}, want: ErrorTypeConnectivity},
		{name: "net_timeout", err: &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}, want: ErrorTypeTimeout},
		{name: "net_refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, want: ErrorTypeConnectivity},
		{name: "sqlite_locked", err: errors.New("database is locked"), want: ErrorTypeLockContention},
		{name: "string_timeout", err: errors.New("i/o timeout"), want: ErrorTypeTimeout},
		{name: "string_auth", err: errors.New("login failed for user 'sa'"), want: ErrorTypeAuth},
		{name: "syntax", err: errors.New("syntax error at or near \"FROM\""), want: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPricelake_Warehouse_WrapStoreError(t *testing.T) {
	t.Parallel()

	require.NoError(t, WrapStoreError("exec", nil))

	err := WrapStoreError("exec", &pgconn.PgError{Code: "40P01"})
	require.True(t, IsTransient(err))
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Contains(t, err.Error(), "failed to exec")

	again := WrapStoreError("merge", err)
	require.Same(t, err, again)

	err = WrapStoreError("exec", &pgconn.PgError{Code: "28P01"})
	require.False(t, IsTransient(err))

	err = WrapStoreError("exec", context.Canceled)
	require.False(t, IsTransient(err))
	require.ErrorIs(t, err, context.Canceled)
}

func TestPricelake_Warehouse_ErrorMessages(t *testing.T) {
	t.Parallel()
	ref := TableRef{Schema: "public", Name: "prices"}

	cfgErr := &ConfigurationError{Table: ref, Err: ErrNoUniqueKey}
	require.Equal(t, "configuration error for public.prices: no primary key or unique constraint", cfgErr.Error())
	require.ErrorIs(t, cfgErr, ErrNoUniqueKey)

	mismatch := &SchemaMismatchError{Table: ref, Columns: []string{"a", "b"}, Reason: "dataset lacks key columns"}
	require.Equal(t, "schema mismatch for public.prices: dataset lacks key columns: a, b", mismatch.Error())
}
