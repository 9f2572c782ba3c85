package main

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDirectoryCSV(t *testing.T) {
	in := "id,FirstName,lastname,zip,email,last_gift_amount\n" +
		"1, John,Smith,22202,john@example.com,25.50\n" +
		"2,Jane,Doe,10001,,\n"

	cols, rows, err := readDirectoryCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "firstname", "lastname", "zip", "email", "last_gift_amount"}, cols)
	require.Len(t, rows, 2)
	assert.Equal(t, []any{int64(1), "John", "Smith", "22202", "john@example.com", 25.5}, rows[0])
	assert.Equal(t, []any{int64(2), "Jane", "Doe", "10001", "", nil}, rows[1])
}

func TestReadDirectoryCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "read header"},
		{"unknown column", "lastname,nickname\nSmith,Jo\n", "unknown column"},
		{"bad id", "id,lastname\nabc,Smith\n", "line 2: id"},
		{"bad amount", "lastname,last_gift_amount\nSmith,lots\n", "line 2: last_gift_amount"},
		{"short row", "lastname,zip\nSmith\n", "line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := readDirectoryCSV(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadUsers_Copy(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"firstname", "lastname"}
	mock.ExpectCopyFrom(pgx.Identifier{"users"}, cols).WillReturnResult(2)

	n, err := loadUsers(context.Background(), mock, cols, [][]any{{"John", "Smith"}, {"Jane", "Doe"}}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadUsers_CopyWithIDsAdvancesSequence(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "lastname"}
	mock.ExpectCopyFrom(pgx.Identifier{"users"}, cols).WillReturnResult(1)
	mock.ExpectExec(`SELECT setval\(pg_get_serial_sequence\('users', 'id'\)`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	n, err := loadUsers(context.Background(), mock, cols, [][]any{{int64(40), "Smith"}}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadUsers_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "lastname"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_users"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_users"}, cols).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("id"\) DO UPDATE SET "lastname" = EXCLUDED."lastname"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()
	mock.ExpectExec(`SELECT setval`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	n, err := loadUsers(context.Background(), mock, cols, [][]any{{int64(40), "Smith"}}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadUsers_UpsertRequiresID(t *testing.T) {
	_, err := loadUsers(context.Background(), nil, []string{"lastname"}, [][]any{{"Smith"}}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an id column")
}
