package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/donor-caging/internal/directory"
	"github.com/sells-group/donor-caging/internal/model"
	"github.com/sells-group/donor-caging/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var userCols = []string{"id", "firstname", "lastname", "zip", "address", "city", "state", "email", "phone", "last_gift_amount", "created_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS users`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByLastName(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, firstname, lastname, .* FROM users WHERE lastname = \$1 ORDER BY id`).
		WithArgs("Smith").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(int64(1), "John", "Smith", "22202", "12 Elm St", "", "", "john@example.com", "5550100", "", now).
			AddRow(int64(2), "Jane", "Smith", "10001", "1 Oak", "", "", "", "", "10.00", now))

	users, err := s.Find(context.Background(), directory.ByLastName("Smith"))
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1), users[0].ID)
	assert.Equal(t, "john@example.com", users[0].Email)
	assert.Equal(t, model.Amount("10.00"), users[1].LastGiftAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindRetriesTransientError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	s.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("john@example.com").
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("john@example.com").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(int64(1), "John", "Smith", "22202", "12 Elm St", "", "", "john@example.com", "5550100", "", time.Now()))

	users, err := s.Find(context.Background(), directory.ByEmail("john@example.com"))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindPermanentErrorNotRetried(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	s.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	mock.ExpectQuery(`FROM users WHERE lastname = \$1`).
		WithArgs("Smith").
		WillReturnError(&pgconn.PgError{Code: "42P01"})

	_, err := s.Find(context.Background(), directory.ByLastName("Smith"))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByIDSorted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM users WHERE id = \$1 ORDER BY lastname, id DESC`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(userCols))

	q := directory.ByID(42)
	q.Sort = []directory.SortTerm{{Field: directory.FieldLastName}, {Field: directory.FieldID, Desc: true}}
	users, err := s.Find(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindRejectsUnsearchable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.Find(context.Background(), directory.Query{Field: "phone", Value: "5550100"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCagedDonors(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	searchable := uuid.New()
	campaign := int64(9)

	mock.ExpectQuery(`FROM caged_donors\s+WHERE user_first_name = \$1 AND user_last_name = \$2 AND user_zipcode = \$3`).
		WithArgs("John", "Smith", "22202").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_first_name", "user_last_name", "user_zipcode", "user_address", "user_city", "user_state",
			"user_email_address", "user_phone_number", "gift_id", "gift_searchable_id", "campaign_id", "customer_id", "created_at",
		}).AddRow(int64(5), "John", "Smith", "22202", "12 Elm St", "", "", "", "", int64(3), searchable.String(), &campaign, "cus_1", time.Now()))

	caged, err := s.FindCagedDonors(context.Background(), "John", "Smith", "22202")
	require.NoError(t, err)
	require.Len(t, caged, 1)
	assert.Equal(t, searchable, caged[0].GiftSearchableID)
	assert.Equal(t, "12 Elm St", caged[0].Address)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetGift_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, searchable_id::text, user_id, gross_amount::text, created_at, updated_at FROM gifts WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetGift(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateGift(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO gifts`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "0").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(3), now, now))

	g := &model.Gift{}
	require.NoError(t, s.CreateGift(context.Background(), g))
	assert.Equal(t, int64(3), g.ID)
	assert.NotEqual(t, uuid.Nil, g.SearchableID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordIntake(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO gifts`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "25.00").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(3), now, now))
	mock.ExpectQuery(`INSERT INTO queued_donors`).
		WithArgs(int64(3), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(8), now))
	mock.ExpectCommit()

	g := &model.Gift{GrossAmount: "25.00"}
	q := &model.QueuedDonor{Transactions: []model.Transaction{{GrossGiftAmount: "25.00"}}}
	require.NoError(t, s.RecordIntake(context.Background(), g, q))
	assert.Equal(t, int64(3), q.GiftID)
	assert.Equal(t, int64(3), q.Submission.GiftID)
	assert.Equal(t, int64(8), q.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordIntakeRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO gifts`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "0").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(3), now, now))
	mock.ExpectQuery(`INSERT INTO queued_donors`).
		WithArgs(int64(3), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.RecordIntake(context.Background(), &model.Gift{}, &model.QueuedDonor{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert queued donor")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListQueuedDonors_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, gift_id, submission, transactions, created_at FROM queued_donors ORDER BY id LIMIT \$1`).
		WithArgs(DefaultQueueLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "gift_id", "submission", "transactions", "created_at"}).
			AddRow(int64(8), int64(3),
				[]byte(`{"user_address":{"user_first_name":"John","user_last_name":"Smith"},"gift_id":3,"queued_donor_id":8}`),
				[]byte(`[{"gross_gift_amount":25}]`),
				time.Now()))

	queued, err := s.ListQueuedDonors(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, int64(8), queued[0].Submission.QueuedDonorID)
	assert.Equal(t, "Smith", queued[0].Submission.UserAddress.LastName)
	assert.Equal(t, model.Amount("25"), queued[0].Transactions[0].GrossGiftAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TxAppliesNewUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()
	now := time.Now()
	searchable := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM gifts WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "searchable_id", "user_id", "gross_amount", "created_at", "updated_at"}).
			AddRow(int64(3), searchable.String(), (*int64)(nil), "25.00", now, now))
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("John", "Smith", "22202", "12 Elm St", "", "", "", "", "25.00").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(77), now))
	mock.ExpectExec(`UPDATE gifts SET user_id = \$1`).
		WithArgs(int64(77), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM queued_donors WHERE id = \$1`).
		WithArgs(int64(8)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	gift, err := tx.GetGift(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, searchable, gift.SearchableID)
	assert.Equal(t, model.Amount("25.00"), gift.GrossAmount)

	u := &model.DirectoryEntry{FirstName: "John", LastName: "Smith", Zip: "22202", Address: "12 Elm St", LastGiftAmount: "25.00"}
	require.NoError(t, tx.CreateUser(ctx, u))
	assert.Equal(t, int64(77), u.ID)
	require.NoError(t, tx.SetGiftUser(ctx, gift.ID, u.ID))
	require.NoError(t, tx.DeleteQueuedDonor(ctx, 8))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TxNotFoundAndRollback(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM queued_donors`).
		WithArgs(int64(8)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, tx.DeleteQueuedDonor(ctx, 8), ErrNotFound)
	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RollbackAfterCloseIsQuiet(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	assert.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BeginError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(assert.AnError)

	_, err := s.Begin(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: begin")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Now().Add(-24 * time.Hour)
	oldest := time.Now().Add(-2 * time.Hour)

	mock.ExpectQuery(`SELECT \(SELECT count\(\*\) FROM queued_donors\)`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"queued", "oldest", "gifts", "caged"}).
			AddRow(int64(4), &oldest, int64(30), int64(6)))

	st, err := s.Stats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 4, st.QueuedDonors)
	assert.Equal(t, oldest, st.OldestQueuedAt)
	assert.Equal(t, 30, st.Gifts)
	assert.Equal(t, 6, st.CagedDonors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StatsEmptyQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Now()

	mock.ExpectQuery(`FROM queued_donors`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"queued", "oldest", "gifts", "caged"}).
			AddRow(int64(0), (*time.Time)(nil), int64(0), int64(0)))

	st, err := s.Stats(context.Background(), since)
	require.NoError(t, err)
	assert.True(t, st.OldestQueuedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
