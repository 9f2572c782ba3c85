package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/donor-caging/internal/directory"
	"github.com/sells-group/donor-caging/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	firstname        TEXT NOT NULL DEFAULT '',
	lastname         TEXT NOT NULL DEFAULT '',
	zip              TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	last_gift_amount TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_users_lastname ON users(lastname);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

CREATE TABLE IF NOT EXISTS gifts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	searchable_id TEXT NOT NULL UNIQUE,
	user_id       INTEGER,
	gross_amount  TEXT NOT NULL DEFAULT '0',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS caged_donors (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	user_first_name    TEXT NOT NULL,
	user_last_name     TEXT NOT NULL,
	user_zipcode       TEXT NOT NULL DEFAULT '',
	user_address       TEXT NOT NULL DEFAULT '',
	user_city          TEXT NOT NULL DEFAULT '',
	user_state         TEXT NOT NULL DEFAULT '',
	user_email_address TEXT NOT NULL DEFAULT '',
	user_phone_number  TEXT NOT NULL DEFAULT '',
	gift_id            INTEGER NOT NULL REFERENCES gifts(id),
	gift_searchable_id TEXT NOT NULL,
	campaign_id        INTEGER,
	customer_id        TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_caged_donors_name_zip ON caged_donors(user_first_name, user_last_name, user_zipcode);

CREATE TABLE IF NOT EXISTS queued_donors (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	gift_id      INTEGER NOT NULL REFERENCES gifts(id),
	submission   TEXT NOT NULL,
	transactions TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUserColumns = `id, firstname, lastname, zip, address, city, state, email, phone, last_gift_amount, created_at`

func (s *SQLiteStore) Find(ctx context.Context, q directory.Query) ([]model.DirectoryEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	col, _ := q.Field.Column()

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE %s = ? %s`, sqliteUserColumns, col, q.OrderBy()),
		q.Value,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find users by %s", q.Field)
	}
	defer rows.Close() //nolint:errcheck

	var users []model.DirectoryEntry
	for rows.Next() {
		var u model.DirectoryEntry
		var amount string
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Zip, &u.Address, &u.City, &u.State,
			&u.Email, &u.Phone, &amount, &u.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user")
		}
		u.LastGiftAmount = model.Amount(amount)
		users = append(users, u)
	}
	return users, eris.Wrap(rows.Err(), "sqlite: find users iterate")
}

func (s *SQLiteStore) FindCagedDonors(ctx context.Context, firstName, lastName, zip string) ([]model.CagedDonor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_first_name, user_last_name, user_zipcode, user_address, user_city, user_state,
			user_email_address, user_phone_number, gift_id, gift_searchable_id, campaign_id, customer_id, created_at
		 FROM caged_donors
		 WHERE user_first_name = ? AND user_last_name = ? AND user_zipcode = ?
		 ORDER BY id`,
		firstName, lastName, zip,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find caged donors")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CagedDonor
	for rows.Next() {
		var c model.CagedDonor
		var searchable string
		var campaign sql.NullInt64
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Zip, &c.Address, &c.City, &c.State,
			&c.Email, &c.Phone, &c.GiftID, &searchable, &campaign, &c.CustomerID, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan caged donor")
		}
		if c.GiftSearchableID, err = uuid.Parse(searchable); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse gift searchable id")
		}
		c.CampaignID = nullInt(campaign)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find caged donors iterate")
}

func (s *SQLiteStore) CreateGift(ctx context.Context, g *model.Gift) error {
	return sqliteInsertGift(ctx, s.db, g)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteInsertGift(ctx context.Context, ex execer, g *model.Gift) error {
	if g.SearchableID == uuid.Nil {
		g.SearchableID = uuid.New()
	}
	if g.GrossAmount == "" {
		g.GrossAmount = "0"
	}
	now := time.Now().UTC()
	res, err := ex.ExecContext(ctx,
		`INSERT INTO gifts (searchable_id, user_id, gross_amount, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		g.SearchableID.String(), g.UserID, string(g.GrossAmount), now, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert gift")
	}
	if g.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: gift id")
	}
	g.CreatedAt, g.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) GetGift(ctx context.Context, id int64) (*model.Gift, error) {
	return sqliteGetGift(ctx, s.db, id)
}

func (s *SQLiteStore) CreateQueuedDonor(ctx context.Context, q *model.QueuedDonor) error {
	return sqliteInsertQueued(ctx, s.db, q)
}

func sqliteInsertQueued(ctx context.Context, ex execer, q *model.QueuedDonor) error {
	subJSON, txnJSON, err := marshalQueued(q)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := ex.ExecContext(ctx,
		`INSERT INTO queued_donors (gift_id, submission, transactions, created_at) VALUES (?, ?, ?, ?)`,
		q.GiftID, string(subJSON), string(txnJSON), now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert queued donor")
	}
	if q.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: queued donor id")
	}
	q.CreatedAt = now
	return nil
}

// RecordIntake creates g, when non-nil, and q in one transaction. The new
// gift id is copied onto q and its submission.
func (s *SQLiteStore) RecordIntake(ctx context.Context, g *model.Gift, q *model.QueuedDonor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin intake")
	}
	defer func() { _ = tx.Rollback() }()

	if g != nil {
		if err := sqliteInsertGift(ctx, tx, g); err != nil {
			return err
		}
		q.GiftID = g.ID
		q.Submission.GiftID = g.ID
	}
	if err := sqliteInsertQueued(ctx, tx, q); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit intake")
}

func (s *SQLiteStore) GetQueuedDonor(ctx context.Context, id int64) (*model.QueuedDonor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, gift_id, submission, transactions, created_at FROM queued_donors WHERE id = ?`, id)
	q, err := sqliteScanQueued(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: queued donor %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get queued donor %d", id)
	}
	return q, nil
}

func (s *SQLiteStore) ListQueuedDonors(ctx context.Context, limit int) ([]model.QueuedDonor, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, gift_id, submission, transactions, created_at FROM queued_donors ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queued donors")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.QueuedDonor
	for rows.Next() {
		q, err := sqliteScanQueued(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queued donor")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list queued donors iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT count(*) FROM queued_donors),
		        (SELECT count(*) FROM gifts WHERE created_at >= ?),
		        (SELECT count(*) FROM caged_donors WHERE created_at >= ?)`,
		since.UTC(), since.UTC(),
	).Scan(&st.QueuedDonors, &st.Gifts, &st.CagedDonors)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}

	if st.QueuedDonors > 0 {
		err = s.db.QueryRowContext(ctx,
			`SELECT created_at FROM queued_donors ORDER BY created_at LIMIT 1`).Scan(&st.OldestQueuedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: oldest queued donor")
		}
	}
	return st, nil
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetGift(ctx context.Context, id int64) (*model.Gift, error) {
	return sqliteGetGift(ctx, t.tx, id)
}

func (t *sqliteTx) SetGiftUser(ctx context.Context, giftID, userID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE gifts SET user_id = ?, updated_at = ? WHERE id = ?`, userID, time.Now().UTC(), giftID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set gift %d user", giftID)
	}
	return checkRowsAffected(res, "gift", giftID)
}

func (t *sqliteTx) CreateUser(ctx context.Context, u *model.DirectoryEntry) error {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO users (firstname, lastname, zip, address, city, state, email, phone, last_gift_amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.FirstName, u.LastName, u.Zip, u.Address, u.City, u.State, u.Email, u.Phone, string(u.LastGiftAmount), now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert user")
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: user id")
	}
	u.CreatedAt = now
	return nil
}

func (t *sqliteTx) RecordUserGift(ctx context.Context, userID int64, amount model.Amount) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET last_gift_amount = ? WHERE id = ?`, string(amount), userID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record gift on user %d", userID)
	}
	return checkRowsAffected(res, "user", userID)
}

func (t *sqliteTx) CreateCagedDonor(ctx context.Context, c *model.CagedDonor) error {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO caged_donors (user_first_name, user_last_name, user_zipcode, user_address, user_city, user_state,
			user_email_address, user_phone_number, gift_id, gift_searchable_id, campaign_id, customer_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.FirstName, c.LastName, c.Zip, c.Address, c.City, c.State,
		c.Email, c.Phone, c.GiftID, c.GiftSearchableID.String(), c.CampaignID, c.CustomerID, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert caged donor")
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: caged donor id")
	}
	c.CreatedAt = now
	return nil
}

func (t *sqliteTx) DeleteQueuedDonor(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM queued_donors WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete queued donor %d", id)
	}
	return checkRowsAffected(res, "queued donor", id)
}

func (t *sqliteTx) Commit(_ context.Context) error {
	return eris.Wrap(t.tx.Commit(), "sqlite: commit")
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return eris.Wrap(err, "sqlite: rollback")
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteGetGift(ctx context.Context, q queryRower, id int64) (*model.Gift, error) {
	var g model.Gift
	var searchable, amount string
	var userID sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT id, searchable_id, user_id, gross_amount, created_at, updated_at FROM gifts WHERE id = ?`, id,
	).Scan(&g.ID, &searchable, &userID, &amount, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: gift %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get gift %d", id)
	}
	if g.SearchableID, err = uuid.Parse(searchable); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse gift %d searchable id", id)
	}
	g.UserID = nullInt(userID)
	g.GrossAmount = model.Amount(amount)
	return &g, nil
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func sqliteScanQueued(row scannable) (*model.QueuedDonor, error) {
	var q model.QueuedDonor
	var subJSON, txnJSON string
	if err := row.Scan(&q.ID, &q.GiftID, &subJSON, &txnJSON, &q.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalQueued(&q, []byte(subJSON), []byte(txnJSON)); err != nil {
		return nil, err
	}
	return &q, nil
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
