package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-caging/internal/db"
	"github.com/sells-group/donor-caging/internal/directory"
	"github.com/sells-group/donor-caging/internal/model"
	"github.com/sells-group/donor-caging/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	retry   resilience.RetryConfig
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. The initial
// ping is retried so the worker can start before the database is ready.
// Directory reads reuse retry for transient failures.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, retry resilience.RetryConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	read := retry
	read.OnRetry = resilience.RetryLogger("postgres", "find users")

	retry.ShouldRetry = func(error) bool { return true }
	retry.OnRetry = resilience.RetryLogger("postgres", "ping")
	if err := resilience.Do(ctx, retry, pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, retry: read}, nil
}

// Pool returns the underlying database pool for bulk loaders.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id               BIGSERIAL PRIMARY KEY,
	firstname        TEXT NOT NULL DEFAULT '',
	lastname         TEXT NOT NULL DEFAULT '',
	zip              TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	last_gift_amount NUMERIC(12,2),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_users_lastname ON users(lastname);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

CREATE TABLE IF NOT EXISTS gifts (
	id            BIGSERIAL PRIMARY KEY,
	searchable_id UUID NOT NULL UNIQUE,
	user_id       BIGINT,
	gross_amount  NUMERIC(12,2) NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_gifts_user_id ON gifts(user_id);

CREATE TABLE IF NOT EXISTS caged_donors (
	id                 BIGSERIAL PRIMARY KEY,
	user_first_name    TEXT NOT NULL,
	user_last_name     TEXT NOT NULL,
	user_zipcode       TEXT NOT NULL DEFAULT '',
	user_address       TEXT NOT NULL DEFAULT '',
	user_city          TEXT NOT NULL DEFAULT '',
	user_state         TEXT NOT NULL DEFAULT '',
	user_email_address TEXT NOT NULL DEFAULT '',
	user_phone_number  TEXT NOT NULL DEFAULT '',
	gift_id            BIGINT NOT NULL REFERENCES gifts(id),
	gift_searchable_id UUID NOT NULL,
	campaign_id        BIGINT,
	customer_id        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_caged_donors_name_zip ON caged_donors(user_first_name, user_last_name, user_zipcode);

CREATE TABLE IF NOT EXISTS queued_donors (
	id           BIGSERIAL PRIMARY KEY,
	gift_id      BIGINT NOT NULL REFERENCES gifts(id),
	submission   JSONB NOT NULL,
	transactions JSONB NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgUserColumns = `id, firstname, lastname, zip, address, city, state, email, phone, COALESCE(last_gift_amount::text, ''), created_at`

// Find runs an equality search against the users table. Transient
// failures are retried with the store's retry settings.
func (s *PostgresStore) Find(ctx context.Context, q directory.Query) ([]model.DirectoryEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	col, _ := q.Field.Column()
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s = $1 %s`, pgUserColumns, col, q.OrderBy())

	return resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]model.DirectoryEntry, error) {
		return s.findUsers(ctx, q, query)
	})
}

func (s *PostgresStore) findUsers(ctx context.Context, q directory.Query, query string) ([]model.DirectoryEntry, error) {
	rows, err := s.pool.Query(ctx, query, q.Value)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find users by %s", q.Field)
	}
	defer rows.Close()

	var users []model.DirectoryEntry
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan user")
		}
		users = append(users, *u)
	}
	return users, eris.Wrap(rows.Err(), "postgres: find users iterate")
}

const pgCagedColumns = `id, user_first_name, user_last_name, user_zipcode, user_address, user_city, user_state,
	user_email_address, user_phone_number, gift_id, gift_searchable_id::text, campaign_id, customer_id, created_at`

func (s *PostgresStore) FindCagedDonors(ctx context.Context, firstName, lastName, zip string) ([]model.CagedDonor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCagedColumns+` FROM caged_donors
		 WHERE user_first_name = $1 AND user_last_name = $2 AND user_zipcode = $3
		 ORDER BY id`,
		firstName, lastName, zip,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find caged donors")
	}
	defer rows.Close()

	var out []model.CagedDonor
	for rows.Next() {
		c, err := scanCagedDonor(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan caged donor")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find caged donors iterate")
}

func (s *PostgresStore) CreateGift(ctx context.Context, g *model.Gift) error {
	return pgInsertGift(ctx, s.pool, g)
}

// rowQuerier is satisfied by both the pool and a pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgInsertGift(ctx context.Context, q rowQuerier, g *model.Gift) error {
	if g.SearchableID == uuid.Nil {
		g.SearchableID = uuid.New()
	}
	amount := g.GrossAmount
	if amount == "" {
		amount = "0"
	}
	err := q.QueryRow(ctx,
		`INSERT INTO gifts (searchable_id, user_id, gross_amount) VALUES ($1::uuid, $2, $3::text::numeric)
		 RETURNING id, created_at, updated_at`,
		g.SearchableID.String(), g.UserID, string(amount),
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	return eris.Wrap(err, "postgres: insert gift")
}

const pgGiftSelect = `SELECT id, searchable_id::text, user_id, gross_amount::text, created_at, updated_at FROM gifts WHERE id = $1`

func (s *PostgresStore) GetGift(ctx context.Context, id int64) (*model.Gift, error) {
	return getGift(s.pool.QueryRow(ctx, pgGiftSelect, id), id)
}

func (s *PostgresStore) CreateQueuedDonor(ctx context.Context, q *model.QueuedDonor) error {
	return pgInsertQueued(ctx, s.pool, q)
}

func pgInsertQueued(ctx context.Context, rq rowQuerier, q *model.QueuedDonor) error {
	subJSON, txnJSON, err := marshalQueued(q)
	if err != nil {
		return err
	}
	err = rq.QueryRow(ctx,
		`INSERT INTO queued_donors (gift_id, submission, transactions) VALUES ($1, $2, $3) RETURNING id, created_at`,
		q.GiftID, subJSON, txnJSON,
	).Scan(&q.ID, &q.CreatedAt)
	return eris.Wrap(err, "postgres: insert queued donor")
}

// RecordIntake creates g, when non-nil, and q in one transaction. The new
// gift id is copied onto q and its submission.
func (s *PostgresStore) RecordIntake(ctx context.Context, g *model.Gift, q *model.QueuedDonor) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin intake")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if g != nil {
		if err := pgInsertGift(ctx, tx, g); err != nil {
			return err
		}
		q.GiftID = g.ID
		q.Submission.GiftID = g.ID
	}
	if err := pgInsertQueued(ctx, tx, q); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit intake")
}

func (s *PostgresStore) GetQueuedDonor(ctx context.Context, id int64) (*model.QueuedDonor, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, gift_id, submission, transactions, created_at FROM queued_donors WHERE id = $1`, id)
	q, err := scanQueued(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: queued donor %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get queued donor %d", id)
	}
	return q, nil
}

func (s *PostgresStore) ListQueuedDonors(ctx context.Context, limit int) ([]model.QueuedDonor, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, gift_id, submission, transactions, created_at FROM queued_donors ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queued donors")
	}
	defer rows.Close()

	var out []model.QueuedDonor
	for rows.Next() {
		q, err := scanQueued(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan queued donor")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list queued donors iterate")
}

func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	var (
		queued, gifts, caged int64
		oldest               *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM queued_donors),
		        (SELECT min(created_at) FROM queued_donors),
		        (SELECT count(*) FROM gifts WHERE created_at >= $1),
		        (SELECT count(*) FROM caged_donors WHERE created_at >= $1)`, since,
	).Scan(&queued, &oldest, &gifts, &caged)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}

	st := &Stats{QueuedDonors: int(queued), Gifts: int(gifts), CagedDonors: int(caged)}
	if oldest != nil {
		st.OldestQueuedAt = *oldest
	}
	return st, nil
}

// Begin opens a transaction for applying one disposition.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetGift(ctx context.Context, id int64) (*model.Gift, error) {
	return getGift(t.tx.QueryRow(ctx, pgGiftSelect+` FOR UPDATE`, id), id)
}

func (t *pgTx) SetGiftUser(ctx context.Context, giftID, userID int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE gifts SET user_id = $1, updated_at = now() WHERE id = $2`, userID, giftID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set gift %d user", giftID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: gift %d", giftID)
	}
	return nil
}

func (t *pgTx) CreateUser(ctx context.Context, u *model.DirectoryEntry) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO users (firstname, lastname, zip, address, city, state, email, phone, last_gift_amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9::text, '')::numeric)
		 RETURNING id, created_at`,
		u.FirstName, u.LastName, u.Zip, u.Address, u.City, u.State, u.Email, u.Phone, string(u.LastGiftAmount),
	).Scan(&u.ID, &u.CreatedAt)
	return eris.Wrap(err, "postgres: insert user")
}

func (t *pgTx) RecordUserGift(ctx context.Context, userID int64, amount model.Amount) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET last_gift_amount = $1::text::numeric WHERE id = $2`, string(amount), userID)
	if err != nil {
		return eris.Wrapf(err, "postgres: record gift on user %d", userID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: user %d", userID)
	}
	return nil
}

func (t *pgTx) CreateCagedDonor(ctx context.Context, c *model.CagedDonor) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO caged_donors (user_first_name, user_last_name, user_zipcode, user_address, user_city, user_state,
			user_email_address, user_phone_number, gift_id, gift_searchable_id, campaign_id, customer_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::uuid, $11, $12)
		 RETURNING id, created_at`,
		c.FirstName, c.LastName, c.Zip, c.Address, c.City, c.State,
		c.Email, c.Phone, c.GiftID, c.GiftSearchableID.String(), c.CampaignID, c.CustomerID,
	).Scan(&c.ID, &c.CreatedAt)
	return eris.Wrap(err, "postgres: insert caged donor")
}

func (t *pgTx) DeleteQueuedDonor(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM queued_donors WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete queued donor %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: queued donor %d", id)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return eris.Wrap(t.tx.Commit(ctx), "postgres: commit")
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return eris.Wrap(err, "postgres: rollback")
}

func getGift(row pgx.Row, id int64) (*model.Gift, error) {
	var g model.Gift
	var searchable, amount string
	err := row.Scan(&g.ID, &searchable, &g.UserID, &amount, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: gift %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get gift %d", id)
	}
	if g.SearchableID, err = uuid.Parse(searchable); err != nil {
		return nil, eris.Wrapf(err, "postgres: parse gift %d searchable id", id)
	}
	g.GrossAmount = model.Amount(amount)
	return &g, nil
}

func scanUser(row pgx.Row) (*model.DirectoryEntry, error) {
	var u model.DirectoryEntry
	var amount string
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Zip, &u.Address, &u.City, &u.State,
		&u.Email, &u.Phone, &amount, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.LastGiftAmount = model.Amount(amount)
	return &u, nil
}

func scanCagedDonor(row pgx.Row) (*model.CagedDonor, error) {
	var c model.CagedDonor
	var searchable string
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Zip, &c.Address, &c.City, &c.State,
		&c.Email, &c.Phone, &c.GiftID, &searchable, &c.CampaignID, &c.CustomerID, &c.CreatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(searchable)
	if err != nil {
		return nil, eris.Wrap(err, "parse gift searchable id")
	}
	c.GiftSearchableID = id
	return &c, nil
}

func scanQueued(row pgx.Row) (*model.QueuedDonor, error) {
	var q model.QueuedDonor
	var subJSON, txnJSON []byte
	if err := row.Scan(&q.ID, &q.GiftID, &subJSON, &txnJSON, &q.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalQueued(&q, subJSON, txnJSON); err != nil {
		return nil, err
	}
	return &q, nil
}

func marshalQueued(q *model.QueuedDonor) (sub, txns []byte, err error) {
	sub, err = json.Marshal(q.Submission)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal submission")
	}
	if q.Transactions == nil {
		q.Transactions = []model.Transaction{}
	}
	txns, err = json.Marshal(q.Transactions)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal transactions")
	}
	return sub, txns, nil
}

func unmarshalQueued(q *model.QueuedDonor, sub, txns []byte) error {
	if err := json.Unmarshal(sub, &q.Submission); err != nil {
		return eris.Wrap(err, "unmarshal submission")
	}
	if len(txns) > 0 {
		if err := json.Unmarshal(txns, &q.Transactions); err != nil {
			return eris.Wrap(err, "unmarshal transactions")
		}
	}
	return nil
}
