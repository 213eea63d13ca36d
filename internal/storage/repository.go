package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kokokkkoko/csfloat-outbid-bot/internal/policy"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNoSettings indicates the policy settings row has not been seeded yet.
	ErrNoSettings = errors.New("storage: policy settings not seeded")
)

const (
	listAccountsSQL = `SELECT
        id, name, api_key, proxy, is_active, status, error_message, last_check, created_at
    FROM accounts
    ORDER BY id;`

	listActiveAccountsSQL = `SELECT
        id, name, api_key, proxy, is_active, status, error_message, last_check, created_at
    FROM accounts
    WHERE is_active = TRUE
    ORDER BY id;`

	getAccountSQL = `SELECT
        id, name, api_key, proxy, is_active, status, error_message, last_check, created_at
    FROM accounts
    WHERE id = $1;`

	insertAccountSQL = `INSERT INTO accounts (name, api_key, proxy, is_active, status)
    VALUES ($1, $2, $3, TRUE, 'idle')
    RETURNING id, name, api_key, proxy, is_active, status, error_message, last_check, created_at;`

	updateAccountSQL = `UPDATE accounts
    SET name = $2,
        api_key = $3,
        proxy = $4,
        is_active = $5,
        status = $6,
        error_message = $7
    WHERE id = $1;`

	deleteAccountSQL = `DELETE FROM accounts WHERE id = $1;`

	markAccountStatusSQL = `UPDATE accounts
    SET status = $2, error_message = $3, last_check = $4
    WHERE id = $1;`

	listActiveOrdersSQL = `SELECT
        id, account_id, order_id, market_hash_name, price_cents, quantity, order_kind,
        float_min, float_max, def_index, paint_index, outbid_count, is_active,
        created_at, updated_at
    FROM buy_orders
    WHERE account_id = $1
      AND is_active = TRUE
    ORDER BY order_id;`

	listOrdersSQL = `SELECT
        id, account_id, order_id, market_hash_name, price_cents, quantity, order_kind,
        float_min, float_max, def_index, paint_index, outbid_count, is_active,
        created_at, updated_at
    FROM buy_orders
    ORDER BY account_id, order_id;`

	saveOrderSQL = `UPDATE buy_orders
    SET order_id = $2,
        price_cents = $3,
        outbid_count = $4,
        is_active = $5,
        updated_at = $6
    WHERE id = $1;`

	appendOutbidSQL = `INSERT INTO outbid_history (
        account_id, order_id, market_hash_name,
        old_price_cents, new_price_cents, competitor_price_cents
    ) VALUES ($1, $2, $3, $4, $5, $6);`

	listRecentOutbidsSQL = `SELECT
        id, account_id, order_id, market_hash_name,
        old_price_cents, new_price_cents, competitor_price_cents, created_at
    FROM outbid_history
    ORDER BY created_at DESC
    LIMIT $1;`

	listOutbidsBetweenSQL = `SELECT
        id, account_id, order_id, market_hash_name,
        old_price_cents, new_price_cents, competitor_price_cents, created_at
    FROM outbid_history
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	countOutbidsSQL = `SELECT COUNT(*) FROM outbid_history;`

	getPolicySQL = `SELECT
        check_interval_seconds, outbid_step_cents, max_outbids, price_ceiling_pct, updated_at
    FROM policy_settings
    WHERE id = 1;`

	savePolicySQL = `INSERT INTO policy_settings (
        id, check_interval_seconds, outbid_step_cents, max_outbids, price_ceiling_pct, updated_at
    ) VALUES (1, $1, $2, $3, $4, NOW())
    ON CONFLICT (id) DO UPDATE
    SET check_interval_seconds = EXCLUDED.check_interval_seconds,
        outbid_step_cents      = EXCLUDED.outbid_step_cents,
        max_outbids            = EXCLUDED.max_outbids,
        price_ceiling_pct      = EXCLUDED.price_ceiling_pct,
        updated_at             = NOW();`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AccountStore defines account persistence consumed by the bot and the API.
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	ListActiveAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	CreateAccount(ctx context.Context, name, apiKey string, proxy *string) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	DeleteAccount(ctx context.Context, id int64) error
	MarkAccountStatus(ctx context.Context, id int64, status string, message *string) error
}

// OrderStore defines buy-order persistence.
type OrderStore interface {
	ListActiveOrders(ctx context.Context, accountID int64) ([]BuyOrder, error)
	ListOrders(ctx context.Context) ([]BuyOrder, error)
	SaveOrder(ctx context.Context, order BuyOrder) error
}

// HistoryStore defines the append-only outbid audit trail.
type HistoryStore interface {
	AppendOutbid(ctx context.Context, rec OutbidRecord) error
	ListRecentOutbids(ctx context.Context, limit int) ([]OutbidRecord, error)
	ListOutbidsBetween(ctx context.Context, from, to time.Time) ([]OutbidRecord, error)
	CountOutbids(ctx context.Context) (int64, error)
}

// SettingsStore reads and writes the runtime policy settings. The bot only
// ever reads; writes come from the HTTP layer.
type SettingsStore interface {
	GetPolicy(ctx context.Context) (policy.Settings, error)
	SavePolicy(ctx context.Context, s policy.Settings) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to accounts, orders, history, and settings.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ListAccounts returns every account.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.queryAccounts(ctx, listAccountsSQL)
}

// ListActiveAccounts returns accounts with the is_active flag set.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	return s.queryAccounts(ctx, listActiveAccountsSQL)
}

func (s *Store) queryAccounts(ctx context.Context, sql string) ([]Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql)
	if queryErr != nil {
		return nil, fmt.Errorf("list accounts: %w", queryErr)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		accounts = append(accounts, account)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return accounts, nil
}

// GetAccount fetches a single account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return Account{}, err
	}

	rows, queryErr := pool.Query(ctx, getAccountSQL, id)
	if queryErr != nil {
		return Account{}, fmt.Errorf("get account: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return Account{}, rows.Err()
		}
		return Account{}, pgx.ErrNoRows
	}
	return scanAccount(rows)
}

// CreateAccount inserts a new account in idle state.
func (s *Store) CreateAccount(ctx context.Context, name, apiKey string, proxy *string) (Account, error) {
	pool, err := s.getPool()
	if err != nil {
		return Account{}, err
	}

	rows, queryErr := pool.Query(ctx, insertAccountSQL, name, apiKey, proxy)
	if queryErr != nil {
		return Account{}, fmt.Errorf("create account: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return Account{}, rows.Err()
		}
		return Account{}, fmt.Errorf("create account: no row returned")
	}
	return scanAccount(rows)
}

// UpdateAccount persists mutable account fields.
func (s *Store) UpdateAccount(ctx context.Context, account Account) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, updateAccountSQL,
		account.ID,
		account.Name,
		account.APIKey,
		account.Proxy,
		account.IsActive,
		account.Status,
		account.ErrorMessage,
	)
	if execErr != nil {
		return fmt.Errorf("update account: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteAccount removes an account.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAccountSQL, id); execErr != nil {
		return fmt.Errorf("delete account: %w", execErr)
	}
	return nil
}

// MarkAccountStatus records the account health after a tick.
func (s *Store) MarkAccountStatus(ctx context.Context, id int64, status string, message *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, execErr := pool.Exec(ctx, markAccountStatusSQL, id, status, message, now); execErr != nil {
		return fmt.Errorf("mark account status: %w", execErr)
	}
	return nil
}

// ListActiveOrders returns an account's active orders in stable order-id
// order, so audit history is reproducible across ticks.
func (s *Store) ListActiveOrders(ctx context.Context, accountID int64) ([]BuyOrder, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveOrdersSQL, accountID)
	if queryErr != nil {
		return nil, fmt.Errorf("list active orders: %w", queryErr)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListOrders returns all orders across accounts.
func (s *Store) ListOrders(ctx context.Context) ([]BuyOrder, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOrdersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list orders: %w", queryErr)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// SaveOrder persists the mutable slice of a buy order after a raise.
func (s *Store) SaveOrder(ctx context.Context, order BuyOrder) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, saveOrderSQL,
		order.ID,
		order.OrderID,
		order.PriceCents,
		order.OutbidCount,
		order.IsActive,
		order.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("save order: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AppendOutbid writes one immutable history record.
func (s *Store) AppendOutbid(ctx context.Context, rec OutbidRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, appendOutbidSQL,
		rec.AccountID,
		rec.OrderID,
		rec.MarketHashName,
		rec.OldPriceCents,
		rec.NewPriceCents,
		rec.CompetitorPriceCents,
	)
	if execErr != nil {
		return fmt.Errorf("append outbid: %w", execErr)
	}
	return nil
}

// ListRecentOutbids lists the most recent history records.
func (s *Store) ListRecentOutbids(ctx context.Context, limit int) ([]OutbidRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOutbidsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent outbids: %w", queryErr)
	}
	defer rows.Close()

	return collectOutbids(rows, limit)
}

// ListOutbidsBetween lists history records within a time window.
func (s *Store) ListOutbidsBetween(ctx context.Context, from, to time.Time) ([]OutbidRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOutbidsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list outbids between: %w", queryErr)
	}
	defer rows.Close()

	return collectOutbids(rows, 0)
}

// CountOutbids counts stored history records.
func (s *Store) CountOutbids(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countOutbidsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count outbids: %w", scanErr)
	}
	return count, nil
}

// GetPolicy reads the runtime policy settings snapshot.
func (s *Store) GetPolicy(ctx context.Context) (policy.Settings, error) {
	pool, err := s.getPool()
	if err != nil {
		return policy.Settings{}, err
	}

	var row PolicyRow
	scanErr := pool.QueryRow(ctx, getPolicySQL).Scan(
		&row.CheckIntervalSeconds,
		&row.OutbidStepCents,
		&row.MaxOutbids,
		&row.PriceCeilingPct,
		&row.UpdatedAt,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return policy.Settings{}, ErrNoSettings
		}
		return policy.Settings{}, fmt.Errorf("get policy settings: %w", scanErr)
	}

	return policy.Settings{
		CheckInterval:   time.Duration(row.CheckIntervalSeconds) * time.Second,
		OutbidStepCents: row.OutbidStepCents,
		MaxOutbids:      row.MaxOutbids,
		PriceCeilingPct: row.PriceCeilingPct,
	}, nil
}

// SavePolicy upserts the singleton settings row.
func (s *Store) SavePolicy(ctx context.Context, settings policy.Settings) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, savePolicySQL,
		int64(settings.CheckInterval/time.Second),
		settings.OutbidStepCents,
		settings.MaxOutbids,
		settings.PriceCeilingPct,
	)
	if execErr != nil {
		return fmt.Errorf("save policy settings: %w", execErr)
	}
	return nil
}

func scanAccount(rows pgx.Rows) (Account, error) {
	var account Account
	if err := rows.Scan(
		&account.ID,
		&account.Name,
		&account.APIKey,
		&account.Proxy,
		&account.IsActive,
		&account.Status,
		&account.ErrorMessage,
		&account.LastCheck,
		&account.CreatedAt,
	); err != nil {
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

func collectOrders(rows pgx.Rows) ([]BuyOrder, error) {
	orders := make([]BuyOrder, 0)
	for rows.Next() {
		var order BuyOrder
		if err := rows.Scan(
			&order.ID,
			&order.AccountID,
			&order.OrderID,
			&order.MarketHashName,
			&order.PriceCents,
			&order.Quantity,
			&order.Kind,
			&order.FloatMin,
			&order.FloatMax,
			&order.DefIndex,
			&order.PaintIndex,
			&order.OutbidCount,
			&order.IsActive,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return orders, nil
}

func collectOutbids(rows pgx.Rows, capacity int) ([]OutbidRecord, error) {
	records := make([]OutbidRecord, 0, capacity)
	for rows.Next() {
		var rec OutbidRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.AccountID,
			&rec.OrderID,
			&rec.MarketHashName,
			&rec.OldPriceCents,
			&rec.NewPriceCents,
			&rec.CompetitorPriceCents,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbid record: %w", err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}
