package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/subscription-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// txTimeout ограничивает длительность одной атомарной единицы.
const txTimeout = 10 * time.Second

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет только операции чтения. Изменяющие операции не повторяются:
// решение о повторе принимает вызывающая сторона по ErrStorageUnavailable.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !errors.Is(classify(err), ErrStorageUnavailable) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return classify(err)
}

// classify приводит ошибки драйвера к ошибкам пакета.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			switch pgErr.ConstraintName {
			case "subscriptions_one_active_per_creator":
				return fmt.Errorf("%w: %s", ErrDuplicateActiveSubscription, pgErr.Message)
			case "ledger_entries_external_reference_unique":
				return fmt.Errorf("%w: %s", ErrDuplicateReference, pgErr.Message)
			default:
				return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.Message)
			}
		case pgErr.Code == pgerrcode.CheckViolation && pgErr.ConstraintName == "wallets_balance_non_negative":
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, pgErr.Message)
		case pgErr.Code == pgerrcode.CheckViolation && pgErr.ConstraintName == "subscriptions_period_valid":
			return fmt.Errorf("%w: %s", ErrInvalidPeriod, pgErr.Message)
		case pgErr.Code == pgerrcode.NumericValueOutOfRange:
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, pgErr.Message)
		case pgErr.Code == pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Message)
		case pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected,
			pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return err
	}

	if isConnectionError(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return err
}

func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "closed pool")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithTx выполняет fn в одной транзакции. Отмена контекста вызывающей стороны не прерывает
// начатую транзакцию: длительность ограничена txTimeout.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), txTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (model.User, error) {
	var u model.User
	err := r.withRetry(ctx, func() error {
		return scanUser(r.pool.QueryRow(ctx,
			`SELECT id, username, is_creator, payout_account_id, created_at FROM users WHERE id = $1`,
			userID,
		), &u)
	})
	return u, err
}

// GetWallet возвращает кошелёк пользователя.
func (r *PostgresRepository) GetWallet(ctx context.Context, userID int64) (model.Wallet, error) {
	w := model.Wallet{UserID: userID}
	err := r.withRetry(ctx, func() error {
		err := r.pool.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&w.Balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return w, err
}

// GetSubscription возвращает подписку по идентификатору.
func (r *PostgresRepository) GetSubscription(ctx context.Context, subscriptionID int64) (model.Subscription, error) {
	var s model.Subscription
	err := r.withRetry(ctx, func() error {
		return scanSubscription(r.pool.QueryRow(ctx,
			`SELECT id, subscriber_id, tier_id, creator_id, status, start_date, end_date
			 FROM subscriptions WHERE id = $1`,
			subscriptionID,
		), &s)
	})
	return s, err
}

// ListDueSubscriptions возвращает страницу активных подписок с end_date <= AsOf в порядке возрастания id.
func (r *PostgresRepository) ListDueSubscriptions(ctx context.Context, page DuePage) ([]model.Subscription, error) {
	var res []model.Subscription
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, subscriber_id, tier_id, creator_id, status, start_date, end_date
			 FROM subscriptions
			 WHERE status = $1 AND end_date <= $2 AND id > $3
			 ORDER BY id
			 LIMIT $4`,
			string(model.SubscriptionActive), page.AsOf, page.AfterID, page.Limit,
		)
		if err != nil {
			return fmt.Errorf("select due subscriptions: %w", err)
		}
		res, err = collectSubscriptions(rows)
		return err
	})
	return res, err
}

// ListSubscriptions возвращает подписки подписчика, при непустом status только в этом статусе.
func (r *PostgresRepository) ListSubscriptions(ctx context.Context, subscriberID int64, status model.SubscriptionStatus) ([]model.Subscription, error) {
	var res []model.Subscription
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, subscriber_id, tier_id, creator_id, status, start_date, end_date
			 FROM subscriptions
			 WHERE subscriber_id = $1 AND ($2::text = '' OR status = $2::text)
			 ORDER BY id DESC`,
			subscriberID, string(status),
		)
		if err != nil {
			return fmt.Errorf("select subscriptions: %w", err)
		}
		res, err = collectSubscriptions(rows)
		return err
	})
	return res, err
}

// ListTiers возвращает уровни автора по убыванию цены с количеством активных подписчиков.
func (r *PostgresRepository) ListTiers(ctx context.Context, creatorID int64) ([]model.TierSummary, error) {
	var res []model.TierSummary
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT t.id, t.creator_id, t.name, t.points_price, t.description, t.message_permission, t.created_at,
			        COUNT(s.id) FILTER (WHERE s.status = $2)
			 FROM tiers t
			 LEFT JOIN subscriptions s ON s.tier_id = t.id
			 WHERE t.creator_id = $1
			 GROUP BY t.id
			 ORDER BY t.points_price DESC, t.id`,
			creatorID, string(model.SubscriptionActive),
		)
		if err != nil {
			return fmt.Errorf("select tiers: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var ts model.TierSummary
			if err := rows.Scan(&ts.ID, &ts.CreatorID, &ts.Name, &ts.PointsPrice, &ts.Description,
				&ts.MessagePermission, &ts.CreatedAt, &ts.ActiveSubscribers); err != nil {
				return fmt.Errorf("scan tier: %w", err)
			}
			res = append(res, ts)
		}
		return rows.Err()
	})
	return res, err
}

// HasMessagePermission сообщает, есть ли у подписчика активная подписка на уровень автора с правом переписки.
func (r *PostgresRepository) HasMessagePermission(ctx context.Context, subscriberID, creatorID int64) (bool, error) {
	var ok bool
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT EXISTS (
			    SELECT 1 FROM subscriptions s JOIN tiers t ON t.id = s.tier_id
			    WHERE s.subscriber_id = $1 AND s.creator_id = $2 AND s.status = $3 AND t.message_permission
			 )`,
			subscriberID, creatorID, string(model.SubscriptionActive),
		).Scan(&ok)
	})
	return ok, err
}

// LedgerHistory возвращает записи журнала пользователя в обратном хронологическом порядке.
// beforeID = 0 означает начало с самой свежей записи.
func (r *PostgresRepository) LedgerHistory(ctx context.Context, userID, beforeID int64, limit int) ([]model.LedgerEntry, error) {
	var res []model.LedgerEntry
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, user_id, kind, amount, transfer_id, COALESCE(external_reference, ''), description, created_at
			 FROM ledger_entries
			 WHERE user_id = $1 AND ($2::bigint = 0 OR id < $2::bigint)
			 ORDER BY id DESC
			 LIMIT $3`,
			userID, beforeID, limit,
		)
		if err != nil {
			return fmt.Errorf("select ledger: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var (
				e    model.LedgerEntry
				kind string
			)
			if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Amount, &e.TransferID,
				&e.ExternalReference, &e.Description, &e.CreatedAt); err != nil {
				return fmt.Errorf("scan ledger entry: %w", err)
			}
			e.Kind = model.LedgerKind(kind)
			res = append(res, e)
		}
		return rows.Err()
	})
	return res, err
}

func monetaryKinds() []string {
	all := []model.LedgerKind{
		model.LedgerSubscribe, model.LedgerExtend, model.LedgerCancel, model.LedgerRenew,
		model.LedgerRenewExpire, model.LedgerPurchase, model.LedgerWithdrawal,
	}
	res := make([]string, 0, len(all))
	for _, k := range all {
		if k.IsMonetary() {
			res = append(res, string(k))
		}
	}
	return res
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateUser(ctx context.Context, u *model.User) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO users (username, is_creator, payout_account_id) VALUES ($1, $2, $3) RETURNING id, created_at`,
		u.Username, u.IsCreator, u.PayoutAccountID,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("create user: %w", err))
	}
	return nil
}

func (t *pgTx) LockUser(ctx context.Context, userID int64) (model.User, error) {
	var u model.User
	err := scanUser(t.tx.QueryRow(ctx,
		`SELECT id, username, is_creator, payout_account_id, created_at FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	), &u)
	return u, err
}

func (t *pgTx) SetPayoutAccount(ctx context.Context, userID int64, accountID string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET payout_account_id = $2 WHERE id = $1`, userID, accountID)
	if err != nil {
		return classify(fmt.Errorf("update payout account: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser удаляет пользователя; кошелёк, уровни и подписки удаляются каскадно,
// записи журнала сохраняются.
func (t *pgTx) DeleteUser(ctx context.Context, userID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return classify(fmt.Errorf("delete user: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) EnsureWallet(ctx context.Context, userID int64) (model.Wallet, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallets (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return model.Wallet{}, classify(fmt.Errorf("ensure wallet: %w", err))
	}

	w := model.Wallet{UserID: userID}
	if err := t.tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&w.Balance); err != nil {
		return model.Wallet{}, classify(fmt.Errorf("select wallet: %w", err))
	}
	return w, nil
}

func (t *pgTx) LockWallet(ctx context.Context, userID int64) (model.Wallet, error) {
	w := model.Wallet{UserID: userID}
	err := t.tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&w.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Wallet{}, ErrNotFound
		}
		return model.Wallet{}, classify(fmt.Errorf("lock wallet: %w", err))
	}
	return w, nil
}

func (t *pgTx) AddToBalance(ctx context.Context, userID int64, delta int64) (model.Wallet, error) {
	w := model.Wallet{UserID: userID}
	err := t.tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance + $2 WHERE user_id = $1 RETURNING balance`,
		userID, delta,
	).Scan(&w.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Wallet{}, ErrNotFound
		}
		return model.Wallet{}, classify(fmt.Errorf("update balance: %w", err))
	}
	return w, nil
}

func (t *pgTx) CreateTier(ctx context.Context, tier *model.Tier) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO tiers (creator_id, name, points_price, description, message_permission)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		tier.CreatorID, tier.Name, tier.PointsPrice, tier.Description, tier.MessagePermission,
	).Scan(&tier.ID, &tier.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("create tier: %w", err))
	}
	return nil
}

func (t *pgTx) GetTier(ctx context.Context, tierID int64) (model.Tier, error) {
	return t.selectTier(ctx, `FOR SHARE`, tierID)
}

func (t *pgTx) LockTier(ctx context.Context, tierID int64) (model.Tier, error) {
	return t.selectTier(ctx, `FOR UPDATE`, tierID)
}

func (t *pgTx) selectTier(ctx context.Context, lock string, tierID int64) (model.Tier, error) {
	var tier model.Tier
	err := t.tx.QueryRow(ctx,
		`SELECT id, creator_id, name, points_price, description, message_permission, created_at
		 FROM tiers WHERE id = $1 `+lock,
		tierID,
	).Scan(&tier.ID, &tier.CreatorID, &tier.Name, &tier.PointsPrice, &tier.Description,
		&tier.MessagePermission, &tier.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tier{}, ErrNotFound
		}
		return model.Tier{}, classify(fmt.Errorf("get tier: %w", err))
	}
	return tier, nil
}

func (t *pgTx) CountTiers(ctx context.Context, creatorID int64) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM tiers WHERE creator_id = $1`, creatorID).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("count tiers: %w", err))
	}
	return n, nil
}

func (t *pgTx) CountActiveSubscribers(ctx context.Context, tierID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE tier_id = $1 AND status = $2`,
		tierID, string(model.SubscriptionActive),
	).Scan(&n)
	if err != nil {
		return 0, classify(fmt.Errorf("count subscribers: %w", err))
	}
	return n, nil
}

func (t *pgTx) DeleteTier(ctx context.Context, tierID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM tiers WHERE id = $1`, tierID)
	if err != nil {
		return classify(fmt.Errorf("delete tier: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) LockSubscription(ctx context.Context, subscriptionID int64) (model.Subscription, error) {
	var s model.Subscription
	err := scanSubscription(t.tx.QueryRow(ctx,
		`SELECT id, subscriber_id, tier_id, creator_id, status, start_date, end_date
		 FROM subscriptions WHERE id = $1 FOR UPDATE`,
		subscriptionID,
	), &s)
	return s, err
}

func (t *pgTx) FindActiveSubscription(ctx context.Context, subscriberID, creatorID int64) (*model.Subscription, error) {
	var s model.Subscription
	err := scanSubscription(t.tx.QueryRow(ctx,
		`SELECT id, subscriber_id, tier_id, creator_id, status, start_date, end_date
		 FROM subscriptions WHERE subscriber_id = $1 AND creator_id = $2 AND status = $3`,
		subscriberID, creatorID, string(model.SubscriptionActive),
	), &s)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) InsertSubscription(ctx context.Context, s *model.Subscription) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO subscriptions (subscriber_id, tier_id, creator_id, status, start_date, end_date)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		s.SubscriberID, s.TierID, s.CreatorID, string(s.Status), s.StartDate, s.EndDate,
	).Scan(&s.ID)
	if err != nil {
		return classify(fmt.Errorf("insert subscription: %w", err))
	}
	return nil
}

func (t *pgTx) UpdateSubscription(ctx context.Context, s model.Subscription) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE subscriptions SET status = $2, start_date = $3, end_date = $4 WHERE id = $1`,
		s.ID, string(s.Status), s.StartDate, s.EndDate,
	)
	if err != nil {
		return classify(fmt.Errorf("update subscription: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) LedgerSum(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1 AND kind = ANY($2)`,
		userID, monetaryKinds(),
	).Scan(&sum)
	if err != nil {
		return 0, classify(fmt.Errorf("ledger sum: %w", err))
	}
	return sum, nil
}

func (t *pgTx) AppendLedger(ctx context.Context, entries ...*model.LedgerEntry) error {
	for _, e := range entries {
		var ref *string
		if e.ExternalReference != "" {
			ref = &e.ExternalReference
		}
		err := t.tx.QueryRow(ctx,
			`INSERT INTO ledger_entries (user_id, kind, amount, transfer_id, external_reference, description, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			e.UserID, string(e.Kind), e.Amount, e.TransferID, ref, e.Description, e.CreatedAt,
		).Scan(&e.ID)
		if err != nil {
			return classify(fmt.Errorf("append ledger entry: %w", err))
		}
	}
	return nil
}

func scanUser(row pgx.Row, u *model.User) error {
	err := row.Scan(&u.ID, &u.Username, &u.IsCreator, &u.PayoutAccountID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return classify(fmt.Errorf("scan user: %w", err))
	}
	return nil
}

func scanSubscription(row pgx.Row, s *model.Subscription) error {
	var status string
	err := row.Scan(&s.ID, &s.SubscriberID, &s.TierID, &s.CreatorID, &status, &s.StartDate, &s.EndDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return classify(fmt.Errorf("scan subscription: %w", err))
	}
	s.Status = model.SubscriptionStatus(status)
	return nil
}

func collectSubscriptions(rows pgx.Rows) ([]model.Subscription, error) {
	defer rows.Close()

	var res []model.Subscription
	for rows.Next() {
		var (
			s      model.Subscription
			status string
		)
		if err := rows.Scan(&s.ID, &s.SubscriberID, &s.TierID, &s.CreatorID, &status, &s.StartDate, &s.EndDate); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		s.Status = model.SubscriptionStatus(status)
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
