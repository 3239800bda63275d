package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ---------------------------------------------------------------------------
// Postgres Store
// ---------------------------------------------------------------------------

const schema = `
CREATE TABLE IF NOT EXISTS copytrade_tasks (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	network         TEXT NOT NULL,
	watcher_address TEXT NOT NULL,
	target_address  TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON copytrade_tasks (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS snipe_positions (
	user_id             TEXT NOT NULL,
	token_address       TEXT NOT NULL,
	network             TEXT NOT NULL,
	token_name          TEXT NOT NULL DEFAULT '',
	token_symbol        TEXT NOT NULL DEFAULT '',
	decimals            INT NOT NULL DEFAULT 18,
	amount_token        NUMERIC NOT NULL DEFAULT 0,
	purchased_price_usd NUMERIC NOT NULL DEFAULT 0,
	take_profit_ratio   NUMERIC NOT NULL DEFAULT 0,
	stop_loss_ratio     NUMERIC NOT NULL DEFAULT 0,
	completed           BOOLEAN NOT NULL DEFAULT false,
	status              TEXT NOT NULL,
	entry_tx_hash       TEXT NOT NULL DEFAULT '',
	exit_tx_hash        TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	closed_at           TIMESTAMPTZ,
	PRIMARY KEY (user_id, token_address)
);
CREATE INDEX IF NOT EXISTS idx_positions_open ON snipe_positions (user_id) WHERE NOT completed;

CREATE TABLE IF NOT EXISTS presets (
	user_id           TEXT NOT NULL,
	network           TEXT NOT NULL,
	slippage          NUMERIC NOT NULL,
	take_profit_ratio NUMERIC NOT NULL,
	stop_loss_ratio   NUMERIC NOT NULL,
	tradable_fraction NUMERIC NOT NULL,
	gas_limit         BIGINT NOT NULL,
	max_gas_price_wei NUMERIC NOT NULL DEFAULT 0,
	min_circulating   NUMERIC NOT NULL DEFAULT 0,
	min_total         NUMERIC NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, network)
);
`

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, applies the schema and returns the store.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	log.Info().Msg("store: postgres ready")
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) CreateTask(ctx context.Context, task *CopyTradeTask) error {
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	_, err := p.pool.Exec(ctx,
		`INSERT INTO copytrade_tasks
		 (id, user_id, network, watcher_address, target_address, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		task.ID, task.UserID, task.Network, task.WatcherAddress, task.TargetAddress,
		task.Status, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}
	return nil
}

func (p *Postgres) Task(ctx context.Context, id string) (*CopyTradeTask, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, user_id, network, watcher_address, target_address, status, created_at, updated_at
		 FROM copytrade_tasks WHERE id = $1`, id)
	return scanTask(row, id)
}

func (p *Postgres) SetTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE copytrade_tasks SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store: set task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return nil
}

func (p *Postgres) TasksByUser(ctx context.Context, userID string) ([]CopyTradeTask, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, network, watcher_address, target_address, status, created_at, updated_at
		 FROM copytrade_tasks WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: tasks by user: %w", err)
	}
	defer rows.Close()

	var out []CopyTradeTask
	for rows.Next() {
		var t CopyTradeTask
		if err := rows.Scan(&t.ID, &t.UserID, &t.Network, &t.WatcherAddress, &t.TargetAddress,
			&t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreatePosition relies on the composite primary key: a conflicting open
// row makes the upsert a no-op, a completed row is superseded.
func (p *Postgres) CreatePosition(ctx context.Context, pos *SnipePosition) (bool, error) {
	pos.CreatedAt = time.Now()
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO snipe_positions
		 (user_id, token_address, network, token_name, token_symbol, decimals, amount_token,
		  purchased_price_usd, take_profit_ratio, stop_loss_ratio, completed, status,
		  entry_tx_hash, exit_tx_hash, created_at, closed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false,$11,$12,'',$13,NULL)
		 ON CONFLICT (user_id, token_address) DO UPDATE SET
		   network = EXCLUDED.network,
		   token_name = EXCLUDED.token_name,
		   token_symbol = EXCLUDED.token_symbol,
		   decimals = EXCLUDED.decimals,
		   amount_token = EXCLUDED.amount_token,
		   purchased_price_usd = EXCLUDED.purchased_price_usd,
		   take_profit_ratio = EXCLUDED.take_profit_ratio,
		   stop_loss_ratio = EXCLUDED.stop_loss_ratio,
		   completed = false,
		   status = EXCLUDED.status,
		   entry_tx_hash = EXCLUDED.entry_tx_hash,
		   exit_tx_hash = '',
		   created_at = EXCLUDED.created_at,
		   closed_at = NULL
		 WHERE snipe_positions.completed`,
		pos.UserID, normalizeToken(pos.TokenAddress), pos.Network, pos.TokenName, pos.TokenSymbol, pos.Decimals,
		pos.AmountToken, pos.PurchasedPriceUSD, pos.TakeProfitRatio, pos.StopLossRatio,
		pos.Status, pos.EntryTxHash, pos.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("store: create position: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Position(ctx context.Context, userID string, token chain.Address) (*SnipePosition, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT user_id, token_address, network, token_name, token_symbol, decimals, amount_token,
		        purchased_price_usd, take_profit_ratio, stop_loss_ratio, completed, status,
		        entry_tx_hash, exit_tx_hash, created_at, closed_at
		 FROM snipe_positions WHERE user_id = $1 AND token_address = $2`, userID, normalizeToken(token))

	var pos SnipePosition
	err := row.Scan(&pos.UserID, &pos.TokenAddress, &pos.Network, &pos.TokenName, &pos.TokenSymbol,
		&pos.Decimals, &pos.AmountToken, &pos.PurchasedPriceUSD, &pos.TakeProfitRatio,
		&pos.StopLossRatio, &pos.Completed, &pos.Status, &pos.EntryTxHash, &pos.ExitTxHash,
		&pos.CreatedAt, &pos.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, userID, token)
	}
	if err != nil {
		return nil, fmt.Errorf("store: position: %w", err)
	}
	return &pos, nil
}

func (p *Postgres) ClosePosition(ctx context.Context, userID string, token chain.Address, status PositionStatus, exitHash chain.TxHash) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE snipe_positions
		 SET completed = true, status = $3, exit_tx_hash = $4, closed_at = now()
		 WHERE user_id = $1 AND token_address = $2 AND NOT completed`,
		userID, normalizeToken(token), status, exitHash)
	if err != nil {
		return fmt.Errorf("store: close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: open position %s/%s", ErrNotFound, userID, token)
	}
	return nil
}

func (p *Postgres) SetPositionStatus(ctx context.Context, userID string, token chain.Address, status PositionStatus) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE snipe_positions SET status = $3
		 WHERE user_id = $1 AND token_address = $2 AND NOT completed`,
		userID, normalizeToken(token), status)
	if err != nil {
		return fmt.Errorf("store: set position status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: open position %s/%s", ErrNotFound, userID, token)
	}
	return nil
}

func (p *Postgres) OpenPositions(ctx context.Context, userID string) ([]SnipePosition, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT user_id, token_address, network, token_name, token_symbol, decimals, amount_token,
		        purchased_price_usd, take_profit_ratio, stop_loss_ratio, completed, status,
		        entry_tx_hash, exit_tx_hash, created_at, closed_at
		 FROM snipe_positions WHERE user_id = $1 AND NOT completed ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: open positions: %w", err)
	}
	defer rows.Close()

	var out []SnipePosition
	for rows.Next() {
		var pos SnipePosition
		if err := rows.Scan(&pos.UserID, &pos.TokenAddress, &pos.Network, &pos.TokenName,
			&pos.TokenSymbol, &pos.Decimals, &pos.AmountToken, &pos.PurchasedPriceUSD,
			&pos.TakeProfitRatio, &pos.StopLossRatio, &pos.Completed, &pos.Status,
			&pos.EntryTxHash, &pos.ExitTxHash, &pos.CreatedAt, &pos.ClosedAt); err != nil {
			return nil, fmt.Errorf("store: scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (p *Postgres) PresetOrDefault(ctx context.Context, userID, network string) (Preset, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT user_id, network, slippage, take_profit_ratio, stop_loss_ratio, tradable_fraction,
		        gas_limit, max_gas_price_wei, min_circulating, min_total
		 FROM presets WHERE user_id = $1 AND network = $2`, userID, network)

	var pr Preset
	err := row.Scan(&pr.UserID, &pr.Network, &pr.Slippage, &pr.TakeProfitRatio, &pr.StopLossRatio,
		&pr.TradableFraction, &pr.GasLimit, &pr.MaxGasPriceWei, &pr.MinCirculating, &pr.MinTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultPreset(userID, network), nil
	}
	if err != nil {
		return Preset{}, fmt.Errorf("store: preset: %w", err)
	}
	return pr, nil
}

func (p *Postgres) PutPreset(ctx context.Context, preset Preset) error {
	if err := preset.Validate(); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO presets
		 (user_id, network, slippage, take_profit_ratio, stop_loss_ratio, tradable_fraction,
		  gas_limit, max_gas_price_wei, min_circulating, min_total)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (user_id, network) DO UPDATE SET
		   slippage = EXCLUDED.slippage,
		   take_profit_ratio = EXCLUDED.take_profit_ratio,
		   stop_loss_ratio = EXCLUDED.stop_loss_ratio,
		   tradable_fraction = EXCLUDED.tradable_fraction,
		   gas_limit = EXCLUDED.gas_limit,
		   max_gas_price_wei = EXCLUDED.max_gas_price_wei,
		   min_circulating = EXCLUDED.min_circulating,
		   min_total = EXCLUDED.min_total`,
		preset.UserID, preset.Network, preset.Slippage, preset.TakeProfitRatio, preset.StopLossRatio,
		preset.TradableFraction, preset.GasLimit, preset.MaxGasPriceWei, preset.MinCirculating,
		preset.MinTotal)
	if err != nil {
		return fmt.Errorf("store: put preset: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row, id string) (*CopyTradeTask, error) {
	var t CopyTradeTask
	err := row.Scan(&t.ID, &t.UserID, &t.Network, &t.WatcherAddress, &t.TargetAddress,
		&t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: task: %w", err)
	}
	return &t, nil
}

var _ Store = (*Postgres)(nil)
