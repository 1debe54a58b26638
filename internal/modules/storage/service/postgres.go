package service

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// PostgresStore is the source of truth. Configs, positions and trades are
// kept as jsonb documents next to the columns the queries filter on.
type PostgresStore struct {
	db db.TxManager
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(tm db.TxManager) *PostgresStore {
	return &PostgresStore{db: tm}
}

// Migrate creates missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Conn().Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg.Migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) (out []models.BotUser, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ListUsers: %w", err)
		}
	}()
	rows, err := s.db.Conn().Query(ctx, `
		SELECT u.user_id, u.tier, u.api_key, u.api_secret, u.passphrase, u.chat_id, c.config
		FROM users u LEFT JOIN bot_configs c ON c.user_id = u.user_id
		ORDER BY u.user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (models.BotUser, error) {
	row := s.db.Conn().QueryRow(ctx, `
		SELECT u.user_id, u.tier, u.api_key, u.api_secret, u.passphrase, u.chat_id, c.config
		FROM users u LEFT JOIN bot_configs c ON c.user_id = u.user_id
		WHERE u.user_id = $1`, userID)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BotUser{}, errors.Wrapf(models.ErrNotFound, "user %d", userID)
	}
	if err != nil {
		return models.BotUser{}, fmt.Errorf("pg.GetUser: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (models.BotUser, error) {
	var (
		u    models.BotUser
		tier string
		raw  []byte
	)
	if err := row.Scan(&u.UserID, &tier, &u.Credentials.APIKey, &u.Credentials.APISecret,
		&u.Credentials.Passphrase, &u.ChatID, &raw); err != nil {
		return models.BotUser{}, err
	}
	u.Tier = models.ParseTier(tier)
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &u.Config); err != nil {
			return models.BotUser{}, err
		}
	}
	u.Config.UserID = u.UserID
	return u, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u models.BotUser) error {
	_, err := s.db.Conn().Exec(ctx, `
		INSERT INTO users (user_id, tier, api_key, api_secret, passphrase, chat_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier, api_key = EXCLUDED.api_key,
			api_secret = EXCLUDED.api_secret, passphrase = EXCLUDED.passphrase,
			chat_id = EXCLUDED.chat_id`,
		u.UserID, string(u.Tier), u.Credentials.APIKey, u.Credentials.APISecret, u.Credentials.Passphrase, u.ChatID)
	if err != nil {
		return fmt.Errorf("pg.UpsertUser: %w", err)
	}
	return nil
}

func (s *PostgresStore) LinkChat(ctx context.Context, userID, chatID int64) error {
	tag, err := s.db.Conn().Exec(ctx, `UPDATE users SET chat_id = $2 WHERE user_id = $1`, userID, chatID)
	if err != nil {
		return fmt.Errorf("pg.LinkChat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "user %d", userID)
	}
	return nil
}

func (s *PostgresStore) GetConfig(ctx context.Context, userID int64) (models.UserBotConfig, error) {
	var raw []byte
	err := s.db.Conn().QueryRow(ctx, `SELECT config FROM bot_configs WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserBotConfig{}, errors.Wrapf(models.ErrNotFound, "config of user %d", userID)
	}
	if err != nil {
		return models.UserBotConfig{}, fmt.Errorf("pg.GetConfig: %w", err)
	}
	var cfg models.UserBotConfig
	if err := sonic.Unmarshal(raw, &cfg); err != nil {
		return models.UserBotConfig{}, fmt.Errorf("pg.GetConfig decode: %w", err)
	}
	cfg.UserID = userID
	return cfg, nil
}

func (s *PostgresStore) PutConfig(ctx context.Context, cfg models.UserBotConfig) error {
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	raw, err := sonic.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("pg.PutConfig encode: %w", err)
	}
	// the config row references users, so a config saved before the user
	// record exists creates a bare user
	err = s.db.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO users (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, cfg.UserID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO bot_configs (user_id, config, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at`,
			cfg.UserID, raw, cfg.UpdatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("pg.PutConfig: %w", err)
	}
	return nil
}

// serializationRetries bounds how often a repeatable read config update is
// replayed after losing a race to another writer of the same row.
const serializationRetries = 5

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, userID int64, fn ConfigUpdate) (models.UserBotConfig, error) {
	var out models.UserBotConfig
	var fnErr error
	var err error
	for attempt := 0; attempt < serializationRetries; attempt++ {
		fnErr = nil
		err = s.db.RunRepeatableRead(ctx, func(ctx context.Context, tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `INSERT INTO users (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID); err != nil {
				return err
			}
			var cur models.UserBotConfig
			var raw []byte
			found := true
			err := tx.QueryRow(ctx, `SELECT config FROM bot_configs WHERE user_id = $1 FOR UPDATE`, userID).Scan(&raw)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				found = false
			case err != nil:
				return err
			default:
				if err := sonic.Unmarshal(raw, &cur); err != nil {
					return fmt.Errorf("decode: %w", err)
				}
				cur.UserID = userID
			}

			next, err := fn(cur, found)
			if err != nil {
				fnErr = err
				return err
			}
			next.UserID = userID
			if next.UpdatedAt.IsZero() {
				next.UpdatedAt = time.Now().UTC()
			}
			data, err := sonic.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO bot_configs (user_id, config, updated_at) VALUES ($1, $2, $3)
				ON CONFLICT (user_id) DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at`,
				userID, data, next.UpdatedAt); err != nil {
				return err
			}
			out = next
			return nil
		})
		if fnErr != nil {
			return models.UserBotConfig{}, fnErr
		}
		if err == nil || !isSerializationFailure(err) {
			break
		}
	}
	if err != nil {
		return models.UserBotConfig{}, fmt.Errorf("pg.UpdateConfig: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *models.Position) error {
	raw, err := sonic.Marshal(p)
	if err != nil {
		return fmt.Errorf("pg.SavePosition encode: %w", err)
	}
	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO positions (id, user_id, symbol, timeframe, side, state, terminal, candle_time, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state, terminal = EXCLUDED.terminal,
			data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.Symbol, p.Timeframe, string(p.Side), string(p.State), p.State.Terminal(),
		p.CandleTime, raw, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg.SavePosition: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID int64, openOnly bool) ([]models.Position, error) {
	q := `SELECT data FROM positions WHERE user_id = $1`
	if openOnly {
		q += ` AND NOT terminal`
	}
	q += ` ORDER BY candle_time`

	rows, err := s.db.Conn().Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("pg.ListPositions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Position, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("pg.ListPositions scan: %w", err)
		}
		var p models.Position
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("pg.ListPositions decode: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ArchiveTrade is idempotent on the position id.
func (s *PostgresStore) ArchiveTrade(ctx context.Context, rec models.TradeRecord) error {
	raw, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("pg.ArchiveTrade encode: %w", err)
	}
	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO trades (position_id, user_id, symbol, side, state, realized_pnl, data, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)
		ON CONFLICT (position_id) DO NOTHING`,
		rec.PositionID, rec.UserID, rec.Symbol, string(rec.Side), string(rec.State),
		decimal.NewFromFloat(rec.RealizedPnL).String(), raw, rec.ClosedAt)
	if err != nil {
		return fmt.Errorf("pg.ArchiveTrade: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID int64, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Conn().Query(ctx,
		`SELECT data FROM trades WHERE user_id = $1 ORDER BY closed_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("pg.ListTrades: %w", err)
	}
	defer rows.Close()

	out := make([]models.TradeRecord, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("pg.ListTrades scan: %w", err)
		}
		var rec models.TradeRecord
		if err := sonic.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("pg.ListTrades decode: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertStatus(ctx context.Context, st models.InstanceStatus) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	var hb *time.Time
	if !st.LastHeartbeat.IsZero() {
		hb = &st.LastHeartbeat
	}
	_, err := s.db.Conn().Exec(ctx, `
		INSERT INTO instance_status (user_id, status, last_heartbeat, stop_reason, restarts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			status = EXCLUDED.status, last_heartbeat = EXCLUDED.last_heartbeat,
			stop_reason = EXCLUDED.stop_reason, restarts = EXCLUDED.restarts,
			updated_at = EXCLUDED.updated_at`,
		st.UserID, string(st.Status), hb, st.StopReason, st.Restarts, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg.UpsertStatus: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, userID int64) (models.InstanceStatus, error) {
	st := models.InstanceStatus{UserID: userID}
	var (
		status string
		hb     *time.Time
	)
	err := s.db.Conn().QueryRow(ctx, `
		SELECT status, last_heartbeat, stop_reason, restarts, updated_at
		FROM instance_status WHERE user_id = $1`, userID).
		Scan(&status, &hb, &st.StopReason, &st.Restarts, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		st.Status = models.RunStateStopped
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("pg.GetStatus: %w", err)
	}
	st.Status = models.RunState(status)
	if hb != nil {
		st.LastHeartbeat = *hb
	}
	return st, nil
}
