package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gcbbot/internal/core"
	apperrors "gcbbot/pkg/errors"
)

// ErrBotNotFound is returned when a bot id has no row. It wraps the
// shared not-found sentinel so callers can match without importing this
// package.
var ErrBotNotFound = fmt.Errorf("bot %w", apperrors.ErrNotFound)

// BotRepo implements core.BotRepository on the sqlite store.
type BotRepo struct {
	store *Store
}

// NewBotRepo creates the bot repository.
func NewBotRepo(s *Store) *BotRepo { return &BotRepo{store: s} }

const botColumns = `id, user_id, name, symbol, strategy, is_active, is_running,
	params, state, next_run_at, last_checked_at, last_executed_at, created_at, updated_at`

func (r *BotRepo) GetBot(ctx context.Context, id string) (*core.BotSpec, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	bot, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, id)
	}
	return bot, err
}

// DueBots selects the bots admitted to run on this tick: active, running,
// due, and owned by an enabled user whose credentials are present. The
// credential check lives in the query so disabled users drop out between
// ticks without any engine-side bookkeeping.
func (r *BotRepo) DueBots(ctx context.Context, kind core.StrategyKind, now time.Time) ([]*core.BotSpec, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT b.id, b.user_id, b.name, b.symbol, b.strategy, b.is_active, b.is_running,
		       b.params, b.state, b.next_run_at, b.last_checked_at, b.last_executed_at,
		       b.created_at, b.updated_at
		FROM bots b
		JOIN users u ON u.id = b.user_id
		WHERE b.strategy = ?
		  AND b.is_active = 1
		  AND b.is_running = 1
		  AND (b.next_run_at IS NULL OR b.next_run_at <= ?)
		  AND u.bot_enabled = 1
		  AND u.api_key != '' AND u.api_secret != ''
		ORDER BY b.next_run_at`,
		string(kind), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query due bots: %w", err)
	}
	defer rows.Close()

	var out []*core.BotSpec
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bot)
	}
	return out, rows.Err()
}

func (r *BotRepo) CountAdmitted(ctx context.Context, kind core.StrategyKind) (int, error) {
	var n int
	err := r.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM bots b
		JOIN users u ON u.id = b.user_id
		WHERE b.strategy = ?
		  AND b.is_active = 1
		  AND u.bot_enabled = 1
		  AND u.api_key != '' AND u.api_secret != ''`,
		string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admitted bots: %w", err)
	}
	return n, nil
}

// SetRunning flips the engine-owned running flag. Starting requires the
// intent flag: a bot deactivated by its owner stays down no matter what
// the engine believes.
func (r *BotRepo) SetRunning(ctx context.Context, id string, running bool) error {
	query := `UPDATE bots SET is_running = ?, updated_at = ? WHERE id = ?`
	if running {
		query += ` AND is_active = 1`
	}
	res, err := r.store.db.ExecContext(ctx, query, boolInt(running), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && running {
		return fmt.Errorf("%w or inactive: %s", ErrBotNotFound, id)
	}
	return nil
}

// UpdateRuntime writes only the runtime fields the update names. Params,
// is_active and the identity columns are never touched here.
func (r *BotRepo) UpdateRuntime(ctx context.Context, id string, upd core.RuntimeUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UnixMilli()}

	if upd.State != nil {
		raw, err := json.Marshal(upd.State)
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		sets = append(sets, "state = ?")
		args = append(args, string(raw))
	}
	if upd.LastCheckedAt != nil {
		sets = append(sets, "last_checked_at = ?")
		args = append(args, upd.LastCheckedAt.UnixMilli())
	}
	if upd.LastExecutedAt != nil {
		sets = append(sets, "last_executed_at = ?")
		args = append(args, upd.LastExecutedAt.UnixMilli())
	}
	if upd.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, toMillis(*upd.NextRunAt))
	}
	args = append(args, id)

	res, err := r.store.db.ExecContext(ctx,
		`UPDATE bots SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update runtime: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrBotNotFound, id)
	}
	return nil
}

// InsertTrade appends one trade record. Trades are never updated after
// insert; fills observed later arrive as new records.
func (r *BotRepo) InsertTrade(ctx context.Context, t *core.Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var raw any
	if len(t.Raw) > 0 {
		raw = string(t.Raw)
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO trades (id, bot_id, user_id, strategy, symbol, side, type,
			requested_qty, executed_qty, price, quote_amount, venue_order_id,
			status, error, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BotID, t.UserID, string(t.Strategy), t.Symbol, string(t.Side), string(t.Type),
		t.RequestedQty.String(), t.ExecutedQty.String(), t.Price.String(), t.QuoteAmount.String(),
		t.VenueOrderID, string(t.Status), t.Error, raw, t.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// AppendLog appends an activity entry and prunes the per-strategy history
// down to the retention cap.
func (r *BotRepo) AppendLog(ctx context.Context, e *core.ActivityEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var payload any
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payload = string(raw)
	}
	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO activity_log (bot_id, strategy, severity, message, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.BotID, string(e.Strategy), string(e.Severity), e.Message, payload, e.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM activity_log
			WHERE strategy = ?
			  AND id NOT IN (
				SELECT id FROM activity_log WHERE strategy = ? ORDER BY id DESC LIMIT ?
			  )`,
			string(e.Strategy), string(e.Strategy), r.store.logRetention)
		if err != nil {
			return fmt.Errorf("prune activity: %w", err)
		}
		return nil
	})
}

// RecentLogs returns activity entries for a strategy, newest first.
func (r *BotRepo) RecentLogs(ctx context.Context, kind core.StrategyKind, limit int) ([]*core.ActivityEntry, error) {
	if limit <= 0 || limit > r.store.logRetention {
		limit = r.store.logRetention
	}
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, bot_id, strategy, severity, message, payload, created_at
		FROM activity_log WHERE strategy = ? ORDER BY id DESC LIMIT ?`,
		string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []*core.ActivityEntry
	for rows.Next() {
		var (
			e        core.ActivityEntry
			strategy string
			severity string
			payload  sql.NullString
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.BotID, &strategy, &severity, &e.Message, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Strategy = core.StrategyKind(strategy)
		e.Severity = core.Severity(severity)
		e.CreatedAt = time.UnixMilli(created)
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CreateBot inserts a new bot row with frontend-owned fields. Runtime
// fields start zeroed.
func (r *BotRepo) CreateBot(ctx context.Context, bot *core.BotSpec) error {
	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	if bot.Params == nil {
		return errors.New("bot params required")
	}
	if err := bot.Params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	params, err := json.Marshal(bot.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	state := []byte("{}")
	if bot.State != nil {
		if state, err = json.Marshal(bot.State); err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
	}
	now := time.Now()
	bot.CreatedAt = now
	bot.UpdatedAt = now
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO bots (id, user_id, name, symbol, strategy, is_active, is_running,
			params, state, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		bot.ID, bot.UserID, bot.Name, bot.Symbol, string(bot.Strategy),
		boolInt(bot.IsActive), string(params), string(state),
		toMillis(bot.NextRunAt), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBot(row scanner) (*core.BotSpec, error) {
	var (
		bot            core.BotSpec
		strategy       string
		isActive       int
		isRunning      int
		params         string
		state          string
		nextRun        sql.NullInt64
		lastChecked    sql.NullInt64
		lastExecuted   sql.NullInt64
		created, updat int64
	)
	err := row.Scan(&bot.ID, &bot.UserID, &bot.Name, &bot.Symbol, &strategy,
		&isActive, &isRunning, &params, &state,
		&nextRun, &lastChecked, &lastExecuted, &created, &updat)
	if err != nil {
		return nil, err
	}

	bot.Strategy = core.StrategyKind(strategy)
	bot.IsActive = isActive != 0
	bot.IsRunning = isRunning != 0
	bot.NextRunAt = fromMillis(nextRun)
	bot.LastCheckedAt = fromMillis(lastChecked)
	bot.LastExecutedAt = fromMillis(lastExecuted)
	bot.CreatedAt = time.UnixMilli(created)
	bot.UpdatedAt = time.UnixMilli(updat)

	if bot.Params, err = core.DecodeParams(bot.Strategy, []byte(params)); err != nil {
		return nil, fmt.Errorf("bot %s params: %w", bot.ID, err)
	}
	if bot.State, err = core.DecodeState(bot.Strategy, []byte(state)); err != nil {
		return nil, fmt.Errorf("bot %s state: %w", bot.ID, err)
	}
	return &bot, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
