package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Logger is the structured logger used across the system.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Fatal(msg string, fields ...any)
	WithField(key string, value any) Logger
}

// Venue is the typed client contract against one exchange REST API.
// Market data calls are unauthenticated; account and order calls sign with
// the caller-supplied credentials.
type Venue interface {
	Name() string

	// ServerTime returns the venue clock in epoch milliseconds and updates
	// the process-wide clock offset.
	ServerTime(ctx context.Context) (int64, error)

	Depth(ctx context.Context, symbol string, limit int) (*Depth, error)
	Ticker(ctx context.Context, symbol string) (decimal.Decimal, error)
	SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)

	Balances(ctx context.Context, creds Credentials, currencies []string) (map[string]Balance, error)
	OpenOrders(ctx context.Context, creds Credentials, symbol string, side OrderSide) ([]Order, error)

	PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*Order, error)
	PlaceBatch(ctx context.Context, creds Credentials, items []OrderRequest) (*BatchResult, error)
	CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) error
	CancelBatch(ctx context.Context, creds Credentials, symbol string, orderIDs []string) error
	CancelAllOpen(ctx context.Context, creds Credentials, symbol string, side OrderSide) error
}

// RuntimeUpdate is a field-scoped write of engine-owned bot fields. Nil
// members are left untouched in storage.
type RuntimeUpdate struct {
	State          State
	LastCheckedAt  *time.Time
	LastExecutedAt *time.Time
	NextRunAt      *time.Time
}

// BotRepository is the lifecycle-aware persistence contract for bots,
// trades and activity logs. Bot updates are field-scoped and must never
// overwrite fields they do not intend to change; trade inserts are
// unconditional and trades are never updated.
type BotRepository interface {
	GetBot(ctx context.Context, id string) (*BotSpec, error)

	// DueBots returns bots of the strategy that are isActive, isRunning,
	// due (nextRunAt <= now or unset) and owned by an enabled user with
	// credentials present.
	DueBots(ctx context.Context, kind StrategyKind, now time.Time) ([]*BotSpec, error)

	// CountAdmitted counts bots of the strategy passing the admission
	// predicate, for supervisor boot decisions.
	CountAdmitted(ctx context.Context, kind StrategyKind) (int, error)

	// SetRunning flips the engine-owned running flag. The write must not
	// revive a bot whose isActive intent flag is false.
	SetRunning(ctx context.Context, id string, running bool) error

	// UpdateRuntime applies a field-scoped update of runtime fields.
	UpdateRuntime(ctx context.Context, id string, upd RuntimeUpdate) error

	InsertTrade(ctx context.Context, t *Trade) error
	AppendLog(ctx context.Context, e *ActivityEntry) error
	RecentLogs(ctx context.Context, kind StrategyKind, limit int) ([]*ActivityEntry, error)
}

// CredentialStore resolves venue credentials per user and hides the storage
// schema. Resolve fails with ErrNoCredentials when the user is unknown,
// disabled, or has no credentials.
type CredentialStore interface {
	Resolve(ctx context.Context, userID string) (Credentials, error)
	SetBotEnabled(ctx context.Context, userID string, enabled bool) error
}

// Notifier delivers operator notifications. It is injected so tests can
// substitute a recorder.
type Notifier interface {
	Notify(ctx context.Context, title, message string, fields map[string]string)
}
