package store

import (
	"context"
	"errors"
	"strings"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// ErrNotFound marks a lookup with no matching record.
var ErrNotFound = errors.New("store: not found")

// normalizeToken lowercases a token address so the (user, token) position
// key matches regardless of checksum casing. Every Store implementation
// must key positions through it.
func normalizeToken(token chain.Address) string {
	return strings.ToLower(string(token))
}

// Store is the durable record of tasks, positions and presets.
type Store interface {
	// CreateTask persists a new copy-trade task.
	CreateTask(ctx context.Context, task *CopyTradeTask) error

	// Task looks up a task by id. ErrNotFound if absent.
	Task(ctx context.Context, id string) (*CopyTradeTask, error)

	// SetTaskStatus updates a task's lifecycle state.
	SetTaskStatus(ctx context.Context, id string, status TaskStatus) error

	// TasksByUser lists a user's tasks, newest first.
	TasksByUser(ctx context.Context, userID string) ([]CopyTradeTask, error)

	// CreatePosition inserts a position if no open row exists for the
	// (user, token) key. An open row leaves the store untouched and
	// returns created=false; a completed row is superseded.
	CreatePosition(ctx context.Context, pos *SnipePosition) (created bool, err error)

	// Position looks up a position by its composite key. ErrNotFound if absent.
	Position(ctx context.Context, userID string, token chain.Address) (*SnipePosition, error)

	// ClosePosition marks a position completed with a terminal status and
	// exit hash. Closed positions are immutable afterwards.
	ClosePosition(ctx context.Context, userID string, token chain.Address, status PositionStatus, exitHash chain.TxHash) error

	// SetPositionStatus updates the trading status of an open position.
	SetPositionStatus(ctx context.Context, userID string, token chain.Address, status PositionStatus) error

	// OpenPositions lists a user's open (completed=false) positions.
	OpenPositions(ctx context.Context, userID string) ([]SnipePosition, error)

	// PresetOrDefault returns the stored preset for (user, network) or the
	// defaults when none exists.
	PresetOrDefault(ctx context.Context, userID, network string) (Preset, error)

	// PutPreset stores or replaces a preset.
	PutPreset(ctx context.Context, preset Preset) error
}
