package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/david-jerry/copytrader-bot/internal/chain"
)

// Memory is an in-process Store for tests and stub mode.
type Memory struct {
	mu        sync.Mutex
	tasks     map[string]*CopyTradeTask
	positions map[string]*SnipePosition
	presets   map[string]Preset

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:     make(map[string]*CopyTradeTask),
		positions: make(map[string]*SnipePosition),
		presets:   make(map[string]Preset),
		now:       time.Now,
	}
}

func (m *Memory) CreateTask(_ context.Context, task *CopyTradeTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.tasks[task.ID]; dup {
		return fmt.Errorf("%w: task %s already exists", chain.ErrValidation, task.ID)
	}
	now := m.now()
	task.CreatedAt = now
	task.UpdatedAt = now
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *Memory) Task(_ context.Context, id string) (*CopyTradeTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) SetTaskStatus(_ context.Context, id string, status TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	t.Status = status
	t.UpdatedAt = m.now()
	return nil
}

func (m *Memory) TasksByUser(_ context.Context, userID string) ([]CopyTradeTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CopyTradeTask
	for _, t := range m.tasks {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreatePosition(_ context.Context, pos *SnipePosition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := positionKey(pos.UserID, pos.TokenAddress)
	// An open row blocks the insert; a completed row is superseded so the
	// same token can be re-entered after cooldown.
	if existing, taken := m.positions[key]; taken && !existing.Completed {
		return false, nil
	}
	pos.CreatedAt = m.now()
	cp := *pos
	m.positions[key] = &cp
	return true, nil
}

func (m *Memory) Position(_ context.Context, userID string, token chain.Address) (*SnipePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[positionKey(userID, token)]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, userID, token)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ClosePosition(_ context.Context, userID string, token chain.Address, status PositionStatus, exitHash chain.TxHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[positionKey(userID, token)]
	if !ok {
		return fmt.Errorf("%w: position %s/%s", ErrNotFound, userID, token)
	}
	if p.Completed {
		return fmt.Errorf("%w: position %s/%s already completed", chain.ErrValidation, userID, token)
	}
	now := m.now()
	p.Completed = true
	p.Status = status
	p.ExitTxHash = exitHash
	p.ClosedAt = &now
	return nil
}

func (m *Memory) SetPositionStatus(_ context.Context, userID string, token chain.Address, status PositionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[positionKey(userID, token)]
	if !ok {
		return fmt.Errorf("%w: position %s/%s", ErrNotFound, userID, token)
	}
	if p.Completed {
		return fmt.Errorf("%w: position %s/%s already completed", chain.ErrValidation, userID, token)
	}
	p.Status = status
	return nil
}

func (m *Memory) OpenPositions(_ context.Context, userID string) ([]SnipePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SnipePosition
	for _, p := range m.positions {
		if p.UserID == userID && !p.Completed {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PresetOrDefault(_ context.Context, userID, network string) (Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.presets[presetKey(userID, network)]; ok {
		return p, nil
	}
	return DefaultPreset(userID, network), nil
}

func (m *Memory) PutPreset(_ context.Context, preset Preset) error {
	if err := preset.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presets[presetKey(preset.UserID, preset.Network)] = preset
	return nil
}

func positionKey(userID string, token chain.Address) string {
	return userID + "/" + normalizeToken(token)
}

func presetKey(userID, network string) string {
	return userID + "/" + network
}

var _ Store = (*Memory)(nil)
