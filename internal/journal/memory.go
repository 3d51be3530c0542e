package journal

import (
	"sync"
)

// Memory is an in-process journal. It backs tests and ephemeral runs where no
// database path is configured.
type Memory struct {
	mu     sync.Mutex
	trades []ClosedTrade
	plans  []BatchPlan
	fills  []BatchFill
	nextID int64

	// FailWrites makes every write fail, for exercising the engine's
	// write-then-acknowledge behavior.
	FailWrites error
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) RecordClose(t ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	t.ID = m.nextID
	m.nextID++
	m.trades = append(m.trades, t)
	return nil
}

func (m *Memory) RecordBatchPlan(p BatchPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.plans = append(m.plans, p)
	return nil
}

func (m *Memory) RecordBatchFill(f BatchFill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.fills = append(m.fills, f)
	return nil
}

func (m *Memory) Recent(accountID string, limit int) ([]ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []ClosedTrade
	for i := len(m.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if m.trades[i].AccountID == accountID {
			out = append(out, m.trades[i])
		}
	}
	return out, nil
}

func (m *Memory) Stats(accountID string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []ClosedTrade
	for _, t := range m.trades {
		if t.AccountID == accountID {
			mine = append(mine, t)
		}
	}
	return computeStats(mine), nil
}

// Plans returns the recorded batch plans. Test helper.
func (m *Memory) Plans() []BatchPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BatchPlan, len(m.plans))
	copy(out, m.plans)
	return out
}

// Fills returns the recorded batch fills. Test helper.
func (m *Memory) Fills() []BatchFill {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BatchFill, len(m.fills))
	copy(out, m.fills)
	return out
}

func (m *Memory) Close() error { return nil }
