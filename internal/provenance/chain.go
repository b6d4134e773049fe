package provenance

import "sync"

type RiskLevel string

const (
	RiskNone   RiskLevel = "NONE"
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// lowRiskCeiling is the largest active-operation count still rated LOW.
const lowRiskCeiling = 10

// Chain is an ordered edit log with a cursor at the last active entry.
// Entries past the cursor are redo history. It has one mutating owner;
// readers go through Snapshot or the accessor methods.
type Chain struct {
	mu     sync.RWMutex
	ops    []Operation
	cursor int
}

func NewChain() *Chain {
	return &Chain{cursor: -1}
}

// Apply appends op after the cursor, discarding any redo history.
func (c *Chain) Apply(op Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor < len(c.ops)-1 {
		c.ops = c.ops[:c.cursor+1]
	}
	c.ops = append(c.ops, op.clone())
	c.cursor = len(c.ops) - 1
}

// Undo deactivates the entry at the cursor and returns it. The bool is false
// when there is nothing to undo.
func (c *Chain) Undo() (Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor < 0 {
		return Operation{}, false
	}
	op := c.ops[c.cursor]
	c.cursor--
	return op.clone(), true
}

// Redo reactivates the next entry and returns it. The bool is false when
// there is no redo history.
func (c *Chain) Redo() (Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor >= len(c.ops)-1 {
		return Operation{}, false
	}
	c.cursor++
	return c.ops[c.cursor].clone(), true
}

func (c *Chain) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = nil
	c.cursor = -1
}

func (c *Chain) CurrentIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ops)
}

func (c *Chain) CanUndo() bool {
	return c.CurrentIndex() >= 0
}

func (c *Chain) CanRedo() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor < len(c.ops)-1
}

// Active returns a copy of the entries up to and including the cursor.
func (c *Chain) Active() []Operation {
	return c.Snapshot().Active()
}

// ChainSnapshot is a point-in-time copy of a Chain.
type ChainSnapshot struct {
	Ops    []Operation
	Cursor int
}

func (c *Chain) Snapshot() ChainSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ops := make([]Operation, len(c.ops))
	for i, op := range c.ops {
		ops[i] = op.clone()
	}
	return ChainSnapshot{Ops: ops, Cursor: c.cursor}
}

func (s ChainSnapshot) Active() []Operation {
	return s.Ops[:s.Cursor+1]
}

type Statistics struct {
	TotalOperations int            `json:"total_operations"`
	HistoryLength   int            `json:"history_length"`
	CurrentIndex    int            `json:"current_index"`
	ByBucket        map[Bucket]int `json:"by_bucket"`
	HighRiskCount   int            `json:"high_risk_count"`
	CanUndo         bool           `json:"can_undo"`
	CanRedo         bool           `json:"can_redo"`
	RiskLevel       RiskLevel      `json:"risk_level"`
}

func (c *Chain) Statistics() Statistics {
	return c.Snapshot().Statistics()
}

func (s ChainSnapshot) Statistics() Statistics {
	active := s.Active()
	stats := Statistics{
		TotalOperations: len(active),
		HistoryLength:   len(s.Ops),
		CurrentIndex:    s.Cursor,
		ByBucket:        countBuckets(active),
		CanUndo:         s.Cursor >= 0,
		CanRedo:         s.Cursor < len(s.Ops)-1,
	}
	stats.HighRiskCount = highRiskCount(stats.ByBucket)
	stats.RiskLevel = riskLevel(len(active), stats.HighRiskCount)
	return stats
}

func countBuckets(ops []Operation) map[Bucket]int {
	counts := make(map[Bucket]int, len(Buckets))
	for _, b := range Buckets {
		counts[b] = 0
	}
	for _, op := range ops {
		counts[op.Bucket]++
	}
	return counts
}

func highRiskCount(counts map[Bucket]int) int {
	total := 0
	for b, n := range counts {
		if RiskWeightOf(b) == RiskWeightHigh {
			total += n
		}
	}
	return total
}

// riskLevel: any active high-risk op wins over the count.
func riskLevel(active, highRisk int) RiskLevel {
	switch {
	case highRisk > 0:
		return RiskHigh
	case active == 0:
		return RiskNone
	case active <= lowRiskCeiling:
		return RiskLow
	default:
		return RiskMedium
	}
}
