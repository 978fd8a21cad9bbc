package core

// component is a state holder with an undo log.
type component interface {
	OpIndex() int
	Rollback(restorePoint int)
	Commit()
}

// txn spans one command across every stateful component. Either all
// mutations survive or none do.
type txn struct {
	parts  []component
	points []int
}

func (c *DeterministicCore) begin() *txn {
	parts := []component{c.balanceTracker, c.pools, c.items, c.market, c.oracle}
	t := &txn{parts: parts, points: make([]int, len(parts))}
	for i, p := range parts {
		t.points[i] = p.OpIndex()
	}
	return t
}

func (t *txn) rollback() {
	for i := len(t.parts) - 1; i >= 0; i-- {
		t.parts[i].Rollback(t.points[i])
	}
}

func (t *txn) commit() {
	for _, p := range t.parts {
		p.Commit()
	}
}
