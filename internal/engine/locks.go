package engine

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/roach88/voltchain/internal/ir"
)

// accessMode is how a transition touches a declared record.
type accessMode int

const (
	modeRead accessMode = iota
	modeWrite
	modeCreate
)

func (m accessMode) String() string {
	switch m {
	case modeRead:
		return "read"
	case modeWrite:
		return "write"
	case modeCreate:
		return "create"
	}
	return "unknown"
}

func (m accessMode) exclusive() bool {
	return m != modeRead
}

// lockState is the claim held on one address. A writer excludes everything;
// readers only exclude writers.
type lockState struct {
	writer  bool
	readers int
}

// lockTable is the per-record single-writer discipline. Entries exist only
// while claimed, so the table stays as small as the in-flight set.
//
// Thread-safety: every state change goes through xsync.Map.Compute, which is
// atomic per key.
type lockTable struct {
	m *xsync.Map[ir.Address, lockState]
}

func newLockTable() *lockTable {
	return &lockTable{m: xsync.NewMap[ir.Address, lockState]()}
}

// tryAcquire leases addr without blocking. Returns false on conflict.
func (t *lockTable) tryAcquire(addr ir.Address, mode accessMode) bool {
	acquired := false
	t.m.Compute(addr, func(cur lockState, loaded bool) (lockState, xsync.ComputeOp) {
		if mode.exclusive() {
			if loaded {
				return cur, xsync.CancelOp
			}
			acquired = true
			return lockState{writer: true}, xsync.UpdateOp
		}
		if loaded && cur.writer {
			return cur, xsync.CancelOp
		}
		acquired = true
		cur.readers++
		return cur, xsync.UpdateOp
	})
	return acquired
}

func (t *lockTable) release(addr ir.Address, mode accessMode) {
	t.m.Compute(addr, func(cur lockState, loaded bool) (lockState, xsync.ComputeOp) {
		if !loaded {
			return cur, xsync.CancelOp
		}
		if mode.exclusive() || cur.readers <= 1 {
			return lockState{}, xsync.DeleteOp
		}
		cur.readers--
		return cur, xsync.UpdateOp
	})
}

// lease is one address held in a given mode.
type lease struct {
	addr ir.Address
	mode accessMode
}

// acquireAll leases every address or none. On conflict it releases what it
// already holds and returns the busy address.
func (t *lockTable) acquireAll(leases []lease) (busy ir.Address, ok bool) {
	held := make([]lease, 0, len(leases))
	for _, c := range leases {
		if !t.tryAcquire(c.addr, c.mode) {
			t.releaseAll(held)
			return c.addr, false
		}
		held = append(held, c)
	}
	return "", true
}

func (t *lockTable) releaseAll(leases []lease) {
	for _, c := range leases {
		t.release(c.addr, c.mode)
	}
}

// held returns the number of addresses currently claimed.
func (t *lockTable) held() int {
	return t.m.Size()
}

// mergeLeases folds duplicate addresses into one lease with the strongest
// mode and orders leases by address.
func mergeLeases(leases []lease) []lease {
	byAddr := make(map[ir.Address]accessMode, len(leases))
	for _, c := range leases {
		if cur, ok := byAddr[c.addr]; !ok || c.mode > cur {
			byAddr[c.addr] = c.mode
		}
	}
	out := make([]lease, 0, len(byAddr))
	for addr, mode := range byAddr {
		out = append(out, lease{addr: addr, mode: mode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	return out
}
