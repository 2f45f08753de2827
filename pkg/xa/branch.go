/**
 * Copyright 2021 The IcecaneDB Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package xa

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dr0pdb/icecanexa/pkg/xid"
)

// State is the state of a transaction branch.
type State int

const (
	// StateNone is the state of a branch that is not in the table.
	StateNone State = iota
	StateActive
	StateSuspended
	StateIdle
	StatePrepared
	StateHeuristicallyCompleted
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateActive:
		return "ACTIVE"
	case StateSuspended:
		return "SUSPENDED"
	case StateIdle:
		return "IDLE"
	case StatePrepared:
		return "PREPARED"
	case StateHeuristicallyCompleted:
		return "HEURISTICALLY_COMPLETED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// branch is one entry of the branch table.
// every field except xid is guarded by mu.
type branch struct {
	mu sync.Mutex

	xid   xid.Xid
	state State
	txn   Txn

	// token of the durable prepare record. valid once prepared.
	token Token

	rollbackOnly bool

	// heuristic is the XA_HEURxx code reported while HEURISTICALLY_COMPLETED.
	heuristic Code

	// removed is set once the branch is taken out of the table.
	// a caller that locked a removed branch must treat it as absent.
	removed bool
}

// inDoubt reports if the transaction manager has to resolve the branch.
func (b *branch) inDoubt() bool {
	return b.state == StatePrepared || b.state == StateHeuristicallyCompleted
}

// branchTable holds the live branches of a resource manager keyed by xid.
//
// Lookups don't take a lock. Operations on a branch are serialized by the
// branch's own lock so that different xids don't block each other.
type branchTable struct {
	// branches maps xid.Key() to *branch.
	branches sync.Map
	count    atomic.Int64
}

func newBranchTable() *branchTable {
	return &branchTable{}
}

func (bt *branchTable) lookup(x xid.Xid) *branch {
	v, ok := bt.branches.Load(x.Key())
	if !ok {
		return nil
	}
	return v.(*branch)
}

// acquire returns the locked branch of x or nil if there is none.
func (bt *branchTable) acquire(x xid.Xid) *branch {
	for {
		b := bt.lookup(x)
		if b == nil {
			return nil
		}
		b.mu.Lock()
		if !b.removed {
			return b
		}
		// removed while we were waiting for it. a new branch may have been
		// started with the same xid in the meantime.
		b.mu.Unlock()
	}
}

// insertLocked adds a locked branch for x in state NONE.
// returns false if x already has a branch.
func (bt *branchTable) insertLocked(x xid.Xid) (*branch, bool) {
	b := &branch{xid: x, state: StateNone}
	b.mu.Lock()

	if _, loaded := bt.branches.LoadOrStore(x.Key(), b); loaded {
		b.mu.Unlock()
		return nil, false
	}
	bt.count.Add(1)
	return b, true
}

// remove takes the locked branch b out of the table.
func (bt *branchTable) remove(b *branch) {
	b.removed = true
	b.txn = nil

	if bt.branches.CompareAndDelete(b.xid.Key(), b) {
		bt.count.Add(-1)
	}
}

func (bt *branchTable) len() int {
	return int(bt.count.Load())
}

func (bt *branchTable) all() []*branch {
	var res []*branch
	bt.branches.Range(func(_, v any) bool {
		res = append(res, v.(*branch))
		return true
	})
	sort.Slice(res, func(i, j int) bool {
		return xid.Compare(res[i].xid, res[j].xid) < 0
	})
	return res
}

// BranchInfo is a point in time view of a branch.
type BranchInfo struct {
	Xid          xid.Xid
	State        State
	RollbackOnly bool
	Heuristic    Code
}

// inDoubt returns the xids of the branches that are PREPARED or HEURISTICALLY_COMPLETED.
func (bt *branchTable) inDoubt() []xid.Xid {
	var res []xid.Xid
	for _, b := range bt.all() {
		b.mu.Lock()
		if !b.removed && b.inDoubt() {
			res = append(res, b.xid)
		}
		b.mu.Unlock()
	}
	return res
}

func (bt *branchTable) info() []BranchInfo {
	var res []BranchInfo
	for _, b := range bt.all() {
		b.mu.Lock()
		if !b.removed && b.state != StateNone {
			res = append(res, BranchInfo{
				Xid:          b.xid,
				State:        b.state,
				RollbackOnly: b.rollbackOnly,
				Heuristic:    b.heuristic,
			})
		}
		b.mu.Unlock()
	}
	return res
}
