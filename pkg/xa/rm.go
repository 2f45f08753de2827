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

	"github.com/dr0pdb/icecanexa/pkg/common"
	"github.com/dr0pdb/icecanexa/pkg/xid"
	log "github.com/sirupsen/logrus"
)

// ResourceManager drives the XA protocol for the branches of one store environment.
//
// It is safe for concurrent use. Calls naming the same xid are serialized,
// calls naming different xids proceed independently.
type ResourceManager struct {
	rmid  int32
	conf  *common.RMConfig
	store Store

	// lifecycle is held shared by every protocol call and exclusively by close.
	lifecycle sync.RWMutex
	closed    bool

	branches *branchTable

	// failed latches after a XAER_RMFAIL from the store.
	failed common.ProtectedBool

	timeout int32

	scanMu   sync.Mutex
	scanOpen bool
	scan     []xid.Xid
}

func newResourceManager(rmid int32, conf *common.RMConfig, store Store) *ResourceManager {
	return &ResourceManager{
		rmid:     rmid,
		conf:     conf,
		store:    store,
		branches: newBranchTable(),
		timeout:  conf.TransactionTimeout,
	}
}

// Rmid returns the process unique id of the resource manager.
func (rm *ResourceManager) Rmid() int32 {
	return rm.rmid
}

// Home returns the home directory of the store environment.
func (rm *ResourceManager) Home() string {
	return rm.conf.Home
}

// Engine returns the name of the storage engine.
func (rm *ResourceManager) Engine() string {
	return rm.conf.Engine
}

// IsSameRM reports if other is this resource manager.
func (rm *ResourceManager) IsSameRM(other *ResourceManager) bool {
	return rm != nil && other != nil && rm.rmid == other.rmid
}

// Failed reports if the store failed with XAER_RMFAIL since the resource manager was opened.
func (rm *ResourceManager) Failed() bool {
	return rm.failed.Get()
}

// Len returns the number of branches in the branch table.
func (rm *ResourceManager) Len() int {
	return rm.branches.len()
}

// Branches returns a view of the branches in the table ordered by xid.
func (rm *ResourceManager) Branches() []BranchInfo {
	return rm.branches.info()
}

// TransactionTimeout returns the advisory transaction timeout in seconds.
func (rm *ResourceManager) TransactionTimeout() int32 {
	return atomic.LoadInt32(&rm.timeout)
}

// SetTransactionTimeout stores the advisory transaction timeout.
// Zero restores the configured default. The timeout is never enforced.
func (rm *ResourceManager) SetTransactionTimeout(seconds int32) error {
	if seconds < 0 {
		return NewError(XAER_INVAL, fmt.Sprintf("invalid transaction timeout %d", seconds))
	}
	if seconds == 0 {
		seconds = rm.conf.TransactionTimeout
	}
	atomic.StoreInt32(&rm.timeout, seconds)
	return nil
}

func (rm *ResourceManager) enter() error {
	rm.lifecycle.RLock()
	if rm.closed {
		rm.lifecycle.RUnlock()
		return NewError(XAER_PROTO, "resource manager is closed")
	}
	return nil
}

func (rm *ResourceManager) exit() {
	rm.lifecycle.RUnlock()
}

func (rm *ResourceManager) logger(x xid.Xid) *log.Entry {
	return log.WithFields(log.Fields{"rmid": rm.rmid, "xid": x.String()})
}

// noteFailure latches the resource manager as failed if err is a XAER_RMFAIL.
func (rm *ResourceManager) noteFailure(x xid.Xid, err error) {
	if CodeOf(err) != XAER_RMFAIL {
		return
	}
	rm.fail(x, err)
}

func (rm *ResourceManager) fail(x xid.Xid, err error) {
	if !rm.failed.Get() {
		rm.logger(x).WithField("error", err.Error()).Error("xa::rm::fail; store failed, refusing new branches until the resource manager is reopened")
	}
	rm.failed.Set(true)
}

func (rm *ResourceManager) acquire(x xid.Xid) (*branch, error) {
	if x.IsNull() {
		return nil, NewError(XAER_INVAL, "null xid")
	}
	b := rm.branches.acquire(x)
	if b == nil {
		return nil, NewError(XAER_NOTA, fmt.Sprintf("unknown xid %s", x))
	}
	return b, nil
}

// Start associates the caller with the branch x.
//
// TMNOFLAGS starts a new branch, TMJOIN joins an ACTIVE or IDLE branch and
// TMRESUME resumes a SUSPENDED branch.
func (rm *ResourceManager) Start(x xid.Xid, flags Flags) error {
	if err := rm.enter(); err != nil {
		return err
	}
	defer rm.exit()

	if x.IsNull() {
		return NewError(XAER_INVAL, "null xid")
	}
	if rm.failed.Get() {
		return NewError(XAER_RMFAIL, "resource manager failed")
	}

	switch flags {
	case TMNOFLAGS:
		return rm.startBranch(x)
	case TMJOIN:
		return rm.joinBranch(x)
	case TMRESUME:
		return rm.resumeBranch(x)
	}
	return NewError(XAER_INVAL, fmt.Sprintf("invalid flags %s for start", flags))
}

func (rm *ResourceManager) startBranch(x xid.Xid) error {
	b, ok := rm.branches.insertLocked(x)
	if !ok {
		return NewError(XAER_DUPID, fmt.Sprintf("xid %s already has a branch", x))
	}
	defer b.mu.Unlock()

	txn, err := rm.store.BeginTransaction()
	if err != nil {
		rm.branches.remove(b)
		err = classify("begin failed", err)
		rm.noteFailure(x, err)
		return err
	}
	b.txn = txn
	b.state = StateActive

	if rm.conf.LogXA {
		rm.logger(x).Debug("xa::rm::Start; started branch")
	}
	return nil
}

func (rm *ResourceManager) joinBranch(x xid.Xid) error {
	b := rm.branches.acquire(x)
	if b == nil {
		return NewError(XAER_DUPID, fmt.Sprintf("no branch to join for xid %s", x))
	}
	defer b.mu.Unlock()

	if b.state != StateActive && b.state != StateIdle {
		return NewError(XAER_PROTO, fmt.Sprintf("can't join a branch in state %s", b.state))
	}
	b.state = StateActive

	if rm.conf.LogXA {
		rm.logger(x).Debug("xa::rm::Start; joined branch")
	}
	return nil
}

func (rm *ResourceManager) resumeBranch(x xid.Xid) error {
	b, err := rm.acquire(x)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	if b.state != StateSuspended {
		return NewError(XAER_PROTO, fmt.Sprintf("can't resume a branch in state %s", b.state))
	}
	b.state = StateActive

	if rm.conf.LogXA {
		rm.logger(x).Debug("xa::rm::Start; resumed branch")
	}
	return nil
}

// End dissociates the caller from the branch x.
//
// TMSUSPEND suspends the branch, TMSUCCESS completes the work and TMFAIL
// completes it and marks the branch rollback only.
func (rm *ResourceManager) End(x xid.Xid, flags Flags) error {
	if err := rm.enter(); err != nil {
		return err
	}
	defer rm.exit()

	if flags != TMSUCCESS && flags != TMFAIL && flags != TMSUSPEND {
		return NewError(XAER_INVAL, fmt.Sprintf("invalid flags %s for end", flags))
	}

	b, err := rm.acquire(x)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	switch b.state {
	case StateActive:
	case StateSuspended:
		if flags == TMSUSPEND {
			return NewError(XAER_PROTO, "branch is already suspended")
		}
	default:
		return NewError(XAER_PROTO, fmt.Sprintf("can't end a branch in state %s", b.state))
	}

	switch flags {
	case TMSUSPEND:
		b.state = StateSuspended
	case TMSUCCESS:
		b.state = StateIdle
	case TMFAIL:
		b.state = StateIdle
		b.rollbackOnly = true
	}

	if rm.conf.LogXA {
		rm.logger(x).WithFields(log.Fields{"flags": flags.String(), "state": b.state.String()}).Debug("xa::rm::End; ended branch")
	}
	return nil
}

// Prepare durably prepares the branch x for commit.
//
// Returns XA_RDONLY and forgets the branch if it made no modifications.
// On error the returned code is the code of the error.
func (rm *ResourceManager) Prepare(x xid.Xid) (Code, error) {
	if err := rm.enter(); err != nil {
		return CodeOf(err), err
	}
	defer rm.exit()

	b, err := rm.acquire(x)
	if err != nil {
		return CodeOf(err), err
	}
	defer b.mu.Unlock()

	if b.state != StateIdle {
		return XAER_PROTO, NewError(XAER_PROTO, fmt.Sprintf("can't prepare a branch in state %s", b.state))
	}
	if b.rollbackOnly {
		return XA_RBROLLBACK, NewError(XA_RBROLLBACK, "branch is marked rollback only")
	}

	if !b.txn.Dirty() {
		if err := rm.store.AbortTransaction(b.txn); err != nil {
			rm.logger(x).WithField("error", err.Error()).Warn("xa::rm::Prepare; failed to release a read only transaction")
		}
		rm.branches.remove(b)
		if rm.conf.LogXA {
			rm.logger(x).Debug("xa::rm::Prepare; read only branch")
		}
		return XA_RDONLY, nil
	}

	token, err := rm.store.PrepareTransaction(b.txn, x)
	if err != nil {
		rm.noteFailure(x, err)
		b.rollbackOnly = true
		rm.logger(x).WithField("error", err.Error()).Error("xa::rm::Prepare; prepare failed, branch is rollback only")
		return CodeOf(err), err
	}
	b.state = StatePrepared
	b.token = token

	if rm.conf.LogXA {
		rm.logger(x).WithField("token", token).Debug("xa::rm::Prepare; prepared branch")
	}
	return XA_OK, nil
}

// Commit commits the branch x.
//
// onePhase commits an ACTIVE or IDLE branch without a prior prepare.
// A heuristic outcome is returned as an error with the XA_HEURxx code and the
// branch stays in the table until it is forgotten.
func (rm *ResourceManager) Commit(x xid.Xid, onePhase bool) error {
	if err := rm.enter(); err != nil {
		return err
	}
	defer rm.exit()

	b, err := rm.acquire(x)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	if b.state == StateHeuristicallyCompleted {
		return NewError(b.heuristic, "branch was completed heuristically")
	}
	if onePhase {
		return rm.commitOnePhase(b)
	}

	if b.state != StatePrepared {
		return NewError(XAER_PROTO, fmt.Sprintf("can't commit a branch in state %s", b.state))
	}
	if err := rm.store.CommitTransaction(b.txn); err != nil {
		return rm.completionFailed(b, "commit", err)
	}
	rm.branches.remove(b)

	if rm.conf.LogXA {
		rm.logger(x).Debug("xa::rm::Commit; committed branch")
	}
	return nil
}

func (rm *ResourceManager) commitOnePhase(b *branch) error {
	if b.state != StateActive && b.state != StateIdle {
		return NewError(XAER_PROTO, fmt.Sprintf("can't commit in one phase a branch in state %s", b.state))
	}

	if b.rollbackOnly {
		if err := rm.store.AbortTransaction(b.txn); err != nil {
			rm.noteFailure(b.xid, err)
			return err
		}
		rm.branches.remove(b)
		return NewError(XA_RBROLLBACK, "branch is marked rollback only")
	}

	if err := rm.store.CommitTransaction(b.txn); err != nil {
		if CodeOf(err).IsHeuristic() {
			return rm.completionFailed(b, "commit", err)
		}
		// the transaction was never prepared, so there is nothing to resolve later.
		rm.noteFailure(b.xid, err)
		if aerr := rm.store.AbortTransaction(b.txn); aerr != nil {
			rm.logger(b.xid).WithField("error", aerr.Error()).Warn("xa::rm::Commit; failed to release the transaction")
		}
		rm.branches.remove(b)
		rm.logger(b.xid).WithField("error", err.Error()).Error("xa::rm::Commit; one phase commit failed")
		return err
	}
	rm.branches.remove(b)

	if rm.conf.LogXA {
		rm.logger(b.xid).Debug("xa::rm::Commit; committed branch in one phase")
	}
	return nil
}

// completionFailed handles a failed commit or rollback of the branch.
// a heuristic outcome moves the branch to HEURISTICALLY_COMPLETED, any other
// failure leaves the branch as it was. A store failure also fails the resource manager.
func (rm *ResourceManager) completionFailed(b *branch, op string, err error) error {
	code := CodeOf(err)
	if code.IsHeuristic() {
		b.state = StateHeuristicallyCompleted
		b.heuristic = code
		rm.logger(b.xid).WithFields(log.Fields{"code": code.String(), "op": op}).Warn("xa::rm::completionFailed; branch completed heuristically")
		if storeFailed(err) {
			// the outcome is unknown because the store failed to write it.
			rm.fail(b.xid, err)
		}
		return err
	}
	rm.noteFailure(b.xid, err)
	rm.logger(b.xid).WithFields(log.Fields{"error": err.Error(), "op": op, "state": b.state.String()}).Error("xa::rm::completionFailed; store failed")
	return err
}

// Rollback rolls back the ACTIVE, IDLE or PREPARED branch x.
func (rm *ResourceManager) Rollback(x xid.Xid) error {
	if err := rm.enter(); err != nil {
		return err
	}
	defer rm.exit()

	b, err := rm.acquire(x)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	switch b.state {
	case StateHeuristicallyCompleted:
		return NewError(b.heuristic, "branch was completed heuristically")
	case StateActive, StateIdle, StatePrepared:
	default:
		return NewError(XAER_PROTO, fmt.Sprintf("can't rollback a branch in state %s", b.state))
	}

	if err := rm.store.AbortTransaction(b.txn); err != nil {
		return rm.completionFailed(b, "rollback", err)
	}
	rm.branches.remove(b)

	if rm.conf.LogXA {
		rm.logger(x).Debug("xa::rm::Rollback; rolled back branch")
	}
	return nil
}

// Forget discards the heuristically completed branch x.
func (rm *ResourceManager) Forget(x xid.Xid) error {
	if err := rm.enter(); err != nil {
		return err
	}
	defer rm.exit()

	b, err := rm.acquire(x)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	if b.state != StateHeuristicallyCompleted {
		return NewError(XAER_PROTO, fmt.Sprintf("can't forget a branch in state %s", b.state))
	}
	if err := rm.store.ForgetTransaction(b.txn); err != nil {
		rm.noteFailure(x, err)
		return err
	}
	rm.branches.remove(b)

	if rm.conf.LogXA {
		rm.logger(x).Debug("xa::rm::Forget; forgot branch")
	}
	return nil
}

// HeuristicComplete decides the outcome of the PREPARED branch x without the
// transaction manager. The branch moves to HEURISTICALLY_COMPLETED with
// XA_HEURCOM or XA_HEURRB until it is forgotten.
func (rm *ResourceManager) HeuristicComplete(x xid.Xid, commit bool) error {
	if err := rm.enter(); err != nil {
		return err
	}
	defer rm.exit()

	b, err := rm.acquire(x)
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	if b.state != StatePrepared {
		return NewError(XAER_PROTO, fmt.Sprintf("can't heuristically complete a branch in state %s", b.state))
	}
	if err := rm.store.HeuristicallyComplete(b.txn, commit); err != nil {
		return rm.completionFailed(b, "heuristic", err)
	}

	b.state = StateHeuristicallyCompleted
	b.heuristic = XA_HEURRB
	if commit {
		b.heuristic = XA_HEURCOM
	}
	rm.logger(x).WithField("code", b.heuristic.String()).Warn("xa::rm::HeuristicComplete; branch completed heuristically")
	return nil
}

// Branch returns the store transaction of the ACTIVE branch x.
// It may only be used by the caller associated with the branch between start and end.
func (rm *ResourceManager) Branch(x xid.Xid) (Txn, error) {
	if err := rm.enter(); err != nil {
		return nil, err
	}
	defer rm.exit()

	b, err := rm.acquire(x)
	if err != nil {
		return nil, err
	}
	defer b.mu.Unlock()

	if b.state != StateActive {
		return nil, NewError(XAER_PROTO, fmt.Sprintf("branch is %s, not associated", b.state))
	}
	return b.txn, nil
}

// Recover returns the next batch of xids of PREPARED or HEURISTICALLY_COMPLETED branches.
//
// TMSTARTRSCAN takes a fresh snapshot, TMNOFLAGS continues the open scan and
// TMENDRSCAN closes the scan after returning the batch. An exhausted scan
// returns an empty batch.
func (rm *ResourceManager) Recover(flags Flags) ([]xid.Xid, error) {
	if err := rm.enter(); err != nil {
		return nil, err
	}
	defer rm.exit()

	if flags&^(TMSTARTRSCAN|TMENDRSCAN) != 0 {
		return nil, NewError(XAER_INVAL, fmt.Sprintf("invalid flags %s for recover", flags))
	}

	rm.scanMu.Lock()
	defer rm.scanMu.Unlock()

	if flags.Has(TMSTARTRSCAN) {
		snapshot, err := rm.inDoubt()
		if err != nil {
			return nil, err
		}
		rm.scan = snapshot
		rm.scanOpen = true
	} else if !rm.scanOpen {
		return nil, NewError(XAER_PROTO, "no recovery scan in progress")
	}

	n := rm.conf.RecoverBatchSize
	if n <= 0 || n > len(rm.scan) {
		n = len(rm.scan)
	}
	res := make([]xid.Xid, n)
	copy(res, rm.scan[:n])
	rm.scan = rm.scan[n:]

	if flags.Has(TMENDRSCAN) {
		rm.scan = nil
		rm.scanOpen = false
	}

	if rm.conf.LogXA {
		log.WithFields(log.Fields{"rmid": rm.rmid, "flags": flags.String(), "count": len(res)}).Debug("xa::rm::Recover; returned batch")
	}
	return res, nil
}

// inDoubt returns the xids of the in doubt branches of the table and of the
// store's durable prepared transaction record.
func (rm *ResourceManager) inDoubt() ([]xid.Xid, error) {
	durable, err := rm.store.ListDurablyPreparedTransactions()
	if err != nil {
		err = classify("listing prepared transactions failed", err)
		rm.noteFailure(xid.Xid{}, err)
		return nil, err
	}

	seen := make(map[string]bool)
	var res []xid.Xid
	for _, x := range rm.branches.inDoubt() {
		seen[x.Key()] = true
		res = append(res, x)
	}
	for _, p := range durable {
		if !seen[p.Xid.Key()] {
			seen[p.Xid.Key()] = true
			res = append(res, p.Xid)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return xid.Compare(res[i], res[j]) < 0
	})
	return res, nil
}
