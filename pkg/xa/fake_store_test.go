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
	"sort"
	"sync"

	icommon "github.com/dr0pdb/icecanexa/internal/common"
	"github.com/dr0pdb/icecanexa/pkg/xid"
)

// fakeDisk is the durable state of a fakeStore. It survives a restart.
type fakeDisk struct {
	mu        sync.Mutex
	nextToken Token
	data      map[string][]byte
	prepared  map[Token]*fakeRecord
}

type fakeRecord struct {
	xid     xid.Xid
	writes  map[string][]byte
	outcome icommon.Outcome
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{
		nextToken: 1,
		data:      make(map[string][]byte),
		prepared:  make(map[Token]*fakeRecord),
	}
}

func (d *fakeDisk) get(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.data[key]
	return v, ok
}

type fakeTxn struct {
	disk     *fakeDisk
	writes   map[string][]byte
	token    Token
	prepared bool
}

func (t *fakeTxn) Get(key []byte) ([]byte, error) {
	if v, ok := t.writes[string(key)]; ok {
		return v, nil
	}
	if v, ok := t.disk.get(string(key)); ok {
		return v, nil
	}
	return nil, icommon.NewNotFoundError("key not found")
}

func (t *fakeTxn) Set(key, value []byte) error {
	t.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (t *fakeTxn) Delete(key []byte) error {
	delete(t.writes, string(key))
	return nil
}

func (t *fakeTxn) Dirty() bool {
	return len(t.writes) > 0
}

// fakeStore is an in memory Store with injectable failures.
// the injected errors are returned as is by the matching call.
type fakeStore struct {
	disk *fakeDisk

	mu         sync.Mutex
	closed     bool
	beginErr   error
	prepareErr error
	commitErr  error
	abortErr   error
	forgetErr  error
	listErr    error
}

var _ Store = (*fakeStore)(nil)

func newFakeStore(disk *fakeDisk) *fakeStore {
	return &fakeStore{disk: disk}
}

func (fs *fakeStore) inject(fn func(fs *fakeStore)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn(fs)
}

func (fs *fakeStore) injected(get func(fs *fakeStore) error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return classify("fake", icommon.NewClosedStorageError("store is closed"))
	}
	return get(fs)
}

func (fs *fakeStore) BeginTransaction() (Txn, error) {
	if err := fs.injected(func(fs *fakeStore) error { return fs.beginErr }); err != nil {
		return nil, err
	}
	return &fakeTxn{disk: fs.disk, writes: make(map[string][]byte)}, nil
}

func (fs *fakeStore) PrepareTransaction(txn Txn, x xid.Xid) (Token, error) {
	if err := fs.injected(func(fs *fakeStore) error { return fs.prepareErr }); err != nil {
		return 0, err
	}
	t := txn.(*fakeTxn)

	d := fs.disk
	d.mu.Lock()
	defer d.mu.Unlock()
	token := d.nextToken
	d.nextToken++
	d.prepared[token] = &fakeRecord{xid: x, writes: t.writes}
	t.token = token
	t.prepared = true
	return token, nil
}

func (fs *fakeStore) CommitTransaction(txn Txn) error {
	if err := fs.injected(func(fs *fakeStore) error { return fs.commitErr }); err != nil {
		return err
	}
	t := txn.(*fakeTxn)

	d := fs.disk
	d.mu.Lock()
	defer d.mu.Unlock()
	if !t.prepared {
		for k, v := range t.writes {
			d.data[k] = v
		}
		return nil
	}
	rec := d.prepared[t.token]
	if rec.outcome != icommon.OutcomeNone {
		return classify("commit failed", icommon.NewHeuristicError(rec.outcome, "completed heuristically"))
	}
	for k, v := range rec.writes {
		d.data[k] = v
	}
	delete(d.prepared, t.token)
	return nil
}

func (fs *fakeStore) AbortTransaction(txn Txn) error {
	if err := fs.injected(func(fs *fakeStore) error { return fs.abortErr }); err != nil {
		return err
	}
	t := txn.(*fakeTxn)
	if !t.prepared {
		return nil
	}

	d := fs.disk
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := d.prepared[t.token]
	if rec.outcome != icommon.OutcomeNone {
		return classify("rollback failed", icommon.NewHeuristicError(rec.outcome, "completed heuristically"))
	}
	delete(d.prepared, t.token)
	return nil
}

func (fs *fakeStore) ForgetTransaction(txn Txn) error {
	if err := fs.injected(func(fs *fakeStore) error { return fs.forgetErr }); err != nil {
		return err
	}
	t := txn.(*fakeTxn)

	d := fs.disk
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.prepared, t.token)
	return nil
}

func (fs *fakeStore) HeuristicallyComplete(txn Txn, commit bool) error {
	if err := fs.injected(func(fs *fakeStore) error { return nil }); err != nil {
		return err
	}
	t := txn.(*fakeTxn)

	d := fs.disk
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := d.prepared[t.token]
	if rec.outcome != icommon.OutcomeNone {
		return classify("heuristic completion failed", icommon.NewHeuristicError(rec.outcome, "completed heuristically"))
	}
	rec.outcome = icommon.OutcomeRolledBack
	if commit {
		rec.outcome = icommon.OutcomeCommitted
		for k, v := range rec.writes {
			d.data[k] = v
		}
	}
	return nil
}

func (fs *fakeStore) ListDurablyPreparedTransactions() ([]PreparedTransaction, error) {
	if err := fs.injected(func(fs *fakeStore) error { return fs.listErr }); err != nil {
		return nil, err
	}

	d := fs.disk
	d.mu.Lock()
	defer d.mu.Unlock()
	var res []PreparedTransaction
	for token, rec := range d.prepared {
		res = append(res, PreparedTransaction{Token: token, Xid: rec.xid, Outcome: rec.outcome})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Token < res[j].Token })
	return res, nil
}

func (fs *fakeStore) AttachPreparedTransaction(token Token) (Txn, error) {
	if err := fs.injected(func(fs *fakeStore) error { return nil }); err != nil {
		return nil, err
	}

	d := fs.disk
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.prepared[token]
	if !ok {
		return nil, classify("attach failed", icommon.NewNotFoundError("no such prepared transaction"))
	}
	return &fakeTxn{disk: d, writes: rec.writes, token: token, prepared: true}, nil
}

func (fs *fakeStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return classify("close failed", icommon.NewClosedStorageError("store is closed"))
	}
	fs.closed = true
	return nil
}
