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

	"github.com/dr0pdb/icecanexa/pkg/pebblestore"
	"github.com/dr0pdb/icecanexa/pkg/xid"
)

// pebbleStore adapts the pebble store to the Store interface.
type pebbleStore struct {
	s *pebblestore.Store
}

var _ Store = (*pebbleStore)(nil)

// OpenPebbleStore opens the pebble store in dir.
func OpenPebbleStore(dir string, opts *pebblestore.Options) (Store, error) {
	s, err := pebblestore.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &pebbleStore{s: s}, nil
}

func (ps *pebbleStore) txn(txn Txn) (*pebblestore.Txn, error) {
	t, ok := txn.(*pebblestore.Txn)
	if !ok || t == nil {
		return nil, NewError(XAER_RMERR, fmt.Sprintf("transaction handle %T does not belong to the pebble store", txn))
	}
	return t, nil
}

func (ps *pebbleStore) BeginTransaction() (Txn, error) {
	return ps.s.BeginTxn(), nil
}

func (ps *pebbleStore) PrepareTransaction(txn Txn, x xid.Xid) (Token, error) {
	t, err := ps.txn(txn)
	if err != nil {
		return 0, err
	}
	token, err := t.Prepare(x.Bytes())
	if err != nil {
		return 0, classify("prepare failed", err)
	}
	return Token(token), nil
}

func (ps *pebbleStore) CommitTransaction(txn Txn) error {
	t, err := ps.txn(txn)
	if err != nil {
		return err
	}
	return classify("commit failed", t.Commit())
}

func (ps *pebbleStore) AbortTransaction(txn Txn) error {
	t, err := ps.txn(txn)
	if err != nil {
		return err
	}
	return classify("rollback failed", t.Rollback())
}

func (ps *pebbleStore) ForgetTransaction(txn Txn) error {
	t, err := ps.txn(txn)
	if err != nil {
		return err
	}
	return classify("forget failed", t.Forget())
}

func (ps *pebbleStore) HeuristicallyComplete(txn Txn, commit bool) error {
	t, err := ps.txn(txn)
	if err != nil {
		return err
	}
	return classify("heuristic completion failed", t.HeuristicallyComplete(commit))
}

func (ps *pebbleStore) ListDurablyPreparedTransactions() ([]PreparedTransaction, error) {
	prepared, err := ps.s.Prepared()
	if err != nil {
		return nil, classify("listing prepared transactions failed", err)
	}

	var res []PreparedTransaction
	for _, p := range prepared {
		x, _, err := xid.FromBytes(p.Xid)
		if err != nil {
			return nil, wrapError(XAER_RMFAIL, fmt.Sprintf("bad xid in prepared record %d", p.Token), err)
		}
		res = append(res, PreparedTransaction{Token: Token(p.Token), Xid: x, Outcome: p.Outcome})
	}
	return res, nil
}

func (ps *pebbleStore) AttachPreparedTransaction(token Token) (Txn, error) {
	t, err := ps.s.Resume(uint64(token))
	if err != nil {
		return nil, classify("attach failed", err)
	}
	return t, nil
}

func (ps *pebbleStore) Close() error {
	return classify("close failed", ps.s.Close())
}
