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

	"github.com/dr0pdb/icecanexa/pkg/storage"
	"github.com/dr0pdb/icecanexa/pkg/xid"
)

// icecaneStore adapts the icecane storage engine to the Store interface.
type icecaneStore struct {
	s *storage.Storage
}

var _ Store = (*icecaneStore)(nil)

// OpenIcecaneStore opens the icecane storage engine in dir.
func OpenIcecaneStore(dir string, opts *storage.Options) (Store, error) {
	s, err := storage.NewStorage(dir, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Open(); err != nil {
		return nil, err
	}
	return &icecaneStore{s: s}, nil
}

func (is *icecaneStore) txn(txn Txn) (*storage.Txn, error) {
	t, ok := txn.(*storage.Txn)
	if !ok || t == nil {
		return nil, NewError(XAER_RMERR, fmt.Sprintf("transaction handle %T does not belong to the icecane store", txn))
	}
	return t, nil
}

func (is *icecaneStore) BeginTransaction() (Txn, error) {
	return is.s.BeginTxn(), nil
}

func (is *icecaneStore) PrepareTransaction(txn Txn, x xid.Xid) (Token, error) {
	t, err := is.txn(txn)
	if err != nil {
		return 0, err
	}
	token, err := t.Prepare(x.Bytes())
	if err != nil {
		return 0, classify("prepare failed", err)
	}
	return Token(token), nil
}

func (is *icecaneStore) CommitTransaction(txn Txn) error {
	t, err := is.txn(txn)
	if err != nil {
		return err
	}
	return classify("commit failed", t.Commit())
}

func (is *icecaneStore) AbortTransaction(txn Txn) error {
	t, err := is.txn(txn)
	if err != nil {
		return err
	}
	return classify("rollback failed", t.Rollback())
}

func (is *icecaneStore) ForgetTransaction(txn Txn) error {
	t, err := is.txn(txn)
	if err != nil {
		return err
	}
	return classify("forget failed", t.Forget())
}

func (is *icecaneStore) HeuristicallyComplete(txn Txn, commit bool) error {
	t, err := is.txn(txn)
	if err != nil {
		return err
	}
	return classify("heuristic completion failed", t.HeuristicallyComplete(commit))
}

func (is *icecaneStore) ListDurablyPreparedTransactions() ([]PreparedTransaction, error) {
	var res []PreparedTransaction
	for _, p := range is.s.Prepared() {
		x, _, err := xid.FromBytes(p.Xid)
		if err != nil {
			return nil, wrapError(XAER_RMFAIL, fmt.Sprintf("bad xid in prepared record %d", p.Token), err)
		}
		res = append(res, PreparedTransaction{Token: Token(p.Token), Xid: x, Outcome: p.Outcome})
	}
	return res, nil
}

func (is *icecaneStore) AttachPreparedTransaction(token Token) (Txn, error) {
	t, err := is.s.Resume(uint64(token))
	if err != nil {
		return nil, classify("attach failed", err)
	}
	return t, nil
}

func (is *icecaneStore) Close() error {
	return classify("close failed", is.s.Close())
}
