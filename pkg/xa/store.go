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
	icommon "github.com/dr0pdb/icecanexa/internal/common"
	"github.com/dr0pdb/icecanexa/pkg/xid"
)

// Token identifies a durably prepared transaction inside a store.
type Token uint64

// Txn is a store transaction owned by a branch.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error

	// Dirty reports if the transaction modified anything.
	Dirty() bool
}

// PreparedTransaction is an entry of the store's durable prepared transaction record.
type PreparedTransaction struct {
	Token   Token
	Xid     xid.Xid
	Outcome icommon.Outcome
}

// Store is the capability the resource manager needs from a transactional store.
//
// PrepareTransaction must be durable before it returns. Commit and abort of a
// prepared transaction whose outcome was decided heuristically return an error
// carrying the matching XA_HEURxx code.
type Store interface {
	BeginTransaction() (Txn, error)
	PrepareTransaction(txn Txn, x xid.Xid) (Token, error)
	CommitTransaction(txn Txn) error
	AbortTransaction(txn Txn) error

	// ForgetTransaction discards the heuristic record of the transaction.
	ForgetTransaction(txn Txn) error

	// HeuristicallyComplete decides the outcome of a prepared transaction without the TM.
	HeuristicallyComplete(txn Txn, commit bool) error

	ListDurablyPreparedTransactions() ([]PreparedTransaction, error)

	// AttachPreparedTransaction returns the handle of a prepared transaction found on recovery.
	AttachPreparedTransaction(token Token) (Txn, error)

	Close() error
}
