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

	icommon "github.com/dr0pdb/icecanexa/internal/common"
	log "github.com/sirupsen/logrus"
)

// recoverBranches repopulates the branch table from the store's durable
// prepared transaction record. It runs before the resource manager is
// registered, so no protocol call can race with it.
func (rm *ResourceManager) recoverBranches() error {
	prepared, err := rm.store.ListDurablyPreparedTransactions()
	if err != nil {
		return classify("listing prepared transactions failed", err)
	}

	for _, p := range prepared {
		txn, err := rm.store.AttachPreparedTransaction(p.Token)
		if err != nil {
			return classify(fmt.Sprintf("attaching prepared transaction %d failed", p.Token), err)
		}

		b, ok := rm.branches.insertLocked(p.Xid)
		if !ok {
			return NewError(XAER_RMFAIL, fmt.Sprintf("xid %s is prepared twice", p.Xid))
		}
		b.txn = txn
		b.token = p.Token
		b.state = StatePrepared
		if p.Outcome != icommon.OutcomeNone {
			b.state = StateHeuristicallyCompleted
			b.heuristic = heuristicCode(p.Outcome)
		}
		b.mu.Unlock()

		log.WithFields(log.Fields{
			"rmid":  rm.rmid,
			"xid":   p.Xid.String(),
			"token": p.Token,
			"state": b.state.String(),
		}).Info("xa::recovery::recoverBranches; recovered branch")
	}

	log.WithFields(log.Fields{"rmid": rm.rmid, "home": rm.conf.Home, "count": len(prepared)}).Info("xa::recovery::recoverBranches; recovery done")
	return nil
}
