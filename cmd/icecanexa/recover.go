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

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/dr0pdb/icecanexa/pkg/xa"
	"github.com/spf13/cobra"
)

// branchJSON is the json form of an in doubt branch.
type branchJSON struct {
	Xid       string `json:"xid"`
	FormatID  int32  `json:"formatId"`
	Gtrid     string `json:"gtrid"`
	Bqual     string `json:"bqual"`
	State     string `json:"state"`
	Heuristic string `json:"heuristic,omitempty"`
}

func newRecoverCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "List the in doubt branches",
		Long: `The recover command lists the branches that are prepared or were
completed heuristically, as a transaction manager would see them on recover.

Example:
  icecanexa recover --home /var/lib/icecanexa
  icecanexa recover --home /var/lib/icecanexa --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRM(func(rm *xa.ResourceManager) error {
				return runRecover(cmd, opts, rm)
			})
		},
	}
}

func runRecover(cmd *cobra.Command, opts *options, rm *xa.ResourceManager) error {
	inDoubt := make(map[string]bool)
	flags := xa.TMSTARTRSCAN
	for {
		batch, err := rm.Recover(flags)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		for _, x := range batch {
			inDoubt[x.Key()] = true
		}
		flags = xa.TMNOFLAGS
	}
	if _, err := rm.Recover(xa.TMENDRSCAN); err != nil {
		return err
	}

	branches := []branchJSON{}
	for _, bi := range rm.Branches() {
		if !inDoubt[bi.Xid.Key()] {
			continue
		}
		b := branchJSON{
			Xid:      bi.Xid.String(),
			FormatID: bi.Xid.FormatID(),
			Gtrid:    hex.EncodeToString(bi.Xid.GlobalTransactionID()),
			Bqual:    hex.EncodeToString(bi.Xid.BranchQualifier()),
			State:    bi.State.String(),
		}
		if bi.State == xa.StateHeuristicallyCompleted {
			b.Heuristic = bi.Heuristic.String()
		}
		branches = append(branches, b)
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		return printJSON(out, branches)
	}
	if len(branches) == 0 {
		fmt.Fprintln(out, "no branches in doubt")
		return nil
	}
	for _, b := range branches {
		if b.Heuristic != "" {
			fmt.Fprintf(out, "%s\t%s\t%s\n", b.Xid, b.State, b.Heuristic)
		} else {
			fmt.Fprintf(out, "%s\t%s\n", b.Xid, b.State)
		}
	}
	return nil
}
