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
	"fmt"

	"github.com/dr0pdb/icecanexa/pkg/xa"
	"github.com/dr0pdb/icecanexa/pkg/xid"
	"github.com/spf13/cobra"
)

// newResolveCmd returns a command applying op to the branch named by its argument.
func newResolveCmd(opts *options, use, short, long, done string, op func(rm *xa.ResourceManager, x xid.Xid) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <xid>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := parseXid(args[0])
			if err != nil {
				return err
			}
			return opts.withRM(func(rm *xa.ResourceManager) error {
				if err := op(rm, x); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, x)
				return nil
			})
		},
	}
}

func newCommitCmd(opts *options) *cobra.Command {
	return newResolveCmd(opts, "commit", "Commit a prepared branch",
		`The commit command commits a prepared branch on behalf of the transaction manager.

Example:
  icecanexa commit 462:6774726964:627175616c --home /var/lib/icecanexa`,
		"committed", func(rm *xa.ResourceManager, x xid.Xid) error {
			return rm.Commit(x, false)
		})
}

func newRollbackCmd(opts *options) *cobra.Command {
	return newResolveCmd(opts, "rollback", "Roll back a prepared branch",
		`The rollback command rolls back a prepared branch on behalf of the transaction manager.

Example:
  icecanexa rollback 462:6774726964:627175616c --home /var/lib/icecanexa`,
		"rolled back", func(rm *xa.ResourceManager, x xid.Xid) error {
			return rm.Rollback(x)
		})
}

func newForgetCmd(opts *options) *cobra.Command {
	return newResolveCmd(opts, "forget", "Forget a heuristically completed branch",
		`The forget command discards the heuristic record of a branch.

Example:
  icecanexa forget 462:6774726964:627175616c --home /var/lib/icecanexa`,
		"forgot", func(rm *xa.ResourceManager, x xid.Xid) error {
			return rm.Forget(x)
		})
}

func newHeuristicCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heuristic",
		Short: "Decide the outcome of a prepared branch without the transaction manager",
		Long: `The heuristic commands complete a prepared branch on the operator's decision.
The transaction manager is told about the decision when it resolves the branch
and has to forget it afterwards.

Example:
  icecanexa heuristic commit 462:6774726964:627175616c --home /var/lib/icecanexa
  icecanexa heuristic rollback 462:6774726964:627175616c --home /var/lib/icecanexa`,
	}
	cmd.AddCommand(
		newResolveCmd(opts, "commit", "Heuristically commit a prepared branch", "", "heuristically committed",
			func(rm *xa.ResourceManager, x xid.Xid) error {
				return rm.HeuristicComplete(x, true)
			}),
		newResolveCmd(opts, "rollback", "Heuristically roll back a prepared branch", "", "heuristically rolled back",
			func(rm *xa.ResourceManager, x xid.Xid) error {
				return rm.HeuristicComplete(x, false)
			}),
	)
	return cmd
}
