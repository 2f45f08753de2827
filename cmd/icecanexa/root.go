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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dr0pdb/icecanexa/pkg/common"
	"github.com/dr0pdb/icecanexa/pkg/xa"
	"github.com/dr0pdb/icecanexa/pkg/xid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// options are the global flags.
type options struct {
	home       string
	engine     string
	configPath string
	jsonOut    bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "icecanexa",
		Short: "Resolve in doubt XA transaction branches of an icecanexa store",
		Long: `icecanexa opens the store of a resource manager and lets an operator
list the branches left in doubt by a transaction manager and resolve them.

Example:
  icecanexa recover --home /var/lib/icecanexa
  icecanexa commit 462:6774726964:627175616c --home /var/lib/icecanexa
  icecanexa heuristic rollback 462:6774726964:627175616c --engine pebble`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.home, "home", "", "Home directory of the store (overrides the config)")
	cmd.PersistentFlags().StringVar(&opts.engine, "engine", "", "Storage engine: icecane or pebble (overrides the config)")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path of a yaml config file")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logs")

	cmd.AddCommand(
		newRecoverCmd(opts),
		newCommitCmd(opts),
		newRollbackCmd(opts),
		newForgetCmd(opts),
		newHeuristicCmd(opts),
	)
	return cmd
}

// config builds the resource manager config from the defaults, the config file and the flags.
func (o *options) config() (*common.RMConfig, error) {
	conf := common.NewDefaultRMConfig()
	if o.configPath != "" {
		if err := conf.ReadFromFile(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.home != "" {
		conf.Home = o.home
	}
	if o.engine != "" {
		conf.Engine = o.engine
	}
	if o.verbose {
		conf.LogLevel = "debug"
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := conf.SetupLogging(); err != nil {
		return nil, err
	}
	return conf, nil
}

// withRM opens the resource manager of the configured home, runs fn and releases it.
func (o *options) withRM(fn func(rm *xa.ResourceManager) error) error {
	conf, err := o.config()
	if err != nil {
		return err
	}

	registry := xa.NewRegistry(conf)
	rm, err := registry.OpenNew(conf.Home)
	if err != nil {
		return err
	}
	fnErr := fn(rm)

	// in doubt branches stay in the store for the transaction manager.
	var cerr error
	if rm.Len() == 0 {
		cerr = registry.Close(rm, xa.TMNOFLAGS)
	} else {
		cerr = registry.Detach(rm)
	}
	if cerr != nil {
		log.WithField("error", cerr.Error()).Warn("icecanexa::root::withRM; failed to close the resource manager")
	}
	if fnErr != nil {
		return fnErr
	}
	return cerr
}

func parseXid(s string) (xid.Xid, error) {
	x, err := xid.Parse(s)
	if err != nil {
		return xid.Xid{}, fmt.Errorf("invalid xid: %w", err)
	}
	return x, nil
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	execute()
}
