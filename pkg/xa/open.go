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

	"github.com/dr0pdb/icecanexa/pkg/common"
	"github.com/dr0pdb/icecanexa/pkg/pebblestore"
	"github.com/dr0pdb/icecanexa/pkg/storage"
)

// StoreOpener opens the store of a resource manager environment.
type StoreOpener func(conf *common.RMConfig) (Store, error)

// OpenStore opens the store selected by conf.Engine in conf.Home.
func OpenStore(conf *common.RMConfig) (Store, error) {
	switch conf.Engine {
	case common.EngineIcecane:
		return OpenIcecaneStore(conf.Home, &storage.Options{
			CreateIfNotExist: true,
			Sync:             conf.SyncWrites,
			Verbose:          conf.LogStorage,
		})
	case common.EnginePebble:
		return OpenPebbleStore(conf.Home, &pebblestore.Options{
			CacheSizeMB: conf.PebbleCacheSizeMB,
			Verbose:     conf.LogStorage,
		})
	}
	return nil, fmt.Errorf("unknown storage engine %q", conf.Engine)
}
