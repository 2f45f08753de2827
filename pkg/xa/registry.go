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
	"sync"
	"sync/atomic"

	"github.com/dr0pdb/icecanexa/pkg/common"
	log "github.com/sirupsen/logrus"
)

// environmentMu serializes opening and closing store environments across the process.
var environmentMu sync.Mutex

// Registry allocates rmids and owns the open resource managers.
type Registry struct {
	nextRmid int32

	conf   *common.RMConfig
	opener StoreOpener

	mu  sync.RWMutex
	rms map[int32]*ResourceManager
}

// NewRegistry creates a registry opening stores with OpenStore.
// conf holds the defaults of every resource manager, its home is replaced on open.
func NewRegistry(conf *common.RMConfig) *Registry {
	return NewRegistryWithOpener(conf, OpenStore)
}

// NewRegistryWithOpener creates a registry opening stores with opener.
func NewRegistryWithOpener(conf *common.RMConfig, opener StoreOpener) *Registry {
	return &Registry{
		conf:   conf,
		opener: opener,
		rms:    make(map[int32]*ResourceManager),
	}
}

// AllocateRmid returns a new process unique rmid. rmids start at 0 and are never reused.
func (r *Registry) AllocateRmid() int32 {
	return atomic.AddInt32(&r.nextRmid, 1) - 1
}

// Get returns the open resource manager with the given rmid.
func (r *Registry) Get(rmid int32) (*ResourceManager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rms[rmid]
	return rm, ok
}

// IsSameRM reports if a and b are the same resource manager.
func (r *Registry) IsSameRM(a, b *ResourceManager) bool {
	return a.IsSameRM(b)
}

// OpenNew opens home under a newly allocated rmid.
func (r *Registry) OpenNew(home string) (*ResourceManager, error) {
	return r.Open(home, r.AllocateRmid(), TMNOFLAGS)
}

// Open opens the store environment in home and registers it under rmid.
//
// The prepared transactions of the store are recovered into the branch table
// before Open returns. Opening an open rmid again with the same home returns
// the open resource manager. All failures are RMInitError.
func (r *Registry) Open(home string, rmid int32, flags Flags) (*ResourceManager, error) {
	return r.OpenConfig(r.conf.Clone(home), rmid, flags)
}

// OpenConfig is like Open but takes the whole config of the resource manager
// instead of the registry defaults. conf.Home is the home to open.
func (r *Registry) OpenConfig(conf *common.RMConfig, rmid int32, flags Flags) (*ResourceManager, error) {
	if flags != TMNOFLAGS {
		return nil, NewRMInitError(fmt.Sprintf("invalid flags %s for open", flags), nil)
	}
	home := conf.Home

	environmentMu.Lock()
	defer environmentMu.Unlock()

	r.mu.RLock()
	existing, ok := r.rms[rmid]
	var homeOwner *ResourceManager
	for _, rm := range r.rms {
		if rm.Home() == home {
			homeOwner = rm
		}
	}
	r.mu.RUnlock()

	if ok {
		if existing.Home() == home {
			return existing, nil
		}
		return nil, NewRMInitError(fmt.Sprintf("rmid %d is open with home %s", rmid, existing.Home()), nil)
	}
	if homeOwner != nil {
		return nil, NewRMInitError(fmt.Sprintf("home %s is open as rmid %d", home, homeOwner.Rmid()), nil)
	}

	conf = conf.Clone(home)
	if err := conf.Validate(); err != nil {
		return nil, NewRMInitError("invalid config", err)
	}
	store, err := r.opener(conf)
	if err != nil {
		log.WithFields(log.Fields{"rmid": rmid, "home": home, "error": err.Error()}).Error("xa::registry::Open; failed to open the store")
		return nil, NewRMInitError(fmt.Sprintf("failed to open the %s store in %s", conf.Engine, home), err)
	}

	rm := newResourceManager(rmid, conf, store)
	if err := rm.recoverBranches(); err != nil {
		if cerr := store.Close(); cerr != nil {
			log.WithFields(log.Fields{"rmid": rmid, "error": cerr.Error()}).Warn("xa::registry::Open; failed to close the store")
		}
		return nil, NewRMInitError("recovery failed", err)
	}

	r.mu.Lock()
	r.rms[rmid] = rm
	r.mu.Unlock()

	log.WithFields(log.Fields{"rmid": rmid, "home": home, "engine": conf.Engine}).Info("xa::registry::Open; opened resource manager")
	return rm, nil
}

// Close closes the resource manager. It fails with XAER_PROTO while the
// branch table is not empty. Closing a closed resource manager is a no-op.
func (r *Registry) Close(rm *ResourceManager, flags Flags) error {
	if flags != TMNOFLAGS {
		return NewError(XAER_INVAL, fmt.Sprintf("invalid flags %s for close", flags))
	}
	return r.close(rm, false)
}

// Detach closes the store of the resource manager without resolving its
// branches, as a process exit would. Unprepared work is lost and prepared
// branches are recovered by the next open of the home.
func (r *Registry) Detach(rm *ResourceManager) error {
	return r.close(rm, true)
}

func (r *Registry) close(rm *ResourceManager, force bool) error {
	if rm == nil {
		return NewError(XAER_INVAL, "nil resource manager")
	}

	environmentMu.Lock()
	defer environmentMu.Unlock()

	r.mu.RLock()
	registered := r.rms[rm.rmid] == rm
	r.mu.RUnlock()
	if !registered {
		return nil
	}

	// wait for the in flight protocol calls.
	rm.lifecycle.Lock()
	defer rm.lifecycle.Unlock()

	if n := rm.branches.len(); n > 0 && !force {
		return NewError(XAER_PROTO, fmt.Sprintf("%d branches remain in resource manager %d", n, rm.rmid))
	}
	rm.closed = true

	r.mu.Lock()
	delete(r.rms, rm.rmid)
	r.mu.Unlock()

	if err := rm.store.Close(); err != nil {
		log.WithFields(log.Fields{"rmid": rm.rmid, "error": err.Error()}).Error("xa::registry::close; failed to close the store")
		return wrapError(XAER_RMERR, "failed to close the store", err)
	}

	log.WithFields(log.Fields{"rmid": rm.rmid, "home": rm.Home(), "detached": force}).Info("xa::registry::close; closed resource manager")
	return nil
}
