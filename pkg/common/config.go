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

package common

import (
	"fmt"
	"io/ioutil"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	// KB - Kilobytes
	KB uint64 = 1024

	// MB - Megabytes
	MB uint64 = 1024 * 1024
)

const (
	// EngineIcecane selects the log structured icecane storage engine.
	EngineIcecane = "icecane"

	// EnginePebble selects the pebble storage engine.
	EnginePebble = "pebble"
)

const (
	defaultTransactionTimeout = 60
	defaultRecoverBatchSize   = 64
	defaultPebbleCacheSizeMB  = 8
)

// RMConfig defines the configuration settings for a resource manager environment.
type RMConfig struct {
	Home   string `yaml:"home"`
	Engine string `yaml:"engine"`

	// TransactionTimeout is the default advisory timeout in seconds handed back to the TM.
	// It is never enforced by the resource manager.
	TransactionTimeout int32 `yaml:"transactionTimeout"`

	// RecoverBatchSize is the max number of xids returned by a single recover call.
	RecoverBatchSize int `yaml:"recoverBatchSize"`

	// SyncWrites forces a sync of the log after every durable record.
	SyncWrites bool `yaml:"syncWrites"`

	PebbleCacheSizeMB int64 `yaml:"pebbleCacheSizeMB"`

	// Logging config
	LogLevel   string `yaml:"logLevel"`
	LogXA      bool   `yaml:"logXA"`
	LogStorage bool   `yaml:"logStorage"`
}

// NewDefaultRMConfig returns a new default resource manager configuration.
func NewDefaultRMConfig() *RMConfig {
	return &RMConfig{
		Home:               "/var/lib/icecanexa",
		Engine:             EngineIcecane,
		TransactionTimeout: defaultTransactionTimeout,
		RecoverBatchSize:   defaultRecoverBatchSize,
		SyncWrites:         true,
		PebbleCacheSizeMB:  defaultPebbleCacheSizeMB,
		LogLevel:           "info",
		LogXA:              true,
	}
}

// Validate validates a RMConfig and returns an error if it's invalid.
func (conf *RMConfig) Validate() error {
	if conf.Home == "" {
		return fmt.Errorf("invalid home path provided in config")
	}
	if conf.Engine != EngineIcecane && conf.Engine != EnginePebble {
		return fmt.Errorf("invalid engine %q provided in config", conf.Engine)
	}
	if conf.TransactionTimeout < 0 {
		return fmt.Errorf("invalid transaction timeout %d provided in config", conf.TransactionTimeout)
	}
	if conf.RecoverBatchSize <= 0 {
		return fmt.Errorf("invalid recover batch size %d provided in config", conf.RecoverBatchSize)
	}
	if conf.PebbleCacheSizeMB < 0 {
		return fmt.Errorf("invalid pebble cache size %d provided in config", conf.PebbleCacheSizeMB)
	}
	if _, err := log.ParseLevel(conf.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q provided in config", conf.LogLevel)
	}
	return nil
}

// Clone returns a copy of the config with the home replaced.
func (conf *RMConfig) Clone(home string) *RMConfig {
	c := *conf
	c.Home = home
	return &c
}

// LoadFromFile loads the config from the yaml file at path.
// errors are logged and leave the config unchanged.
func (conf *RMConfig) LoadFromFile(path string) {
	if err := conf.ReadFromFile(path); err != nil {
		log.Error(fmt.Sprintf("icecanexa::config::LoadFromFile; %s", err))
	}
}

// ReadFromFile loads the config from the yaml file at path.
// the config is unchanged if the file can't be read or parsed.
func (conf *RMConfig) ReadFromFile(path string) error {
	log.Info(fmt.Sprintf("icecanexa::config::ReadFromFile; loading config from file %s", path))
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config from file %s: %w", path, err)
	}
	// unmarshal over a copy so that keys missing in the file keep their current values.
	fconf := *conf
	if err := yaml.Unmarshal(data, &fconf); err != nil {
		return fmt.Errorf("error unmarshalling config from file %s: %w", path, err)
	}

	log.WithFields(log.Fields{"config": fconf}).Debug("icecanexa::config::ReadFromFile; read contents from the file")
	*conf = fconf
	return nil
}

// SetupLogging applies the log level of the config to the standard logger.
func (conf *RMConfig) SetupLogging() error {
	level, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}
