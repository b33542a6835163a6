// Copyright (c) 2025 Tigera, Inc. All rights reserved.

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apiconfig

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"time"

	"github.com/kelseyhightower/envconfig"
	yaml "github.com/projectcalico/go-yaml-wrapper"
	log "github.com/sirupsen/logrus"
)

type DatastoreType string

const (
	EtcdV3 DatastoreType = "etcdv3"
	Memory DatastoreType = "memory"

	KindConversionConfig = "conversionConfig"
	VersionCurrent       = "conversion.tigera.io/v1"
)

// ConversionConfig contains the connection and serving configuration for the
// conversion engine, loadable from a YAML/JSON file or from environment
// variables prefixed CONVERSION.
type ConversionConfig struct {
	Kind       string               `json:"kind"`
	APIVersion string               `json:"apiVersion"`
	Spec       ConversionConfigSpec `json:"spec,omitempty"`
}

// ConversionConfigSpec contains the configurable fields.
type ConversionConfigSpec struct {
	DatastoreType DatastoreType `json:"datastoreType" envconfig:"DATASTORE_TYPE" default:"etcdv3"`

	// Inline the etcd config fields.
	EtcdConfig

	// Address the conversion webhook listens on.
	ListenAddr string `json:"listenAddr" envconfig:"LISTEN_ADDR" default:":9443"`

	// Maximum concurrent connections accepted by the webhook listener.
	MaxConnections int `json:"maxConnections" envconfig:"MAX_CONNECTIONS" default:"256"`

	// Worker pool sizes for per-item batch conversion and for migration.
	ConversionWorkers int `json:"conversionWorkers" envconfig:"CONVERSION_WORKERS" default:"8"`
	MigrationWorkers  int `json:"migrationWorkers" envconfig:"MIGRATION_WORKERS" default:"4"`

	// Ceiling on each author-supplied conversion function call.  Zero
	// disables the guard.
	HopTimeout Duration `json:"hopTimeout" envconfig:"HOP_TIMEOUT" default:"5s"`

	// Migration refuses to start against a datastore whose recorded schema
	// version is below this semver.
	MinDatastoreVersion string `json:"minDatastoreVersion" envconfig:"MIN_DATASTORE_VERSION" default:"1.0.0"`

	// Maximum write-conflict passes before a migration run gives up.
	MaxMigrationPasses int `json:"maxMigrationPasses" envconfig:"MAX_MIGRATION_PASSES" default:"5"`
}

// Duration wraps time.Duration so config files can carry "5s" style strings
// while environment variables keep the same syntax.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return errors.New("invalid duration value")
	}
	return nil
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// EtcdConfig contains the etcd connection fields.
type EtcdConfig struct {
	EtcdEndpoints  string `json:"etcdEndpoints" envconfig:"ETCD_ENDPOINTS"`
	EtcdUsername   string `json:"etcdUsername" envconfig:"ETCD_USERNAME"`
	EtcdPassword   string `json:"etcdPassword" envconfig:"ETCD_PASSWORD"`
	EtcdCACertFile string `json:"etcdCACertFile" envconfig:"ETCD_CA_CERT_FILE"`
	EtcdCertFile   string `json:"etcdCertFile" envconfig:"ETCD_CERT_FILE"`
	EtcdKeyFile    string `json:"etcdKeyFile" envconfig:"ETCD_KEY_FILE"`
}

// NewConversionConfig creates a new (zeroed) ConversionConfig with the type
// metadata initialised to the current version.
func NewConversionConfig() *ConversionConfig {
	return &ConversionConfig{
		Kind:       KindConversionConfig,
		APIVersion: VersionCurrent,
	}
}

// LoadConfig loads the configuration from the specified file (if specified)
// or from environment variables (if the file is not specified).
func LoadConfig(filename string) (*ConversionConfig, error) {
	if filename != "" {
		b, err := ioutil.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		c, err := LoadConfigFromBytes(b)
		if err != nil {
			return nil, errors.New("syntax error in " + filename + ": " + err.Error())
		}
		return c, nil
	}
	return LoadConfigFromEnvironment()
}

// LoadConfigFromBytes loads the configuration from the supplied bytes
// containing YAML or JSON format data.
func LoadConfigFromBytes(b []byte) (*ConversionConfig, error) {
	c := NewConversionConfig()

	log.Info("Loading config from JSON or YAML data")
	if err := yaml.UnmarshalStrict(b, c); err != nil {
		return nil, err
	}

	// Validate the version and kind.
	if c.APIVersion != VersionCurrent {
		return nil, errors.New("invalid config file: unknown apiVersion '" + c.APIVersion + "'")
	}
	if c.Kind != KindConversionConfig {
		return nil, errors.New("invalid config file: expected kind '" + KindConversionConfig + "', got '" + c.Kind + "'")
	}

	applyDefaults(&c.Spec)
	return c, nil
}

// LoadConfigFromEnvironment loads the configuration from environment
// variables.
func LoadConfigFromEnvironment() (*ConversionConfig, error) {
	c := NewConversionConfig()

	log.Info("Loading config from environment")
	if err := envconfig.Process("CONVERSION", &c.Spec); err != nil {
		return nil, err
	}

	return c, nil
}

// applyDefaults fills zero fields on a file-loaded config with the same
// defaults envconfig applies; UnmarshalStrict does not read struct tags.
func applyDefaults(s *ConversionConfigSpec) {
	if s.DatastoreType == "" {
		s.DatastoreType = EtcdV3
	}
	if s.ListenAddr == "" {
		s.ListenAddr = ":9443"
	}
	if s.MaxConnections == 0 {
		s.MaxConnections = 256
	}
	if s.ConversionWorkers == 0 {
		s.ConversionWorkers = 8
	}
	if s.MigrationWorkers == 0 {
		s.MigrationWorkers = 4
	}
	if s.HopTimeout.Duration == 0 {
		s.HopTimeout.Duration = 5 * time.Second
	}
	if s.MinDatastoreVersion == "" {
		s.MinDatastoreVersion = "1.0.0"
	}
	if s.MaxMigrationPasses == 0 {
		s.MaxMigrationPasses = 5
	}
}
