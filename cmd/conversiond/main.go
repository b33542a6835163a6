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

// conversiond serves the batch conversion webhook and drives storage-version
// migrations for the registered resource kinds.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tigera/libconversion-go/lib/apiconfig"
	"github.com/tigera/libconversion-go/lib/backend/api"
	"github.com/tigera/libconversion-go/lib/backend/etcdv3"
	"github.com/tigera/libconversion-go/lib/backend/memory"
	cerrors "github.com/tigera/libconversion-go/lib/errors"

	// Register the example schema so a bare checkout serves something.
	_ "github.com/tigera/libconversion-go/lib/apis/widget"
)

// VERSION is overridden at build time by the linker.
var VERSION = "dev"

var (
	configFile string
	logLevel   string

	config *apiconfig.ConversionConfig
)

var rootCmd = &cobra.Command{
	Use:          "conversiond",
	Short:        "Version conversion engine daemon",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		log.SetLevel(level)

		config, err = apiconfig.LoadConfig(configFile)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"datastore":  config.Spec.DatastoreType,
			"listenAddr": config.Spec.ListenAddr,
		}).Info("Loaded configuration")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit",
	// Version needs no config; skip the root's loading hook.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(VERSION)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file (defaults to CONVERSION_* environment variables)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info",
		"log level: debug, info, warn, error")
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

// newBackendClient constructs the datastore client selected by the config.
// The returned client doubles as the migration locker.
func newBackendClient(cfg *apiconfig.ConversionConfig) (api.Client, api.MigrationLocker, error) {
	switch cfg.Spec.DatastoreType {
	case apiconfig.EtcdV3:
		c, err := etcdv3.NewEtcdV3Client(&cfg.Spec.EtcdConfig)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case apiconfig.Memory:
		c := memory.NewMemoryClient()
		return c, c, nil
	default:
		return nil, nil, cerrors.ErrorValidation{
			Reason: fmt.Sprintf("unknown datastore type %q", cfg.Spec.DatastoreType)}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
