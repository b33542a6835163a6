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

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/coreos/go-semver/semver"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tigera/libconversion-go/lib/conversion"
	"github.com/tigera/libconversion-go/lib/migrator"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <kind>",
	Short: "Rewrite all persisted objects of a kind to its storage version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := args[0]

		graphs, err := conversion.DefaultRegistry.BuildAll(config.Spec.HopTimeout.Duration)
		if err != nil {
			return err
		}
		versionSets := map[string]conversion.VersionSet{}
		for _, k := range conversion.DefaultRegistry.Kinds() {
			vs, err := conversion.DefaultRegistry.VersionSet(k)
			if err != nil {
				return err
			}
			versionSets[k] = vs
		}

		minVersion, err := semver.NewVersion(config.Spec.MinDatastoreVersion)
		if err != nil {
			return err
		}

		client, locker, err := newBackendClient(config)
		if err != nil {
			return err
		}
		if err := client.EnsureInitialized(cmd.Context()); err != nil {
			return err
		}

		m := migrator.New(migrator.Config{
			Client:              client,
			Locker:              locker,
			Graphs:              graphs,
			VersionSets:         versionSets,
			Workers:             config.Spec.MigrationWorkers,
			MaxPasses:           config.Spec.MaxMigrationPasses,
			MinDatastoreVersion: minVersion,
		})

		// SIGINT/SIGTERM cancel the run; it checkpoints and can be rerun to
		// resume from where it stopped.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		run, err := m.Start(ctx, kind)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"kind": kind, "run": run.ID}).Info("Migration started")

		if err := run.Wait(context.Background()); err != nil {
			log.WithError(err).Error("Migration failed; rerun to resume from the checkpoint")
			return err
		}
		log.WithField("kind", kind).Info("Migration complete")
		return nil
	},
}
