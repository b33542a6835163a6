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
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/tigera/libconversion-go/lib/conversion"
	"github.com/tigera/libconversion-go/lib/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the batch conversion webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Build and validate all registered graphs up front so a version
		// set without full pairwise coverage refuses to serve at all.
		graphs, err := conversion.DefaultRegistry.BuildAll(config.Spec.HopTimeout.Duration)
		if err != nil {
			log.WithError(err).Error("Conversion graph validation failed")
			return err
		}
		for kind := range graphs {
			log.WithField("kind", kind).Info("Validated conversion graph")
		}

		handler := webhook.NewHandler(graphs, config.Spec.ConversionWorkers)
		mux := webhook.NewServeMux(handler)

		lis, err := net.Listen("tcp", config.Spec.ListenAddr)
		if err != nil {
			return err
		}
		if config.Spec.MaxConnections > 0 {
			lis = netutil.LimitListener(lis, config.Spec.MaxConnections)
		}

		server := &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.WithField("addr", config.Spec.ListenAddr).Info("Serving conversion webhook")
			errCh <- server.Serve(lis)
		}()

		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	},
}
